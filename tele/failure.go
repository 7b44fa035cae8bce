package tele

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/telenode/status"
)

type FailureKind uint8

const (
	FailureNetwork FailureKind = iota
	FailureOther
)

func (k FailureKind) String() string {
	if k == FailureNetwork {
		return "network"
	}
	return "other"
}

// Failure is typed broker failure reason.
// SessionLost means the session can not be used for further publishes.
type Failure struct {
	Kind        FailureKind
	SessionLost bool
	Err         error
}

func (f *Failure) Error() string {
	lost := ""
	if f.SessionLost {
		lost = " session lost"
	}
	return fmt.Sprintf("broker %s failure%s: %v", f.Kind, lost, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func NetworkFailure(err error) error {
	return &Failure{Kind: FailureNetwork, SessionLost: true, Err: err}
}

// RejectFailure is broker refusal, session stays usable unless lost.
func RejectFailure(err error, sessionLost bool) error {
	return &Failure{Kind: FailureOther, SessionLost: sessionLost, Err: err}
}

func asFailure(err error) (*Failure, bool) {
	f, ok := errors.Cause(err).(*Failure)
	return f, ok
}

func isNetworkError(err error) bool {
	cause := errors.Cause(err)
	if cause == io.EOF || cause == io.ErrUnexpectedEOF || cause == context.DeadlineExceeded {
		return true
	}
	if errors.IsTimeout(err) {
		return true
	}
	switch cause.(type) {
	case net.Error, *net.OpError, syscall.Errno:
		return true
	}
	return false
}

// Classify maps broker error to status code.
func Classify(err error) status.BrokerStatus {
	if err == nil {
		return status.BrokerConnected
	}
	if f, ok := asFailure(err); ok {
		if f.Kind == FailureNetwork {
			return status.BrokerErrorNetwork
		}
		return status.BrokerErrorOther
	}
	if isNetworkError(err) {
		return status.BrokerErrorNetwork
	}
	return status.BrokerErrorOther
}

// IsSessionLost reports whether the session must be abandoned after err.
func IsSessionLost(err error) bool {
	if err == nil {
		return false
	}
	if f, ok := asFailure(err); ok {
		return f.SessionLost
	}
	return isNetworkError(err)
}
