// Package netstack is the network stack contract polled by the link manager.
package netstack

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/telenode/log2"
)

const DefaultPollInterval = 500 * time.Millisecond

type IPv4Config struct {
	Address net.IPNet
	Gateway net.IP
}

func (c IPv4Config) String() string {
	if c.Gateway == nil {
		return c.Address.String()
	}
	return fmt.Sprintf("%s gw=%s", c.Address.String(), c.Gateway)
}

type Stack interface {
	LinkUp() bool
	ConfigV4() (IPv4Config, bool)
	// Run drives packet processing until ctx is done.
	Run(ctx context.Context) error
}

// WaitForConnection blocks until link is up and IPv4 configuration is present.
func WaitForConnection(ctx context.Context, s Stack, poll time.Duration, log *log2.Log) (IPv4Config, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	tmr := time.NewTicker(poll)
	defer tmr.Stop()
	for !s.LinkUp() {
		select {
		case <-ctx.Done():
			return IPv4Config{}, errors.Annotate(ctx.Err(), "wait link up")
		case <-tmr.C:
		}
	}
	log.Debugf("netstack link up, waiting for ipv4")
	for {
		if c, ok := s.ConfigV4(); ok {
			log.Infof("netstack ipv4 %s", c)
			return c, nil
		}
		select {
		case <-ctx.Done():
			return IPv4Config{}, errors.Annotate(ctx.Err(), "wait ipv4 config")
		case <-tmr.C:
		}
	}
}

// Forward is the perpetual packet processing task.
// Stack errors are logged and Run is restarted after poll interval.
func Forward(ctx context.Context, s Stack, log *log2.Log) {
	for {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Errorf("netstack run: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(DefaultPollInterval):
		}
	}
}
