// Package paho is alternative broker backend on eclipse paho client.
// Paho merges dial and handshake, so Dial only prepares options.
package paho

import (
	"context"
	"crypto/tls"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/juju/errors"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/tele"
)

const DefaultNetworkTimeout = 10 * time.Second
const disconnectQuiesceMs = 250

var setLoggers sync.Once

type Options struct {
	BrokerURL      string
	TLS            *tls.Config
	NetworkTimeout time.Duration
	KeepaliveSec   int
	Username       string
	Password       string
	Log            *log2.Log
}

type Broker struct {
	opt Options
	// newClient is replaced in tests
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewBroker(opt Options) (*Broker, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if _, err := url.ParseRequestURI(opt.BrokerURL); err != nil {
		return nil, errors.Annotatef(err, "config error paho BrokerURL=%s", opt.BrokerURL)
	}
	setLoggers.Do(func() {
		mqtt.ERROR = opt.Log
		mqtt.CRITICAL = opt.Log
		mqtt.WARN = opt.Log
	})
	return &Broker{opt: opt, newClient: mqtt.NewClient}, nil
}

func (b *Broker) Dial(ctx context.Context) (tele.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, tele.NetworkFailure(err)
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(b.opt.BrokerURL).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetUsername(b.opt.Username).
		SetPassword(b.opt.Password).
		SetConnectTimeout(ctxTimeout(ctx, b.opt.NetworkTimeout)).
		SetWriteTimeout(b.opt.NetworkTimeout).
		SetOrderMatters(true)
	if b.opt.KeepaliveSec > 0 {
		mopt.SetKeepAlive(time.Duration(b.opt.KeepaliveSec) * time.Second)
	}
	if b.opt.TLS != nil {
		mopt.SetTLSConfig(b.opt.TLS)
	}
	return &session{broker: b, mopt: mopt, log: b.opt.Log}, nil
}

type session struct {
	broker *Broker
	mopt   *mqtt.ClientOptions
	m      mqtt.Client
	log    *log2.Log
}

func (s *session) Handshake(ctx context.Context, clientID string) error {
	s.mopt.SetClientID(clientID)
	s.m = s.broker.newClient(s.mopt)
	token := s.m.Connect()
	if !token.WaitTimeout(ctxTimeout(ctx, s.broker.opt.NetworkTimeout)) {
		return tele.NetworkFailure(errors.Timeoutf("paho connect"))
	}
	if err := token.Error(); err != nil {
		return classifyConnect(err)
	}
	s.log.Debugf("paho connected client=%s", clientID)
	return nil
}

func (s *session) Publish(ctx context.Context, m tele.Message) error {
	if s.m == nil || !s.m.IsConnected() {
		return tele.NetworkFailure(errors.New("paho not connected"))
	}
	token := s.m.Publish(m.Topic, 1, m.Retain, m.Payload)
	if !token.WaitTimeout(ctxTimeout(ctx, s.broker.opt.NetworkTimeout)) {
		return tele.NetworkFailure(errors.Timeoutf("paho PUBACK topic=%s", m.Topic))
	}
	if err := token.Error(); err != nil {
		if !s.m.IsConnected() {
			return tele.NetworkFailure(errors.Annotate(err, "paho publish"))
		}
		return tele.RejectFailure(errors.Annotate(err, "paho publish"), false)
	}
	return nil
}

func (s *session) Close() error {
	if s.m != nil && s.m.IsConnected() {
		s.m.Disconnect(disconnectQuiesceMs)
	}
	return nil
}

func classifyConnect(err error) error {
	switch err {
	case packets.ErrorRefusedServerUnavailable, packets.ErrorNetworkError:
		return tele.NetworkFailure(errors.Annotate(err, "paho connect"))
	case packets.ErrorRefusedBadProtocolVersion,
		packets.ErrorRefusedIDRejected,
		packets.ErrorRefusedBadUsernameOrPassword,
		packets.ErrorRefusedNotAuthorised,
		packets.ErrorProtocolViolation:
		return tele.RejectFailure(errors.Annotate(err, "paho connect"), true)
	}
	// dial errors come as is from net package
	return tele.NetworkFailure(errors.Annotate(err, "paho connect"))
}

func ctxTimeout(ctx context.Context, def time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if rem := time.Until(deadline); rem < def {
			return rem
		}
	}
	return def
}
