// Package mqtt is the default broker backend on 256dpi/gomqtt transport.
// One fresh connection per publish cycle:
// - Dial with timeout
// - CONNECT with clean session, wait CONNACK
// - QOS1 PUBLISH, wait PUBACK, serialized
// - DISCONNECT on Close
// No reconnect, no in-flight storage, no subscriptions.
package mqtt

import (
	"context"
	"crypto/tls"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/tele"
)

const DefaultNetworkTimeout = 10 * time.Second

var ErrSessionClosed = errors.New("MQTT session is closed")

type Options struct {
	BrokerURL      string
	TLS            *tls.Config
	NetworkTimeout time.Duration
	KeepaliveSec   uint16
	Username       string
	Password       string
	Log            *log2.Log
}

type Broker struct {
	opt Options
}

func NewBroker(opt Options) (*Broker, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if u, err := url.ParseRequestURI(opt.BrokerURL); err != nil {
		return nil, errors.Annotatef(err, "config error mqtt BrokerURL=%s", opt.BrokerURL)
	} else if u.User != nil && opt.Username == "" && opt.Password == "" {
		opt.Username = u.User.Username()
		opt.Password, _ = u.User.Password()
	}
	return &Broker{opt: opt}, nil
}

func (b *Broker) Dial(ctx context.Context) (tele.Session, error) {
	timeout := ctxTimeout(ctx, b.opt.NetworkTimeout)
	if timeout <= 0 {
		return nil, tele.NetworkFailure(errors.Annotatef(context.DeadlineExceeded, "dial broker=%s", b.opt.BrokerURL))
	}
	dialer := transport.NewDialer(transport.DialConfig{
		TLSConfig: b.opt.TLS,
		Timeout:   timeout,
	})
	conn, err := dialer.Dial(b.opt.BrokerURL)
	if err != nil {
		return nil, tele.NetworkFailure(errors.Annotatef(err, "dial broker=%s", b.opt.BrokerURL))
	}
	return newSession(conn, b.opt), nil
}

type session struct { //nolint:maligned
	alive  *alive.Alive
	closed uint32
	ready  uint32
	conn   transport.Conn
	lastID uint32
	opt    Options

	flowPublish struct {
		sync.Mutex
		fu *future.Future
		id packet.ID
	}
}

func newSession(conn transport.Conn, opt Options) *session {
	return &session{
		alive:  alive.NewAlive(),
		conn:   conn,
		lastID: uint32(time.Now().UnixNano()),
		opt:    opt,
	}
}

// send CONNECT, wait CONNACK, start reader
func (s *session) Handshake(ctx context.Context, clientID string) error {
	conpkt := packet.NewConnect()
	conpkt.ClientID = defaultString(clientID, s.opt.Username)
	conpkt.KeepAlive = s.opt.KeepaliveSec
	conpkt.CleanSession = true
	conpkt.Username = s.opt.Username
	conpkt.Password = s.opt.Password
	if err := s.send(conpkt); err != nil {
		return err
	}

	s.conn.SetReadTimeout(ctxTimeout(ctx, s.opt.NetworkTimeout))
	pkt, err := s.conn.Receive()
	if err != nil {
		return s.die(tele.NetworkFailure(errors.Annotate(err, "connect: expect CONNACK")))
	}
	connack, ok := pkt.(*packet.Connack)
	if !ok {
		err = errors.Annotatef(client.ErrClientExpectedConnack, "connect: server error pkt=%s", PacketString(pkt))
		return s.die(tele.RejectFailure(err, true))
	}
	s.opt.Log.Debugf("CONNACK=%s", connack.String())
	if connack.ReturnCode != packet.ConnectionAccepted {
		err = errors.Annotate(client.ErrClientConnectionDenied, connack.ReturnCode.String())
		if connack.ReturnCode == packet.ServerUnavailable {
			return s.die(tele.NetworkFailure(err))
		}
		return s.die(tele.RejectFailure(err, true))
	}
	s.conn.SetReadTimeout(0)

	if !s.alive.Add(1) {
		return tele.NetworkFailure(ErrSessionClosed)
	}
	atomic.StoreUint32(&s.ready, 1)
	go s.reader()
	return nil
}

func (s *session) Publish(ctx context.Context, m tele.Message) error {
	if atomic.LoadUint32(&s.ready) == 0 || !s.alive.IsRunning() {
		return tele.NetworkFailure(client.ErrClientNotConnected)
	}
	publish := packet.NewPublish()
	publish.Message = packet.Message{
		Topic:   m.Topic,
		Payload: m.Payload,
		QOS:     packet.QOSAtLeastOnce,
		Retain:  m.Retain,
	}
	publish.ID = s.nextID()

	fu := future.New()
	s.flowPublish.Lock()
	s.flowPublish.fu = fu
	s.flowPublish.id = publish.ID
	s.flowPublish.Unlock()

	if err := s.send(publish); err != nil {
		return err
	}

	switch err := fu.Wait(ctxTimeout(ctx, s.opt.NetworkTimeout)); err {
	case nil:
		return nil

	case future.ErrCanceled:
		if e, ok := fu.Result().(error); ok {
			return e
		}
		return tele.NetworkFailure(ErrSessionClosed)

	case future.ErrTimeout:
		err = errors.Timeoutf("PUBACK id=%d", publish.ID)
		return s.die(tele.NetworkFailure(err))

	default:
		return errors.Errorf("code error future.Wait()=%v", err)
	}
}

// Close stops reader before DISCONNECT so broker closing socket is not an error.
func (s *session) Close() error {
	var err error
	s.alive.Stop()
	if atomic.LoadUint32(&s.closed) == 0 && atomic.LoadUint32(&s.ready) == 1 {
		err = s.conn.Send(packet.NewDisconnect(), false)
		if err == nil {
			s.opt.Log.Debugf("sent DISCONNECT")
		}
	}
	_ = s.die(ErrSessionClosed)
	s.alive.Wait()
	return err
}

func (s *session) die(e error) error {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return e
	}
	s.alive.Stop()
	s.flowPublish.Lock()
	if s.flowPublish.fu != nil {
		s.flowPublish.fu.Cancel(e)
	}
	s.flowPublish.Unlock()
	if err := s.conn.Close(); err != nil && !isClosedConn(err) {
		s.opt.Log.Debugf("conn.Close err=%v", err)
	}
	return e
}

func (s *session) nextID() packet.ID {
	u32 := atomic.AddUint32(&s.lastID, 1)
	id := packet.ID(u32 % (1 << 16))
	if id == 0 {
		id = 1
	}
	return id
}

func (s *session) send(p packet.Generic) error {
	if err := s.conn.Send(p, false); err != nil {
		err = errors.Annotatef(err, "send %s", p.Type().String())
		return s.die(tele.NetworkFailure(err))
	}
	s.opt.Log.Debugf("sent %s", PacketString(p))
	return nil
}

func (s *session) reader() {
	defer s.alive.Done()
	for {
		pkt, err := s.conn.Receive()
		if !s.alive.IsRunning() {
			return
		}
		switch err {
		case nil: // success path

		case io.EOF: // server closed connection
			s.opt.Log.Errorf("server closed connection")
			_ = s.die(tele.NetworkFailure(io.EOF))
			return

		default:
			_ = s.die(tele.NetworkFailure(errors.Annotate(err, "receive")))
			return
		}
		s.opt.Log.Debugf("received=%s", PacketString(pkt))

		switch pt := pkt.(type) {
		case *packet.Connack:
			_ = s.die(tele.RejectFailure(errors.Errorf("server error duplicate CONNACK pkt=%s", PacketString(pkt)), true))
			return

		case *packet.Puback:
			s.onPuback(pt.ID)

		case *packet.Pingresp:

		default:
			s.opt.Log.Debugf("unexpected packet %s", PacketString(pkt))
		}
	}
}

func (s *session) onPuback(id packet.ID) {
	s.flowPublish.Lock()
	fu, expect := s.flowPublish.fu, s.flowPublish.id
	s.flowPublish.Unlock()
	if fu == nil {
		s.opt.Log.Errorf("unexpected PUBACK id=%d", id)
		return
	}
	if expect != id {
		// given no concurrent publish flow, PUBACK for unexpected id is severe error
		_ = s.die(tele.RejectFailure(errors.Errorf("PUBACK id=%d expected=%d", id, expect), true))
		return
	}
	fu.Complete(id)
}
