package tele

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/status"
)

type fakeBroker struct {
	sync.Mutex
	dialErr      error
	handshakeErr error
	publishErrs  []error // per publish call, nil entries succeed
	dials        int
	clientID     string
	published    []Message
	closed       int
}

func (b *fakeBroker) Dial(ctx context.Context) (Session, error) {
	b.Lock()
	defer b.Unlock()
	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	return &fakeSession{b: b}, nil
}

type fakeSession struct {
	b     *fakeBroker
	calls int
}

func (s *fakeSession) Handshake(ctx context.Context, clientID string) error {
	s.b.Lock()
	defer s.b.Unlock()
	s.b.clientID = clientID
	return s.b.handshakeErr
}

func (s *fakeSession) Publish(ctx context.Context, m Message) error {
	s.b.Lock()
	defer s.b.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.b.publishErrs) && s.b.publishErrs[i] != nil {
		return s.b.publishErrs[i]
	}
	s.b.published = append(s.b.published, m)
	return nil
}

func (s *fakeSession) Close() error {
	s.b.Lock()
	defer s.b.Unlock()
	s.b.closed++
	return nil
}

type fakeSensor struct {
	raw int32
	err error
}

func (s *fakeSensor) Read(context.Context) (int32, error) { return s.raw, s.err }
func (s *fakeSensor) Close() error                        { return nil }

func newTestPublisher(t testing.TB, b Broker, bus *status.Bus) *Publisher {
	p, err := NewPublisher(Config{NodeID: "a0b1c2d3e4f5", Period: 10 * time.Millisecond}, b, bus, nil, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	p.uptime = func() time.Duration { return 12345 * time.Millisecond }
	return p
}

func TestCycleDialFailure(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{dialErr: NetworkFailure(errors.New("connection refused"))}
	bus := status.New()
	p := newTestPublisher(t, b, bus)
	r := p.Cycle(context.Background())
	assert.Equal(t, status.BrokerErrorNetwork, r.Status)
	assert.Equal(t, status.BrokerErrorNetwork, bus.BrokerStatus())
	assert.Equal(t, 0, r.Published)
	assert.Empty(t, b.published)
	assert.Equal(t, 0, b.closed)
}

func TestCycleHandshakeFailure(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		err    error
		expect status.BrokerStatus
	}{
		{"refused", RejectFailure(errors.New("not authorized"), true), status.BrokerErrorOther},
		{"eof", errors.Annotate(io.EOF, "expect CONNACK"), status.BrokerErrorNetwork},
		{"timeout", errors.Timeoutf("CONNACK"), status.BrokerErrorNetwork},
		{"unknown", errors.New("protocol violation"), status.BrokerErrorOther},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			b := &fakeBroker{handshakeErr: c.err}
			bus := status.New()
			p := newTestPublisher(t, b, bus)
			r := p.Cycle(context.Background())
			assert.Equal(t, c.expect, bus.BrokerStatus())
			assert.Equal(t, c.expect, r.Status)
			assert.Empty(t, b.published)
			assert.Equal(t, 1, b.closed)
		})
	}
}

func TestCycleSuccess(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{}
	bus := status.New()
	bus.SetSignalQuality(87)
	bus.SetMeasurement(23.45)
	p := newTestPublisher(t, b, bus)
	require.Equal(t, status.BrokerOffline, bus.BrokerStatus())

	r := p.Cycle(context.Background())
	assert.NoError(t, r.Err)
	assert.Equal(t, 2, r.Published)
	assert.Equal(t, status.BrokerConnected, bus.BrokerStatus())
	assert.Equal(t, "node-a0b1c2d3e4f5", b.clientID)
	require.Len(t, b.published, 2)
	assert.Equal(t, "/readings/link/a0b1c2d3e4f5", b.published[0].Topic)
	assert.Equal(t, "/readings/sensor/a0b1c2d3e4f5", b.published[1].Topic)
	assert.True(t, b.published[0].Retain)
	assert.Equal(t, `{"id":"a0b1c2d3e4f5","t":12345,"v":87}`, string(b.published[0].Payload))
	rec, err := DecodeRecord(b.published[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, 23.45, rec.Value)
	assert.Equal(t, 1, b.closed)
}

func TestCyclePublishFailure(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		errs      []error
		expect    status.BrokerStatus
		published int
	}{
		{"record-rejected-continue", []error{RejectFailure(errors.New("quota"), false)}, status.BrokerErrorOther, 1},
		{"session-lost-abandon", []error{NetworkFailure(io.EOF)}, status.BrokerErrorNetwork, 0},
		{"second-rejected", []error{nil, RejectFailure(errors.New("topic denied"), false)}, status.BrokerErrorOther, 1},
		{"ack-timeout", []error{errors.Timeoutf("PUBACK")}, status.BrokerErrorNetwork, 0},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			b := &fakeBroker{publishErrs: c.errs}
			bus := status.New()
			p := newTestPublisher(t, b, bus)
			r := p.Cycle(context.Background())
			assert.Equal(t, c.expect, bus.BrokerStatus())
			assert.Equal(t, c.expect, r.Status)
			assert.Equal(t, c.published, r.Published)
			assert.Len(t, b.published, c.published)
			assert.Error(t, r.Err)
		})
	}
}

func TestCycleSamplesSensor(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{dialErr: NetworkFailure(errors.New("unreachable"))}
	bus := status.New()
	src := &fakeSensor{raw: 2345}
	p, err := NewPublisher(Config{NodeID: "n1"}, b, bus, src, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	p.Cycle(context.Background())
	assert.InDelta(t, 23.445, bus.Measurement(), 1e-9)

	src.err = errors.New("i2c nack")
	src.raw = 0
	p.Cycle(context.Background())
	assert.InDelta(t, 23.445, bus.Measurement(), 1e-9)
}

func TestCyclePayloadOverflow(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{}
	bus := status.New()
	p, err := NewPublisher(Config{NodeID: strings.Repeat("x", MaxPayload)}, b, bus, nil, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	r := p.Cycle(context.Background())
	assert.Equal(t, 0, r.Published)
	assert.Equal(t, ErrPayloadOverflow, errors.Cause(r.Err))
	assert.Empty(t, b.published)
	assert.Equal(t, status.BrokerConnected, bus.BrokerStatus())
}

func TestRunTicks(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{}
	p := newTestPublisher(t, b, status.New())
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, p.Run(ctx))
	b.Lock()
	defer b.Unlock()
	assert.True(t, b.dials >= 3, "dials=%d", b.dials)
}

func TestNewPublisherValidate(t *testing.T) {
	t.Parallel()
	_, err := NewPublisher(Config{}, &fakeBroker{}, status.New(), nil, nil)
	assert.True(t, errors.IsNotValid(err))
	_, err = NewPublisher(Config{NodeID: "n"}, nil, status.New(), nil, nil)
	assert.True(t, errors.IsNotValid(err))
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []Record{
		{NodeID: "a0b1c2d3e4f5", Uptime: 0, Value: 0},
		{NodeID: "a0b1c2d3e4f5", Uptime: 86400000, Value: -17.25},
		{NodeID: "deadbeef0001", Uptime: 1<<53 - 1, Value: 1e6},
	}
	for _, c := range cases {
		b, err := c.Encode()
		require.NoError(t, err)
		assert.True(t, len(b) <= MaxPayload)
		got, err := DecodeRecord(b)
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestDecodeRecordErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"garbage", "not json"},
		{"no-id", `{"t":1,"v":2}`},
		{"unknown-field", `{"id":"x","t":1,"v":2,"extra":true}`},
		{"too-long", `{"id":"` + strings.Repeat("y", MaxPayload) + `"}`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(c.input))
			assert.Error(t, err)
		})
	}
}

func TestTopicNodeID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/readings/link/n1", Topic("", KindLink, "n1"))
	assert.Equal(t, "farm/sensor/n1", Topic("farm/", KindSensor, "n1"))
	assert.Equal(t, "a0b1c2d3e4f5", NodeID(net.HardwareAddr{0xa0, 0xb1, 0xc2, 0xd3, 0xe4, 0xf5}))
	assert.Equal(t, "node-n1", ClientID("n1"))
	assert.Equal(t, uint64(1500), NewRecord("n", 1500*time.Millisecond, 0).Uptime)
}

func TestClassify(t *testing.T) {
	t.Parallel()
	assert.Equal(t, status.BrokerConnected, Classify(nil))
	assert.Equal(t, status.BrokerErrorNetwork, Classify(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, status.BrokerErrorOther, Classify(errors.Annotate(RejectFailure(errors.New("x"), false), "wrap")))
	assert.False(t, IsSessionLost(nil))
	assert.False(t, IsSessionLost(RejectFailure(errors.New("x"), false)))
	assert.True(t, IsSessionLost(errors.Annotate(io.EOF, "receive")))
	assert.False(t, IsSessionLost(errors.New("x")))
	assert.Contains(t, NetworkFailure(io.EOF).Error(), "network failure session lost")
}
