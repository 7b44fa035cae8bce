package paho

import (
	"context"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/status"
	"github.com/temoto/telenode/tele"
)

type fakeToken struct {
	mqtt.Token
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                      { return t.done }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Error() error                    { return t.err }

type fakeClient struct {
	mqtt.Client
	connected  bool
	connectTok *fakeToken
	publishTok *fakeToken
	published  []string
	retained   []bool
}

func (c *fakeClient) IsConnected() bool { return c.connected }
func (c *fakeClient) Connect() mqtt.Token {
	c.connected = c.connectTok.done && c.connectTok.err == nil
	return c.connectTok
}
func (c *fakeClient) Disconnect(uint) { c.connected = false }
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, topic)
	c.retained = append(c.retained, retained)
	return c.publishTok
}

func newTestBroker(t testing.TB, fc *fakeClient) *Broker {
	b, err := NewBroker(Options{BrokerURL: "tcp://127.0.0.1:1883", Log: log2.NewTest(t, log2.LDebug)})
	require.NoError(t, err)
	b.newClient = func(o *mqtt.ClientOptions) mqtt.Client { return fc }
	return b
}

func TestPublisherCycle(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{connectTok: &fakeToken{done: true}, publishTok: &fakeToken{done: true}}
	bus := status.New()
	p, err := tele.NewPublisher(tele.Config{NodeID: "n1"}, newTestBroker(t, fc), bus, nil, nil)
	require.NoError(t, err)
	r := p.Cycle(context.Background())
	assert.Equal(t, 2, r.Published)
	assert.Equal(t, status.BrokerConnected, bus.BrokerStatus())
	assert.Equal(t, []string{"/readings/link/n1", "/readings/sensor/n1"}, fc.published)
	assert.Equal(t, []bool{true, true}, fc.retained)
	assert.False(t, fc.connected)
}

func TestHandshakeFailure(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		tok    *fakeToken
		expect status.BrokerStatus
	}{
		{"timeout", &fakeToken{done: false}, status.BrokerErrorNetwork},
		{"not-authorised", &fakeToken{done: true, err: packets.ErrorRefusedNotAuthorised}, status.BrokerErrorOther},
		{"bad-password", &fakeToken{done: true, err: packets.ErrorRefusedBadUsernameOrPassword}, status.BrokerErrorOther},
		{"unavailable", &fakeToken{done: true, err: packets.ErrorRefusedServerUnavailable}, status.BrokerErrorNetwork},
		{"dial", &fakeToken{done: true, err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, status.BrokerErrorNetwork},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			fc := &fakeClient{connectTok: c.tok}
			s, err := newTestBroker(t, fc).Dial(context.Background())
			require.NoError(t, err)
			err = s.Handshake(context.Background(), "node-n1")
			require.Error(t, err)
			assert.Equal(t, c.expect, tele.Classify(err))
			assert.True(t, tele.IsSessionLost(err))
			assert.NoError(t, s.Close())
		})
	}
}

func TestPublishFailure(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{connectTok: &fakeToken{done: true}, publishTok: &fakeToken{done: true, err: errors.New("rejected")}}
	s, err := newTestBroker(t, fc).Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Handshake(context.Background(), "node-n1"))

	err = s.Publish(context.Background(), tele.Message{Topic: "t"})
	assert.Equal(t, status.BrokerErrorOther, tele.Classify(err))
	assert.False(t, tele.IsSessionLost(err))

	fc.publishTok = &fakeToken{done: false}
	err = s.Publish(context.Background(), tele.Message{Topic: "t"})
	assert.Contains(t, err.Error(), "timeout")
	assert.True(t, tele.IsSessionLost(err))

	fc.connected = false
	err = s.Publish(context.Background(), tele.Message{Topic: "t"})
	assert.Equal(t, status.BrokerErrorNetwork, tele.Classify(err))
}

func TestDialCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestBroker(t, &fakeClient{}).Dial(ctx)
	assert.Equal(t, status.BrokerErrorNetwork, tele.Classify(err))
}
