package netstack

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/telenode/log2"
)

func TestWaitForConnection(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	s := &Sim{}
	want := IPv4Config{Address: net.IPNet{IP: net.IPv4(192, 168, 4, 2).To4(), Mask: net.CIDRMask(24, 32)}}
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.SetLinkUp(true)
		time.Sleep(20 * time.Millisecond)
		s.SetConfig(&want)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := WaitForConnection(ctx, s, 5*time.Millisecond, log)
	require.NoError(t, err)
	assert.Equal(t, want.Address.String(), got.Address.String())
}

func TestWaitForConnectionCancel(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	s := &Sim{}
	s.SetLinkUp(true)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := WaitForConnection(ctx, s, 5*time.Millisecond, log)
	require.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, errors.Cause(err))
}

func TestForwardRestarts(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	s := &Sim{RunErr: errors.New("driver fault")}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultPollInterval*3/2)
	defer cancel()
	Forward(ctx, s, log)
	assert.Equal(t, 2, s.Runs())
}

func TestForwardStops(t *testing.T) {
	t.Parallel()
	s := &Sim{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Forward(ctx, s, nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not stop")
	}
}

func TestFirstV4(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		addrs  []net.Addr
		expect string
		ok     bool
	}{
		{"empty", nil, "", false},
		{"v6-only", []net.Addr{&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)}}, "", false},
		{"loopback", []net.Addr{&net.IPNet{IP: net.IPv4(127, 0, 0, 1), Mask: net.CIDRMask(8, 32)}}, "", false},
		{"mixed", []net.Addr{
			&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
			&net.IPNet{IP: net.IPv4(10, 0, 0, 7), Mask: net.CIDRMask(8, 32)},
		}, "10.0.0.7/8", true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			got, ok := firstV4(c.addrs)
			assert.Equal(t, c.ok, ok)
			if c.ok {
				assert.Equal(t, c.expect, got.Address.String())
			}
		})
	}
}

func TestHost(t *testing.T) {
	t.Parallel()
	h := NewHost("wlan0")
	h.byName = func(name string) (*net.Interface, error) {
		if name != "wlan0" {
			return nil, errors.NotFoundf("interface %s", name)
		}
		return &net.Interface{Name: name, Flags: net.FlagUp | net.FlagRunning, HardwareAddr: net.HardwareAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}}, nil
	}
	h.addrs = func(*net.Interface) ([]net.Addr, error) {
		return []net.Addr{&net.IPNet{IP: net.IPv4(192, 168, 1, 20), Mask: net.CIDRMask(24, 32)}}, nil
	}
	assert.True(t, h.LinkUp())
	c, ok := h.ConfigV4()
	require.True(t, ok)
	assert.Equal(t, "192.168.1.20/24", c.String())
	mac, err := h.HardwareAddr()
	require.NoError(t, err)
	assert.Equal(t, "de:ad:be:ef:00:01", mac.String())

	h.Interface = "eth9"
	assert.False(t, h.LinkUp())
	_, err = h.HardwareAddr()
	assert.Error(t, err)
}
