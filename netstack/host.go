package netstack

import (
	"context"
	"net"

	"github.com/juju/errors"
)

// Host reads interface state from the OS, packet forwarding is done by kernel.
type Host struct {
	Interface string
	byName    func(string) (*net.Interface, error)
	addrs     func(*net.Interface) ([]net.Addr, error)
}

func NewHost(iface string) *Host {
	return &Host{
		Interface: iface,
		byName:    net.InterfaceByName,
		addrs:     func(i *net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

func (h *Host) LinkUp() bool {
	i, err := h.byName(h.Interface)
	if err != nil {
		return false
	}
	return i.Flags&net.FlagUp != 0 && i.Flags&net.FlagRunning != 0
}

func (h *Host) ConfigV4() (IPv4Config, bool) {
	i, err := h.byName(h.Interface)
	if err != nil {
		return IPv4Config{}, false
	}
	addrs, err := h.addrs(i)
	if err != nil {
		return IPv4Config{}, false
	}
	return firstV4(addrs)
}

func (h *Host) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// HardwareAddr returns MAC of the configured interface.
func (h *Host) HardwareAddr() (net.HardwareAddr, error) {
	i, err := h.byName(h.Interface)
	if err != nil {
		return nil, errors.Annotatef(err, "interface=%s", h.Interface)
	}
	if len(i.HardwareAddr) == 0 {
		return nil, errors.NotFoundf("hardware address interface=%s", h.Interface)
	}
	return i.HardwareAddr, nil
}

func firstV4(addrs []net.Addr) (IPv4Config, bool) {
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipn.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
			return IPv4Config{Address: net.IPNet{IP: ip4, Mask: ipn.Mask}}, true
		}
	}
	return IPv4Config{}, false
}
