// Package radio is the wireless driver contract used by the link manager.
package radio

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"golang.org/x/exp/slices"
)

const DefaultScanMax = 10

type Credentials struct {
	SSID     string
	Password string // empty for open network
}

type AccessPoint struct {
	SSID    string
	BSSID   string
	Signal  int // dBm
	Channel int
}

func (ap AccessPoint) String() string {
	return fmt.Sprintf("ssid=%q signal=%ddBm channel=%d", ap.SSID, ap.Signal, ap.Channel)
}

// Driver operations may block on radio I/O; ctx bounds them.
type Driver interface {
	IsStarted() bool
	Configure(Credentials) error
	Start(ctx context.Context) error
	Connect(ctx context.Context) error
	// Connected reports current association, polled by the link manager.
	Connected() bool
	// Scan returns at most max visible networks,
	// configured network first, then by signal strength.
	Scan(ctx context.Context, max int) ([]AccessPoint, error)
}

var (
	ErrNotStarted    = errors.New("radio not started")
	ErrNotConfigured = errors.New("radio credentials not configured")
)

// Find returns the strongest entry matching ssid.
func Find(aps []AccessPoint, ssid string) (AccessPoint, bool) {
	var best AccessPoint
	found := false
	for _, ap := range aps {
		if ap.SSID != ssid {
			continue
		}
		if !found || ap.Signal > best.Signal {
			best = ap
			found = true
		}
	}
	return best, found
}

// Rank orders aps with ssid entries first, then strongest signal first,
// and cuts the result to max (max<=0 keeps all).
func Rank(aps []AccessPoint, ssid string, max int) []AccessPoint {
	aps = slices.Clone(aps)
	slices.SortStableFunc(aps, func(a, b AccessPoint) int {
		am, bm := ssid != "" && a.SSID == ssid, ssid != "" && b.SSID == ssid
		switch {
		case am && !bm:
			return -1
		case bm && !am:
			return 1
		}
		return b.Signal - a.Signal
	})
	if max > 0 && len(aps) > max {
		aps = aps[:max]
	}
	return aps
}

// FrequencyChannel converts MHz to 802.11 channel number, 0 if unknown.
func FrequencyChannel(mhz int) int {
	switch {
	case mhz == 2484:
		return 14
	case mhz >= 2412 && mhz <= 2472:
		return (mhz - 2407) / 5
	case mhz >= 5160 && mhz <= 5885:
		return (mhz - 5000) / 5
	case mhz >= 5955 && mhz <= 7115:
		return (mhz - 5950) / 5
	}
	return 0
}
