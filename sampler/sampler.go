// Package sampler converts raw readings into normalized percentages and
// engineering units. No I/O, deterministic.
package sampler

import "math"

// Default wireless signal domain, dBm.
const (
	DefaultRSSIMin = -90
	DefaultRSSIMax = -30
)

// Normalize clamps raw to [min,max] then maps linearly onto 0..100.
// Degenerate domain (min>=max) is a step: 0 at or below min, 100 above.
func Normalize(raw, min, max int) int {
	if min >= max {
		if raw <= min {
			return 0
		}
		return 100
	}
	raw = Clamp(raw, min, max)
	percent := math.Round(float64(raw-min) / float64(max-min) * 100)
	return Clamp(int(percent), 0, 100)
}

// RSSIQuality is Normalize for a dBm signal metric, result fits status bus cell.
func RSSIQuality(dbm, min, max int) uint8 {
	return uint8(Normalize(dbm, min, max))
}

// Calibration converts a raw reading to engineering unit: raw*Gain + Offset.
type Calibration struct {
	Gain   float64
	Offset float64
}

// Placeholder linear regression for uncalibrated millivolt temperature probe:
// (mV - 0.5) / 100.
var DefaultCalibration = Calibration{Gain: 0.01, Offset: -0.005}

func (c Calibration) Apply(raw int32) float64 {
	gain := c.Gain
	if gain == 0 {
		gain = 1
	}
	return float64(raw)*gain + c.Offset
}
