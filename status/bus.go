// Package status is the process-wide set of latest-value cells shared by
// node tasks. Each field has exactly one writer task, any number of readers.
// Set/Get never block and never fail.
//
// Field owners:
// - SignalQuality: link.Manager
// - BrokerStatus, Measurement: tele.Publisher
package status

import (
	"sync/atomic"
	"time"

	"github.com/temoto/atomic_clock"
	"github.com/temoto/telenode/helpers/atomic_float"
)

type Bus struct {
	quality     uint32
	broker      uint32
	measurement atomic_float.F64

	qualityAt     atomic_clock.Clock
	brokerAt      atomic_clock.Clock
	measurementAt atomic_clock.Clock
}

// New returns bus with every field at its default:
// quality=0, broker=Offline, measurement=0.
func New() *Bus {
	b := &Bus{}
	atomic.StoreUint32(&b.quality, 0)
	atomic.StoreUint32(&b.broker, uint32(BrokerOffline))
	b.measurement.Store(0)
	return b
}

func (b *Bus) SetSignalQuality(percent uint8) {
	if percent > 100 {
		percent = 100
	}
	atomic.StoreUint32(&b.quality, uint32(percent))
	b.qualityAt.SetNow()
}
func (b *Bus) SignalQuality() uint8 { return uint8(atomic.LoadUint32(&b.quality)) }

func (b *Bus) SetBrokerStatus(s BrokerStatus) {
	atomic.StoreUint32(&b.broker, uint32(s))
	b.brokerAt.SetNow()
}
func (b *Bus) BrokerStatus() BrokerStatus { return BrokerStatus(atomic.LoadUint32(&b.broker)) }

func (b *Bus) SetMeasurement(v float64) {
	b.measurement.Store(v)
	b.measurementAt.SetNow()
}
func (b *Bus) Measurement() float64 { return b.measurement.Load() }

// Ages is time since the last write to each field, zero if never written.
type Ages struct {
	SignalQuality time.Duration
	BrokerStatus  time.Duration
	Measurement   time.Duration
}

func (b *Bus) Ages() Ages {
	return Ages{
		SignalQuality: age(&b.qualityAt),
		BrokerStatus:  age(&b.brokerAt),
		Measurement:   age(&b.measurementAt),
	}
}

func age(c *atomic_clock.Clock) time.Duration {
	if c.IsZero() {
		return 0
	}
	return atomic_clock.Since(c)
}

// Snapshot reads fields one by one, may mix values from different writes.
type Snapshot struct {
	SignalQuality uint8
	BrokerStatus  BrokerStatus
	Measurement   float64
}

func (b *Bus) Snapshot() Snapshot {
	return Snapshot{
		SignalQuality: b.SignalQuality(),
		BrokerStatus:  b.BrokerStatus(),
		Measurement:   b.Measurement(),
	}
}
