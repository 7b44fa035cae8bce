// Package sensor provides raw-value sources for the measurement cell.
// Conversion into engineering units is sampler's job.
package sensor

import (
	"context"

	"github.com/juju/errors"
)

const (
	KindRandom  = "random"
	KindADS1115 = "ads1115"
	KindModbus  = "modbus"
)

type Source interface {
	Read(ctx context.Context) (int32, error)
	Close() error
}

var ErrClosed = errors.New("sensor closed")
