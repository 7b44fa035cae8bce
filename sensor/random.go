package sensor

import (
	"context"
	"math/rand"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/telenode/helpers"
)

// Random is the stand-in for a probe pending calibration.
// Values are uniform in [Min, Max].
type Random struct {
	mu   sync.Mutex
	rand *rand.Rand
	min  int32
	max  int32
}

func NewRandom(min, max int32) (*Random, error) {
	if min > max {
		return nil, errors.NotValidf("sensor random min=%d > max=%d", min, max)
	}
	return &Random{rand: helpers.RandUnix(), min: min, max: max}, nil
}

func (r *Random) Read(ctx context.Context) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	span := int64(r.max) - int64(r.min) + 1
	return r.min + int32(r.rand.Int63n(span)), nil
}

func (r *Random) Close() error { return nil }
