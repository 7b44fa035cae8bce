package helpers

import (
	"sync/atomic"
	"time"
)

// Limited exponential backoff for retry delays.
// Min=Max gives fixed delay, K<=1 never grows.
// Failure() increases next delay by K, Reset() returns to Min.
type Backoff struct {
	next int64 // atomic align

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms
}

// Use scenario:
// for {
//   err := op()
//   if !Sleep(done, backoff.DelayAfter(err==nil)) { return }
// }
// First failure waits Min.
func (b *Backoff) DelayAfter(success bool) time.Duration {
	if success {
		b.Reset()
		return 0
	}
	if !atomic.CompareAndSwapInt64(&b.next, 0, int64(b.Min)) {
		b.Failure()
	}
	return b.limit(time.Duration(atomic.LoadInt64(&b.next)))
}

// Increase next delay.
func (b *Backoff) Failure() {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if b.K > 1 {
		next = time.Duration(float32(next) * b.K)
	}
	next = b.limit(next)
	atomic.StoreInt64(&b.next, int64(next))
}

func (b *Backoff) Reset() {
	atomic.StoreInt64(&b.next, 0)
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max >= b.Min && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	if d < res {
		return d
	}
	return d / res * res
}
