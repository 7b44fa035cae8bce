package netstack

import (
	"context"
	"sync"
	"sync/atomic"
)

// Sim is in-memory stack for tests.
type Sim struct {
	mu     sync.Mutex
	up     bool
	config *IPv4Config
	runs   int32
	// RunErr is returned by Run immediately when set.
	RunErr error
}

func (s *Sim) SetLinkUp(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.up = up
}

func (s *Sim) SetConfig(c *IPv4Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = c
}

func (s *Sim) LinkUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up
}

func (s *Sim) ConfigV4() (IPv4Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return IPv4Config{}, false
	}
	return *s.config, true
}

func (s *Sim) Run(ctx context.Context) error {
	atomic.AddInt32(&s.runs, 1)
	if s.RunErr != nil {
		return s.RunErr
	}
	<-ctx.Done()
	return nil
}

func (s *Sim) Runs() int { return int(atomic.LoadInt32(&s.runs)) }
