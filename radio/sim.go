package radio

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

// Sim is a scriptable in-memory radio for tests and hosts without wireless.
type Sim struct {
	mu          sync.Mutex
	creds       Credentials
	started     bool
	connected   bool
	visible     []AccessPoint
	failConnect int // remaining failing Connect calls, <0 forever
	failScan    bool

	starts   int
	connects int
	scans    int
	// Notify receives "start", "connect", "scan" after each call, non-blocking.
	Notify chan string
}

func NewSim(visible ...AccessPoint) *Sim {
	return &Sim{visible: visible}
}

func (s *Sim) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Sim) Configure(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.SSID == "" {
		return errors.NotValidf("radio ssid empty")
	}
	s.creds = c
	return nil
}

func (s *Sim) Start(ctx context.Context) error {
	s.mu.Lock()
	s.starts++
	if s.creds.SSID == "" {
		s.mu.Unlock()
		return ErrNotConfigured
	}
	s.started = true
	s.mu.Unlock()
	s.notify("start")
	return ctx.Err()
}

func (s *Sim) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connects++
	var err error
	switch {
	case !s.started:
		err = ErrNotStarted
	case s.failConnect != 0:
		if s.failConnect > 0 {
			s.failConnect--
		}
		err = errors.Errorf("association failed ssid=%s", s.creds.SSID)
	default:
		s.connected = true
	}
	s.mu.Unlock()
	s.notify("connect")
	return err
}

func (s *Sim) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) Scan(ctx context.Context, max int) ([]AccessPoint, error) {
	s.mu.Lock()
	s.scans++
	var result []AccessPoint
	var err error
	if s.failScan {
		err = errors.New("scan failed")
	} else {
		result = Rank(s.visible, s.creds.SSID, max)
	}
	s.mu.Unlock()
	s.notify("scan")
	return result, err
}

// FailConnect makes next n Connect calls fail, n<0 fails forever.
func (s *Sim) FailConnect(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failConnect = n
}

func (s *Sim) FailScan(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failScan = fail
}

// Drop simulates lost association, radio stays started.
func (s *Sim) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// PowerOff simulates radio reset.
func (s *Sim) PowerOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.started = false
}

func (s *Sim) SetVisible(aps ...AccessPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = aps
}

func (s *Sim) Counters() (starts, connects, scans int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.connects, s.scans
}

func (s *Sim) notify(event string) {
	if s.Notify == nil {
		return
	}
	select {
	case s.Notify <- event:
	default:
	}
}
