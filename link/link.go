// Package link is the connection manager: owns the radio, associates with the
// configured network, retries forever, exports link quality to status bus.
package link

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/telenode/helpers"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/radio"
	"github.com/temoto/telenode/sampler"
	"github.com/temoto/telenode/status"
)

const (
	DefaultRetryDelay   = 5 * time.Second
	DefaultPollInterval = 10 * time.Second
	DefaultSettleDelay  = 5 * time.Second
	DefaultScanTimeout  = 10 * time.Second
)

type State int32

const (
	StateIdle State = iota
	StateStarting
	StateConnecting
	StateConnected
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateRetrying:
		return "Retrying"
	}
	return "State(?)"
}

type Config struct {
	Credentials  radio.Credentials
	RetryDelay   time.Duration
	RetryMax     time.Duration // >RetryDelay enables growing backoff
	PollInterval time.Duration
	SettleDelay  time.Duration
	ScanTimeout  time.Duration
	ScanMax      int
	RSSIMin      int
	RSSIMax      int
}

func (c *Config) defaults() {
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.ScanMax <= 0 {
		c.ScanMax = radio.DefaultScanMax
	}
	if c.RSSIMin == 0 && c.RSSIMax == 0 {
		c.RSSIMin, c.RSSIMax = sampler.DefaultRSSIMin, sampler.DefaultRSSIMax
	}
}

type Manager struct {
	attempts uint32 // atomic
	state    int32  // atomic
	config   Config
	radio    radio.Driver
	bus      *status.Bus
	log      *log2.Log
	backoff  helpers.Backoff
}

func NewManager(c Config, r radio.Driver, bus *status.Bus, log *log2.Log) *Manager {
	c.defaults()
	self := &Manager{
		config: c,
		radio:  r,
		bus:    bus,
		log:    log,
	}
	self.backoff = helpers.Backoff{Min: c.RetryDelay, Max: c.RetryDelay, K: 1}
	if c.RetryMax > c.RetryDelay {
		self.backoff.Max = c.RetryMax
		self.backoff.K = 2
	}
	return self
}

func (self *Manager) State() State { return State(atomic.LoadInt32(&self.state)) }

// Attempts counts association requests since start.
func (self *Manager) Attempts() uint32 { return atomic.LoadUint32(&self.attempts) }

func (self *Manager) setState(s State) {
	prev := State(atomic.SwapInt32(&self.state, int32(s)))
	if prev != s {
		self.log.Debugf("link %s -> %s", prev, s)
	}
}

// Run is the connection task. Returns only when ctx is done.
func (self *Manager) Run(ctx context.Context) error {
	self.setState(StateIdle)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ok bool
		switch self.State() {
		case StateIdle, StateStarting:
			ok = self.stepStart(ctx)
		case StateConnecting:
			ok = self.stepConnect(ctx)
		case StateConnected:
			ok = self.stepConnected(ctx)
		case StateRetrying:
			self.bus.SetSignalQuality(0)
			ok = helpers.Sleep(ctx.Done(), self.config.SettleDelay)
			self.setState(StateStarting)
		}
		if !ok {
			return ctx.Err()
		}
	}
}

func (self *Manager) stepStart(ctx context.Context) bool {
	self.setState(StateStarting)
	if !self.radio.IsStarted() {
		if err := self.start(ctx); err != nil {
			self.log.Errorf("link start: %v", err)
			return helpers.Sleep(ctx.Done(), self.config.RetryDelay)
		}
	}
	self.setState(StateConnecting)
	return true
}

func (self *Manager) start(ctx context.Context) error {
	if err := self.radio.Configure(self.config.Credentials); err != nil {
		return errors.Annotate(err, "configure")
	}
	return errors.Annotate(self.radio.Start(ctx), "start")
}

func (self *Manager) stepConnect(ctx context.Context) bool {
	n := atomic.AddUint32(&self.attempts, 1)
	err := self.radio.Connect(ctx)
	if err == nil {
		self.backoff.Reset()
		self.log.Infof("link connected ssid=%s attempt=%d", self.config.Credentials.SSID, n)
		self.setState(StateConnected)
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	delay := self.backoff.DelayAfter(false)
	self.log.Errorf("link connect ssid=%s attempt=%d retry in %v: %v", self.config.Credentials.SSID, n, delay, err)
	if errors.Cause(err) == radio.ErrNotStarted {
		self.setState(StateStarting)
	}
	return helpers.Sleep(ctx.Done(), delay)
}

// stepConnected samples link quality once then waits poll interval.
func (self *Manager) stepConnected(ctx context.Context) bool {
	if !self.radio.Connected() {
		self.log.Infof("link disconnected")
		self.setState(StateRetrying)
		return true
	}
	found, err := self.sampleQuality(ctx)
	switch {
	case err != nil:
		self.log.Debugf("link scan skipped: %v", err)
	case !found:
		self.log.Infof("link ssid=%s not visible", self.config.Credentials.SSID)
		self.setState(StateRetrying)
		return true
	}
	return helpers.Sleep(ctx.Done(), self.config.PollInterval)
}

func (self *Manager) sampleQuality(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, self.config.ScanTimeout)
	defer cancel()
	aps, err := self.radio.Scan(ctx, self.config.ScanMax)
	if err != nil {
		return false, err
	}
	ap, ok := radio.Find(aps, self.config.Credentials.SSID)
	if !ok {
		return false, nil
	}
	q := sampler.RSSIQuality(ap.Signal, self.config.RSSIMin, self.config.RSSIMax)
	self.bus.SetSignalQuality(q)
	self.log.Debugf("link %s quality=%d%%", ap, q)
	return true, nil
}
