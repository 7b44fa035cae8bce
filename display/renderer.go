package display

import (
	"context"
	"time"

	"github.com/temoto/atomic_clock"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/status"
)

const DefaultPeriod = 5 * time.Second

type RendererConfig struct {
	Period time.Duration
	Layout Layout
	Labels Labels
	// StaleAfter marks lines of bus fields not written for longer, 0 disables.
	StaleAfter time.Duration
}

// Renderer is a pure status bus consumer, owns no network resources.
type Renderer struct {
	config RendererConfig
	panel  Panel
	bus    *status.Bus
	log    *log2.Log
	last   atomic_clock.Clock
}

func NewRenderer(c RendererConfig, p Panel, bus *status.Bus, log *log2.Log) *Renderer {
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.Layout == (Layout{}) {
		c.Layout = DefaultLayout
	}
	if c.Labels == (Labels{}) {
		c.Labels = DefaultLabels
	}
	return &Renderer{config: c, panel: p, bus: bus, log: log}
}

// Render draws one frame. Flush error is logged and returned.
func (self *Renderer) Render() (Frame, error) {
	var elapsed time.Duration
	if !self.last.IsZero() {
		elapsed = atomic_clock.Since(&self.last)
	}
	self.last.SetNow()

	f := BuildFrame(self.config.Layout, self.config.Labels, elapsed, self.bus.Snapshot())
	if self.config.StaleAfter > 0 {
		self.markStale(&f, self.bus.Ages())
	}
	self.panel.Clear()
	for i, line := range f.Lines {
		self.panel.DrawText(i, line)
	}
	err := self.panel.Flush()
	if err != nil {
		self.log.Errorf("display flush: %v", err)
	}
	return f, err
}

// markStale flags measurement, quality, broker lines by age of their field.
// Never written fields keep defaults and are not flagged.
func (self *Renderer) markStale(f *Frame, ages status.Ages) {
	for i, age := range []time.Duration{ages.Measurement, ages.SignalQuality, ages.BrokerStatus} {
		if age > self.config.StaleAfter {
			f.Lines[i+1] = self.config.Layout.MarkStale(f.Lines[i+1])
		}
	}
}

// Run redraws every Period until ctx is done.
func (self *Renderer) Run(ctx context.Context) error {
	tmr := time.NewTicker(self.config.Period)
	defer tmr.Stop()
	for {
		_, _ = self.Render()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tmr.C:
		}
	}
}
