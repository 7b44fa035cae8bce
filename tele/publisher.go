package tele

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/telenode/helpers"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/sampler"
	"github.com/temoto/telenode/sensor"
	"github.com/temoto/telenode/status"
)

const (
	DefaultPeriod         = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

type Config struct {
	NodeID         string
	TopicPrefix    string
	Period         time.Duration
	ConnectTimeout time.Duration
	// PublishTimeout bounds waiting for broker ack, default ConnectTimeout.
	PublishTimeout time.Duration
	Calibration    sampler.Calibration
}

// Publisher owns broker session and is the single writer of
// BrokerStatus and Measurement status cells.
type Publisher struct {
	config Config
	broker Broker
	bus    *status.Bus
	sensor sensor.Source // optional
	log    *log2.Log
	uptime func() time.Duration
}

type CycleResult struct {
	Published int
	Status    status.BrokerStatus
	Err       error // last failure
}

func NewPublisher(c Config, b Broker, bus *status.Bus, src sensor.Source, log *log2.Log) (*Publisher, error) {
	if c.NodeID == "" {
		return nil, errors.NotValidf("tele node id empty")
	}
	if b == nil {
		return nil, errors.NotValidf("code error tele broker=nil")
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = c.ConnectTimeout
	}
	if c.Calibration == (sampler.Calibration{}) {
		c.Calibration = sampler.DefaultCalibration
	}
	return &Publisher{
		config: c,
		broker: b,
		bus:    bus,
		sensor: src,
		log:    log,
		uptime: helpers.Uptime,
	}, nil
}

// Run publishes immediately, then every Period until ctx is done.
func (self *Publisher) Run(ctx context.Context) error {
	tmr := time.NewTicker(self.config.Period)
	defer tmr.Stop()
	for {
		r := self.Cycle(ctx)
		self.log.Debugf("tele cycle published=%d status=%s", r.Published, r.Status)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tmr.C:
		}
	}
}

// Cycle samples sensor and publishes all record kinds over one session.
func (self *Publisher) Cycle(ctx context.Context) CycleResult {
	self.sample(ctx)

	var result CycleResult
	fail := func(err error, st status.BrokerStatus) CycleResult {
		self.bus.SetBrokerStatus(st)
		result.Status = st
		result.Err = err
		return result
	}

	cctx, cancel := context.WithTimeout(ctx, self.config.ConnectTimeout)
	defer cancel()
	sess, err := self.broker.Dial(cctx)
	if err != nil {
		self.log.Errorf("tele dial: %v", err)
		return fail(err, status.BrokerErrorNetwork)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			self.log.Debugf("tele session close: %v", err)
		}
	}()

	if err = sess.Handshake(cctx, ClientID(self.config.NodeID)); err != nil {
		self.log.Errorf("tele handshake: %v", err)
		return fail(err, Classify(err))
	}
	self.bus.SetBrokerStatus(status.BrokerConnected)
	result.Status = status.BrokerConnected

	for _, kind := range []Kind{KindLink, KindSensor} {
		err = self.publish(ctx, sess, kind)
		if err == nil {
			result.Published++
			continue
		}
		if errors.Cause(err) == ErrPayloadOverflow {
			self.log.Errorf("code error tele kind=%s record dropped: %v", kind, err)
			result.Err = err
			continue
		}
		self.log.Errorf("tele publish kind=%s: %v", kind, err)
		fail(err, Classify(err))
		if IsSessionLost(err) {
			break
		}
	}
	return result
}

func (self *Publisher) publish(ctx context.Context, sess Session, kind Kind) error {
	var value float64
	switch kind {
	case KindLink:
		value = float64(self.bus.SignalQuality())
	case KindSensor:
		value = self.bus.Measurement()
	}
	payload, err := NewRecord(self.config.NodeID, self.uptime(), value).Encode()
	if err != nil {
		return err
	}
	m := Message{
		Topic:   Topic(self.config.TopicPrefix, kind, self.config.NodeID),
		Payload: payload,
		Retain:  true,
	}
	pctx, cancel := context.WithTimeout(ctx, self.config.PublishTimeout)
	defer cancel()
	if err = sess.Publish(pctx, m); err != nil {
		return err
	}
	self.log.Debugf("tele published topic=%s payload=%s", m.Topic, m.Payload)
	return nil
}

// sample refreshes Measurement, failure keeps previous value.
func (self *Publisher) sample(ctx context.Context) {
	if self.sensor == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, self.config.ConnectTimeout)
	defer cancel()
	raw, err := self.sensor.Read(sctx)
	if err != nil {
		self.log.Errorf("tele sensor read: %v", err)
		return
	}
	self.bus.SetMeasurement(self.config.Calibration.Apply(raw))
}
