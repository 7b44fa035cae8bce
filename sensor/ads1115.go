package sensor

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"periph.io/x/periph/conn/analog"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/devices/ads1x15"
	"periph.io/x/periph/host"
)

type ADS1115Config struct {
	Bus     string // i2creg name, empty for first bus
	Address uint16 // default 0x48
	Channel int    // single-ended input 0..3
	// Full scale, default 4.096V (4-20mA shunt fits)
	MaxMilliVolt int
}

type adcPin interface {
	Read() (analog.Sample, error)
	Halt() error
}

// ADS1115 reads one single-ended channel, raw value in millivolts.
type ADS1115 struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	pin adcPin
}

var adsChannels = [4]ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}

func NewADS1115(c ADS1115Config) (*ADS1115, error) {
	if c.Channel < 0 || c.Channel >= len(adsChannels) {
		return nil, errors.NotValidf("sensor ads1115 channel=%d", c.Channel)
	}
	if c.Address == 0 {
		c.Address = ads1x15.DefaultOpts.I2cAddress
	}
	if c.MaxMilliVolt == 0 {
		c.MaxMilliVolt = 4096
	}
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	bus, err := i2creg.Open(c.Bus)
	if err != nil {
		return nil, errors.Annotatef(err, "i2c open bus=%s", c.Bus)
	}
	dev, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: c.Address})
	if err != nil {
		_ = bus.Close()
		return nil, errors.Annotatef(err, "ads1115 address=%#x", c.Address)
	}
	pin, err := dev.PinForChannel(adsChannels[c.Channel], physic.ElectricPotential(c.MaxMilliVolt)*physic.MilliVolt, 1*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		_ = bus.Close()
		return nil, errors.Annotatef(err, "ads1115 channel=%d", c.Channel)
	}
	return &ADS1115{bus: bus, pin: pin}, nil
}

func (a *ADS1115) Read(ctx context.Context) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pin == nil {
		return 0, ErrClosed
	}
	sample, err := a.pin.Read()
	if err != nil {
		return 0, errors.Annotate(err, "ads1115 read")
	}
	return int32(sample.V / physic.MilliVolt), nil
}

func (a *ADS1115) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pin == nil {
		return nil
	}
	_ = a.pin.Halt()
	a.pin = nil
	return a.bus.Close()
}
