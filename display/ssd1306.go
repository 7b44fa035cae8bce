package display

import (
	"image"

	"github.com/juju/errors"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/devices/ssd1306"
	"periph.io/x/periph/host"
)

// SSD1306 is OLED panel sink on I2C, fixed address 0x3C.
type SSD1306 struct {
	bus i2c.BusCloser
	dev *ssd1306.Dev
}

func OpenSSD1306(busName string, size image.Point, rotated bool) (*SSD1306, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Annotatef(err, "i2c bus=%s", busName)
	}
	opts := ssd1306.DefaultOpts
	opts.W, opts.H = size.X, size.Y
	opts.Rotated = rotated
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, errors.Annotate(err, "ssd1306")
	}
	return &SSD1306{bus: bus, dev: dev}, nil
}

func (self *SSD1306) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	return self.dev.Draw(r, src, sp)
}

func (self *SSD1306) Close() error {
	err := self.dev.Halt()
	if cerr := self.bus.Close(); err == nil {
		err = cerr
	}
	return err
}
