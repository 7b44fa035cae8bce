package state

import (
	"image"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/temoto/telenode/display"
	"github.com/temoto/telenode/helpers"
	"github.com/temoto/telenode/netstack"
	"github.com/temoto/telenode/radio"
	"github.com/temoto/telenode/sensor"
)

// Simulated network identity, documentation ranges only.
var (
	SimNodeMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	SimAddress = net.IPNet{IP: net.IPv4(192, 0, 2, 10), Mask: net.CIDRMask(24, 32)}
	SimGateway = net.IPv4(192, 0, 2, 1)
)

const (
	simSignal  = -60
	simChannel = 6

	defaultRandomMax  = 1000 // millivolts
	defaultTextRows   = display.FrameLines
	defaultMonoWidth  = 128
	defaultMonoHeight = 64
)

type hardware struct {
	Radio struct {
		once
		driver radio.Driver
		stack  netstack.Stack
	}
	Sensor struct {
		once
		source sensor.Source
	}
	Panel struct {
		once
		panel display.Panel
		mono  *display.MonoPanel
	}
}

// Radio returns configured wireless driver, sim or wpa_supplicant.
func (g *Global) Radio() (radio.Driver, error) {
	err := g.initRadio()
	return g.Hardware.Radio.driver, err
}

// Stack returns network stack matching the radio driver.
func (g *Global) Stack() (netstack.Stack, error) {
	err := g.initRadio()
	return g.Hardware.Radio.stack, err
}

func (g *Global) initRadio() error {
	x := &g.Hardware.Radio // short alias
	return x.do(func() error {
		cfg := &g.Config.Wifi
		switch g.Config.WifiDriver() {
		case WifiDriverSim:
			x.driver = radio.NewSim(radio.AccessPoint{
				SSID:    cfg.SSID,
				BSSID:   SimNodeMAC.String(),
				Signal:  simSignal,
				Channel: simChannel,
			})
			stack := new(netstack.Sim)
			stack.SetLinkUp(true)
			stack.SetConfig(&netstack.IPv4Config{Address: SimAddress, Gateway: SimGateway})
			x.stack = stack
			return nil

		case WifiDriverWPA:
			iface := g.Config.WifiInterface()
			x.driver = radio.NewWPA(iface, g.ComponentLog("radio"))
			x.stack = netstack.NewHost(iface)
			return nil

		default:
			return errors.NotValidf("config: wifi.driver=%s", cfg.Driver)
		}
	})
}

// Sensor returns nil source when sensor.kind=none.
func (g *Global) Sensor() (sensor.Source, error) {
	x := &g.Hardware.Sensor // short alias
	err := x.do(func() error {
		cfg := &g.Config.Sensor
		var src sensor.Source
		var err error
		switch g.Config.SensorKind() {
		case SensorKindNone:
			return nil

		case sensor.KindRandom:
			min, max := cfg.Random.Min, cfg.Random.Max
			if min == 0 && max == 0 {
				max = defaultRandomMax
			}
			src, err = sensor.NewRandom(int32(min), int32(max))

		case sensor.KindADS1115:
			src, err = sensor.NewADS1115(sensor.ADS1115Config{
				Bus:          cfg.ADS1115.Bus,
				Address:      uint16(cfg.ADS1115.Address),
				Channel:      cfg.ADS1115.Channel,
				MaxMilliVolt: cfg.ADS1115.MaxMilliVolt,
			})

		case sensor.KindModbus:
			src, err = sensor.NewModbus(sensor.ModbusConfig{
				Endpoint: cfg.Modbus.Endpoint,
				SlaveID:  byte(cfg.Modbus.SlaveID),
				Register: uint16(cfg.Modbus.Register),
				Holding:  cfg.Modbus.Holding,
				Timeout:  helpers.IntSecondDefault(cfg.Modbus.TimeoutSec, 0),
			})

		default:
			return errors.NotValidf("config: sensor.kind=%s", cfg.Kind)
		}
		if err != nil {
			return errors.Annotatef(err, "sensor kind=%s", g.Config.SensorKind())
		}
		x.source = src
		g.addCloser(src)
		return nil
	})
	return x.source, err
}

// Panel returns nil when display.kind=none.
func (g *Global) Panel() (display.Panel, error) {
	err := g.initPanel()
	return g.Hardware.Panel.panel, err
}

// Mono returns pixel panel for splash, nil unless display.kind=mono.
func (g *Global) Mono() *display.MonoPanel {
	_ = g.initPanel()
	return g.Hardware.Panel.mono
}

func (g *Global) initPanel() error {
	x := &g.Hardware.Panel // short alias
	return x.do(func() error {
		cfg := &g.Config.Display
		switch g.Config.DisplayKind() {
		case DisplayKindNone:
			return nil

		case DisplayKindTerm:
			opt := g.textPanelConfig()
			dev := display.NewTermDevicer(os.Stdout, uint8(opt.Rows), uint8(opt.Width))
			p, err := display.NewTextPanel(opt, dev)
			if err != nil {
				return errors.Annotate(err, "display term")
			}
			x.panel = p
			return nil

		case DisplayKindMono:
			size := image.Point{X: defaultMonoWidth, Y: defaultMonoHeight}
			if cfg.Mono.Width != 0 {
				size.X = cfg.Mono.Width
			}
			if cfg.Mono.Height != 0 {
				size.Y = cfg.Mono.Height
			}
			var sink display.Sink
			if !cfg.Mono.Headless {
				dev, err := display.OpenSSD1306(cfg.Mono.Bus, size, cfg.Mono.Rotated)
				if err != nil {
					return errors.Annotatef(err, "display mono bus=%s", cfg.Mono.Bus)
				}
				g.addCloser(dev)
				sink = dev
			}
			x.mono = display.NewMonoPanel(size, cfg.Mono.LineHeight, sink)
			x.panel = x.mono
			return nil

		case DisplayKindHD44780:
			opt := g.textPanelConfig()
			dev, err := display.NewHD44780(cfg.HD44780.PinChip, cfg.HD44780.Pinmap, uint8(opt.Rows), uint8(opt.Width))
			if err != nil {
				return errors.Annotatef(err, "display hd44780 pin_chip=%s", cfg.HD44780.PinChip)
			}
			p, err := display.NewTextPanel(opt, dev)
			if err != nil {
				return errors.Annotate(err, "display hd44780")
			}
			x.panel = p
			return nil

		default:
			return errors.NotValidf("config: display.kind=%s", cfg.Kind)
		}
	})
}

func (g *Global) textPanelConfig() display.TextPanelConfig {
	cfg := &g.Config.Display.Text
	opt := display.TextPanelConfig{
		Codepage: cfg.Codepage,
		Width:    uint32(cfg.Width),
		Rows:     cfg.Rows,
	}
	if opt.Width == 0 {
		opt.Width = uint32(g.Config.Layout().Width())
	}
	if opt.Rows == 0 {
		opt.Rows = defaultTextRows
	}
	return opt
}

func (g *Global) addCloser(c io.Closer) {
	g.lk.Lock()
	g.closers = append(g.closers, c)
	g.lk.Unlock()
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
