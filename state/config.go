package state

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/telenode/display"
	"github.com/temoto/telenode/helpers"
	"github.com/temoto/telenode/link"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/netstack"
	"github.com/temoto/telenode/radio"
	"github.com/temoto/telenode/sampler"
	"github.com/temoto/telenode/sensor"
	"github.com/temoto/telenode/tele"
	"gopkg.in/yaml.v3"
)

const (
	WifiDriverWPA = "wpa"
	WifiDriverSim = "sim"

	BrokerBackendGomqtt = "gomqtt"
	BrokerBackendPaho   = "paho"

	SensorKindNone = "none"

	DisplayKindNone    = "none"
	DisplayKindTerm    = "term"
	DisplayKindMono    = "mono"
	DisplayKindHD44780 = "hd44780"

	DefaultInterface = "wlan0"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include" yaml:"include"`

	Node struct {
		// Overrides MAC derived node id.
		ID        string `hcl:"id" yaml:"id"`
		Interface string `hcl:"interface" yaml:"interface"`
	} `hcl:"node" yaml:"node"`

	Wifi struct { //nolint:maligned
		Driver         string `hcl:"driver" yaml:"driver"`
		Interface      string `hcl:"interface" yaml:"interface"`
		SSID           string `hcl:"ssid" yaml:"ssid"`
		Password       string `hcl:"password" yaml:"password"`
		RetrySec       int    `hcl:"retry_sec" yaml:"retry_sec"`
		RetryMaxSec    int    `hcl:"retry_max_sec" yaml:"retry_max_sec"`
		PollSec        int    `hcl:"poll_sec" yaml:"poll_sec"`
		SettleSec      int    `hcl:"settle_sec" yaml:"settle_sec"`
		ScanTimeoutSec int    `hcl:"scan_timeout_sec" yaml:"scan_timeout_sec"`
		ScanMax        int    `hcl:"scan_max" yaml:"scan_max"`
		RSSIMin        int    `hcl:"rssi_min" yaml:"rssi_min"`
		RSSIMax        int    `hcl:"rssi_max" yaml:"rssi_max"`
		// Link-up and address poll while waiting for network.
		LinkPollMs int `hcl:"link_poll_ms" yaml:"link_poll_ms"`
	} `hcl:"wifi" yaml:"wifi"`

	Broker struct {
		Backend           string `hcl:"backend" yaml:"backend"`
		URL               string `hcl:"url" yaml:"url"`
		Username          string `hcl:"username" yaml:"username"`
		Password          string `hcl:"password" yaml:"password"`
		TLSCAFile         string `hcl:"tls_ca_file" yaml:"tls_ca_file"`
		TopicPrefix       string `hcl:"topic_prefix" yaml:"topic_prefix"`
		PeriodSec         int    `hcl:"period_sec" yaml:"period_sec"`
		ConnectTimeoutSec int    `hcl:"connect_timeout_sec" yaml:"connect_timeout_sec"`
		PublishTimeoutSec int    `hcl:"publish_timeout_sec" yaml:"publish_timeout_sec"`
		KeepaliveSec      int    `hcl:"keepalive_sec" yaml:"keepalive_sec"`
	} `hcl:"broker" yaml:"broker"`

	Sensor struct {
		Kind   string  `hcl:"kind" yaml:"kind"`
		Gain   float64 `hcl:"gain" yaml:"gain"`
		Offset float64 `hcl:"offset" yaml:"offset"`
		Random struct {
			Min int `hcl:"min" yaml:"min"`
			Max int `hcl:"max" yaml:"max"`
		} `hcl:"random" yaml:"random"`
		ADS1115 struct {
			Bus          string `hcl:"bus" yaml:"bus"`
			Address      int    `hcl:"address" yaml:"address"`
			Channel      int    `hcl:"channel" yaml:"channel"`
			MaxMilliVolt int    `hcl:"max_millivolt" yaml:"max_millivolt"`
		} `hcl:"ads1115" yaml:"ads1115"`
		Modbus struct {
			Endpoint   string `hcl:"endpoint" yaml:"endpoint"`
			SlaveID    int    `hcl:"slave_id" yaml:"slave_id"`
			Register   int    `hcl:"register" yaml:"register"`
			Holding    bool   `hcl:"holding" yaml:"holding"`
			TimeoutSec int    `hcl:"timeout_sec" yaml:"timeout_sec"`
		} `hcl:"modbus" yaml:"modbus"`
	} `hcl:"sensor" yaml:"sensor"`

	Display struct { //nolint:maligned
		Kind       string `hcl:"kind" yaml:"kind"`
		PeriodSec  int    `hcl:"period_sec" yaml:"period_sec"`
		LabelWidth int    `hcl:"label_width" yaml:"label_width"`
		ValueWidth int    `hcl:"value_width" yaml:"value_width"`
		UnitWidth  int    `hcl:"unit_width" yaml:"unit_width"`
		// Lines of fields not updated for longer are marked, default 3 publish periods, <0 disables.
		StaleSec int `hcl:"stale_sec" yaml:"stale_sec"`
		Labels   struct {
			Measurement     string `hcl:"measurement" yaml:"measurement"`
			MeasurementUnit string `hcl:"measurement_unit" yaml:"measurement_unit"`
			Quality         string `hcl:"quality" yaml:"quality"`
			Broker          string `hcl:"broker" yaml:"broker"`
		} `hcl:"labels" yaml:"labels"`
		Mono struct {
			Bus        string `hcl:"bus" yaml:"bus"`
			Width      int    `hcl:"width" yaml:"width"`
			Height     int    `hcl:"height" yaml:"height"`
			LineHeight int    `hcl:"line_height" yaml:"line_height"`
			Rotated    bool   `hcl:"rotated" yaml:"rotated"`
			// Draw into memory only, no I2C.
			Headless bool `hcl:"headless" yaml:"headless"`
			// QR code of node id while waiting for link.
			Splash bool `hcl:"splash" yaml:"splash"`
		} `hcl:"mono" yaml:"mono"`
		Text struct {
			Codepage string `hcl:"codepage" yaml:"codepage"`
			Width    int    `hcl:"width" yaml:"width"`
			Rows     int    `hcl:"rows" yaml:"rows"`
		} `hcl:"text" yaml:"text"`
		HD44780 struct {
			PinChip string                `hcl:"pin_chip" yaml:"pin_chip"`
			Pinmap  display.HD44780PinMap `hcl:"pinmap" yaml:"pinmap"`
		} `hcl:"hd44780" yaml:"hd44780"`
	} `hcl:"display" yaml:"display"`

	LogDebug []string `hcl:"log_debug" yaml:"log_debug"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key" yaml:"name"`
	Optional bool   `hcl:"optional" yaml:"optional"`
}

func (c *Config) WifiDriver() string {
	return defaultString(c.Wifi.Driver, WifiDriverWPA)
}

func (c *Config) WifiInterface() string {
	return defaultString(c.Wifi.Interface, DefaultInterface)
}

// NodeInterface is the source of MAC derived node id, default wifi interface.
func (c *Config) NodeInterface() string {
	return defaultString(c.Node.Interface, c.WifiInterface())
}

func (c *Config) BrokerBackend() string {
	return defaultString(c.Broker.Backend, BrokerBackendGomqtt)
}

func (c *Config) SensorKind() string {
	return defaultString(c.Sensor.Kind, sensor.KindRandom)
}

func (c *Config) DisplayKind() string {
	return defaultString(c.Display.Kind, DisplayKindNone)
}

// Debug reports whether component debug log is enabled by log_debug.
func (c *Config) Debug(component string) bool {
	for _, s := range c.LogDebug {
		if s == component || s == "*" {
			return true
		}
	}
	return false
}

func (c *Config) LinkConfig() link.Config {
	return link.Config{
		Credentials:  radio.Credentials{SSID: c.Wifi.SSID, Password: c.Wifi.Password},
		RetryDelay:   helpers.IntSecondDefault(c.Wifi.RetrySec, link.DefaultRetryDelay),
		RetryMax:     helpers.IntSecondDefault(c.Wifi.RetryMaxSec, 0),
		PollInterval: helpers.IntSecondDefault(c.Wifi.PollSec, link.DefaultPollInterval),
		SettleDelay:  helpers.IntSecondDefault(c.Wifi.SettleSec, link.DefaultSettleDelay),
		ScanTimeout:  helpers.IntSecondDefault(c.Wifi.ScanTimeoutSec, link.DefaultScanTimeout),
		ScanMax:      c.Wifi.ScanMax,
		RSSIMin:      c.Wifi.RSSIMin,
		RSSIMax:      c.Wifi.RSSIMax,
	}
}

// LinkPollInterval is netstack wait-for-connection poll.
func (c *Config) LinkPollInterval() time.Duration {
	return helpers.IntMilliDefault(c.Wifi.LinkPollMs, netstack.DefaultPollInterval)
}

// RSSIRange is signal domain for quality percent, dBm.
func (c *Config) RSSIRange() (min, max int) {
	if c.Wifi.RSSIMin == 0 && c.Wifi.RSSIMax == 0 {
		return sampler.DefaultRSSIMin, sampler.DefaultRSSIMax
	}
	return c.Wifi.RSSIMin, c.Wifi.RSSIMax
}

func (c *Config) Calibration() sampler.Calibration {
	return sampler.Calibration{Gain: c.Sensor.Gain, Offset: c.Sensor.Offset}
}

func (c *Config) PublisherConfig(nodeID string) tele.Config {
	connectTimeout := helpers.IntSecondDefault(c.Broker.ConnectTimeoutSec, tele.DefaultConnectTimeout)
	return tele.Config{
		NodeID:         nodeID,
		TopicPrefix:    defaultString(c.Broker.TopicPrefix, tele.DefaultTopicPrefix),
		Period:         helpers.IntSecondDefault(c.Broker.PeriodSec, tele.DefaultPeriod),
		ConnectTimeout: connectTimeout,
		PublishTimeout: helpers.IntSecondDefault(c.Broker.PublishTimeoutSec, connectTimeout),
		Calibration:    c.Calibration(),
	}
}

func (c *Config) Layout() display.Layout {
	l := display.DefaultLayout
	if c.Display.LabelWidth != 0 {
		l.LabelWidth = c.Display.LabelWidth
	}
	if c.Display.ValueWidth != 0 {
		l.ValueWidth = c.Display.ValueWidth
	}
	if c.Display.UnitWidth != 0 {
		l.UnitWidth = c.Display.UnitWidth
	}
	return l
}

func (c *Config) RendererConfig() display.RendererConfig {
	labels := display.DefaultLabels
	labels.Measurement = defaultString(c.Display.Labels.Measurement, labels.Measurement)
	labels.MeasurementUnit = defaultString(c.Display.Labels.MeasurementUnit, labels.MeasurementUnit)
	labels.Quality = defaultString(c.Display.Labels.Quality, labels.Quality)
	labels.Broker = defaultString(c.Display.Labels.Broker, labels.Broker)
	stale := helpers.IntSecondDefault(c.Display.StaleSec, 3*helpers.IntSecondDefault(c.Broker.PeriodSec, tele.DefaultPeriod))
	if stale < 0 {
		stale = 0
	}
	return display.RendererConfig{
		Period:     helpers.IntSecondDefault(c.Display.PeriodSec, display.DefaultPeriod),
		Layout:     c.Layout(),
		Labels:     labels,
		StaleAfter: stale,
	}
}

// Validate reports all problems folded into one error, a single problem keeps its NotValid cause.
func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	notValid := func(format string, args ...interface{}) {
		errs = append(errs, errors.NotValidf("config: "+format, args...))
	}

	switch c.WifiDriver() {
	case WifiDriverWPA, WifiDriverSim:
	default:
		notValid("wifi.driver=%s", c.Wifi.Driver)
	}
	if c.Wifi.SSID == "" {
		notValid("wifi.ssid=empty")
	}
	if c.Wifi.RSSIMin != 0 || c.Wifi.RSSIMax != 0 {
		if c.Wifi.RSSIMin >= c.Wifi.RSSIMax {
			notValid("wifi.rssi_min=%d >= rssi_max=%d", c.Wifi.RSSIMin, c.Wifi.RSSIMax)
		}
	}
	for name, x := range map[string]int{
		"wifi.retry_sec":             c.Wifi.RetrySec,
		"wifi.retry_max_sec":         c.Wifi.RetryMaxSec,
		"wifi.poll_sec":              c.Wifi.PollSec,
		"wifi.settle_sec":            c.Wifi.SettleSec,
		"wifi.scan_timeout_sec":      c.Wifi.ScanTimeoutSec,
		"wifi.scan_max":              c.Wifi.ScanMax,
		"wifi.link_poll_ms":          c.Wifi.LinkPollMs,
		"broker.period_sec":          c.Broker.PeriodSec,
		"broker.connect_timeout_sec": c.Broker.ConnectTimeoutSec,
		"broker.publish_timeout_sec": c.Broker.PublishTimeoutSec,
		"broker.keepalive_sec":       c.Broker.KeepaliveSec,
		"display.period_sec":         c.Display.PeriodSec,
	} {
		if x < 0 {
			notValid("%s=%d < 0", name, x)
		}
	}

	switch c.BrokerBackend() {
	case BrokerBackendGomqtt, BrokerBackendPaho:
	default:
		notValid("broker.backend=%s", c.Broker.Backend)
	}
	if c.Broker.URL == "" {
		notValid("broker.url=empty")
	} else if u, err := url.ParseRequestURI(c.Broker.URL); err != nil || u.Host == "" {
		notValid("broker.url=%s", c.Broker.URL)
	}
	if c.Broker.KeepaliveSec > 0xffff {
		notValid("broker.keepalive_sec=%d", c.Broker.KeepaliveSec)
	}

	switch c.SensorKind() {
	case SensorKindNone:
	case sensor.KindRandom:
		if c.Sensor.Random.Min > c.Sensor.Random.Max {
			notValid("sensor.random min=%d > max=%d", c.Sensor.Random.Min, c.Sensor.Random.Max)
		}
	case sensor.KindADS1115:
		if c.Sensor.ADS1115.Channel < 0 || c.Sensor.ADS1115.Channel > 3 {
			notValid("sensor.ads1115.channel=%d", c.Sensor.ADS1115.Channel)
		}
	case sensor.KindModbus:
		if c.Sensor.Modbus.Endpoint == "" {
			notValid("sensor.modbus.endpoint=empty")
		}
		if c.Sensor.Modbus.SlaveID < 0 || c.Sensor.Modbus.SlaveID > 0xff {
			notValid("sensor.modbus.slave_id=%d", c.Sensor.Modbus.SlaveID)
		}
		if c.Sensor.Modbus.Register < 0 || c.Sensor.Modbus.Register > 0xffff {
			notValid("sensor.modbus.register=%d", c.Sensor.Modbus.Register)
		}
	default:
		notValid("sensor.kind=%s", c.Sensor.Kind)
	}

	switch c.DisplayKind() {
	case DisplayKindNone:
	case DisplayKindTerm, DisplayKindHD44780:
		if r := c.Display.Text.Rows; r < 0 || (r != 0 && r < display.FrameLines) {
			notValid("display.text.rows=%d < frame lines=%d", r, display.FrameLines)
		}
	case DisplayKindMono:
		h := c.Display.Mono.Height
		if h == 0 {
			h = defaultMonoHeight
		}
		if n := display.MonoRows(h, c.Display.Mono.LineHeight); n < display.FrameLines {
			notValid("display.mono height=%d line_height=%d fits %d lines < %d", h, c.Display.Mono.LineHeight, n, display.FrameLines)
		}
	default:
		notValid("display.kind=%s", c.Display.Kind)
	}
	if l := c.Layout(); l.LabelWidth <= 0 || l.ValueWidth <= 0 || l.UnitWidth < 0 {
		notValid("display widths label=%d value=%d unit=%d", l.LabelWidth, l.ValueWidth, l.UnitWidth)
	} else if c.Display.Text.Width != 0 && c.Display.Text.Width < l.Width() {
		notValid("display.text.width=%d < layout=%d", c.Display.Text.Width, l.Width())
	}

	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if isYAML(source.Name) {
		err = yaml.Unmarshal(bs, c)
	} else {
		err = hcl.Unmarshal(bs, c)
	}
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func defaultString(main, def string) string {
	if main == "" {
		return def
	}
	return main
}
