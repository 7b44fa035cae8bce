package state

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/telenode/display"
	"github.com/temoto/telenode/link"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/netstack"
	"github.com/temoto/telenode/sensor"
	"github.com/temoto/telenode/status"
	"github.com/temoto/telenode/tele"
)

const testBase = `
wifi { driver = "sim" ssid = "lab" }
broker { url = "tcp://127.0.0.1:1883" }
`

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		source    string
		input     string
		check     func(testing.TB, context.Context)
		expectErr string
	}
	cases := []Case{
		{"defaults", "", testBase, func(t testing.TB, ctx context.Context) {
			g := GetGlobal(ctx)
			assert.Equal(t, "020000000001", g.NodeID)
			assert.Equal(t, BrokerBackendGomqtt, g.Config.BrokerBackend())
			lc := g.Config.LinkConfig()
			assert.Equal(t, "lab", lc.Credentials.SSID)
			assert.Equal(t, link.DefaultRetryDelay, lc.RetryDelay)
			assert.Equal(t, time.Duration(0), lc.RetryMax)
			assert.Equal(t, link.DefaultPollInterval, lc.PollInterval)
			assert.Equal(t, link.DefaultSettleDelay, lc.SettleDelay)
			pc := g.Config.PublisherConfig(g.NodeID)
			assert.Equal(t, tele.DefaultPeriod, pc.Period)
			assert.Equal(t, tele.DefaultConnectTimeout, pc.ConnectTimeout)
			assert.Equal(t, tele.DefaultConnectTimeout, pc.PublishTimeout)
			assert.Equal(t, tele.DefaultTopicPrefix, pc.TopicPrefix)
			rc := g.Config.RendererConfig()
			assert.Equal(t, display.DefaultPeriod, rc.Period)
			assert.Equal(t, display.DefaultLayout, rc.Layout)
			assert.Equal(t, display.DefaultLabels, rc.Labels)
			src, err := g.Sensor()
			require.NoError(t, err)
			assert.IsType(t, &sensor.Random{}, src)
			r, err := g.Renderer()
			require.NoError(t, err)
			assert.Nil(t, r)
			assert.Nil(t, g.Mono())
		}, ""},

		{"custom", "", `
node { id = "cafe01" }
wifi {
	driver = "sim" ssid = "lab" password = "secret"
	retry_sec = 2 retry_max_sec = 30 poll_sec = 3 settle_sec = 1
	rssi_min = -80 rssi_max = -40
}
broker {
	backend = "paho" url = "tcp://broker.local:1883"
	topic_prefix = "/t" period_sec = 60 connect_timeout_sec = 4
}
sensor { kind = "none" gain = 0.5 offset = 1.0 }
display {
	kind = "mono" period_sec = 2
	labels { measurement = "Level" measurement_unit = "m" }
	mono { headless = true splash = true }
}
log_debug = ["link"]`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, "cafe01", g.NodeID)
				lc := g.Config.LinkConfig()
				assert.Equal(t, "secret", lc.Credentials.Password)
				assert.Equal(t, 2*time.Second, lc.RetryDelay)
				assert.Equal(t, 30*time.Second, lc.RetryMax)
				assert.Equal(t, 3*time.Second, lc.PollInterval)
				assert.Equal(t, -80, lc.RSSIMin)
				pc := g.Config.PublisherConfig(g.NodeID)
				assert.Equal(t, "/t", pc.TopicPrefix)
				assert.Equal(t, time.Minute, pc.Period)
				assert.Equal(t, 4*time.Second, pc.PublishTimeout)
				assert.Equal(t, 0.5, pc.Calibration.Gain)
				src, err := g.Sensor()
				require.NoError(t, err)
				assert.Nil(t, src)
				assert.True(t, g.Config.Debug("link"))
				assert.False(t, g.Config.Debug("tele"))

				require.NotNil(t, g.Mono())
				r, err := g.Renderer()
				require.NoError(t, err)
				require.NotNil(t, r)
				g.Bus.SetMeasurement(1.25)
				frame, err := r.Render()
				require.NoError(t, err)
				assert.Contains(t, frame.Lines[1], "Level")
				assert.Contains(t, frame.Lines[1], "1.2")
				assert.NotZero(t, g.Mono().LitCount())
			}, ""},

		{"yaml", "node.yaml", `
node:
  id: beef02
wifi:
  driver: sim
  ssid: lab
broker:
  url: tcp://127.0.0.1:1883
  backend: paho
sensor:
  kind: random
  random: {min: 5, max: 5}
`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, "beef02", g.NodeID)
				assert.Equal(t, BrokerBackendPaho, g.Config.BrokerBackend())
				src, err := g.Sensor()
				require.NoError(t, err)
				raw, err := src.Read(ctx)
				require.NoError(t, err)
				assert.Equal(t, int32(5), raw)
			}, ""},

		{"include-normalize", "", testBase + `include "./empty" {}`, nil, ""},

		{"include-optional", "", `
wifi { driver = "sim" ssid = "lab" }
include "broker-60" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 60*time.Second, g.Config.PublisherConfig("").Period)
			}, ""},

		{"include-overwrites", "", testBase + `include "broker-60" {}`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, "tcp://10.0.0.1:1883", g.Config.Broker.URL)
			}, ""},

		{"include-yaml", "", testBase + `include "sensor-none.yaml" {}`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, SensorKindNone, g.Config.SensorKind())
			}, ""},

		{"error-syntax", "", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", "", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", "", testBase + `include "missing" {}`, nil, "config required name=missing"},
		{"error-validate", "", `wifi { driver = "sim" }`, nil, "wifi.ssid=empty"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			ctx, g := NewContext(log)

			source := c.source
			if source == "" {
				source = "test-inline"
			}
			fs := NewMockFullReader(map[string]string{
				source:             c.input,
				"empty":            "",
				"broker-60":        `broker { url = "tcp://10.0.0.1:1883" period_sec = 60 }`,
				"sensor-none.yaml": "sensor:\n  kind: none\n",
				"error-syntax":     "hello",
				"include-loop":     `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, source)
			if err == nil {
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, ctx)
				}
				assert.NoError(t, g.Close())
			} else {
				require.Error(t, err)
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestConfigDurations(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	assert.Equal(t, netstack.DefaultPollInterval, cfg.LinkPollInterval())
	assert.Equal(t, 3*tele.DefaultPeriod, cfg.RendererConfig().StaleAfter)

	cfg.Wifi.LinkPollMs = 250
	cfg.Broker.PeriodSec = 10
	assert.Equal(t, 250*time.Millisecond, cfg.LinkPollInterval())
	assert.Equal(t, 30*time.Second, cfg.RendererConfig().StaleAfter)

	cfg.Display.StaleSec = 7
	assert.Equal(t, 7*time.Second, cfg.RendererConfig().StaleAfter)
	cfg.Display.StaleSec = -1
	assert.Equal(t, time.Duration(0), cfg.RendererConfig().StaleAfter)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	type Case struct {
		name   string
		mod    func(*Config)
		expect string
	}
	cases := []Case{
		{"valid", func(*Config) {}, ""},
		{"driver", func(c *Config) { c.Wifi.Driver = "ppp" }, "wifi.driver=ppp"},
		{"rssi", func(c *Config) { c.Wifi.RSSIMin, c.Wifi.RSSIMax = -30, -90 }, "wifi.rssi_min=-30 >= rssi_max=-90"},
		{"negative", func(c *Config) { c.Wifi.PollSec = -1 }, "wifi.poll_sec=-1 < 0"},
		{"backend", func(c *Config) { c.Broker.Backend = "kafka" }, "broker.backend=kafka"},
		{"url-empty", func(c *Config) { c.Broker.URL = "" }, "broker.url=empty"},
		{"url-invalid", func(c *Config) { c.Broker.URL = "broker" }, "broker.url=broker"},
		{"sensor-kind", func(c *Config) { c.Sensor.Kind = "thermo" }, "sensor.kind=thermo"},
		{"sensor-random", func(c *Config) { c.Sensor.Random.Min, c.Sensor.Random.Max = 9, 1 }, "sensor.random min=9 > max=1"},
		{"sensor-modbus", func(c *Config) { c.Sensor.Kind = sensor.KindModbus }, "sensor.modbus.endpoint=empty"},
		{"ads1115-channel", func(c *Config) { c.Sensor.Kind = sensor.KindADS1115; c.Sensor.ADS1115.Channel = 4 }, "sensor.ads1115.channel=4"},
		{"display-kind", func(c *Config) { c.Display.Kind = "crt" }, "display.kind=crt"},
		{"text-width", func(c *Config) { c.Display.Text.Width = 8 }, "display.text.width=8 < layout=18"},
		{"text-rows", func(c *Config) { c.Display.Kind = DisplayKindTerm; c.Display.Text.Rows = 3 }, "display.text.rows=3 < frame lines=4"},
		{"text-rows-ok", func(c *Config) { c.Display.Kind = DisplayKindHD44780; c.Display.Text.Rows = 4 }, ""},
		{"mono-rows", func(c *Config) { c.Display.Kind = DisplayKindMono; c.Display.Mono.Height = 32 }, "display.mono height=32 line_height=0 fits 2 lines < 4"},
		{"mono-rows-ok", func(c *Config) { c.Display.Kind = DisplayKindMono; c.Display.Mono.LineHeight = 12 }, ""},
		{"link-poll", func(c *Config) { c.Wifi.LinkPollMs = -5 }, "wifi.link_poll_ms=-5 < 0"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			cfg.Wifi.SSID = "lab"
			cfg.Broker.URL = "tcp://127.0.0.1:1883"
			c.mod(cfg)
			err := cfg.Validate()
			if c.expect == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.expect)
		})
	}
}

func TestGlobalLinkSim(t *testing.T) {
	t.Parallel()
	ctx, g := NewTestContext(t, `
wifi { driver = "sim" ssid = "lab" poll_sec = 1 }
broker { url = "tcp://127.0.0.1:1883" }`)
	m, err := g.Link()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// sim access point signal -60dBm
	assert.Eventually(t, func() bool { return g.Bus.SignalQuality() == 50 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, link.StateConnected, m.State())

	stack, err := g.Stack()
	require.NoError(t, err)
	assert.True(t, stack.LinkUp())
	ipc, ok := stack.ConfigV4()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.10/24 gw=192.0.2.1", ipc.String())
}

func TestGlobalPublisherOffline(t *testing.T) {
	t.Parallel()
	ctx, g := NewTestContext(t, `
wifi { driver = "sim" ssid = "lab" }
broker { url = "tcp://127.0.0.1:1" connect_timeout_sec = 1 }
sensor { kind = "random" random { min = 1000 max = 1000 } }`)
	p, err := g.Publisher()
	require.NoError(t, err)

	result := p.Cycle(ctx)
	assert.Equal(t, status.BrokerErrorNetwork, result.Status)
	assert.Equal(t, status.BrokerErrorNetwork, g.Bus.BrokerStatus())
	assert.Equal(t, 0, result.Published)
	// measurement sampled before dial: 1000*0.01-0.005
	assert.InDelta(t, 9.995, g.Bus.Measurement(), 1e-9)
}

func TestComponentLog(t *testing.T) {
	t.Parallel()
	_, g := NewContext(log2.NewTest(t, log2.LInfo))
	g.Config = &Config{LogDebug: []string{"link"}}
	assert.True(t, g.ComponentLog("link").Enabled(log2.LDebug))
	assert.False(t, g.ComponentLog("tele").Enabled(log2.LDebug))
	assert.True(t, g.ComponentLog("tele").Enabled(log2.LInfo))
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../telenode.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	cfg := MustReadConfig(log, NewOsFullReader("."), "../telenode.hcl")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, WifiDriverWPA, cfg.WifiDriver())
	assert.Equal(t, DisplayKindMono, cfg.DisplayKind())
}
