package state

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/telenode/display"
	"github.com/temoto/telenode/helpers"
	"github.com/temoto/telenode/link"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/netstack"
	"github.com/temoto/telenode/status"
	"github.com/temoto/telenode/tele"
	"github.com/temoto/telenode/tele/mqtt"
	"github.com/temoto/telenode/tele/paho"
)

type Global struct {
	Alive    *alive.Alive
	Bus      *status.Bus
	Config   *Config
	Hardware hardware // hardware.go
	Log      *log2.Log
	NodeID   string

	broker struct {
		once
		b tele.Broker
	}

	lk      sync.Mutex
	closers []io.Closer
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Bus:   status.New(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)

	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	nodeID, err := g.resolveNodeID()
	if err != nil {
		return errors.Annotate(err, "node id")
	}
	g.NodeID = nodeID
	g.Log.Infof("node id=%s wifi=%s broker=%s", g.NodeID, cfg.WifiDriver(), cfg.BrokerBackend())

	errs := make([]error, 0, 4)
	if _, err := g.Radio(); err != nil {
		errs = append(errs, errors.Annotate(err, "radio init"))
	}
	if _, err := g.Sensor(); err != nil {
		errs = append(errs, errors.Annotate(err, "sensor init"))
	}
	if _, err := g.Broker(); err != nil {
		errs = append(errs, errors.Annotate(err, "broker init"))
	}
	if _, err := g.Panel(); err != nil {
		errs = append(errs, errors.Annotate(err, "display init"))
	}
	return helpers.FoldErrors(errs)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(errors.ErrorStack(err))
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(err)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close releases devices opened by Init, last opened first.
func (g *Global) Close() error {
	g.lk.Lock()
	closers := g.closers
	g.closers = nil
	g.lk.Unlock()

	errs := make([]error, 0, len(closers))
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return helpers.FoldErrors(errs)
}

// ComponentLog is a copy of main log with name prefix,
// debug level if main log has it or log_debug lists the component.
func (g *Global) ComponentLog(name string) *log2.Log {
	level := log2.Level(log2.LInfo)
	if g.Log.Enabled(log2.LDebug) || (g.Config != nil && g.Config.Debug(name)) {
		level = log2.LDebug
	}
	l := g.Log.Clone(level)
	l.SetPrefix(name + ": ")
	return l
}

// Broker returns configured MQTT backend, no network I/O until Dial.
func (g *Global) Broker() (tele.Broker, error) {
	x := &g.broker // short alias
	err := x.do(func() error {
		cfg := &g.Config.Broker
		tlsConfig, err := loadTLS(cfg.TLSCAFile)
		if err != nil {
			return err
		}
		timeout := helpers.IntSecondDefault(cfg.ConnectTimeoutSec, tele.DefaultConnectTimeout)
		switch g.Config.BrokerBackend() {
		case BrokerBackendGomqtt:
			b, err := mqtt.NewBroker(mqtt.Options{
				BrokerURL:      cfg.URL,
				TLS:            tlsConfig,
				NetworkTimeout: timeout,
				KeepaliveSec:   uint16(cfg.KeepaliveSec),
				Username:       cfg.Username,
				Password:       cfg.Password,
				Log:            g.ComponentLog("mqtt"),
			})
			if err != nil {
				return err
			}
			x.b = b
		case BrokerBackendPaho:
			b, err := paho.NewBroker(paho.Options{
				BrokerURL:      cfg.URL,
				TLS:            tlsConfig,
				NetworkTimeout: timeout,
				KeepaliveSec:   cfg.KeepaliveSec,
				Username:       cfg.Username,
				Password:       cfg.Password,
				Log:            g.ComponentLog("paho"),
			})
			if err != nil {
				return err
			}
			x.b = b
		default:
			return errors.NotValidf("config: broker.backend=%s", cfg.Backend)
		}
		return nil
	})
	return x.b, err
}

// Link builds connection manager over the configured radio.
func (g *Global) Link() (*link.Manager, error) {
	r, err := g.Radio()
	if err != nil {
		return nil, err
	}
	return link.NewManager(g.Config.LinkConfig(), r, g.Bus, g.ComponentLog("link")), nil
}

func (g *Global) Publisher() (*tele.Publisher, error) {
	b, err := g.Broker()
	if err != nil {
		return nil, err
	}
	src, err := g.Sensor()
	if err != nil {
		return nil, err
	}
	return tele.NewPublisher(g.Config.PublisherConfig(g.NodeID), b, g.Bus, src, g.ComponentLog("tele"))
}

// Renderer returns nil without error when display.kind=none.
func (g *Global) Renderer() (*display.Renderer, error) {
	p, err := g.Panel()
	if err != nil || p == nil {
		return nil, err
	}
	return display.NewRenderer(g.Config.RendererConfig(), p, g.Bus, g.ComponentLog("display")), nil
}

func (g *Global) resolveNodeID() (string, error) {
	if g.Config.Node.ID != "" {
		return g.Config.Node.ID, nil
	}
	if g.Config.WifiDriver() == WifiDriverSim {
		return tele.NodeID(SimNodeMAC), nil
	}
	mac, err := netstack.NewHost(g.Config.NodeInterface()).HardwareAddr()
	if err != nil {
		return "", err
	}
	return tele.NodeID(mac), nil
}

func loadTLS(caFile string) (*tls.Config, error) {
	if caFile == "" {
		return nil, nil
	}
	f, err := os.Open(caFile)
	if err != nil {
		return nil, errors.Annotatef(err, "config: broker.tls_ca_file=%s", caFile)
	}
	defer f.Close()
	pem, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, errors.Annotatef(err, "config: broker.tls_ca_file=%s", caFile)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.NotValidf("config: broker.tls_ca_file=%s no certificates", caFile)
	}
	return &tls.Config{RootCAs: pool}, nil //nolint:gosec
}
