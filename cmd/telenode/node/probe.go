package node

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/telenode/cmd/telenode/subcmd"
	"github.com/temoto/telenode/netstack"
	"github.com/temoto/telenode/radio"
	"github.com/temoto/telenode/sampler"
	"github.com/temoto/telenode/state"
)

var ScanMod = subcmd.Mod{Name: "scan", Usage: "list visible networks with quality", Main: ScanMain}
var PublishMod = subcmd.Mod{Name: "publish-once", Usage: "one telemetry cycle, fail on broker error", Main: PublishMain}

func ScanMain(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()

	r, err := g.Radio()
	if err != nil {
		return err
	}
	lc := config.LinkConfig()
	sctx, cancel := context.WithTimeout(ctx, lc.ScanTimeout+lc.RetryDelay)
	defer cancel()
	aps, err := Scan(sctx, r, lc.Credentials, config.Wifi.ScanMax)
	if err != nil {
		return err
	}
	lo, hi := config.RSSIRange()
	PrintScan(os.Stdout, aps, lo, hi)
	return nil
}

// Scan starts the radio if needed, scan does not require association.
func Scan(ctx context.Context, r radio.Driver, creds radio.Credentials, max int) ([]radio.AccessPoint, error) {
	if !r.IsStarted() {
		if err := r.Configure(creds); err != nil {
			return nil, errors.Annotate(err, "radio configure")
		}
		if err := r.Start(ctx); err != nil {
			return nil, errors.Annotate(err, "radio start")
		}
	}
	if max <= 0 {
		max = radio.DefaultScanMax
	}
	aps, err := r.Scan(ctx, max)
	return aps, errors.Annotate(err, "radio scan")
}

func PrintScan(w io.Writer, aps []radio.AccessPoint, min, max int) {
	for _, ap := range aps {
		fmt.Fprintf(w, "%-32s %4d dBm  ch=%-3d quality=%3d%%\n",
			ap.SSID, ap.Signal, ap.Channel, sampler.RSSIQuality(ap.Signal, min, max))
	}
}

func PublishMain(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()

	stack, err := g.Stack()
	if err != nil {
		return err
	}
	pc := config.PublisherConfig(g.NodeID)
	wctx, cancel := context.WithTimeout(ctx, pc.ConnectTimeout)
	defer cancel()
	if _, err := netstack.WaitForConnection(wctx, stack, config.LinkPollInterval(), g.ComponentLog("net")); err != nil {
		return errors.Annotate(err, "network")
	}

	p, err := g.Publisher()
	if err != nil {
		return err
	}
	result := p.Cycle(ctx)
	g.Log.Infof("publish-once node=%s published=%d status=%s(%s)",
		g.NodeID, result.Published, result.Status.String(), result.Status.Code())
	if result.Status.IsError() {
		return errors.Annotatef(result.Err, "publish status=%s", result.Status.String())
	}
	return nil
}
