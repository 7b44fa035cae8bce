// Main, unattended mode of operation.
package node

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
	"github.com/temoto/telenode/cmd/telenode/subcmd"
	"github.com/temoto/telenode/netstack"
	"github.com/temoto/telenode/state"
)

var RunMod = subcmd.Mod{Name: "run", Usage: "link, publisher and panel until stopped", Main: RunMain}

func RunMain(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer func() {
		if err := g.Close(); err != nil {
			g.Error(err, "close")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-g.Alive.StopChan()
		cancel()
	}()

	stack, err := g.Stack()
	if err != nil {
		return errors.Annotate(err, "netstack")
	}
	linkManager, err := g.Link()
	if err != nil {
		return errors.Annotate(err, "link")
	}
	spawn(ctx, g, "link", linkManager.Run)
	spawn(ctx, g, "net", func(ctx context.Context) error {
		netstack.Forward(ctx, stack, g.ComponentLog("net"))
		return nil
	})

	renderer, err := g.Renderer()
	if err != nil {
		return errors.Annotate(err, "display")
	}
	splash := false
	if mono := g.Mono(); mono != nil && config.Display.Mono.Splash {
		if err := mono.QR(g.NodeID, qrcode.Medium); err != nil {
			g.Error(err, "splash")
		} else {
			splash = true
		}
	}
	if renderer != nil && !splash {
		spawn(ctx, g, "display", renderer.Run)
	}

	subcmd.SdNotify("STATUS=waiting for network")
	ipc, err := netstack.WaitForConnection(ctx, stack, config.LinkPollInterval(), g.ComponentLog("net"))
	if err != nil {
		if ctx.Err() != nil {
			return stopWait(g)
		}
		return errors.Annotate(err, "network")
	}
	g.Log.Infof("network up node=%s address=%s", g.NodeID, ipc)

	publisher, err := g.Publisher()
	if err != nil {
		return errors.Annotate(err, "tele")
	}
	spawn(ctx, g, "tele", publisher.Run)
	if renderer != nil && splash {
		spawn(ctx, g, "display", renderer.Run)
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	subcmd.SdNotify(fmt.Sprintf("STATUS=running node=%s", g.NodeID))
	g.Log.Debugf("init complete, running")

	<-ctx.Done()
	return stopWait(g)
}

// spawn runs task under g.Alive, task error is logged unless stopping.
func spawn(ctx context.Context, g *state.Global, name string, task func(context.Context) error) {
	g.Alive.Add(1)
	go func() {
		defer g.Alive.Done()
		if err := task(ctx); err != nil && ctx.Err() == nil {
			g.Error(err, "task=%s", name)
		}
	}()
}

func stopWait(g *state.Global) error {
	g.Alive.Stop()
	g.Alive.Wait()
	return nil
}
