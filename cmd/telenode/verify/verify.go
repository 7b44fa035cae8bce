// Decode telemetry payloads captured from the broker, e.g.
// mosquitto_sub -v -t '/readings/#' | telenode verify
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/telenode/cmd/telenode/subcmd"
	"github.com/temoto/telenode/helpers/cli"
	"github.com/temoto/telenode/log2"
	"github.com/temoto/telenode/state"
	"github.com/temoto/telenode/tele"
)

const modName = "verify"

var Mod = subcmd.Mod{Name: modName, Usage: "decode payload lines from stdin or prompt", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	log := log2.ContextValueLogger(ctx)
	prefix := config.PublisherConfig("").TopicPrefix
	cli.MainLoop(modName, newExecutor(log), newCompleter(prefix))
	return nil
}

func newCompleter(prefix string) func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: tele.Topic(prefix, tele.KindLink, ""), Description: "link quality topic"},
		{Text: tele.Topic(prefix, tele.KindSensor, ""), Description: "sensor measurement topic"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(log *log2.Log) func(string) {
	return func(line string) {
		if line == "" {
			return
		}
		s, err := Line(line)
		if err != nil {
			log.Errorf("verify line='%s' err=%v", line, err)
			return
		}
		log.Info(s)
	}
}

// Line accepts payload or "topic payload" as printed by mosquitto_sub -v.
func Line(line string) (string, error) {
	topic, payload := "", strings.TrimSpace(line)
	if i := strings.IndexByte(payload, ' '); i > 0 && !strings.HasPrefix(payload, "{") {
		topic, payload = payload[:i], strings.TrimSpace(payload[i+1:])
	}
	r, err := tele.DecodeRecord([]byte(payload))
	if err != nil {
		return "", errors.Annotate(err, "decode")
	}
	uptime := time.Duration(r.Uptime) * time.Millisecond
	s := fmt.Sprintf("id=%s uptime=%s value=%v", r.NodeID, uptime, r.Value)
	if topic != "" {
		s = fmt.Sprintf("topic=%s %s", topic, s)
	}
	return s, nil
}
