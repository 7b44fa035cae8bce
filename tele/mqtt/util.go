package mqtt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/256dpi/gomqtt/packet"
)

func defaultString(main, def string) string {
	if main == "" {
		return def
	}
	return main
}

func isClosedConn(e error) bool {
	return e != nil && strings.HasSuffix(e.Error(), "use of closed network connection")
}

// ctxTimeout returns remaining ctx time limited by def.
func ctxTimeout(ctx context.Context, def time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if rem := time.Until(deadline); rem < def {
			return rem
		}
	}
	return def
}

// PUBLISH payload as text, no duplicate "Message=<Message"
func PacketString(p packet.Generic) string {
	if p == nil {
		return "(nil)"
	}
	if pub, ok := p.(*packet.Publish); ok {
		return fmt.Sprintf("<Publish ID=%d Dup=%t %s>", pub.ID, pub.Dup, MessageString(&pub.Message))
	}
	return p.String()
}

func MessageString(m *packet.Message) string {
	if m == nil {
		return "message=nil"
	}
	return fmt.Sprintf("Topic=%q QOS=%d Retain=%t Payload=%s", m.Topic, m.QOS, m.Retain, m.Payload)
}
