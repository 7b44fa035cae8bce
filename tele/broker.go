package tele

import (
	"context"
)

// Message is one retained telemetry publish, delivered at least once.
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// Broker acquires a fresh transport connection per publish cycle.
type Broker interface {
	// Dial returns network failure when broker is unreachable within ctx.
	Dial(ctx context.Context) (Session, error)
}

type Session interface {
	// Handshake opens broker session with clean state.
	Handshake(ctx context.Context, clientID string) error
	// Publish returns after broker acknowledged the message.
	Publish(ctx context.Context, m Message) error
	Close() error
}
