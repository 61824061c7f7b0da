// Package eventbus publishes session lifecycle notifications over NATS
// JetStream, optionally: a Bus with no configured URL is inert and
// every Publish is a no-op, so the control plane can depend on one
// unconditionally.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// EventType names a session lifecycle transition.
type EventType string

const (
	EventSessionCreated EventType = "session.created"
	EventSessionExited  EventType = "session.exited"
)

// Event is one notification published to the bus.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"sessionId"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Bus is a thin JetStream wrapper. The zero value is not usable; build
// one with NewBus.
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	active bool
}

// NewBus connects to natsURL and ensures the VIBETUNNEL_SESSIONS stream
// exists. An empty natsURL yields an inactive Bus; the server has no
// hard NATS dependency.
func NewBus(natsURL string) (*Bus, error) {
	if natsURL == "" {
		return &Bus{active: false}, nil
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus: jetstream: %w", err)
	}

	b := &Bus{nc: nc, js: js, active: true}
	if err := b.createStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) createStream() error {
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:      "VIBETUNNEL_SESSIONS",
		Subjects:  []string{"vibetunnel.session.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("eventbus: add stream: %w", err)
	}
	return nil
}

// SubjectFor derives the JetStream subject an event publishes on from
// its session ID and type.
func SubjectFor(event Event) string {
	return fmt.Sprintf("vibetunnel.session.%s.%s", event.SessionID, event.Type)
}

// Publish sends event on a subject derived from its type and session
// ID. A no-op on an inactive Bus.
func (b *Bus) Publish(event Event) error {
	if !b.active {
		return nil
	}
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal: %w", err)
	}
	_, err = b.js.Publish(SubjectFor(event), data)
	if err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	return nil
}

// IsActive reports whether this Bus is backed by a real NATS connection.
func (b *Bus) IsActive() bool { return b.active }

// Close releases the underlying connection, if any.
func (b *Bus) Close() error {
	if !b.active {
		return nil
	}
	b.nc.Close()
	return nil
}
