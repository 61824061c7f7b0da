// Package stream implements the per-session fan-out hub: bounded-queue
// broadcast to N subscribers, the two-phase fromStart join that
// guarantees prefix continuity, and lag-recovery bookkeeping.
package stream

import "github.com/vibetunnel/core/internal/recording"

// Mode selects how a subscription is seeded and how it recovers from a
// full queue.
type Mode int

const (
	// FromStart replays the full recorded history before splicing onto
	// the live tail.
	FromStart Mode = iota
	// LiveOnly starts at the current live tail with no history replay.
	LiveOnly
	// BinarySnapshot yields exactly one rendered-grid snapshot frame.
	BinarySnapshot
)

// Frame is one unit of delivery to a subscriber.
type Frame struct {
	// Seq is this session's monotonic record sequence number (not a byte
	// offset): the Nth record ever published for this session.
	Seq    int64
	TRelMs int64
	Kind   recording.Kind
	Data   []byte

	// Lag is set on a synthetic, one-shot notice sent when this
	// subscription's queue overflowed and frames were dropped.
	Lag      bool
	LagBytes int64
}
