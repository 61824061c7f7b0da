package stream

import (
	"fmt"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/vibetunnel/core/internal/recording"
)

// queueCapacity is the bounded per-subscriber queue depth. Frames are
// capped at the PTY read chunk size, so the frame-count bound doubles
// as the memory bound.
const queueCapacity = 1024

// catchupStallDeadline is how long a historical-replay send may block on
// a stalled client before the subscription is evicted.
const catchupStallDeadline = 30 * time.Second

// Hub fans session output out to any number of subscribers. One Hub
// instance serves the whole process; it multiplexes internally by
// session ID.
type Hub struct {
	mu       deadlock.Mutex
	sessions map[string]*sessionHub
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{sessions: make(map[string]*sessionHub)}
}

// Open registers a session with the hub, handing it the recording
// writer. From this point on every record reaches the file through
// Append, which is what keeps the record sequence, the file contents,
// and the live fan-out in lockstep.
func (h *Hub) Open(sessionID string, rec *recording.Writer, recPath string, headerEnd int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = &sessionHub{
		rec:       rec,
		recPath:   recPath,
		headerEnd: headerEnd,
		subs:      make(map[int]*subState),
	}
}

// Close tears down a session's hub state. The caller is expected to
// have already delivered a real exit record via Append; Close only
// unblocks delivery goroutines still draining their queues.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	sh := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	if sh == nil {
		return
	}
	sh.shutdown()
}

// Append writes ev to the session's recording and, when broadcast is
// non-empty, fans those bytes out to every current subscriber. The
// append, the sequence increment, and the fan-out happen under one lock
// shared with Subscribe, so a fromStart join's historical cutoff is
// exact: record N in the file is always the frame carrying Seq N.
//
// broadcast and ev.Payload differ only on the output path with
// preventTitleChange set: the recording gets the verbatim chunk, the
// subscribers get the title-filtered one. Pass nil to record without
// broadcasting (input events).
//
// Append never blocks on a subscriber: a full queue has its oldest
// frame dropped to make room and the subscriber marked lagged.
func (h *Hub) Append(sessionID string, ev recording.Event, broadcast []byte) error {
	h.mu.Lock()
	sh := h.sessions[sessionID]
	h.mu.Unlock()
	if sh == nil {
		return fmt.Errorf("%w: %s", ErrClosed, sessionID)
	}
	return sh.append(ev, broadcast)
}

// Subscribe joins sessionID in the given mode. The returned Subscription
// delivers frames on its Out channel in order, closing Out when the
// session exits, the subscriber is evicted, or Unsubscribe is called.
// After a session has been Closed, Subscribe returns ErrClosed; callers
// serving late joiners replay the recording from disk instead.
func (h *Hub) Subscribe(sessionID string, mode Mode) (*Subscription, error) {
	h.mu.Lock()
	sh := h.sessions[sessionID]
	h.mu.Unlock()
	if sh == nil {
		return nil, fmt.Errorf("%w: %s", ErrClosed, sessionID)
	}
	return sh.subscribe(mode)
}
