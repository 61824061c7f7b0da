package stream

import (
	"github.com/sasha-s/go-deadlock"

	"github.com/vibetunnel/core/internal/recording"
)

// subState is the hub-side bookkeeping for one subscriber: the bounded
// raw queue append fans into, plus lag accounting guarded by its own
// lock (kept separate from sessionHub.mu so a slow subscriber's delivery
// goroutine never contends with append for the session lock).
type subState struct {
	id   int
	mode Mode
	raw  chan Frame
	out  chan Frame

	lagMu    deadlock.Mutex
	lagged   bool
	lagBytes int64

	// evict is closed by unsubscribe; delivery goroutines select on it
	// wherever they might otherwise block forever on a gone client.
	evict chan struct{}
}

// sessionHub holds one session's subscriber set, its recording writer,
// and the record sequence counter tying the two together.
type sessionHub struct {
	mu        deadlock.Mutex
	rec       *recording.Writer
	recPath   string
	headerEnd int64
	seq       int64
	subs      map[int]*subState
	nextID    int
	closed    bool
}

// append is the single write path for a session: record to the file,
// assign the next sequence number, fan out. All three under sh.mu, the
// same lock subscribe snapshots its historical cutoff under.
func (sh *sessionHub) append(ev recording.Event, broadcast []byte) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.closed {
		return ErrClosed
	}

	if err := sh.rec.Append(ev); err != nil {
		return err
	}
	seq := sh.seq
	sh.seq++

	if ev.Kind == recording.KindExit {
		// Make the final record durable before teardown, so a late
		// joiner replaying from disk always sees it.
		sh.rec.Flush()
	}

	if len(broadcast) == 0 {
		return nil
	}
	frame := Frame{Seq: seq, TRelMs: ev.TRelMs, Kind: ev.Kind, Data: broadcast}

	for _, sub := range sh.subs {
		select {
		case sub.raw <- frame:
			continue
		default:
		}

		var dropped Frame
		select {
		case dropped = <-sub.raw:
		default:
		}
		if dropped.Kind != "" {
			sub.lagMu.Lock()
			sub.lagged = true
			if dropped.Kind == recording.KindOutput {
				sub.lagBytes += int64(len(dropped.Data))
			}
			sub.lagMu.Unlock()
		}

		select {
		case sub.raw <- frame:
		default:
			// Only reachable with a zero-capacity raw queue, which is
			// never constructed.
		}
	}
	return nil
}

func (sh *sessionHub) subscribe(mode Mode) (*Subscription, error) {
	sh.mu.Lock()
	if sh.closed {
		sh.mu.Unlock()
		return nil, ErrClosed
	}

	var historyLen int64
	var end int64
	if mode == FromStart || mode == BinarySnapshot {
		sh.rec.Flush()
		historyLen = sh.seq
		end = sh.rec.Size()
	}

	id := sh.nextID
	sh.nextID++
	sub := &subState{
		id:    id,
		mode:  mode,
		raw:   make(chan Frame, queueCapacity),
		out:   make(chan Frame, 16),
		evict: make(chan struct{}),
	}
	sh.subs[id] = sub
	recPath, headerEnd := sh.recPath, sh.headerEnd
	sh.mu.Unlock()

	s := &Subscription{ID: id, Mode: mode, Out: sub.out, owner: sh, state: sub}

	switch mode {
	case BinarySnapshot:
		go s.runSnapshot(recPath, headerEnd, end)
	case FromStart:
		go s.runFromStart(recPath, headerEnd, end, historyLen)
	default:
		go s.runLive()
	}
	return s, nil
}

func (sh *sessionHub) unsubscribe(id int) {
	sh.mu.Lock()
	sub, ok := sh.subs[id]
	if ok {
		delete(sh.subs, id)
	}
	sh.mu.Unlock()
	if ok {
		close(sub.evict)
	}
}

func (sh *sessionHub) shutdown() {
	sh.mu.Lock()
	sh.closed = true
	subs := make([]*subState, 0, len(sh.subs))
	for _, s := range sh.subs {
		subs = append(subs, s)
	}
	sh.mu.Unlock()

	// Closing raw (rather than merely sending into it) is what lets a
	// subscription's delivery goroutine terminate: the normal path
	// already appended a real exit frame before Close was called, so
	// this only unblocks goroutines still draining buffered frames.
	for _, s := range subs {
		close(s.raw)
	}
}

func (s *subState) takeLag() (bool, int64) {
	s.lagMu.Lock()
	defer s.lagMu.Unlock()
	if !s.lagged {
		return false, 0
	}
	n := s.lagBytes
	s.lagged, s.lagBytes = false, 0
	return true, n
}
