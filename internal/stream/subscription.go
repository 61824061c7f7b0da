package stream

import (
	"time"

	"github.com/vibetunnel/core/internal/gridrender"
	"github.com/vibetunnel/core/internal/recording"
)

// Subscription is a single client's view onto a session's stream. Read
// frames from Out until it closes; call Unsubscribe when done reading
// early (e.g. the client disconnected).
type Subscription struct {
	ID   int
	Mode Mode
	Out  <-chan Frame

	owner *sessionHub
	state *subState
}

// Unsubscribe removes this subscription from the hub and promptly
// cancels its delivery goroutine; queued frames are discarded. Safe to
// call more than once, and safe to call after Out has already closed.
func (s *Subscription) Unsubscribe() {
	s.owner.unsubscribe(s.ID)
}

// send delivers one frame to Out, giving up if the subscription is
// evicted while blocked on a client that stopped reading.
func (s *Subscription) send(f Frame) bool {
	select {
	case s.state.out <- f:
		return true
	case <-s.state.evict:
		return false
	}
}

// sendTimeout is send with a stall deadline, used by the historical
// replay phase: it blocks this subscription's own delivery goroutine
// only, never the hub.
func (s *Subscription) sendTimeout(f Frame, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case s.state.out <- f:
		return true
	case <-s.state.evict:
		return false
	case <-t.C:
		return false
	}
}

func (s *Subscription) nextRaw() (Frame, bool) {
	select {
	case f, ok := <-s.state.raw:
		return f, ok
	case <-s.state.evict:
		return Frame{}, false
	}
}

func (s *Subscription) deliver(f Frame) bool {
	if lagged, n := s.state.takeLag(); lagged {
		if !s.send(Frame{Lag: true, LagBytes: n}) {
			return false
		}
	}
	return s.send(f)
}

// runLive drains the raw queue straight to Out with no historical phase
// and no dedup: every frame appended after subscribe registered this
// subscriber belongs to it.
func (s *Subscription) runLive() {
	defer close(s.state.out)
	for {
		frame, ok := s.nextRaw()
		if !ok {
			return
		}
		if !s.deliver(frame) {
			return
		}
		if frame.Kind == recording.KindExit {
			return
		}
	}
}

// runFromStart replays the recording from byte headerEnd through end
// (exactly historyLen records, per the seam guarantee documented on
// sessionHub.append), then splices onto the live raw queue, dropping
// any frame whose Seq is already covered by the replay.
func (s *Subscription) runFromStart(path string, headerEnd, end, historyLen int64) {
	defer close(s.state.out)

	records, err := recording.ReadRange(path, headerEnd, end)
	if err != nil {
		s.owner.unsubscribe(s.ID)
		return
	}
	n := historyLen
	if int64(len(records)) < n {
		n = int64(len(records))
	}
	for i := int64(0); i < n; i++ {
		r := records[i]
		frame := Frame{Seq: i, TRelMs: r.TRelMs, Kind: r.Kind, Data: r.Payload}
		if !s.sendTimeout(frame, catchupStallDeadline) {
			s.owner.unsubscribe(s.ID)
			return
		}
		if r.Kind == recording.KindExit {
			return
		}
	}

	for {
		frame, ok := s.nextRaw()
		if !ok {
			return
		}
		if frame.Seq < historyLen {
			continue // already covered by the historical replay above
		}
		if !s.deliver(frame) {
			return
		}
		if frame.Kind == recording.KindExit {
			return
		}
	}
}

// runSnapshot renders the full history into a terminal grid and
// delivers exactly one binary-encoded frame, backing the buffer
// snapshot endpoint.
func (s *Subscription) runSnapshot(path string, headerEnd, end int64) {
	defer close(s.state.out)
	defer s.owner.unsubscribe(s.ID)

	header, _, err := recording.ReadHeader(path)
	if err != nil {
		return
	}
	records, err := recording.ReadRange(path, headerEnd, end)
	if err != nil {
		return
	}

	grid := gridrender.Render(header.Width, header.Height, records)
	s.send(Frame{Kind: "snapshot", Data: gridrender.Encode(grid)})
}
