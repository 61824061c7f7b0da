package session

import (
	"time"

	"github.com/vibetunnel/core/internal/recording"
)

// startPipeline wires one session's PTY output into the recording store
// and the stream hub via the hub's single append path, and arms the
// starting->running transition.
func (r *Registry) startPipeline(e *entry) {
	id := e.sess.ID
	time.AfterFunc(r.startGrace, func() { r.transitionRunning(id, e) })
	go r.readLoop(id, e)
}

func (r *Registry) transitionRunning(id string, e *entry) {
	e.mu.Lock()
	if e.sess.Status != StatusStarting {
		e.mu.Unlock()
		return
	}
	e.sess.Status = StatusRunning
	sess := e.sess
	e.mu.Unlock()
	writeStatus(e.dir, sess)
}

// readLoop is the session's dedicated PTY reader. The master read only
// fails once the child is gone and the pty has drained, so waiting for
// the read error before reaping guarantees the exit record lands after
// every output record.
func (r *Registry) readLoop(id string, e *entry) {
	buf := make([]byte, maxReadChunk)
	for {
		n, err := e.handle.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.handleOutput(id, e, chunk)
		}
		if err != nil {
			break
		}
	}
	e.handle.Wait()
	r.handleExit(id, e, e.handle.ExitCode())
}

func (r *Registry) handleOutput(id string, e *entry, chunk []byte) {
	r.transitionRunning(id, e)

	out, titles := e.titleFilter.Process(chunk)

	now := time.Now()
	e.mu.Lock()
	e.sess.LastActivityAt = now
	e.lastOutput = now
	if !e.isActive {
		e.bytesSinceIdle = 0
	}
	e.isActive = true
	e.bytesSinceIdle += int64(len(chunk))
	if len(titles) > 0 {
		e.sess.Title = titles[len(titles)-1]
	}
	e.mu.Unlock()

	// The recording gets the verbatim chunk so replay stays faithful;
	// subscribers get the filtered bytes.
	ev := recording.Event{TRelMs: time.Since(e.startedAt).Milliseconds(), Kind: recording.KindOutput, Payload: chunk}
	if err := r.hub.Append(id, ev, out); err != nil {
		r.log.WithError(err).WithField("session", id).Warn("recording append failed")
	}
}

// handleExit finishes a session: the exit record is appended and made
// durable, and the hub torn down, before status flips to Exited, so any
// caller observing status=exited can replay a complete recording.
func (r *Registry) handleExit(id string, e *entry, code int) {
	e.mu.Lock()
	if e.sess.Status == StatusExited {
		e.mu.Unlock()
		return
	}
	stop := e.titleStop
	e.titleStop = nil
	e.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	ev := recording.Event{
		TRelMs:  time.Since(e.startedAt).Milliseconds(),
		Kind:    recording.KindExit,
		Payload: recording.ExitPayload(code),
	}
	r.hub.Append(id, ev, ev.Payload)
	r.hub.Close(id)
	e.rec.Close()

	now := time.Now()
	e.mu.Lock()
	e.sess.Status = StatusExited
	c := code
	e.sess.ExitCode = &c
	e.sess.ExitedAt = &now
	e.sess.PID = 0
	sess := e.sess
	e.mu.Unlock()
	writeStatus(e.dir, sess)

	r.mu.RLock()
	hook := r.exitHook
	r.mu.RUnlock()
	if hook != nil {
		hook(sess)
	}
}
