package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/vibetunnel/core/internal/gitmeta"
	"github.com/vibetunnel/core/internal/pty"
	"github.com/vibetunnel/core/internal/recording"
	"github.com/vibetunnel/core/internal/stream"
)

// Default tunables.
const (
	DefaultIdleWindow    = 500 * time.Millisecond
	DefaultActivityTick  = 200 * time.Millisecond
	DefaultKillGrace     = 5 * time.Second
	DefaultTitleInterval = time.Second
	DefaultStartGrace    = 200 * time.Millisecond
	maxReadChunk         = 64 * 1024
)

// entry is the registry's internal per-session state: the public
// Session snapshot plus the live handles backing it. Guarded by its own
// lock, separate from the registry-level lock that only protects the
// entries map itself.
type entry struct {
	mu deadlock.Mutex

	sess      Session
	handle    *pty.Handle
	rec       *recording.Writer
	recPath   string
	dir       string
	startedAt time.Time

	titleFilter *pty.TitleFilter
	lastOutput  time.Time
	isActive    bool
	// bytesSinceIdle counts output bytes produced since the session was
	// last idle; reset when a fresh burst begins after an idle gap.
	bytesSinceIdle int64

	titleStop chan struct{}
}

// Registry is the session manager: the sole authority that creates and
// removes Session records. Its lock is contended by API handlers, the
// activity tracker, and the title tracker.
type Registry struct {
	mu      deadlock.RWMutex
	entries map[string]*entry

	controlDir string
	hub        *stream.Hub
	log        *logrus.Logger

	idleWindow    time.Duration
	activityTick  time.Duration
	killGrace     time.Duration
	titleInterval time.Duration
	startGrace    time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	exitHook func(Session)
}

// OnExit registers a callback invoked once, after status.json is
// written, whenever a session transitions to Exited. Used by the
// control server to feed internal/historydb's durable index.
func (r *Registry) OnExit(fn func(Session)) {
	r.mu.Lock()
	r.exitHook = fn
	r.mu.Unlock()
}

// New creates a Registry rooted at controlDir, broadcasting session
// output through hub.
func New(controlDir string, hub *stream.Hub, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Registry{
		entries:       make(map[string]*entry),
		controlDir:    controlDir,
		hub:           hub,
		log:           log,
		idleWindow:    DefaultIdleWindow,
		activityTick:  DefaultActivityTick,
		killGrace:     DefaultKillGrace,
		titleInterval: DefaultTitleInterval,
		startGrace:    DefaultStartGrace,
		stopCh:        make(chan struct{}),
	}
	r.wg.Add(1)
	go r.runActivityTracker()
	return r
}

// Shutdown stops the activity tracker and every title tracker. It does
// not kill sessions; callers that want a clean drain should Kill each
// running session first (the supervisor does this).
func (r *Registry) Shutdown() {
	close(r.stopCh)
	r.wg.Wait()
}

// DrainAll sends TERM to every non-exited session, then waits until
// either ctx's deadline elapses or all sessions have exited, escalating
// stragglers to KILL.
func (r *Registry) DrainAll(ctx context.Context) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e != nil {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		running := e.sess.Status != StatusExited
		e.mu.Unlock()
		if running {
			e.handle.Signal(syscall.SIGTERM)
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		allExited := true
		for _, e := range entries {
			e.mu.Lock()
			if e.sess.Status != StatusExited {
				allExited = false
			}
			e.mu.Unlock()
		}
		if allExited {
			return
		}
		select {
		case <-ctx.Done():
			for _, e := range entries {
				e.mu.Lock()
				running := e.sess.Status != StatusExited
				e.mu.Unlock()
				if running {
					e.handle.Signal(syscall.SIGKILL)
				}
			}
			return
		case <-ticker.C:
		}
	}
}

func validateSpec(spec Spec) error {
	if len(spec.Command) == 0 {
		return ErrInvalidCommand
	}
	if spec.ID != "" {
		if _, err := uuid.Parse(spec.ID); err != nil {
			if len(spec.ID) < 8 || len(spec.ID) > 36 || !isIDSafe(spec.ID) {
				return fmt.Errorf("%w: custom id must be a UUID or 8-36 characters of [0-9a-zA-Z-]", ErrInvalidCommand)
			}
		}
	}
	return nil
}

// isIDSafe bounds custom session ids to characters that are safe in
// URLs and as directory names under <control-dir>/sessions/.
func isIDSafe(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

// Create spawns a new session. On success the session is returned in
// the Starting state.
func (r *Registry) Create(spec Spec) (Session, error) {
	if err := validateSpec(spec); err != nil {
		return Session{}, err
	}
	if fi, err := os.Stat(spec.WorkingDir); err != nil || !fi.IsDir() {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidWorkingDir, spec.WorkingDir)
	}

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrIDCollision, id)
	}
	r.entries[id] = nil // reserve the id while we build the session
	r.mu.Unlock()

	sess, e, err := r.build(id, spec)
	if err != nil {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
		return Session{}, err
	}

	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()

	r.startPipeline(e)
	switch spec.TitleMode {
	case TitleStatic:
		r.injectTitle(e)
	case TitleDynamic:
		r.startTitleTracker(e)
	}
	return sess, nil
}

func (r *Registry) build(id string, spec Spec) (Session, *entry, error) {
	cols, rows := spec.Cols, spec.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	dir := filepath.Join(r.controlDir, "sessions", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Session{}, nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	recPath := filepath.Join(dir, "recording.cast")

	env := make([]string, 0, len(spec.Env)+len(os.Environ()))
	env = append(env, os.Environ()...)
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	git := gitmeta.Lookup(spec.WorkingDir)

	rec, err := recording.Open(recPath, recording.Header{
		Width:     cols,
		Height:    rows,
		Timestamp: time.Now().Unix(),
		Title:     spec.Name,
		Env:       spec.Env,
		Command:   spec.Command,
	})
	if err != nil {
		return Session{}, nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	handle, err := pty.Spawn(spec.Command, spec.WorkingDir, env, uint16(cols), uint16(rows))
	if err != nil {
		rec.Close()
		return Session{}, nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	_, headerEnd, err := recording.ReadHeader(recPath)
	if err != nil {
		headerEnd = 0
	}
	r.hub.Open(id, rec, recPath, headerEnd)

	now := time.Now()
	sess := Session{
		ID:                 id,
		Name:               spec.Name,
		Command:            spec.Command,
		WorkingDir:         spec.WorkingDir,
		Cols:               cols,
		Rows:               rows,
		Env:                spec.Env,
		Status:             StatusStarting,
		PID:                handle.PID(),
		StartedAt:          now,
		LastActivityAt:     now,
		TitleMode:          spec.TitleMode,
		PreventTitleChange: spec.PreventTitleChange,
		GitRepoPath:        git.RepoPath,
		GitBranch:          git.Branch,
		RecordingPath:      recPath,
	}

	e := &entry{
		sess:        sess,
		handle:      handle,
		rec:         rec,
		recPath:     recPath,
		dir:         dir,
		startedAt:   now,
		lastOutput:  now,
		titleFilter: &pty.TitleFilter{Drop: spec.PreventTitleChange},
	}
	if spec.TitleMode == TitleDynamic {
		e.titleStop = make(chan struct{})
	}

	writeMeta(dir, sess)
	writeStatus(dir, sess)

	return sess, e, nil
}

// Get returns a snapshot of one session.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess, true
}

// List returns a snapshot of all sessions, consistent with every
// create and destroy that completed before the call returned.
func (r *Registry) List() []Session {
	r.mu.RLock()
	es := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e != nil {
			es = append(es, e)
		}
	}
	r.mu.RUnlock()

	out := make([]Session, 0, len(es))
	for _, e := range es {
		e.mu.Lock()
		out = append(out, e.sess)
		e.mu.Unlock()
	}
	return out
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Write forwards input bytes to the PTY and updates lastActivityAt.
func (r *Registry) Write(id string, data []byte) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.sess.Status == StatusExited {
		e.mu.Unlock()
		return ErrExited
	}
	e.sess.LastActivityAt = time.Now()
	e.mu.Unlock()

	if _, err := e.handle.Write(data); err != nil {
		return err
	}
	ev := recording.Event{
		TRelMs:  time.Since(e.startedAt).Milliseconds(),
		Kind:    recording.KindInput,
		Payload: data,
	}
	if err := r.hub.Append(id, ev, nil); err != nil && !errors.Is(err, stream.ErrClosed) {
		r.log.WithError(err).WithField("session", id).Warn("recording input append failed")
	}
	return nil
}

// Resize applies a new terminal size and records a resize event.
// Identical repeated resizes are not coalesced: every call both applies
// the ioctl (a no-op for unchanged dimensions) and appends a record, so
// the recording reflects exactly what clients asked for.
func (r *Registry) Resize(id string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return ErrInvalidResize
	}
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := e.handle.Resize(uint16(cols), uint16(rows)); err != nil {
		return err
	}
	ev := recording.Event{
		TRelMs:  time.Since(e.startedAt).Milliseconds(),
		Kind:    recording.KindResize,
		Payload: recording.ResizePayload(cols, rows),
	}
	if err := r.hub.Append(id, ev, ev.Payload); err != nil && !errors.Is(err, stream.ErrClosed) {
		r.log.WithError(err).WithField("session", id).Warn("recording resize append failed")
	}

	e.mu.Lock()
	e.sess.Cols, e.sess.Rows = cols, rows
	sess := e.sess
	e.mu.Unlock()
	writeStatus(e.dir, sess)
	return nil
}

// Kill signals the session with sig, escalating to SIGKILL after the
// registry's kill grace if it has not exited by then. The session only
// transitions to Exited via the PTY's own exit event.
func (r *Registry) Kill(id string, sig syscall.Signal) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	exited := e.sess.Status == StatusExited
	e.mu.Unlock()
	if exited {
		return nil
	}
	if err := e.handle.Signal(sig); err != nil {
		return err
	}
	time.AfterFunc(r.killGrace, func() {
		e.mu.Lock()
		exited := e.sess.Status == StatusExited
		e.mu.Unlock()
		if !exited {
			e.handle.Signal(syscall.SIGKILL)
		}
	})
	return nil
}

// CleanupExited removes every exited session from the registry; exited
// sessions are kept listable until this is called. It does not delete
// on-disk recordings.
func (r *Registry) CleanupExited() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e == nil {
			continue
		}
		e.mu.Lock()
		exited := e.sess.Status == StatusExited
		e.mu.Unlock()
		if exited {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// stuckStartingTimeout is how long a session may remain Starting before
// the supervisor's health probe considers it stuck: well beyond
// startGrace, which only governs the starting->running transition on
// the happy path.
const stuckStartingTimeout = 10 * time.Second

// StuckSessions reports the number of sessions that have remained in
// the Starting state far longer than a normal PTY spawn should take,
// for the supervisor's periodic health probe.
func (r *Registry) StuckSessions() int {
	r.mu.RLock()
	es := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e != nil {
			es = append(es, e)
		}
	}
	r.mu.RUnlock()

	n := 0
	cutoff := time.Now().Add(-stuckStartingTimeout)
	for _, e := range es {
		e.mu.Lock()
		if e.sess.Status == StatusStarting && e.startedAt.Before(cutoff) {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func writeMeta(dir string, sess Session) {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o644)
}

// writeStatus atomically replaces status.json: write to
// status.json.tmp, then rename.
func writeStatus(dir string, sess Session) {
	data, err := json.Marshal(sess)
	if err != nil {
		return
	}
	tmp := filepath.Join(dir, "status.json.tmp")
	final := filepath.Join(dir, "status.json")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, final)
}
