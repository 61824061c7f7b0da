// Package supervisor owns the control API process's own lifecycle:
// binding the listen port with conflict detection against a prior
// instance of this same server, restarting the serve loop a bounded
// number of times after an unexpected crash, a periodic health probe,
// and a graceful shutdown that drains child sessions.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Distinguished exit conditions. cmd/vtd maps these to os.Exit codes;
// this package never calls os.Exit itself so it stays testable.
var (
	// ErrPortUnrecoverable is returned when the configured port is held
	// by a process that is not a prior instance of this server, and no
	// amount of retrying will free it. Exit code 9.
	ErrPortUnrecoverable = errors.New("supervisor: port in use by another process")

	// ErrCrashLoop is returned when the serve loop exceeded the allowed
	// restart budget of 3 consecutive restarts within a 60-second
	// window. Exit code 1.
	ErrCrashLoop = errors.New("supervisor: crash-restart budget exceeded")
)

const (
	maxRestarts      = 3
	restartWindow    = 60 * time.Second
	backoffBase      = 2 * time.Second
	sameInstanceWait = 3 * time.Second
	healthInterval   = 30 * time.Second
	drainWindow      = 5 * time.Second
)

// Runner is the thing the supervisor starts and stops: in production
// this is *control.Server, which satisfies it directly.
type Runner interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// HealthChecker reports whether the PTY subsystem behind the API has
// wedged sessions, used by the periodic health probe.
type HealthChecker interface {
	StuckSessions() int
}

// Options configures one Supervisor instance.
type Options struct {
	Host       string
	Port       int
	ControlDir string
	Log        *logrus.Logger

	Runner  Runner
	Health  HealthChecker
	OnDrain func(ctx context.Context) // drains live sessions before shutdown
}

// Supervisor binds the port (resolving conflicts with a prior instance
// of itself), runs the given Runner with crash-restart protection, and
// probes health on a fixed cadence until its context is cancelled.
type Supervisor struct {
	opts     Options
	log      *logrus.Logger
	lockPath string
}

// New builds a Supervisor. It does not bind or serve until Run is
// called.
func New(opts Options) *Supervisor {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Supervisor{
		opts:     opts,
		log:      opts.Log,
		lockPath: filepath.Join(opts.ControlDir, "server.lock"),
	}
}

// Run resolves the port (killing a stale same-instance holder or
// reporting an external one), then serves until ctx is cancelled,
// restarting on crash up to the configured budget. It blocks until
// shutdown completes or a distinguished error occurs.
func (s *Supervisor) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))

	ln, err := s.bindWithConflictResolution(ctx, addr)
	if err != nil {
		return err
	}
	if err := s.writeLockfile(); err != nil {
		ln.Close()
		return fmt.Errorf("supervisor: writing lockfile: %w", err)
	}
	defer os.Remove(s.lockPath)

	probeCtx, cancelProbe := context.WithCancel(ctx)
	defer cancelProbe()
	go s.runHealthProbe(probeCtx, addr)

	// ln only proved the port was claimable; the Runner binds its own
	// *http.Server to the same address, so release it first.
	ln.Close()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.opts.Runner.ListenAndServe(addr)
	}()

	restarts := []time.Time{}
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), drainWindow)
			defer cancel()
			if s.opts.OnDrain != nil {
				s.opts.OnDrain(shutdownCtx)
			}
			return s.opts.Runner.Shutdown(shutdownCtx)
		case err := <-serveErr:
			if err == nil {
				return nil
			}
			now := time.Now()
			restarts = append(restarts, now)
			restarts = pruneOld(restarts, now.Add(-restartWindow))
			if len(restarts) > maxRestarts {
				return fmt.Errorf("%w: %d restarts in %s (last error: %v)", ErrCrashLoop, len(restarts), restartWindow, err)
			}
			backoff := backoffBase * time.Duration(1<<uint(len(restarts)-1))
			s.log.WithFields(logrus.Fields{"attempt": len(restarts), "backoff": backoff, "error": err}).
				Warn("control API crashed, restarting")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			go func() {
				serveErr <- s.opts.Runner.ListenAndServe(addr)
			}()
		}
	}
}

func pruneOld(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// bindWithConflictResolution claims addr, resolving a bind failure by
// inspecting the lockfile left by a prior holder: a stale lockfile from
// this same server's prior PID is terminated (with a bounded wait for
// its clean shutdown, observed via fsnotify rather than polling) and the
// bind retried; any other holder is reported via ErrPortUnrecoverable
// with a suggested free alternative port.
func (s *Supervisor) bindWithConflictResolution(ctx context.Context, addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, nil
	}
	if !isAddrInUse(err) {
		return nil, fmt.Errorf("supervisor: bind %s: %w", addr, err)
	}

	pid, startedAt, lockErr := readLockfile(s.lockPath)
	if lockErr == nil && pid > 0 && processAlive(pid) && looksLikeOurServer(pid) {
		s.log.WithFields(logrus.Fields{"pid": pid, "startedAt": startedAt}).
			Info("port held by a prior instance of this server, terminating it")
		if waitErr := s.terminateAndWait(ctx, pid); waitErr != nil {
			s.log.WithError(waitErr).Warn("prior instance did not exit cleanly, retrying bind anyway")
		}
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
	}

	suggested := suggestFreePort(s.opts.Host)
	return nil, fmt.Errorf("%w: %s is held by an external process (try port %d)", ErrPortUnrecoverable, addr, suggested)
}

// terminateAndWait sends SIGTERM to pid and waits for the lockfile to
// disappear (the old instance's own clean-shutdown signal), escalating
// to SIGKILL if it doesn't within sameInstanceWait.
func (s *Supervisor) terminateAndWait(ctx context.Context, pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// fsnotify unavailable (rare): fall back to a bounded sleep.
		time.Sleep(sameInstanceWait)
		return nil
	}
	defer watcher.Close()
	_ = watcher.Add(filepath.Dir(s.lockPath))

	deadline := time.NewTimer(sameInstanceWait)
	defer deadline.Stop()
	for {
		if _, err := os.Stat(s.lockPath); os.IsNotExist(err) {
			return nil
		}
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name == s.lockPath && (ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0) {
				return nil
			}
		case <-deadline.C:
			proc.Signal(syscall.SIGKILL)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) writeLockfile() error {
	if err := os.MkdirAll(s.opts.ControlDir, 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("%d\n%d\n", os.Getpid(), time.Now().Unix())
	tmp := s.lockPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.lockPath)
}

func readLockfile(path string) (pid int, startedAt int64, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 1 {
		return 0, 0, fmt.Errorf("supervisor: malformed lockfile")
	}
	pid, err = strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, 0, err
	}
	if len(lines) >= 2 {
		startedAt, _ = strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	}
	return pid, startedAt, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// looksLikeOurServer makes a best-effort check that pid is this same
// binary rather than an unrelated process that happens to reuse a dead
// PID; failure to confirm (e.g. no /proc on this platform) is treated
// as a positive match since the caller already holds a lockfile for it.
func looksLikeOurServer(pid int) bool {
	self, err := os.Executable()
	if err != nil {
		return true
	}
	other, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return true
	}
	return other == self
}

func suggestFreePort(host string) int {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// runHealthProbe verifies the API responds and the PTY subsystem has no
// stuck sessions every healthInterval.
func (s *Supervisor) runHealthProbe(ctx context.Context, addr string) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	client := &http.Client{Timeout: 5 * time.Second}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.opts.Health != nil {
				if n := s.opts.Health.StuckSessions(); n > 0 {
					s.log.WithField("stuck_sessions", n).Warn("health probe: stuck sessions detected")
				}
			}
			resp, err := client.Get("http://" + addr + "/api/health")
			if err != nil {
				s.log.WithError(err).Warn("health probe: API not responding")
				continue
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnauthorized {
				s.log.WithField("status", resp.StatusCode).Warn("health probe: unexpected API status")
			}
		}
	}
}
