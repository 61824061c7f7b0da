// Package pty owns the master/slave pseudo-terminal pair for one child
// process: spawn, duplex I/O, resize, signal, and exit detection.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Sentinel errors for Spawn, per spec.
var (
	ErrWorkingDirMissing = errors.New("pty: working directory missing")
	ErrExecFailed        = errors.New("pty: exec failed")
	ErrResourceExhausted = errors.New("pty: resource exhausted")
)

// Handle is one spawned child attached to a pty master.
type Handle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu       sync.Mutex
	closed   bool
	exited   bool
	exitCode int
	onExit   func(code int)

	cwdMu      sync.Mutex
	cwd        string
	cwdWatcher func(string)
}

// Spawn allocates a pty, starts argv[0] with argv[1:] as arguments under
// it, in workingDir with env layered over the inherited environment, at
// the given initial size.
func Spawn(argv []string, workingDir string, env []string, cols, rows uint16) (*Handle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrExecFailed)
	}
	if fi, err := os.Stat(workingDir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkingDirMissing, workingDir)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workingDir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM) {
			return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrExecFailed, err)
	}

	return &Handle{cmd: cmd, ptmx: ptmx, cwd: workingDir}, nil
}

// Read reads raw output from the pty master.
func (h *Handle) Read(buf []byte) (int, error) {
	return h.ptmx.Read(buf)
}

// Write sends bytes to the pty master (the child's stdin). It also
// scans for a leading shell "cd" token for best-effort tracking of the
// child's current working directory.
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return 0, fmt.Errorf("pty: write to closed handle")
	}
	h.observeCd(p)
	return h.ptmx.Write(p)
}

// Resize applies the platform window-size ioctl. Idempotent for identical
// dimensions: setting the same size twice is a no-op syscall-wise.
func (h *Handle) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("pty: cols and rows must be >= 1")
	}
	return pty.Setsize(h.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Signal sends a signal to the child's process group.
func (h *Handle) Signal(sig syscall.Signal) error {
	if h.cmd.Process == nil {
		return fmt.Errorf("pty: process not started")
	}
	return syscall.Kill(-h.cmd.Process.Pid, sig)
}

// OnExit registers a callback that fires exactly once with the exit code
// (negative for signal termination) when Wait observes the child's
// exit. It does not wait for the pty's pending output to be read.
func (h *Handle) OnExit(cb func(code int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onExit = cb
	if h.exited {
		code := h.exitCode
		go cb(code)
	}
}

// Wait blocks until the child exits and records the exit code, invoking
// any registered OnExit callback exactly once.
func (h *Handle) Wait() error {
	err := h.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if status.Signaled() {
					code = -int(status.Signal())
				} else {
					code = status.ExitStatus()
				}
			} else {
				code = exitErr.ExitCode()
			}
		} else {
			code = -1
		}
	}

	h.mu.Lock()
	h.exited = true
	h.exitCode = code
	cb := h.onExit
	h.mu.Unlock()

	if cb != nil {
		cb(code)
	}
	return err
}

// ExitCode returns the recorded exit code. Only meaningful after Wait
// has returned (or an OnExit callback has fired).
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Close terminates the child (TERM to the process group) and closes the
// master side. Safe to call multiple times.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	if h.cmd.Process != nil {
		_ = syscall.Kill(-h.cmd.Process.Pid, syscall.SIGTERM)
	}
	return h.ptmx.Close()
}

// PID returns the child's process id, or 0 if not started.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Cwd returns the best-effort tracked current working directory.
func (h *Handle) Cwd() string {
	h.cwdMu.Lock()
	defer h.cwdMu.Unlock()
	return h.cwd
}

// WatchCwd registers a callback fired whenever the best-effort cwd
// tracker observes a change.
func (h *Handle) WatchCwd(cb func(string)) {
	h.cwdMu.Lock()
	h.cwdWatcher = cb
	h.cwdMu.Unlock()
}

// observeCd is a best-effort scanner for a literal "cd <path>" input
// line. It does not handle pushd/popd or shell aliases.
func (h *Handle) observeCd(p []byte) {
	line := firstLine(p)
	arg, ok := cdArg(line)
	if !ok {
		return
	}

	h.cwdMu.Lock()
	base := h.cwd
	h.cwdMu.Unlock()

	newCwd := resolveCd(base, arg)
	if newCwd == "" {
		return
	}

	h.cwdMu.Lock()
	if newCwd == h.cwd {
		h.cwdMu.Unlock()
		return
	}
	h.cwd = newCwd
	cb := h.cwdWatcher
	h.cwdMu.Unlock()

	if cb != nil {
		cb(newCwd)
	}
}
