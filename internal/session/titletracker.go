package session

import (
	"time"

	"github.com/vibetunnel/core/internal/pty"
)

// startTitleTracker injects a synthesized OSC 2 title, derived from
// {sessionName, currentWorkingDir, gitBranch}, into the PTY master at
// 1 Hz and immediately on each observed cwd change. The injected bytes
// are written directly to the pty master, bypassing Registry.Write, so
// they are never recorded as an input event: they are
// server-synthesized display state, not something the user typed.
func (r *Registry) startTitleTracker(e *entry) {
	e.mu.Lock()
	stop := e.titleStop
	e.mu.Unlock()
	e.handle.WatchCwd(func(string) { r.injectTitle(e) })
	go func() {
		t := time.NewTicker(r.titleInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				r.injectTitle(e)
			case <-stop:
				return
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *Registry) injectTitle(e *entry) {
	e.mu.Lock()
	name := e.sess.Name
	branch := e.sess.GitBranch
	e.mu.Unlock()

	cwd := e.handle.Cwd()
	e.handle.Write(pty.SynthesizeTitle(name, cwd, branch))
}
