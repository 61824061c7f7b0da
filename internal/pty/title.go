package pty

import "fmt"

// SynthesizeTitle builds an OSC 2 window-title escape sequence from the
// session name, working directory and git branch (whichever are
// non-empty), terminated with BEL. Used by the session title tracker.
func SynthesizeTitle(sessionName, cwd, gitBranch string) []byte {
	text := sessionName
	if cwd != "" {
		if text != "" {
			text += " - "
		}
		text += cwd
	}
	if gitBranch != "" {
		text += fmt.Sprintf(" (%s)", gitBranch)
	}
	return []byte(fmt.Sprintf("\x1b]2;%s\x07", text))
}
