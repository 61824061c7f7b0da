// Package session implements the session manager: the registry of
// PTY-backed sessions, wiring the PTY host, the recording store, and
// the stream hub together, plus the activity and title trackers.
package session

import "time"

// Status is a session's lifecycle state. Transitions are monotonic:
// Starting -> Running -> Exited, no revivals.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

// TitleMode controls whether and how the host injects window titles.
type TitleMode string

const (
	TitleNone    TitleMode = "none"
	TitleStatic  TitleMode = "static"
	TitleDynamic TitleMode = "dynamic"
)

// Spec describes a session to create (the decoded POST /api/sessions
// body).
type Spec struct {
	ID                 string
	Name               string
	Command            []string
	WorkingDir         string
	Cols, Rows         int
	Env                map[string]string
	TitleMode          TitleMode
	PreventTitleChange bool
}

// Session is the externally visible snapshot of one PTY-backed session.
// Values are copies; mutating one does not affect the registry's state.
type Session struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Command []string `json:"command"`

	WorkingDir string            `json:"workingDir"`
	Cols       int               `json:"cols"`
	Rows       int               `json:"rows"`
	Env        map[string]string `json:"env,omitempty"`

	Status   Status `json:"status"`
	PID      int    `json:"pid,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`

	StartedAt      time.Time  `json:"startedAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	ExitedAt       *time.Time `json:"exitedAt,omitempty"`

	Title              string    `json:"title,omitempty"`
	TitleMode          TitleMode `json:"titleMode"`
	PreventTitleChange bool      `json:"preventTitleChange,omitempty"`

	GitRepoPath string `json:"gitRepoPath,omitempty"`
	GitBranch   string `json:"gitBranch,omitempty"`

	RecordingPath string `json:"recordingPath"`
}

// Activity is the derived per-session activity record, recomputed on
// every output event and on the tracker's tick.
type Activity struct {
	SessionID      string    `json:"sessionId"`
	IsActive       bool      `json:"isActive"`
	LastOutputAt   time.Time `json:"lastOutputAt"`
	BytesSinceIdle int64     `json:"bytesSinceIdle"`
}
