// Package recording implements the append-only per-session event log:
// an asciicast-style UTF-8 text file whose first line is a JSON header
// object and whose subsequent lines are each a JSON array
// `[t_rel_seconds, type, payload]`.
package recording

import "fmt"

// Kind is the single-character record type discriminator used on disk.
type Kind string

const (
	KindOutput Kind = "o"
	KindInput  Kind = "i"
	KindResize Kind = "r"
	KindExit   Kind = "x"
	KindMarker Kind = "m"
)

// Header is the first line of a recording file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Command   []string          `json:"command"`
}

// HeaderVersion is the recording format version written to new files.
const HeaderVersion = 2

// Event is one record to be appended, timestamped in milliseconds
// since the header; it is converted to the on-disk seconds-float form
// by the writer.
type Event struct {
	TRelMs  int64
	Kind    Kind
	Payload []byte
}

// Record is one decoded line read back from a recording file.
type Record struct {
	TRelMs  int64
	Kind    Kind
	Payload []byte
	// Offset is the byte offset in the file at which this record's line
	// began.
	Offset int64
}

// ResizePayload formats a resize event payload as "COLSxROWS".
func ResizePayload(cols, rows int) []byte {
	return []byte(fmt.Sprintf("%dx%d", cols, rows))
}

// ExitPayload formats an exit event payload as a decimal exit code.
func ExitPayload(code int) []byte {
	return []byte(fmt.Sprintf("%d", code))
}
