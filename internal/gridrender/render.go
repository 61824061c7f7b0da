package gridrender

import "github.com/vibetunnel/core/internal/recording"

// Render replays a recording's output and resize records into a fresh
// grid of the given initial size. Input, exit, and marker records do
// not affect the viewport and are skipped.
func Render(width, height int, records []recording.Record) *Grid {
	grid := New(width, height)
	for _, r := range records {
		switch r.Kind {
		case recording.KindOutput:
			grid.Write(r.Payload)
		case recording.KindResize:
			if cols, rows, ok := ParseResize(r.Payload); ok {
				grid.Resize(cols, rows)
			}
		}
	}
	return grid
}
