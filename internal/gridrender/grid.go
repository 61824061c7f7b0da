// Package gridrender implements the minimal terminal-grid state machine
// backing the binary "buffer" snapshot endpoint. It tracks just enough
// VT state (cursor position, line wrap, erase, and SGR
// color/bold/underline) to answer "what does the viewport look like
// right now"; it is deliberately not a general terminal emulator.
package gridrender

// Cell is one terminal cell.
type Cell struct {
	Rune      rune
	FG, BG    uint8
	Bold      bool
	Underline bool
}

// Grid is a fixed-size viewport of cells plus cursor position.
type Grid struct {
	Cols, Rows   int
	Cells        [][]Cell
	CursorRow    int
	CursorCol    int
	curFG, curBG uint8
	curBold      bool
	curUnderline bool
	parser       parserState
}

// New creates a blank grid of the given size (defaults to 80x24 if
// either dimension is non-positive, matching a freshly spawned PTY).
func New(cols, rows int) *Grid {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	g := &Grid{Cols: cols, Rows: rows}
	g.reset()
	return g
}

func (g *Grid) reset() {
	g.Cells = make([][]Cell, g.Rows)
	for i := range g.Cells {
		g.Cells[i] = make([]Cell, g.Cols)
	}
	g.CursorRow, g.CursorCol = 0, 0
}

// Resize changes the viewport size, preserving existing content
// top-left-anchored and clamping the cursor into bounds.
func (g *Grid) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	newCells := make([][]Cell, rows)
	for i := range newCells {
		newCells[i] = make([]Cell, cols)
		if i < len(g.Cells) {
			copy(newCells[i], g.Cells[i])
		}
	}
	g.Cells = newCells
	g.Cols, g.Rows = cols, rows
	if g.CursorRow >= rows {
		g.CursorRow = rows - 1
	}
	if g.CursorCol >= cols {
		g.CursorCol = cols - 1
	}
}

// ParseResize decodes a recording.ResizePayload-formatted "COLSxROWS"
// byte slice.
func ParseResize(payload []byte) (cols, rows int, ok bool) {
	s := string(payload)
	for i := 0; i < len(s); i++ {
		if s[i] == 'x' {
			c, okc := atoi(s[:i])
			r, okr := atoi(s[i+1:])
			return c, r, okc && okr
		}
	}
	return 0, 0, false
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
