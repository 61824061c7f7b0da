package gridrender

type parserKind int

const (
	pNormal parserKind = iota
	pESC
	pCSI
)

type parserState struct {
	kind   parserKind
	params []int
	cur    int
	haveN  bool
}

// Write feeds raw PTY output through the grid's VT state machine,
// updating cell contents and cursor position. It understands printable
// runes, CR/LF/BS/TAB, and a small CSI subset: cursor motion (A B C D),
// absolute positioning (H f), erase in display/line (J K), and SGR (m)
// for the colors and bold/underline the styled snapshot carries.
// Anything else is consumed and ignored.
func (g *Grid) Write(data []byte) {
	for _, b := range data {
		g.step(b)
	}
}

func (g *Grid) step(b byte) {
	p := &g.parser
	switch p.kind {
	case pNormal:
		switch b {
		case 0x1b:
			p.kind = pESC
		case '\r':
			g.CursorCol = 0
		case '\n':
			g.newline()
		case '\b':
			if g.CursorCol > 0 {
				g.CursorCol--
			}
		case '\t':
			g.CursorCol = (g.CursorCol/8 + 1) * 8
			if g.CursorCol >= g.Cols {
				g.CursorCol = g.Cols - 1
			}
		default:
			if b >= 0x20 {
				g.put(rune(b))
			}
		}
	case pESC:
		if b == '[' {
			p.kind = pCSI
			p.params = p.params[:0]
			p.cur, p.haveN = 0, false
		} else {
			p.kind = pNormal
		}
	case pCSI:
		switch {
		case b >= '0' && b <= '9':
			p.cur = p.cur*10 + int(b-'0')
			p.haveN = true
		case b == ';':
			p.params = append(p.params, p.cur)
			p.cur, p.haveN = 0, false
		default:
			if p.haveN || len(p.params) == 0 {
				p.params = append(p.params, p.cur)
			}
			g.applyCSI(b, p.params)
			p.kind = pNormal
		}
	}
}

func (g *Grid) put(r rune) {
	if g.CursorCol >= g.Cols {
		g.CursorCol = 0
		g.newline()
	}
	g.Cells[g.CursorRow][g.CursorCol] = Cell{
		Rune: r, FG: g.curFG, BG: g.curBG, Bold: g.curBold, Underline: g.curUnderline,
	}
	g.CursorCol++
}

func (g *Grid) newline() {
	if g.CursorRow == g.Rows-1 {
		copy(g.Cells, g.Cells[1:])
		g.Cells[g.Rows-1] = make([]Cell, g.Cols)
		return
	}
	g.CursorRow++
}

func param(params []int, i, def int) int {
	if i < len(params) && params[i] != 0 {
		return params[i]
	}
	return def
}

func (g *Grid) applyCSI(final byte, params []int) {
	switch final {
	case 'A':
		g.CursorRow -= param(params, 0, 1)
	case 'B':
		g.CursorRow += param(params, 0, 1)
	case 'C':
		g.CursorCol += param(params, 0, 1)
	case 'D':
		g.CursorCol -= param(params, 0, 1)
	case 'H', 'f':
		g.CursorRow = param(params, 0, 1) - 1
		g.CursorCol = param(params, 1, 1) - 1
	case 'J':
		g.eraseDisplay(param(params, 0, 0))
	case 'K':
		g.eraseLine(param(params, 0, 0))
	case 'm':
		g.applySGR(params)
	}
	g.clampCursor()
}

func (g *Grid) clampCursor() {
	if g.CursorRow < 0 {
		g.CursorRow = 0
	}
	if g.CursorRow >= g.Rows {
		g.CursorRow = g.Rows - 1
	}
	if g.CursorCol < 0 {
		g.CursorCol = 0
	}
	if g.CursorCol >= g.Cols {
		g.CursorCol = g.Cols - 1
	}
}

func (g *Grid) eraseDisplay(mode int) {
	switch mode {
	case 0:
		g.eraseLine(0)
		for r := g.CursorRow + 1; r < g.Rows; r++ {
			g.Cells[r] = make([]Cell, g.Cols)
		}
	case 1:
		for r := 0; r < g.CursorRow; r++ {
			g.Cells[r] = make([]Cell, g.Cols)
		}
	case 2, 3:
		for r := range g.Cells {
			g.Cells[r] = make([]Cell, g.Cols)
		}
	}
}

func (g *Grid) eraseLine(mode int) {
	row := g.Cells[g.CursorRow]
	switch mode {
	case 0:
		for c := g.CursorCol; c < g.Cols; c++ {
			row[c] = Cell{}
		}
	case 1:
		for c := 0; c <= g.CursorCol && c < g.Cols; c++ {
			row[c] = Cell{}
		}
	case 2:
		for c := range row {
			row[c] = Cell{}
		}
	}
}

func (g *Grid) applySGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	for _, p := range params {
		switch {
		case p == 0:
			g.curFG, g.curBG, g.curBold, g.curUnderline = 0, 0, false, false
		case p == 1:
			g.curBold = true
		case p == 4:
			g.curUnderline = true
		case p == 22:
			g.curBold = false
		case p == 24:
			g.curUnderline = false
		case p >= 30 && p <= 37:
			g.curFG = uint8(p - 30 + 1)
		case p == 39:
			g.curFG = 0
		case p >= 40 && p <= 47:
			g.curBG = uint8(p - 40 + 1)
		case p == 49:
			g.curBG = 0
		}
	}
}
