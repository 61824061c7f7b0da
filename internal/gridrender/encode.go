package gridrender

import (
	"encoding/binary"
	"fmt"
)

// Binary buffer snapshot layout: magic "VT", a version byte,
// little-endian cols/rows, a flags byte (bit0 = cells carry style
// bytes), then cols*rows cells. Each cell is a little-endian uint32
// rune, followed by FG, BG, and an attribute byte (bit0 bold, bit1
// underline) when the styles flag is set.
var magic = [2]byte{0x56, 0x54}

const (
	formatVersion = 0x01
	flagStyles    = 0x01
)

// Encode renders g into the binary buffer format, always with cell
// styles included.
func Encode(g *Grid) []byte {
	buf := make([]byte, 0, 8+g.Cols*g.Rows*7)
	buf = append(buf, magic[0], magic[1], formatVersion)

	var dims [4]byte
	binary.LittleEndian.PutUint16(dims[0:2], uint16(g.Cols))
	binary.LittleEndian.PutUint16(dims[2:4], uint16(g.Rows))
	buf = append(buf, dims[:]...)
	buf = append(buf, flagStyles)

	var runeBuf [4]byte
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			cell := g.Cells[r][c]
			binary.LittleEndian.PutUint32(runeBuf[:], uint32(cell.Rune))
			buf = append(buf, runeBuf[:]...)
			attrs := byte(0)
			if cell.Bold {
				attrs |= 0x01
			}
			if cell.Underline {
				attrs |= 0x02
			}
			buf = append(buf, cell.FG, cell.BG, attrs)
		}
	}
	return buf
}

// Decode parses the binary buffer format back into a Grid, the inverse
// of Encode. Used by callers (e.g. the text snapshot
// endpoint) that need cell data without re-deriving it from the
// recording themselves.
func Decode(data []byte) (*Grid, error) {
	if len(data) < 8 || data[0] != magic[0] || data[1] != magic[1] {
		return nil, fmt.Errorf("gridrender: bad magic")
	}
	if data[2] != formatVersion {
		return nil, fmt.Errorf("gridrender: unsupported version %d", data[2])
	}
	cols := int(binary.LittleEndian.Uint16(data[3:5]))
	rows := int(binary.LittleEndian.Uint16(data[5:7]))
	flags := data[7]
	hasStyles := flags&flagStyles != 0

	g := New(cols, rows)
	off := 8
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if off+4 > len(data) {
				return g, fmt.Errorf("gridrender: truncated cell data")
			}
			ru := rune(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
			cell := Cell{Rune: ru}
			if hasStyles {
				if off+3 > len(data) {
					return g, fmt.Errorf("gridrender: truncated style data")
				}
				cell.FG, cell.BG = data[off], data[off+1]
				attrs := data[off+2]
				cell.Bold = attrs&0x01 != 0
				cell.Underline = attrs&0x02 != 0
				off += 3
			}
			g.Cells[r][c] = cell
		}
	}
	return g, nil
}
