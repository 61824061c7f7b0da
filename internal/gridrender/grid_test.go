package gridrender

import "testing"

func TestWritePlainText(t *testing.T) {
	g := New(10, 2)
	g.Write([]byte("hi\r\n"))
	if g.Cells[0][0].Rune != 'h' || g.Cells[0][1].Rune != 'i' {
		t.Fatalf("row0 = %+v", g.Cells[0][:2])
	}
	if g.CursorRow != 1 || g.CursorCol != 0 {
		t.Fatalf("cursor = %d,%d", g.CursorRow, g.CursorCol)
	}
}

func TestCursorPositioning(t *testing.T) {
	g := New(10, 5)
	g.Write([]byte("\x1b[3;4Hx"))
	if g.Cells[2][3].Rune != 'x' {
		t.Fatalf("expected x at row2,col3, got %+v", g.Cells[2][3])
	}
}

func TestEraseLine(t *testing.T) {
	g := New(5, 1)
	g.Write([]byte("abcde"))
	g.Write([]byte("\x1b[1;1H\x1b[K"))
	for i, c := range g.Cells[0] {
		if c.Rune != 0 {
			t.Fatalf("cell %d not erased: %+v", i, c)
		}
	}
}

func TestSGRBold(t *testing.T) {
	g := New(5, 1)
	g.Write([]byte("\x1b[1mA\x1b[0mB"))
	if !g.Cells[0][0].Bold {
		t.Fatal("expected bold A")
	}
	if g.Cells[0][1].Bold {
		t.Fatal("expected B not bold after reset")
	}
}

func TestEncodeHeader(t *testing.T) {
	g := New(80, 24)
	out := Encode(g)
	if out[0] != 0x56 || out[1] != 0x54 || out[2] != 0x01 {
		t.Fatalf("bad header bytes: %v", out[:3])
	}
	if len(out) != 8+80*24*7 {
		t.Fatalf("len = %d, want %d", len(out), 8+80*24*7)
	}
}

func TestParseResize(t *testing.T) {
	cols, rows, ok := ParseResize([]byte("120x40"))
	if !ok || cols != 120 || rows != 40 {
		t.Fatalf("got %d,%d,%v", cols, rows, ok)
	}
	if _, _, ok := ParseResize([]byte("garbage")); ok {
		t.Fatal("expected parse failure")
	}
}
