package recording

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndReadRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.cast")

	w, err := Open(path, Header{Width: 80, Height: 24, Command: []string{"bash"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := w.Append(Event{TRelMs: 10, Kind: KindOutput, Payload: []byte("hi\n")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Append(Event{TRelMs: 20, Kind: KindResize, Payload: ResizePayload(120, 40)}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Append(Event{TRelMs: 30, Kind: KindExit, Payload: ExitPayload(0)}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	size := w.Size()
	if size == 0 {
		t.Fatal("size should be > 0 after flush")
	}

	header, headerEnd, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if header.Width != 80 || header.Height != 24 {
		t.Fatalf("header = %+v", header)
	}

	records, err := ReadRange(path, headerEnd, size)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Kind != KindOutput || string(records[0].Payload) != "hi\n" {
		t.Fatalf("record0 = %+v", records[0])
	}
	if records[1].Kind != KindResize || string(records[1].Payload) != "120x40" {
		t.Fatalf("record1 = %+v", records[1])
	}
	if records[2].Kind != KindExit || string(records[2].Payload) != "0" {
		t.Fatalf("record2 = %+v", records[2])
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestRecoverTruncatesPartialTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.cast")

	w, err := Open(path, Header{Width: 80, Height: 24, Command: []string{"bash"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := w.Append(Event{TRelMs: 1, Kind: KindOutput, Payload: []byte("ok\n")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulate a crash mid-write: append a partial, newline-less line.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if _, err := f.WriteString(`[0.5,"o","partial`); err != nil {
		t.Fatalf("write partial failed: %v", err)
	}
	f.Close()

	before, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	w2, err := Open(path, Header{})
	if err != nil {
		t.Fatalf("reopen via Open failed: %v", err)
	}
	defer w2.Close()

	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if after.Size() >= before.Size() {
		t.Fatalf("expected truncation: before=%d after=%d", before.Size(), after.Size())
	}

	header, headerEnd, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	_ = header

	records, err := ReadRange(path, headerEnd, w2.Size())
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (the partial one must be gone)", len(records))
	}
}

func TestReopenExistingDoesNotRewriteHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.cast")

	w, err := Open(path, Header{Width: 80, Height: 24, Title: "first"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	w.Close()

	w2, err := Open(path, Header{Width: 999, Height: 999, Title: "second"})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer w2.Close()

	header, _, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if header.Title != "first" {
		t.Fatalf("header = %+v, reopen should not rewrite the header", header)
	}
}
