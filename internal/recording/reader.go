package recording

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ReadHeader parses the first line of a recording file and returns the
// header plus the byte offset immediately after it (where record 0
// begins).
func ReadHeader(path string) (Header, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, 0, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	line, err := br.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return Header{}, 0, err
	}
	line = bytes.TrimRight(line, "\n")

	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return Header{}, 0, fmt.Errorf("recording: malformed header: %w", err)
	}
	return h, int64(len(line) + 1), nil
}

// ReadRange returns the complete records found in the byte range
// [start, end) of the recording file. It is safe to call concurrently
// with a Writer appending past end, since it never reads beyond end.
func ReadRange(path string, start, end int64) ([]Record, error) {
	if end <= start {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	limited := io.LimitReader(f, end-start)
	br := bufio.NewReader(limited)

	var records []Record
	offset := start
	for {
		line, err := br.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			break
		}
		if err != nil {
			// Partial trailing line within the requested range: the
			// caller asked for a byte range that split a record: stop,
			// do not return it, per the never-see-a-partial-record
			// invariant.
			break
		}

		rec, perr := decodeLine(bytes.TrimRight(line, "\n"))
		if perr != nil {
			break
		}
		rec.Offset = offset
		records = append(records, rec)
		offset += int64(len(line))
	}

	return records, nil
}

func decodeLine(line []byte) (Record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, err
	}
	if len(raw) != 3 {
		return Record{}, fmt.Errorf("recording: record has %d fields, want 3", len(raw))
	}

	var tSeconds float64
	var kind, payload string
	if err := json.Unmarshal(raw[0], &tSeconds); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(raw[1], &kind); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(raw[2], &payload); err != nil {
		return Record{}, err
	}

	return Record{
		TRelMs:  int64(tSeconds * 1000.0),
		Kind:    Kind(kind),
		Payload: []byte(payload),
	}, nil
}

// recoverTruncate drops any partially written final line from an
// existing recording file before it is reopened for append, so a crash
// mid-write (or an external truncation mid-record) never leaves a
// half-record visible to readers.
func recoverTruncate(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var validEnd int64
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			validEnd += int64(len(line))
			continue
		}
		// Either EOF with a trailing newline already accounted for, or a
		// partial final line (err != nil and len(line) > 0 but no \n),
		// or a clean EOF with nothing pending. In all non-clean cases we
		// simply stop advancing validEnd past the last full line.
		break
	}

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() != validEnd {
		return f.Truncate(validEnd)
	}
	return nil
}
