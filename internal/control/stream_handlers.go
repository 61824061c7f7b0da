package control

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vibetunnel/core/internal/gridrender"
	"github.com/vibetunnel/core/internal/recording"
	"github.com/vibetunnel/core/internal/stream"
)

// readRecording loads a recording's header and every complete record
// currently on disk. Used wherever the hub can no longer serve a
// session (it exited and was torn down): a late subscriber still gets
// the full recording, then the exit record, then end-of-stream.
func readRecording(path string) (recording.Header, []recording.Record, error) {
	header, headerEnd, err := recording.ReadHeader(path)
	if err != nil {
		return recording.Header{}, nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return recording.Header{}, nil, err
	}
	records, err := recording.ReadRange(path, headerEnd, fi.Size())
	if err != nil {
		return recording.Header{}, nil, err
	}
	return header, records, nil
}

// sessionGrid renders the session's current viewport, preferring the
// hub's snapshot path for live sessions and falling back to reading the
// recording directly once the session has exited.
func (s *Server) sessionGrid(id, recordingPath string) (*gridrender.Grid, error) {
	sub, err := s.cfg.Hub.Subscribe(id, stream.BinarySnapshot)
	if err != nil {
		header, records, rerr := readRecording(recordingPath)
		if rerr != nil {
			return nil, rerr
		}
		return gridrender.Render(header.Width, header.Height, records), nil
	}
	defer sub.Unsubscribe()

	frame, ok := <-sub.Out
	if !ok {
		return nil, fmt.Errorf("control: snapshot unavailable for %s", id)
	}
	return gridrender.Decode(frame.Data)
}

// handleText renders the session's current grid as text/plain. With
// styles=true each cell's attributes are re-emitted as SGR escapes;
// otherwise plain rune rows.
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.cfg.Registry.Get(id)
	if !ok {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}

	grid, err := s.sessionGrid(id, sess.RecordingPath)
	if err != nil {
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	styles := r.URL.Query().Get("styles") == "true"
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for row := 0; row < grid.Rows; row++ {
		w.Write([]byte(renderTextLine(grid, row, styles)))
		w.Write([]byte("\n"))
	}
}

func renderTextLine(grid *gridrender.Grid, row int, styles bool) string {
	var out []byte
	var curFG, curBG uint8
	var curBold, curUnderline bool

	for col := 0; col < grid.Cols; col++ {
		cell := grid.Cells[row][col]
		if styles && (cell.FG != curFG || cell.BG != curBG || cell.Bold != curBold || cell.Underline != curUnderline) {
			curFG, curBG, curBold, curUnderline = cell.FG, cell.BG, cell.Bold, cell.Underline
			codes := "0"
			if cell.Bold {
				codes += ";1"
			}
			if cell.Underline {
				codes += ";4"
			}
			if cell.FG != 0 {
				codes += fmt.Sprintf(";%d", 29+cell.FG)
			}
			if cell.BG != 0 {
				codes += fmt.Sprintf(";%d", 39+cell.BG)
			}
			out = append(out, []byte("\x1b["+codes+"m")...)
		}
		ru := cell.Rune
		if ru == 0 {
			ru = ' '
		}
		out = append(out, []byte(string(ru))...)
	}
	if styles {
		out = append(out, []byte("\x1b[0m")...)
	}
	return string(out)
}

// handleBuffer returns the binary grid snapshot used for fast first
// paint.
func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.cfg.Registry.Get(id)
	if !ok {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}

	grid, err := s.sessionGrid(id, sess.RecordingPath)
	if err != nil {
		apiError(w, "snapshot unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(gridrender.Encode(grid))
}

// handleStream is the SSE endpoint: it joins the hub in FromStart mode
// and formats each frame as one output/resize/exit/lag event. For an
// exited session the full recording is replayed from disk instead,
// ending with its exit event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.cfg.Registry.Get(id)
	if !ok {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		apiError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := s.cfg.Hub.Subscribe(id, stream.FromStart)
	if err != nil {
		s.replayStream(w, flusher, sess.RecordingPath)
		return
	}
	defer sub.Unsubscribe()

	writeSSEHeaders(w)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.Out:
			if !ok {
				return
			}
			if !writeSSEFrame(w, frame) {
				return
			}
			flusher.Flush()
			if frame.Kind == recording.KindExit {
				return
			}
		}
	}
}

// replayStream serves the SSE encoding of a finished session straight
// from its recording file.
func (s *Server) replayStream(w http.ResponseWriter, flusher http.Flusher, path string) {
	_, records, err := readRecording(path)
	if err != nil {
		apiError(w, "recording unavailable", http.StatusInternalServerError)
		return
	}

	writeSSEHeaders(w)
	for _, rec := range records {
		frame := stream.Frame{TRelMs: rec.TRelMs, Kind: rec.Kind, Data: rec.Payload}
		if !writeSSEFrame(w, frame) {
			return
		}
		flusher.Flush()
		if rec.Kind == recording.KindExit {
			return
		}
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeSSEFrame(w http.ResponseWriter, f stream.Frame) bool {
	var event, data string
	switch {
	case f.Lag:
		event, data = "lag", strconv.FormatInt(f.LagBytes, 10)
	case f.Kind == recording.KindOutput:
		event = "output"
		data = fmt.Sprintf("t=%d;%s", f.TRelMs, base64.StdEncoding.EncodeToString(f.Data))
	case f.Kind == recording.KindResize:
		event, data = "resize", string(f.Data)
	case f.Kind == recording.KindExit:
		event, data = "exit", string(f.Data)
	default:
		return true
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err == nil
}
