package control

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vibetunnel/core/internal/recording"
	"github.com/vibetunnel/core/internal/stream"
)

// upgrader enforces a same-origin check: browsers send an Origin
// header, non-browser clients (CLI attach) typically don't.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wsResize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// handleWebSocket is a bidirectional attach channel for interactive
// clients: binary frames carry output downstream, and a JSON
// {type, data} envelope carries input/resize upstream. SSE remains the
// primary streaming transport; this multiplexes both directions over
// one socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.cfg.Registry.Get(id); !ok {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}

	sub, err := s.cfg.Hub.Subscribe(id, stream.LiveOnly)
	if err != nil {
		// Live attach has nothing to offer once the session is done;
		// replay is the SSE endpoint's job.
		apiError(w, "session exited", http.StatusGone)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Unsubscribe()
		return
	}
	defer conn.Close()
	defer sub.Unsubscribe()

	go func() {
		for frame := range sub.Out {
			if frame.Kind == recording.KindExit {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"exit","data":"`+string(frame.Data)+`"}`))
				return
			}
			if len(frame.Data) == 0 {
				continue
			}
			if conn.WriteMessage(websocket.BinaryMessage, frame.Data) != nil {
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err == nil && msg.Type != "" {
			switch msg.Type {
			case "resize":
				var resize wsResize
				if json.Unmarshal(msg.Data, &resize) == nil {
					s.cfg.Registry.Resize(id, resize.Cols, resize.Rows)
				}
			case "input":
				var text string
				if json.Unmarshal(msg.Data, &text) == nil {
					s.cfg.Registry.Write(id, []byte(text))
				}
			}
			continue
		}
		s.cfg.Registry.Write(id, data)
	}
}
