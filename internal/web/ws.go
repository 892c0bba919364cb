package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hpungsan/tandem/internal/docs"
	"github.com/hpungsan/tandem/internal/errors"
	"github.com/hpungsan/tandem/internal/history"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// syncFrame is a client request on the websocket.
type syncFrame struct {
	Type string `json:"type"` // "merge" or "rebase"
	history.SyncRequest
	DryRun bool `json:"dryRun,omitempty"`
}

type responseFrame struct {
	Type string `json:"type"`
	*docs.SyncOutput
}

type errorFrame struct {
	Type  string         `json:"type"`
	Error map[string]any `json:"error"`
}

// HandleWS handles GET /api/docs/{id}/ws. Each text frame is a merge or
// rebase request answered by one response or error frame, in order. Other
// subscribers of the document get an update event after every committed
// sync.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.svc.Fetch(r.Context(), docs.FetchInput{ID: id}); err != nil {
		renderAPIError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade %s: %v", id, err)
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	sub := h.hub.subscribe(id)
	writerDone := make(chan struct{})
	go writeLoop(conn, sub.send, writerDone)

	defer func() {
		h.hub.unsubscribe(id, sub)
		close(sub.send)
		<-writerDone
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read %s: %v", id, err)
			}
			return
		}

		reply := h.handleFrame(r.Context(), id, buf, sub)
		select {
		case sub.send <- reply:
		case <-writerDone:
			return
		}
	}
}

func (h *Handlers) handleFrame(ctx context.Context, id string, buf []byte, sub *subscriber) []byte {
	var f syncFrame
	if err := json.Unmarshal(buf, &f); err != nil {
		return encodeFrame(errorFrameFor(decodeError(err)))
	}

	input := docs.SyncInput{ID: id, SyncRequest: f.SyncRequest, DryRun: f.DryRun}
	var (
		out *docs.SyncOutput
		err error
	)
	switch f.Type {
	case "merge":
		out, err = h.svc.Merge(ctx, input)
	case "rebase":
		out, err = h.svc.Rebase(ctx, input)
	default:
		err = errors.NewInvalidRequest(`type must be "merge" or "rebase"`)
	}
	if err != nil {
		return encodeFrame(errorFrameFor(err))
	}

	if !out.DryRun {
		h.hub.notify(id, UpdateEvent{Type: "update", ID: id, Rev: out.Rev}, sub)
	}
	return encodeFrame(responseFrame{Type: "response", SyncOutput: out})
}

func errorFrameFor(err error) errorFrame {
	sErr := asSyncError(err)
	return errorFrame{
		Type: "error",
		Error: map[string]any{
			"code":    string(sErr.Code),
			"message": sErr.Message,
			"status":  sErr.Status,
		},
	}
}

func encodeFrame(v any) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		log.Printf("ws: encode frame: %v", err)
		buf, _ = json.Marshal(errorFrameFor(errors.NewInternal(err)))
	}
	return buf
}

// writeLoop owns all writes to conn. It exits when send is closed or a
// write fails, closing done either way.
func writeLoop(conn *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// unblock the reader
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
