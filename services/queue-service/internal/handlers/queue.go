package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/realtime"
)

func roomParam(r *http.Request) string {
	q := r.URL.Query()
	if !q.Has("room") {
		return realtime.Aggregate
	}
	return strings.TrimSpace(q.Get("room"))
}

// QueueSnapshot returns the current projection of a room, or of every room
// when no room is given.
func (h *Handler) QueueSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshots.Snapshot(roomParam(r)))
}

// QueueStream pushes snapshot and countdown frames as server-sent events.
func (h *Handler) QueueStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	room := roomParam(r)
	sub := h.hub.Subscribe(room)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snap := h.snapshots.Snapshot(room)
	if err := writeEvent(w, realtime.Frame{Type: realtime.FrameSnapshot, Room: room, Snapshot: &snap}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case <-sub.Ready():
			for _, f := range sub.Next() {
				if err := writeEvent(w, f); err != nil {
					return
				}
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, f realtime.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Type, data)
	return err
}
