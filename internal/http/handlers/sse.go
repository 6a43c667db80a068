package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"photostudio/internal/orchestrator"
)

// sseWriter streams orchestrator events as server-sent events. Event
// production is synchronous with the generation work, so the connection
// stays busy for the whole task.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// send writes one event frame and flushes it to the client.
func (s *sseWriter) send(event orchestrator.Event) bool {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Name, payload); err != nil {
		return false
	}
	s.flusher.Flush()
	return true
}
