package chi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSE event names of POST /api/chat/stream, in emission order.
const (
	eventCandidates = "candidates"
	eventToken      = "token"
	eventAnswer     = "answer"
	eventDone       = "done"
	eventError      = "error"
)

type tokenPayload struct {
	Text string `json:"text"`
}

// sseWriter frames JSON payloads as server-sent events and flushes each one.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// Send writes one event. An error means the client is gone.
func (s *sseWriter) Send(event string, payload any) error {
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return s.rc.Flush()
}
