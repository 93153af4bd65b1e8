package httputil

import (
	"fmt"
	"net/http"
)

// EventStream writes server-sent events to one client.
type EventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// StartEventStream sets the event-stream headers and sends an initial
// comment so the client sees the connection open. It writes a 500 and
// returns false when w cannot flush.
func StartEventStream(w http.ResponseWriter) (*EventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	s := &EventStream{w: w, flusher: flusher}
	if err := s.Comment("ping"); err != nil {
		return nil, false
	}
	return s, true
}

// Comment sends a ": text" line, which clients ignore.
func (s *EventStream) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Send writes one named event. data must not contain newlines.
func (s *EventStream) Send(event string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
