package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/linguabridge/linguabridge/internal/event"
	"github.com/linguabridge/linguabridge/internal/logging"
)

// ServerEvent is the wire shape of one SSE payload:
// {"type": "...", "properties": {...}}
type ServerEvent struct {
	Type       string `json:"type"`
	Properties any    `json:"properties"`
}

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes one SSE event and flushes.
func (s *sseWriter) writeEvent(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", jsonData)
	if err != nil {
		return err
	}

	// ResponseController flushes through middleware wrappers; fall back to
	// the plain flusher if it cannot.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// events streams every bus event to the client until it disconnects.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Flush headers before parking on the event channel.
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent(ServerEvent{Type: "server.connected", Properties: map[string]any{}}); err != nil {
		return
	}

	events := make(chan event.Event, 10)
	unsub := event.SubscribeAll(func(e event.Event) {
		select {
		case events <- e:
		default:
			logging.Warn().
				Str("eventType", string(e.Type)).
				Msg("SSE event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(wireEvent(e)); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// wireEvent maps a bus event onto the client wire format. Tool
// presentations are keyed by kind — tool.exercise, tool.options,
// tool.propose_file_changes — with the payload fields flattened next to
// the toolCallId.
func wireEvent(e event.Event) ServerEvent {
	if data, ok := e.Data.(event.ToolPresentedData); ok {
		props := map[string]any{}
		if err := json.Unmarshal(data.Presentation.Payload, &props); err != nil {
			logging.Warn().Err(err).Msg("tool payload is not an object")
			props = map[string]any{"payload": data.Presentation.Payload}
		}
		props["toolCallId"] = data.Presentation.ToolCallID
		return ServerEvent{Type: "tool." + data.Presentation.Kind, Properties: props}
	}

	return ServerEvent{Type: string(e.Type), Properties: e.Data}
}
