package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linguabridge/linguabridge/internal/bridge"
	"github.com/linguabridge/linguabridge/internal/logging"
	"github.com/linguabridge/linguabridge/internal/store"
	"github.com/linguabridge/linguabridge/pkg/types"
)

// health reports liveness.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// message dispatches one client envelope. A malformed payload is reported
// and the connection survives; bridge errors map to structured responses
// rather than crashing the transport.
func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	var env types.ClientEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed message: "+err.Error())
		return
	}

	ctx := r.Context()

	switch env.Type {
	case types.ClientGetState:
		state, err := s.manager.State(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"type": "state", "properties": state})

	case types.ClientNewSession:
		if env.Topic == "" {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "topic required")
			return
		}
		if env.TargetLanguage != nil {
			s.manager.SetTargetLanguage(*env.TargetLanguage)
		}
		id, err := s.manager.Start(ctx, env.Topic)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type":       "session_started",
			"properties": map[string]string{"sessionId": id},
		})

	case types.ClientChat:
		if env.Text == "" {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text required")
			return
		}
		if err := s.manager.Chat(ctx, env.Text, env.TargetLanguage); err != nil {
			if errors.Is(err, bridge.ErrNoActiveSession) {
				writeError(w, http.StatusConflict, ErrCodeNoActiveSession, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		writeSuccess(w)

	case types.ClientEndSession:
		summary, err := s.manager.End(ctx, env.Discard)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type":       "session_ended",
			"properties": map[string]any{"summary": summary},
		})

	case types.ClientResumeSession, types.ClientReconnect:
		// Only an explicit resume names a session; a reconnect re-attaches
		// to whatever is live or latest-active.
		sessionID := ""
		if env.Type == types.ClientResumeSession {
			sessionID = env.SessionID
		}
		state, err := s.manager.ResumeOrReconnect(ctx, sessionID, env.TargetLanguage)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, ErrCodeSessionNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"type": "state", "properties": state})

	case types.ClientToolResult:
		if env.ToolCallID == "" {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "toolCallId required")
			return
		}
		resolved := s.manager.ResolveTool(env.ToolCallID, env.Answer)
		if !resolved {
			logging.Warn().Str("toolCallId", env.ToolCallID).Msg("answer for unknown tool call")
		}
		writeJSON(w, http.StatusOK, map[string]bool{"resolved": resolved})

	default:
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "unknown message type: "+string(env.Type))
	}
}
