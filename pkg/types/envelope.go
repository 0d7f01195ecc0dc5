package types

import "encoding/json"

// ClientEnvelopeType enumerates client-to-server message types.
type ClientEnvelopeType string

const (
	ClientGetState      ClientEnvelopeType = "get_state"
	ClientNewSession    ClientEnvelopeType = "new_session"
	ClientChat          ClientEnvelopeType = "chat"
	ClientEndSession    ClientEnvelopeType = "end_session"
	ClientResumeSession ClientEnvelopeType = "resume_session"
	ClientReconnect     ClientEnvelopeType = "reconnect"
	ClientToolResult    ClientEnvelopeType = "tool_result"
)

// ClientEnvelope is the wire message a client sends to the server. Fields
// are populated according to Type; unknown fields are ignored.
type ClientEnvelope struct {
	Type           ClientEnvelopeType `json:"type"`
	Topic          string             `json:"topic,omitempty"`
	Text           string             `json:"text,omitempty"`
	SessionID      string             `json:"sessionId,omitempty"`
	Discard        bool               `json:"discard,omitempty"`
	TargetLanguage *bool              `json:"targetLanguage,omitempty"`
	ToolCallID     string             `json:"toolCallId,omitempty"`
	Answer         json.RawMessage    `json:"answer,omitempty"`
}

// State is the reply to get_state and the payload sent on reconnect.
type State struct {
	Messages      []*Message `json:"messages"`
	SessionActive bool       `json:"sessionActive"`
	SessionID     string     `json:"sessionId,omitempty"`
	Topic         string     `json:"topic,omitempty"`
	Onboarded     bool       `json:"onboarded"`
}

// AssistantText is the server event carrying one narration unit.
type AssistantText struct {
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

// Thinking is the server event toggling the client's busy indicator.
type Thinking struct {
	Thinking bool `json:"thinking"`
}

// ToolPresentation is the server event asking the client to render a tool
// request. Kind is one of "exercise", "options", "propose_file_changes".
type ToolPresentation struct {
	Kind       string          `json:"kind"`
	ToolCallID string          `json:"toolCallId"`
	Payload    json.RawMessage `json:"payload"`
}
