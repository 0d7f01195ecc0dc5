package event

import (
	"github.com/linguabridge/linguabridge/pkg/types"
)

// SessionStartedData is published when a new agent session begins.
type SessionStartedData struct {
	SessionID string `json:"sessionId"`
	Topic     string `json:"topic"`
}

// SessionEndedData is published after a session is deactivated.
type SessionEndedData struct {
	Summary types.SessionSummary `json:"summary"`
}

// MessageCreatedData is published when a transcript message is appended.
type MessageCreatedData struct {
	Message *types.Message `json:"message"`
}

// AssistantTextData carries one narration unit to the client.
type AssistantTextData struct {
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

// AgentThinkingData toggles the client's busy indicator.
type AgentThinkingData struct {
	Thinking bool `json:"thinking"`
}

// ToolPresentedData asks the client to render a pending tool call.
type ToolPresentedData struct {
	Presentation types.ToolPresentation `json:"presentation"`
}

// ToolResolvedData is published when a pending tool call receives its answer.
type ToolResolvedData struct {
	ToolCallID string `json:"toolCallId"`
}

// ContentEditedData is published when a file under the content root changes.
type ContentEditedData struct {
	Path string `json:"path"`
}

// BridgeErrorData carries a single user-visible error.
type BridgeErrorData struct {
	Message string `json:"message"`
}
