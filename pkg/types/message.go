package types

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. Messages are append-only and immutable
// once written; Seq is strictly increasing within a session and gives the
// replay order on resume.
type Message struct {
	Seq       int64  `json:"seq"`
	SessionID string `json:"sessionID"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	MessageID string `json:"messageID"`
	CreatedAt int64  `json:"createdAt"`
}
