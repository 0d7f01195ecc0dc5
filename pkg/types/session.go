// Package types provides the core data types for the linguabridge server.
package types

// Session represents one tutoring conversation for a topic.
// At most one session has Active set at any time; starting a new session
// deactivates all others. Sessions are never deleted, only deactivated.
type Session struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"createdAt"`
}

// SessionSummary is reported to the client when a session ends.
type SessionSummary struct {
	SessionID string `json:"sessionID"`
	Topic     string `json:"topic"`
	Messages  int    `json:"messages"`
	Committed bool   `json:"committed"`
	Pushed    bool   `json:"pushed"`
}
