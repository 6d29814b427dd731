package models

import "encoding/json"

// Notification is a user-facing message delivered on a realtime channel.
type Notification struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Type      string          `json:"type,omitempty"` // info, success, warning, error
	Timestamp string          `json:"timestamp,omitempty"`
	Read      bool            `json:"read"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Key identifies the notification; senders that omit id are keyed by content.
func (n Notification) Key() string {
	if n.ID != "" {
		return n.ID
	}
	return n.Title + "-" + n.Message + "-" + n.Timestamp
}
