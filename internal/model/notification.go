package model

import "time"

// SessionJoinNotification is the ephemeral pointer pushed to the inviter's
// mailbox when the other side accepts. It is consumed (read + deleted) at
// most once.
type SessionJoinNotification struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}
