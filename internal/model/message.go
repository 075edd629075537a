package model

import "time"

// Message is one entry in the append-only direct-message log.
type Message struct {
	ID         string    `json:"id" bson:"_id"`
	SenderID   string    `json:"senderId" bson:"senderId"`
	ReceiverID string    `json:"receiverId" bson:"receiverId"`
	Text       string    `json:"text" bson:"text"`
	SentAt     time.Time `json:"sentAt" bson:"sentAt"`
	IsRead     bool      `json:"isRead" bson:"isRead"`
}

// Conversation is derived state: the latest message exchanged with a
// counterpart plus the unread count. Recomputed from the message log, never
// persisted.
type Conversation struct {
	OtherUserID string  `json:"otherUserId"`
	LastMessage Message `json:"lastMessage"`
	UnreadCount int     `json:"unreadCount"`
}
