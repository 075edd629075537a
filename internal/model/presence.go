package model

import "time"

// UserPresence is a user's best-effort online/offline status. It is written
// explicitly on sign-in and flipped to offline by the store's disconnect
// hook, never by an explicit client call on graceful exit.
type UserPresence struct {
	UserID     string    `json:"userId"`
	IsOnline   bool      `json:"isOnline"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}
