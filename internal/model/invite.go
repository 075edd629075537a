package model

import "time"

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRejected InviteStatus = "rejected"
)

// InviteTTL is the fixed validity window of a live-workout invite. Readers
// must treat an invite past its ExpiresAt as absent regardless of whether
// the scheduled deletion ever ran.
const InviteTTL = 60 * time.Second

// LiveWorkoutInvite is a time-boxed proposal from one user to another to
// start a joint live workout. Stored under the recipient's inbox, keyed by
// invite id.
type LiveWorkoutInvite struct {
	ID           string       `json:"id"`
	FromUserID   string       `json:"fromUserId"`
	FromUserName string       `json:"fromUserName"`
	ToUserID     string       `json:"toUserId"`
	Status       InviteStatus `json:"status"`
	CreatedAt    time.Time    `json:"createdAt"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}

// Expired reports whether the invite must be treated as absent at time now.
func (i *LiveWorkoutInvite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
