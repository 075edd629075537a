package model

import "time"

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Participant identifies one of the two fixed members of a live session.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Set is a single logged set. The id is minted fresh by the adding client so
// concurrent appends from both participants commute to the union.
type Set struct {
	ID            string  `json:"id"`
	Reps          int     `json:"reps"`
	Weight        float64 `json:"weight"`
	AddedByUserID string  `json:"addedByUserId"`
	Seq           int64   `json:"seq"`
}

// Exercise is one movement within a live session. OwnerUserID determines
// which participant's column renders it and is never reassigned; either
// participant may append sets to it.
type Exercise struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	OwnerUserID   string `json:"ownerUserId"`
	Seq           int64  `json:"seq"`
	Sets          []Set  `json:"sets"`
	ReferenceSets []Set  `json:"referenceSets,omitempty"`
}

// LiveWorkoutSession is the shared mutable record of a joint live workout.
// Participants are fixed at creation; status only ever moves active -> ended.
// Exercises and sets are returned sorted by (Seq, ID).
type LiveWorkoutSession struct {
	ID           string        `json:"id"`
	ParticipantA Participant   `json:"participantA"`
	ParticipantB Participant   `json:"participantB"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
	Exercises    []Exercise    `json:"exercises"`
}

// HasParticipant reports whether userID is one of the two fixed participants.
func (s *LiveWorkoutSession) HasParticipant(userID string) bool {
	return s.ParticipantA.ID == userID || s.ParticipantB.ID == userID
}

// ExercisesOwnedBy returns the exercises rendered in userID's column.
// Ownership partitions the session: an exercise never appears on the other
// participant's side.
func (s *LiveWorkoutSession) ExercisesOwnedBy(userID string) []Exercise {
	out := make([]Exercise, 0, len(s.Exercises))
	for _, ex := range s.Exercises {
		if ex.OwnerUserID == userID {
			out = append(out, ex)
		}
	}
	return out
}

// SessionRef is a lightweight pointer to a session, returned by invite
// resolution and carried in join notifications.
type SessionRef struct {
	SessionID string `json:"sessionId"`
}
