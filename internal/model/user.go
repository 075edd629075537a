package model

import "time"

// User is a stored profile. Username uniqueness is enforced through the
// store's compare-and-set path, not by this record.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Username     string    `json:"username" bson:"username"`
	DisplayName  string    `json:"displayName" bson:"displayName"`
	PasswordHash string    `json:"-" bson:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}
