package model

import "time"

type User struct {
	ID       int64  `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
}

// Presence is a user's online flag and the time they were last seen.
type Presence struct {
	UserID   int64      `db:"user_id" json:"user_id"`
	IsOnline bool       `db:"is_online" json:"is_online"`
	LastSeen *time.Time `db:"last_seen" json:"last_seen,omitempty"`
}
