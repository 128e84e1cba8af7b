package domain

import "time"

// User is the authenticated identity operations are scoped to.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
