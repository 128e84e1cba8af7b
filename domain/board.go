package domain

import "time"

// Board is a named collection of tasks owned by one user.
type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}
