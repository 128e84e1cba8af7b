package domain

import "time"

// Status is the column a task sits in.
type Status string

const (
	StatusTodo  Status = "todo"
	StatusDoing Status = "doing"
	StatusDone  Status = "done"
)

// ParseStatus validates a column name received from a client.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusTodo, StatusDoing, StatusDone:
		return Status(s), true
	}
	return "", false
}

// Task represents a single card on a board.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Board       string    `json:"board"`
	Owner       string    `json:"owner"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskUpdate carries partial updates for a task. Nil fields are left unchanged.
type TaskUpdate struct {
	Description *string
	Status      *Status
}

// Empty reports whether the update changes nothing.
func (u TaskUpdate) Empty() bool {
	return u.Description == nil && u.Status == nil
}
