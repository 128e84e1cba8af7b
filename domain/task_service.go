package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskStorage defines the row operations needed for tasks.
type TaskStorage interface {
	// ListTasks returns the tasks of a board ordered by position, then creation time.
	ListTasks(ctx context.Context, owner, boardID string) ([]Task, error)
	// MaxTaskPosition reports the highest position in a column; ok is false for an empty column.
	MaxTaskPosition(ctx context.Context, owner, boardID string, status Status) (pos int, ok bool, err error)
	InsertTask(ctx context.Context, t Task) error
	// UpdateTask applies upd to the matching task and reports whether a row matched.
	UpdateTask(ctx context.Context, owner, boardID, id string, upd TaskUpdate) (bool, error)
	// DeleteTask removes the matching task and reports whether a row matched.
	DeleteTask(ctx context.Context, owner, boardID, id string) (bool, error)
}

// TaskService is the owner- and board-scoped access layer for tasks.
type TaskService struct {
	st     TaskStorage
	boards BoardService
	now    func() time.Time
}

func NewTaskService(st TaskStorage, boards BoardService) TaskService {
	return TaskService{st: st, boards: boards, now: time.Now}
}

// ListTasks returns the tasks of boardID owned by user.
func (s TaskService) ListTasks(ctx context.Context, user *User, boardID string) ([]Task, error) {
	if user == nil {
		return nil, errUnauthenticated
	}
	tasks, err := s.st.ListTasks(ctx, user.ID, boardID)
	if err != nil {
		return nil, storageFailure("Failed to load tasks", err)
	}
	if tasks == nil {
		tasks = []Task{}
	}
	return tasks, nil
}

// CreateTask appends a task to the tail of its column. The next position is
// read and then written without isolation, so concurrent creates in the same
// column may share a position; ListTasks orders such ties by creation time.
func (s TaskService) CreateTask(ctx context.Context, user *User, boardID, description, status string) (Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Task{}, validation("Task description is required")
	}
	st := StatusTodo
	if status != "" {
		var ok bool
		if st, ok = ParseStatus(status); !ok {
			return Task{}, validation("Invalid task type")
		}
	}
	if user == nil {
		return Task{}, errUnauthenticated
	}
	if _, err := s.boards.GetBoard(ctx, user, boardID); err != nil {
		if KindOf(err) == KindNotFound {
			return Task{}, errBoardForbidden
		}
		return Task{}, err
	}

	pos := 0
	last, ok, err := s.st.MaxTaskPosition(ctx, user.ID, boardID, st)
	if err != nil {
		return Task{}, storageFailure("Failed to create task", err)
	}
	if ok {
		pos = last + 1
	}

	t := Task{
		ID:          uuid.NewString(),
		Description: description,
		Status:      st,
		Board:       boardID,
		Owner:       user.ID,
		Position:    pos,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.st.InsertTask(ctx, t); err != nil {
		return Task{}, storageFailure("Failed to create task", err)
	}
	log.WithFields(log.Fields{"task": t.ID, "board": boardID, "status": st, "position": pos}).Debug("task created")
	return t, nil
}

// UpdateTask applies a partial update. An update that matches no task owned
// by user on boardID fails with NotFound.
func (s TaskService) UpdateTask(ctx context.Context, user *User, boardID, taskID string, upd TaskUpdate) error {
	if strings.TrimSpace(taskID) == "" {
		return validation("Task ID is required")
	}
	if user == nil {
		return errUnauthenticated
	}
	if upd.Description != nil {
		d := strings.TrimSpace(*upd.Description)
		upd.Description = &d
	}
	if upd.Status != nil {
		if _, ok := ParseStatus(string(*upd.Status)); !ok {
			return validation("Invalid task type")
		}
	}
	if upd.Empty() {
		return nil
	}
	matched, err := s.st.UpdateTask(ctx, user.ID, boardID, taskID, upd)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errTaskNotFound
		}
		return storageFailure("Failed to update task", err)
	}
	if !matched {
		return errTaskNotFound
	}
	return nil
}

// DeleteTask removes a task owned by user on boardID.
func (s TaskService) DeleteTask(ctx context.Context, user *User, boardID, taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return validation("Task ID is required")
	}
	if user == nil {
		return errUnauthenticated
	}
	matched, err := s.st.DeleteTask(ctx, user.ID, boardID, taskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errTaskNotFound
		}
		return storageFailure("Failed to delete task", err)
	}
	if !matched {
		return errTaskNotFound
	}
	return nil
}
