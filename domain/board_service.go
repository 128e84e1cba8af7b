package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BoardStorage defines the row operations needed for boards.
type BoardStorage interface {
	// ListBoards returns the owner's boards, newest first.
	ListBoards(ctx context.Context, owner string) ([]Board, error)
	// InsertBoard stores b, returning ErrConflict when owner already has a board with that name.
	InsertBoard(ctx context.Context, b Board) error
	// GetBoard returns nil when no board with id belongs to owner.
	GetBoard(ctx context.Context, owner, id string) (*Board, error)
}

// BoardService is the owner-scoped access layer for boards.
type BoardService struct {
	st  BoardStorage
	now func() time.Time
}

func NewBoardService(st BoardStorage) BoardService {
	return BoardService{st: st, now: time.Now}
}

// ListBoards returns the user's boards. A nil user has no boards.
func (s BoardService) ListBoards(ctx context.Context, user *User) ([]Board, error) {
	if user == nil {
		return []Board{}, nil
	}
	boards, err := s.st.ListBoards(ctx, user.ID)
	if err != nil {
		return []Board{}, storageFailure("Failed to load boards", err)
	}
	if boards == nil {
		boards = []Board{}
	}
	return boards, nil
}

// CreateBoard creates a board named name for user.
func (s BoardService) CreateBoard(ctx context.Context, user *User, name string) (Board, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Board{}, validation("Board name is required")
	}
	if user == nil {
		return Board{}, errUnauthenticated
	}
	b := Board{
		ID:        uuid.NewString(),
		Name:      name,
		Owner:     user.ID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.st.InsertBoard(ctx, b); err != nil {
		if errors.Is(err, ErrConflict) {
			return Board{}, &Error{Kind: KindDuplicateName, Message: "A board with this name already exists", Err: err}
		}
		return Board{}, storageFailure("Failed to create board. Please try again.", err)
	}
	return b, nil
}

// GetBoard loads a board owned by user. Boards that do not exist and boards
// owned by someone else produce the same NotFound error.
func (s BoardService) GetBoard(ctx context.Context, user *User, id string) (Board, error) {
	if user == nil {
		return Board{}, errUnauthenticated
	}
	if strings.TrimSpace(id) == "" {
		return Board{}, errBoardNotFound
	}
	b, err := s.st.GetBoard(ctx, user.ID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Board{}, errBoardNotFound
		}
		return Board{}, storageFailure("Failed to load board", err)
	}
	if b == nil {
		return Board{}, errBoardNotFound
	}
	return *b, nil
}
