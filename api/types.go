package api

import (
	"context"
	"time"

	"kanban/auth"
	"kanban/domain"
)

// Boards is the board access layer used by handlers.
type Boards interface {
	ListBoards(ctx context.Context, user *domain.User) ([]domain.Board, error)
	CreateBoard(ctx context.Context, user *domain.User, name string) (domain.Board, error)
	GetBoard(ctx context.Context, user *domain.User, id string) (domain.Board, error)
}

// Tasks is the task access layer used by handlers.
type Tasks interface {
	ListTasks(ctx context.Context, user *domain.User, boardID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, user *domain.User, boardID, description, status string) (domain.Task, error)
	UpdateTask(ctx context.Context, user *domain.User, boardID, taskID string, upd domain.TaskUpdate) error
	DeleteTask(ctx context.Context, user *domain.User, boardID, taskID string) error
}

// Authenticator is the auth backend as seen by handlers.
type Authenticator interface {
	SignInWithOTP(ctx context.Context, email, origin, redirectTo string) error
	ExchangeCodeForSession(ctx context.Context, code string) (*auth.Session, error)
	GetSession(ctx context.Context, token string) (*auth.Session, error)
	GetUser(ctx context.Context, token string) (*domain.User, error)
	SignOut(ctx context.Context, token string) error
	SessionTTL() time.Duration
	Ping(ctx context.Context) error
}

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles everything Register needs.
type Deps struct {
	Boards Boards
	Tasks  Tasks
	Auth   Authenticator
	// Store is the row store checked by /healthz. Optional.
	Store Pinger
	// PublicURL is the origin used in emailed links. When empty the request's
	// scheme and host are used.
	PublicURL    string
	CookieSecure bool
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type boardsResponse struct {
	Boards []domain.Board `json:"boards"`
}

type boardResponse struct {
	Board domain.Board  `json:"board"`
	Tasks []domain.Task `json:"tasks"`
}
