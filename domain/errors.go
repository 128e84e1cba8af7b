package domain

import "errors"

var (
	// ErrConflict is returned by storage when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned by storage when a scoped lookup matches no row.
	ErrNotFound = errors.New("not found")
)

// Kind classifies failures surfaced by the access layers.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindDuplicateName
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindDuplicateName:
		return "duplicate_name"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// Error is the single failure type returned by BoardService and TaskService.
// Message is safe to show to the caller; Err holds the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind of err, or KindStorage for errors not produced by this package.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorage
}

func validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

func storageFailure(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Err: err}
}

var (
	errUnauthenticated = &Error{Kind: KindUnauthenticated, Message: "You must be signed in"}
	errBoardNotFound   = &Error{Kind: KindNotFound, Message: "Board not found"}
	errBoardForbidden  = &Error{Kind: KindForbidden, Message: "You do not have access to this board"}
	errTaskNotFound    = &Error{Kind: KindNotFound, Message: "Task not found"}
)
