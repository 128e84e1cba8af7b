package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"kanban/domain"
)

// SQLite is a single-file row store used for local development and tests.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path, creating the schema if needed.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Ping checks that the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) EnsureUser(ctx context.Context, email string) (domain.User, error) {
	email = normalizeEmail(email)
	var (
		u       domain.User
		created int64
	)
	err := s.db.QueryRowContext(ctx, `INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET email = excluded.email
		RETURNING id, email, created_at`,
		uuid.NewString(), email, time.Now().UTC().UnixNano(),
	).Scan(&u.ID, &u.Email, &created)
	if err != nil {
		return domain.User{}, fmt.Errorf("ensuring user: %w", err)
	}
	u.CreatedAt = fromNanos(created)
	return u, nil
}

func (s *SQLite) ListBoards(ctx context.Context, owner string) ([]domain.Board, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, owner, created_at FROM boards
		WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing boards: %w", err)
	}
	defer rows.Close()

	boards := []domain.Board{}
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (s *SQLite) InsertBoard(ctx context.Context, b domain.Board) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO boards (id, name, owner, created_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.Name, b.Owner, b.CreatedAt.UnixNano())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("inserting board: %w", err)
	}
	return nil
}

func (s *SQLite) GetBoard(ctx context.Context, owner, id string) (*domain.Board, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, owner, created_at FROM boards
		WHERE id = ? AND owner = ?`, id, owner)
	b, err := scanBoard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (s *SQLite) ListTasks(ctx context.Context, owner, boardID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, description, status, board, owner, position, created_at
		FROM tasks WHERE board = ? AND owner = ?
		ORDER BY position ASC, created_at ASC`, boardID, owner)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLite) MaxTaskPosition(ctx context.Context, owner, boardID string, status domain.Status) (int, bool, error) {
	var pos sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(position) FROM tasks
		WHERE board = ? AND owner = ? AND status = ?`, boardID, owner, string(status)).Scan(&pos)
	if err != nil {
		return 0, false, fmt.Errorf("reading max position: %w", err)
	}
	if !pos.Valid {
		return 0, false, nil
	}
	return int(pos.Int64), true, nil
}

func (s *SQLite) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (id, description, status, board, owner, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Description, string(t.Status), t.Board, t.Owner, t.Position, t.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateTask(ctx context.Context, owner, boardID, id string, upd domain.TaskUpdate) (bool, error) {
	sets, args := taskUpdateSets(upd, func(int) string { return "?" })
	if len(sets) == 0 {
		return false, errors.New("empty task update")
	}
	args = append(args, id, owner, boardID)
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+
		` WHERE id = ? AND owner = ? AND board = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("updating task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating task: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) DeleteTask(ctx context.Context, owner, boardID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND owner = ? AND board = ?`, id, owner, boardID)
	if err != nil {
		return false, fmt.Errorf("deleting task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting task: %w", err)
	}
	return n > 0, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
