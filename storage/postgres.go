package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kanban/domain"
)

const pgUniqueViolation = "23505"

// Postgres is the row store backed by the hosted PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL, pings it and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	for i, stmt := range schema {
		if _, err := pool.Exec(connectCtx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks that the database is reachable.
func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Postgres) EnsureUser(ctx context.Context, email string) (domain.User, error) {
	var (
		u       domain.User
		created int64
	)
	err := s.pool.QueryRow(ctx, `
		insert into users (id, email, created_at) values ($1, $2, $3)
		on conflict (email) do update set email = excluded.email
		returning id, email, created_at
	`, uuid.NewString(), normalizeEmail(email), time.Now().UTC().UnixNano()).Scan(&u.ID, &u.Email, &created)
	if err != nil {
		return domain.User{}, mapPgErr(err)
	}
	u.CreatedAt = fromNanos(created)
	return u, nil
}

func (s *Postgres) ListBoards(ctx context.Context, owner string) ([]domain.Board, error) {
	rows, err := s.pool.Query(ctx, `
		select id, name, owner, created_at from boards
		where owner = $1
		order by created_at desc
	`, owner)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	boards := []domain.Board{}
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, mapPgErr(err)
		}
		boards = append(boards, b)
	}
	return boards, mapPgErr(rows.Err())
}

func (s *Postgres) InsertBoard(ctx context.Context, b domain.Board) error {
	_, err := s.pool.Exec(ctx, `
		insert into boards (id, name, owner, created_at) values ($1, $2, $3, $4)
	`, b.ID, b.Name, b.Owner, b.CreatedAt.UnixNano())
	return mapPgErr(err)
}

func (s *Postgres) GetBoard(ctx context.Context, owner, id string) (*domain.Board, error) {
	b, err := scanBoard(s.pool.QueryRow(ctx, `
		select id, name, owner, created_at from boards
		where id = $1 and owner = $2
	`, id, owner))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapPgErr(err)
	}
	return &b, nil
}

func (s *Postgres) ListTasks(ctx context.Context, owner, boardID string) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, `
		select id, description, status, board, owner, position, created_at from tasks
		where board = $1 and owner = $2
		order by position asc, created_at asc
	`, boardID, owner)
	if err != nil {
		return nil, mapPgErr(err)
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
	return tasks, mapPgErr(rows.Err())
}

func (s *Postgres) MaxTaskPosition(ctx context.Context, owner, boardID string, status domain.Status) (int, bool, error) {
	var pos *int
	err := s.pool.QueryRow(ctx, `
		select max(position) from tasks
		where board = $1 and owner = $2 and status = $3
	`, boardID, owner, string(status)).Scan(&pos)
	if err != nil {
		return 0, false, mapPgErr(err)
	}
	if pos == nil {
		return 0, false, nil
	}
	return *pos, true, nil
}

func (s *Postgres) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := s.pool.Exec(ctx, `
		insert into tasks (id, description, status, board, owner, position, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.Description, string(t.Status), t.Board, t.Owner, t.Position, t.CreatedAt.UnixNano())
	return mapPgErr(err)
}

func (s *Postgres) UpdateTask(ctx context.Context, owner, boardID, id string, upd domain.TaskUpdate) (bool, error) {
	sets, args := taskUpdateSets(upd, func(n int) string { return "$" + strconv.Itoa(n) })
	if len(sets) == 0 {
		return false, errors.New("empty task update")
	}
	n := len(args)
	args = append(args, id, owner, boardID)
	query := fmt.Sprintf(`update tasks set %s where id = $%d and owner = $%d and board = $%d`,
		strings.Join(sets, ", "), n+1, n+2, n+3)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, mapPgErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) DeleteTask(ctx context.Context, owner, boardID, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		delete from tasks where id = $1 and owner = $2 and board = $3
	`, id, owner, boardID)
	if err != nil {
		return false, mapPgErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return domain.ErrConflict
		}
		return fmt.Errorf("db_error %s: %s", pgErr.Code, pgErr.Message)
	}
	return err
}
