package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"kanban/domain"
)

func TestMapPgErr(t *testing.T) {
	if err := mapPgErr(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := mapPgErr(&pgconn.PgError{Code: "23505"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for unique violation, got %v", err)
	}
	err := mapPgErr(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	if err == nil || errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected generic db error, got %v", err)
	}
	plain := errors.New("network")
	if err := mapPgErr(plain); err != plain {
		t.Fatalf("expected passthrough, got %v", err)
	}
}

func TestTaskUpdateSetsPlaceholders(t *testing.T) {
	desc := "d"
	st := domain.StatusDone
	sets, args := taskUpdateSets(domain.TaskUpdate{Description: &desc, Status: &st}, func(n int) string {
		return "$" + string(rune('0'+n))
	})
	if len(sets) != 2 || sets[0] != "description = $1" || sets[1] != "status = $2" {
		t.Fatalf("unexpected sets: %v", sets)
	}
	if len(args) != 2 || args[0] != "d" || args[1] != "done" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestPostgresIntegration(t *testing.T) {
	url := os.Getenv("KANBAN_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("KANBAN_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)

	owner := uuid.NewString()
	b := domain.Board{ID: uuid.NewString(), Name: "Sprint", Owner: owner, CreatedAt: t0}
	if err := s.InsertBoard(ctx, b); err != nil {
		t.Fatalf("insert board: %v", err)
	}
	dup := domain.Board{ID: uuid.NewString(), Name: "Sprint", Owner: owner, CreatedAt: t0}
	if err := s.InsertBoard(ctx, dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := s.GetBoard(ctx, uuid.NewString(), b.ID)
	if err != nil || got != nil {
		t.Fatalf("expected foreign lookup to be empty, got %#v %v", got, err)
	}

	task := domain.Task{ID: uuid.NewString(), Description: "x", Status: domain.StatusTodo, Board: b.ID, Owner: owner, CreatedAt: t0}
	if err := s.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	last, ok, err := s.MaxTaskPosition(ctx, owner, b.ID, domain.StatusTodo)
	if err != nil || !ok || last != 0 {
		t.Fatalf("max position: %d %v %v", last, ok, err)
	}
	done := domain.StatusDone
	matched, err := s.UpdateTask(ctx, owner, b.ID, task.ID, domain.TaskUpdate{Status: &done})
	if err != nil || !matched {
		t.Fatalf("update: %v %v", matched, err)
	}
	matched, err = s.DeleteTask(ctx, owner, b.ID, task.ID)
	if err != nil || !matched {
		t.Fatalf("delete: %v %v", matched, err)
	}
}
