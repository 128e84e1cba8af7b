package storage

import (
	"fmt"
	"strings"
	"time"

	"kanban/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBoard(row rowScanner) (domain.Board, error) {
	var (
		b       domain.Board
		created int64
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Owner, &created); err != nil {
		return domain.Board{}, err
	}
	b.CreatedAt = fromNanos(created)
	return b, nil
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t       domain.Task
		status  string
		created int64
	)
	if err := row.Scan(&t.ID, &t.Description, &status, &t.Board, &t.Owner, &t.Position, &created); err != nil {
		return domain.Task{}, fmt.Errorf("scanning task: %w", err)
	}
	t.Status = domain.Status(status)
	t.CreatedAt = fromNanos(created)
	return t, nil
}

// taskUpdateSets builds the SET clauses for a partial task update. placeholder
// renders the n-th (1-based) bind parameter for the target dialect.
func taskUpdateSets(upd domain.TaskUpdate, placeholder func(n int) string) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	if upd.Description != nil {
		args = append(args, *upd.Description)
		sets = append(sets, "description = "+placeholder(len(args)))
	}
	if upd.Status != nil {
		args = append(args, string(*upd.Status))
		sets = append(sets, "status = "+placeholder(len(args)))
	}
	return sets, args
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
