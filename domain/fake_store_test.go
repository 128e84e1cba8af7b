package domain

import (
	"context"
	"errors"
	"sort"
)

type fakeStore struct {
	boards map[string]Board
	tasks  map[string]Task

	boardsErr error
	insertErr error
	listErr   error
	maxErr    error
	inserted  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{boards: map[string]Board{}, tasks: map[string]Task{}}
}

func (f *fakeStore) ListBoards(ctx context.Context, owner string) ([]Board, error) {
	if f.boardsErr != nil {
		return nil, f.boardsErr
	}
	var out []Board
	for _, b := range f.boards {
		if b.Owner == owner {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) InsertBoard(ctx context.Context, b Board) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, existing := range f.boards {
		if existing.Owner == b.Owner && existing.Name == b.Name {
			return ErrConflict
		}
	}
	f.boards[b.ID] = b
	f.inserted++
	return nil
}

func (f *fakeStore) GetBoard(ctx context.Context, owner, id string) (*Board, error) {
	if f.boardsErr != nil {
		return nil, f.boardsErr
	}
	b, ok := f.boards[id]
	if !ok || b.Owner != owner {
		return nil, nil
	}
	return &b, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, owner, boardID string) ([]Task, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Task
	for _, t := range f.tasks {
		if t.Owner == owner && t.Board == boardID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeStore) MaxTaskPosition(ctx context.Context, owner, boardID string, status Status) (int, bool, error) {
	if f.maxErr != nil {
		return 0, false, f.maxErr
	}
	max, found := 0, false
	for _, t := range f.tasks {
		if t.Owner != owner || t.Board != boardID || t.Status != status {
			continue
		}
		if !found || t.Position > max {
			max = t.Position
			found = true
		}
	}
	return max, found, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.tasks[t.ID]; ok {
		return errors.New("duplicate task id")
	}
	f.tasks[t.ID] = t
	f.inserted++
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, owner, boardID, id string, upd TaskUpdate) (bool, error) {
	t, ok := f.tasks[id]
	if !ok || t.Owner != owner || t.Board != boardID {
		return false, nil
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	f.tasks[id] = t
	return true, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, owner, boardID, id string) (bool, error) {
	t, ok := f.tasks[id]
	if !ok || t.Owner != owner || t.Board != boardID {
		return false, nil
	}
	delete(f.tasks, id)
	return true, nil
}
