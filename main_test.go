package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"kanban/domain"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "storage-init"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %s subcommand, got %v %v", name, cmd, err)
		}
	}
}

func TestInitStorageAndOpenSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "kanban.db")
	cfg := config{Backend: backendSQLite, SQLitePath: path}
	logger, hook := test.NewNullLogger()

	if err := initStorage(ctx, cfg, logger); err != nil {
		t.Fatalf("init storage: %v", err)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Message != "storage init complete" {
		t.Fatalf("unexpected log: %#v", entry)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()

	user, err := store.EnsureUser(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	boards := domain.NewBoardService(store)
	if _, err := boards.CreateBoard(ctx, &user, "Sprint"); err != nil {
		t.Fatalf("create board: %v", err)
	}
	list, err := boards.ListBoards(ctx, &user)
	if err != nil || len(list) != 1 {
		t.Fatalf("list boards: %#v %v", list, err)
	}
}
