package storage

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"kanban/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	task := domain.Task{
		ID:          "t1",
		Description: "write docs",
		Status:      domain.StatusDoing,
		Board:       "b1",
		Owner:       "u1",
		Position:    3,
		CreatedAt:   time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC),
	}
	payload, err := json.Marshal(encodeTask(task))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"PartitionKey":"u1"`, `"RowKey":"t1"`, `"CreatedAt@odata.type":"Edm.Int64"`, `"Position":3`} {
		if !strings.Contains(string(payload), want) {
			t.Fatalf("expected %s in %s", want, payload)
		}
	}
	var ent taskEntity
	if err := json.Unmarshal(payload, &ent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := decodeTask(ent)
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("created_at mismatch: %v", got.CreatedAt)
	}
	got.CreatedAt = task.CreatedAt
	if got != task {
		t.Fatalf("round trip mismatch: %#v", got)
	}
}

func TestDecodeBoardEntityFromTableResponse(t *testing.T) {
	data := []byte(`{"PartitionKey":"owner","RowKey":"b1","Name":"Sprint","CreatedAt":"1700000000000000000","CreatedAt@odata.type":"Edm.Int64"}`)
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b := decodeBoard(ent)
	if b.ID != "b1" || b.Owner != "owner" || b.Name != "Sprint" || b.CreatedAt.UnixNano() != 1700000000000000000 {
		t.Fatalf("unexpected board: %#v", b)
	}
}

func TestBoardNameKeySortsAfterBoardIDs(t *testing.T) {
	key := boardNameKey("Sprint / Q1 #2?")
	if !strings.HasPrefix(key, boardNamePrefix) {
		t.Fatalf("missing prefix: %s", key)
	}
	if strings.ContainsAny(key, "/\\#?\t\n\r") {
		t.Fatalf("name key contains forbidden characters: %s", key)
	}
	// board ids are UUIDs; the board listing filter relies on them sorting before the name index
	if !("ffffffff-ffff-ffff-ffff-ffffffffffff" < boardNamePrefix) {
		t.Fatalf("uuid row keys must sort before %q", boardNamePrefix)
	}
}

func TestNameIndexIsNotAddressableAsEntity(t *testing.T) {
	key := boardNameKey("Sprint")
	if validRowKey(key) {
		t.Fatalf("name index key %q accepted as an entity id", key)
	}
	if !validRowKey("0b7e6a52-4f1e-4d1a-9a43-3b7f1d2c5e11") {
		t.Fatalf("uuid rejected")
	}

	// rejected before any table call, so no client is needed
	s := &Tables{}
	ctx := context.Background()
	b, err := s.GetBoard(ctx, "owner", key)
	if err != nil || b != nil {
		t.Fatalf("expected no board, got %#v %v", b, err)
	}
	ok, err := s.UpdateTask(ctx, "owner", "board", key, domain.TaskUpdate{})
	if err != nil || ok {
		t.Fatalf("expected no update, got %v %v", ok, err)
	}
	ok, err = s.DeleteTask(ctx, "owner", "board", key)
	if err != nil || ok {
		t.Fatalf("expected no delete, got %v %v", ok, err)
	}
}

func TestEscapeOData(t *testing.T) {
	if got := escapeOData("o'brien"); got != "o''brien" {
		t.Fatalf("unexpected escape: %s", got)
	}
}

func TestSortTasksTieBreaksOnCreation(t *testing.T) {
	tasks := []domain.Task{
		{ID: "late", Position: 0, CreatedAt: t0.Add(time.Second)},
		{ID: "second", Position: 1, CreatedAt: t0},
		{ID: "early", Position: 0, CreatedAt: t0},
	}
	sortTasks(tasks)
	if tasks[0].ID != "early" || tasks[1].ID != "late" || tasks[2].ID != "second" {
		t.Fatalf("unexpected order: %v %v %v", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
}
