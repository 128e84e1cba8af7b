package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"kanban/domain"
)

const (
	edmInt32 = "Edm.Int32"
	edmInt64 = "Edm.Int64"

	userPartition = "user"
	// board names are indexed in the owner's partition under this RowKey prefix
	boardNamePrefix = "name~"
)

// TableNames configures the Azure tables used by Tables.
type TableNames struct {
	Boards string
	Tasks  string
	Users  string
}

// Tables is the row store backed by Azure Table Storage. Rows are partitioned
// by owner so every query is a single-partition scan.
type Tables struct {
	boardTable *aztables.Client
	taskTable  *aztables.Client
	userTable  *aztables.Client
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr string, names TableNames) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{
		boardTable: svc.NewClient(names.Boards),
		taskTable:  svc.NewClient(names.Tasks),
		userTable:  svc.NewClient(names.Users),
	}, nil
}

type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type userEntity struct {
	entity
	ID            string `json:"ID"`
	Email         string `json:"Email"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type boardEntity struct {
	entity
	Name          string `json:"Name"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type boardNameEntity struct {
	entity
	BoardID string `json:"BoardID"`
}

type taskEntity struct {
	entity
	Description   string `json:"Description"`
	Status        string `json:"Status"`
	Board         string `json:"Board"`
	Position      int    `json:"Position"`
	PositionType  string `json:"Position@odata.type"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type taskUpdateEntity struct {
	entity
	Description *string `json:"Description,omitempty"`
	Status      *string `json:"Status,omitempty"`
}

// EnsureUser returns the user registered for email, creating it on first use.
func (s *Tables) EnsureUser(ctx context.Context, email string) (domain.User, error) {
	email = normalizeEmail(email)
	rk := encodeKey(email)
	u, err := s.getUser(ctx, rk)
	if err != nil {
		return domain.User{}, err
	}
	if u != nil {
		return *u, nil
	}

	now := time.Now().UTC()
	ent := userEntity{
		entity:        entity{PartitionKey: userPartition, RowKey: rk},
		ID:            uuid.NewString(),
		Email:         email,
		CreatedAt:     now.UnixNano(),
		CreatedAtType: edmInt64,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		if isStatus(err, http.StatusConflict) {
			// lost a race with a concurrent sign-in for the same email
			u, err := s.getUser(ctx, rk)
			if err != nil {
				return domain.User{}, err
			}
			if u == nil {
				return domain.User{}, errors.New("user vanished after conflict")
			}
			return *u, nil
		}
		return domain.User{}, err
	}
	return decodeUser(ent), nil
}

func (s *Tables) getUser(ctx context.Context, rk string) (*domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, userPartition, rk, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ent userEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	u := decodeUser(ent)
	return &u, nil
}

func (s *Tables) ListBoards(ctx context.Context, owner string) ([]domain.Board, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and RowKey lt '%s'", escapeOData(owner), boardNamePrefix)
	ents, err := listEntities[boardEntity](ctx, s.boardTable, filter)
	if err != nil {
		return nil, err
	}
	boards := make([]domain.Board, 0, len(ents))
	for _, e := range ents {
		boards = append(boards, decodeBoard(e))
	}
	sort.SliceStable(boards, func(i, j int) bool { return boards[i].CreatedAt.After(boards[j].CreatedAt) })
	return boards, nil
}

// Ping checks that the users table can be read.
func (s *Tables) Ping(ctx context.Context) error {
	top := int32(1)
	sel := "RowKey"
	pager := s.userTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top, Select: &sel})
	_, err := pager.NextPage(ctx)
	return err
}

// InsertBoard claims the board name first so a second board with the same
// name for the same owner fails with ErrConflict.
func (s *Tables) InsertBoard(ctx context.Context, b domain.Board) error {
	nameEnt := boardNameEntity{
		entity:  entity{PartitionKey: b.Owner, RowKey: boardNameKey(b.Name)},
		BoardID: b.ID,
	}
	payload, err := json.Marshal(nameEnt)
	if err != nil {
		return err
	}
	if _, err := s.boardTable.AddEntity(ctx, payload, nil); err != nil {
		if isStatus(err, http.StatusConflict) {
			return domain.ErrConflict
		}
		return err
	}

	payload, err = json.Marshal(encodeBoard(b))
	if err == nil {
		_, err = s.boardTable.AddEntity(ctx, payload, nil)
	}
	if err != nil {
		if _, derr := s.boardTable.DeleteEntity(ctx, nameEnt.PartitionKey, nameEnt.RowKey, nil); derr != nil {
			return fmt.Errorf("inserting board: %w (releasing name: %v)", err, derr)
		}
		return err
	}
	return nil
}

func (s *Tables) GetBoard(ctx context.Context, owner, id string) (*domain.Board, error) {
	if !validRowKey(id) {
		return nil, nil
	}
	resp, err := s.boardTable.GetEntity(ctx, owner, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ent boardEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	b := decodeBoard(ent)
	return &b, nil
}

func (s *Tables) ListTasks(ctx context.Context, owner, boardID string) ([]domain.Task, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and Board eq '%s'", escapeOData(owner), escapeOData(boardID))
	ents, err := listEntities[taskEntity](ctx, s.taskTable, filter)
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(ents))
	for _, e := range ents {
		tasks = append(tasks, decodeTask(e))
	}
	sortTasks(tasks)
	return tasks, nil
}

func (s *Tables) MaxTaskPosition(ctx context.Context, owner, boardID string, status domain.Status) (int, bool, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and Board eq '%s' and Status eq '%s'",
		escapeOData(owner), escapeOData(boardID), escapeOData(string(status)))
	ents, err := listEntities[taskEntity](ctx, s.taskTable, filter)
	if err != nil {
		return 0, false, err
	}
	if len(ents) == 0 {
		return 0, false, nil
	}
	last := ents[0].Position
	for _, e := range ents[1:] {
		if e.Position > last {
			last = e.Position
		}
	}
	return last, true, nil
}

func (s *Tables) InsertTask(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(encodeTask(t))
	if err == nil {
		_, err = s.taskTable.AddEntity(ctx, payload, nil)
	}
	return err
}

func (s *Tables) UpdateTask(ctx context.Context, owner, boardID, id string, upd domain.TaskUpdate) (bool, error) {
	ent, etag, err := s.getTask(ctx, owner, id)
	if err != nil || ent == nil || ent.Board != boardID {
		return false, err
	}
	patch := taskUpdateEntity{entity: ent.entity, Description: upd.Description}
	if upd.Status != nil {
		st := string(*upd.Status)
		patch.Status = &st
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return false, err
	}
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Tables) DeleteTask(ctx context.Context, owner, boardID, id string) (bool, error) {
	ent, etag, err := s.getTask(ctx, owner, id)
	if err != nil || ent == nil || ent.Board != boardID {
		return false, err
	}
	if _, err := s.taskTable.DeleteEntity(ctx, owner, id, &aztables.DeleteEntityOptions{IfMatch: &etag}); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Tables) getTask(ctx context.Context, owner, id string) (*taskEntity, azcore.ETag, error) {
	if !validRowKey(id) {
		return nil, "", nil
	}
	resp, err := s.taskTable.GetEntity(ctx, owner, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, "", err
	}
	return &ent, resp.ETag, nil
}

func listEntities[T any](ctx context.Context, client *aztables.Client, filter string) ([]T, error) {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []T
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent T
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
		}
	}
	return out, nil
}

func encodeBoard(b domain.Board) boardEntity {
	return boardEntity{
		entity:        entity{PartitionKey: b.Owner, RowKey: b.ID},
		Name:          b.Name,
		CreatedAt:     b.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	}
}

func decodeBoard(e boardEntity) domain.Board {
	return domain.Board{ID: e.RowKey, Name: e.Name, Owner: e.PartitionKey, CreatedAt: fromNanos(e.CreatedAt)}
}

func encodeTask(t domain.Task) taskEntity {
	return taskEntity{
		entity:        entity{PartitionKey: t.Owner, RowKey: t.ID},
		Description:   t.Description,
		Status:        string(t.Status),
		Board:         t.Board,
		Position:      t.Position,
		PositionType:  edmInt32,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	}
}

func decodeTask(e taskEntity) domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		Board:       e.Board,
		Owner:       e.PartitionKey,
		Position:    e.Position,
		CreatedAt:   fromNanos(e.CreatedAt),
	}
}

func decodeUser(e userEntity) domain.User {
	return domain.User{ID: e.ID, Email: e.Email, CreatedAt: fromNanos(e.CreatedAt)}
}

func sortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// boardNameKey maps a board name to a RowKey. Names may contain characters
// that are not allowed in keys, so they are base64url encoded.
func boardNameKey(name string) string {
	return boardNamePrefix + encodeKey(name)
}

func encodeKey(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func escapeOData(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// validRowKey rejects ids containing characters Azure Tables forbids in keys,
// and the RowKeys of board-name index entities.
func validRowKey(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\\#?\t\n\r") && !strings.HasPrefix(id, boardNamePrefix)
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
