package storage

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
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

	"taskboard-api/domain"
)

// maxTransactionSize is the entity limit of one Azure Tables transaction.
const maxTransactionSize = 100

// ErrBatchTooLarge is returned when a batch cannot fit in one transaction.
var ErrBatchTooLarge = errors.New("batch exceeds transaction limit")

const (
	userPartition  = "user"
	emailPartition = "email"
	tokenPartition = "token"
)

// TableNames names the tables backing a Tables store.
type TableNames struct {
	Lists  string
	Tasks  string
	Users  string
	Tokens string
}

// Tables is a Store on Azure Table Storage. Lists and tasks are partitioned
// by user so a batch always lands in one partition of one table.
type Tables struct {
	lists  *aztables.Client
	tasks  *aztables.Client
	users  *aztables.Client
	tokens *aztables.Client
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr string, names TableNames) (*Tables, error) {
	tablesClientOptions := aztables.ClientOptions{
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
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Tables{
		lists:  svc.NewClient(names.Lists),
		tasks:  svc.NewClient(names.Tasks),
		users:  svc.NewClient(names.Users),
		tokens: svc.NewClient(names.Tokens),
	}, nil
}

func (s *Tables) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.lists.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top})
	_, err := pager.NextPage(ctx)
	return err
}

func (s *Tables) GetList(ctx context.Context, userID, listID string) (domain.List, error) {
	ent, err := s.lists.GetEntity(ctx, userID, listID, nil)
	if err != nil {
		return domain.List{}, mapTablesError(err)
	}
	return decodeList(ent.Value, string(ent.ETag))
}

func (s *Tables) ReadLists(ctx context.Context, userID string) ([]domain.List, error) {
	lists := []domain.List{}
	err := eachEntity(ctx, s.lists, "PartitionKey eq "+odataQuote(userID), func(data []byte) error {
		l, err := decodeList(data, "")
		if err != nil {
			return err
		}
		lists = append(lists, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(lists, func(i, j int) bool {
		if lists[i].Position != lists[j].Position {
			return lists[i].Position < lists[j].Position
		}
		return lists[i].ID < lists[j].ID
	})
	return lists, nil
}

func (s *Tables) UpdateList(ctx context.Context, l domain.List) error {
	cur, err := s.GetList(ctx, l.UserID, l.ID)
	if err != nil {
		return err
	}
	if l.Version != "" && l.Version != cur.Version {
		return domain.ErrConflict
	}
	l.Position = cur.Position
	l.CreatedAt = cur.CreatedAt
	payload, err := json.Marshal(toListEntity(l))
	if err != nil {
		return err
	}
	etag := azcore.ETag(cur.Version)
	_, err = s.lists.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	return mapTablesError(err)
}

// DeleteList removes the list's tasks before the list itself.
func (s *Tables) DeleteList(ctx context.Context, userID, listID string) error {
	if _, err := s.GetList(ctx, userID, listID); err != nil {
		return err
	}
	tasks, err := s.ReadTasks(ctx, userID, listID)
	if err != nil {
		return err
	}
	for start := 0; start < len(tasks); start += maxTransactionSize {
		end := min(start+maxTransactionSize, len(tasks))
		actions := make([]aztables.TransactionAction, 0, end-start)
		etag := azcore.ETagAny
		for _, t := range tasks[start:end] {
			payload, err := json.Marshal(aztables.Entity{PartitionKey: userID, RowKey: t.ID})
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload, IfMatch: &etag})
		}
		if _, err := s.tasks.SubmitTransaction(ctx, actions, nil); err != nil {
			return mapTablesError(err)
		}
	}
	_, err = s.lists.DeleteEntity(ctx, userID, listID, nil)
	return mapTablesError(err)
}

func (s *Tables) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	ent, err := s.tasks.GetEntity(ctx, userID, taskID, nil)
	if err != nil {
		return domain.Task{}, mapTablesError(err)
	}
	return decodeTask(ent.Value, string(ent.ETag))
}

func (s *Tables) ReadTasks(ctx context.Context, userID, listID string) ([]domain.Task, error) {
	filter := "PartitionKey eq " + odataQuote(userID)
	if listID != "" {
		filter += " and ListID eq " + odataQuote(listID)
	}
	tasks := []domain.Task{}
	err := eachEntity(ctx, s.tasks, filter, func(data []byte) error {
		t, err := decodeTask(data, "")
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func (s *Tables) UpdateTask(ctx context.Context, t domain.Task) error {
	cur, err := s.GetTask(ctx, t.UserID, t.ID)
	if err != nil {
		return err
	}
	if t.Version != "" && t.Version != cur.Version {
		return domain.ErrConflict
	}
	t.ListID = cur.ListID
	t.Position = cur.Position
	t.CreatedAt = cur.CreatedAt
	ent, err := toTaskEntity(t)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	etag := azcore.ETag(cur.Version)
	_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	return mapTablesError(err)
}

func (s *Tables) DeleteTask(ctx context.Context, userID, taskID string) error {
	_, err := s.tasks.DeleteEntity(ctx, userID, taskID, nil)
	return mapTablesError(err)
}

// Apply submits the batch as a single entity group transaction.
func (s *Tables) Apply(ctx context.Context, b domain.Batch) error {
	actions, err := s.transaction(b)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}
	client := s.lists
	if b.Kind == domain.KindTask {
		client = s.tasks
		if err := s.ensureTargets(ctx, b); err != nil {
			return err
		}
	}
	_, err = client.SubmitTransaction(ctx, actions, nil)
	return mapTablesError(err)
}

// ensureTargets checks every list a task batch writes into. Lists live in
// another table, so this read sits outside the transaction.
func (s *Tables) ensureTargets(ctx context.Context, b domain.Batch) error {
	seen := map[string]bool{}
	check := func(listID string) error {
		if listID == "" || seen[listID] {
			return nil
		}
		seen[listID] = true
		_, err := s.GetList(ctx, b.UserID, listID)
		return err
	}
	if b.NewTask != nil {
		if err := check(b.NewTask.ListID); err != nil {
			return err
		}
	}
	for _, p := range b.Placements {
		if err := check(p.ListID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Tables) transaction(b domain.Batch) ([]aztables.TransactionAction, error) {
	size := len(b.Placements)
	if b.NewList != nil {
		size++
	}
	if b.NewTask != nil {
		size++
	}
	if size > maxTransactionSize {
		return nil, fmt.Errorf("%w: %d entities", ErrBatchTooLarge, size)
	}
	actions := make([]aztables.TransactionAction, 0, size)
	add := func(v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload})
		return nil
	}
	switch b.Kind {
	case domain.KindList:
		if b.NewTask != nil {
			return nil, fmt.Errorf("new task in a list batch")
		}
		if b.NewList != nil {
			if b.NewList.UserID != b.UserID {
				return nil, fmt.Errorf("new list does not belong to batch")
			}
			if err := add(toListEntity(*b.NewList)); err != nil {
				return nil, err
			}
		}
	case domain.KindTask:
		if b.NewList != nil {
			return nil, fmt.Errorf("new list in a task batch")
		}
		if b.NewTask != nil {
			if b.NewTask.UserID != b.UserID {
				return nil, fmt.Errorf("new task does not belong to batch")
			}
			ent, err := toTaskEntity(*b.NewTask)
			if err != nil {
				return nil, err
			}
			if err := add(ent); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unknown batch kind %q", b.Kind)
	}
	for _, p := range b.Placements {
		ent := placementEntity{
			Entity:       aztables.Entity{PartitionKey: b.UserID, RowKey: p.ID},
			Position:     p.Position,
			PositionType: edmDouble,
		}
		if b.Kind == domain.KindTask {
			ent.ListID = p.ListID
		}
		payload, err := json.Marshal(ent)
		if err != nil {
			return nil, err
		}
		etag := azcore.ETagAny
		if p.Version != "" {
			etag = azcore.ETag(p.Version)
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    &etag,
		})
	}
	return actions, nil
}

func (s *Tables) CreateUser(ctx context.Context, u domain.User) error {
	email, err := json.Marshal(emailEntity{
		Entity: aztables.Entity{PartitionKey: emailPartition, RowKey: emailKey(u.Email)},
		UserID: u.ID,
	})
	if err != nil {
		return err
	}
	if _, err := s.users.AddEntity(ctx, email, nil); err != nil {
		if statusOf(err) == http.StatusConflict {
			return domain.ErrEmailTaken
		}
		return err
	}
	user, err := json.Marshal(userEntity{
		Entity:        aztables.Entity{PartitionKey: userPartition, RowKey: u.ID},
		Name:          u.Name,
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		CreatedAt:     u.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	})
	if err == nil {
		_, err = s.users.AddEntity(ctx, user, nil)
	}
	if err != nil {
		_, _ = s.users.DeleteEntity(ctx, emailPartition, emailKey(u.Email), nil)
		return mapTablesError(err)
	}
	return nil
}

func (s *Tables) GetUser(ctx context.Context, id string) (domain.User, error) {
	ent, err := s.users.GetEntity(ctx, userPartition, id, nil)
	if err != nil {
		return domain.User{}, mapTablesError(err)
	}
	var u userEntity
	if err := json.Unmarshal(ent.Value, &u); err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ID:           u.RowKey,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    time.Unix(0, u.CreatedAt).UTC(),
	}, nil
}

func (s *Tables) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	ent, err := s.users.GetEntity(ctx, emailPartition, emailKey(email), nil)
	if err != nil {
		return domain.User{}, mapTablesError(err)
	}
	var e emailEntity
	if err := json.Unmarshal(ent.Value, &e); err != nil {
		return domain.User{}, err
	}
	return s.GetUser(ctx, e.UserID)
}

func (s *Tables) SaveRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	payload, err := json.Marshal(tokenEntity{
		Entity:        aztables.Entity{PartitionKey: tokenPartition, RowKey: tokenKey(t.Token)},
		UserID:        t.UserID,
		Token:         t.Token,
		ExpiresAt:     t.ExpiresAt.UnixNano(),
		ExpiresAtType: edmInt64,
	})
	if err != nil {
		return err
	}
	_, err = s.tokens.UpsertEntity(ctx, payload, nil)
	return err
}

func (s *Tables) GetRefreshToken(ctx context.Context, token string) (domain.RefreshToken, error) {
	ent, err := s.tokens.GetEntity(ctx, tokenPartition, tokenKey(token), nil)
	if err != nil {
		return domain.RefreshToken{}, mapTablesError(err)
	}
	var t tokenEntity
	if err := json.Unmarshal(ent.Value, &t); err != nil {
		return domain.RefreshToken{}, err
	}
	return domain.RefreshToken{Token: t.Token, UserID: t.UserID, ExpiresAt: time.Unix(0, t.ExpiresAt).UTC()}, nil
}

func (s *Tables) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := s.tokens.DeleteEntity(ctx, tokenPartition, tokenKey(token), nil)
	if statusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

func (s *Tables) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	filter := "PartitionKey eq " + odataQuote(tokenPartition) + " and UserID eq " + odataQuote(userID)
	var keys []string
	err := eachEntity(ctx, s.tokens, filter, func(data []byte) error {
		var t tokenEntity
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		keys = append(keys, t.RowKey)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := s.tokens.DeleteEntity(ctx, tokenPartition, k, nil); err != nil && statusOf(err) != http.StatusNotFound {
			return err
		}
	}
	return nil
}

func eachEntity(ctx context.Context, client *aztables.Client, filter string, fn func([]byte) error) error {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func mapTablesError(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch {
	case respErr.StatusCode == http.StatusNotFound || respErr.ErrorCode == "ResourceNotFound":
		return fmt.Errorf("%w: %s", domain.ErrNotFound, respErr.ErrorCode)
	case respErr.StatusCode == http.StatusPreconditionFailed || respErr.ErrorCode == "UpdateConditionNotSatisfied":
		return fmt.Errorf("%w: %s", domain.ErrConflict, respErr.ErrorCode)
	case respErr.StatusCode == http.StatusConflict || respErr.ErrorCode == "EntityAlreadyExists":
		return fmt.Errorf("%w: %s", domain.ErrConflict, respErr.ErrorCode)
	}
	return err
}

func statusOf(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func odataQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// emailKey makes a case-insensitive email usable as a row key.
func emailKey(email string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strings.ToLower(strings.TrimSpace(email))))
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
