package api

import (
	"context"

	"github.com/bytedance/sonic"

	"taskboard-api/account"
	"taskboard-api/board"
	"taskboard-api/domain"
	"taskboard-api/query"
)

const maxBodySize = 64 * 1024 // 64 KiB

// Board is the ordering and query engine behind the list and task routes.
type Board interface {
	Lists(ctx context.Context, userID string) ([]domain.List, error)
	CreateList(ctx context.Context, userID, title, afterID string) (domain.List, error)
	PatchList(ctx context.Context, userID, listID string, patch domain.ListPatch) (domain.List, error)
	DeleteList(ctx context.Context, userID, listID string) error
	ReorderLists(ctx context.Context, userID string, req board.ReorderRequest) ([]domain.List, error)

	CreateTask(ctx context.Context, userID, listID string, in domain.TaskInput, afterID string) (domain.Task, error)
	PatchTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
	MoveTask(ctx context.Context, userID, taskID string, req board.MoveRequest) (domain.Task, error)
	ReorderTasks(ctx context.Context, userID, listID string, req board.ReorderRequest) ([]domain.Task, error)
	QueryTasks(ctx context.Context, userID, listID string, p query.Params) (query.Result, error)
}

// Accounts handles registration and the token lifecycle.
type Accounts interface {
	Register(ctx context.Context, name, email, password string) (account.Tokens, error)
	Login(ctx context.Context, email, password string) (account.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (account.Tokens, error)
	Logout(ctx context.Context, userID, refreshToken string) error
	Me(ctx context.Context, userID string) (domain.User, error)
}

// Authenticator is implemented by types able to extract user IDs from bearer tokens.
type Authenticator interface {
	UserIDFromBearer(token []byte) (string, error)
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type messageResponse struct {
	Message string `json:"message"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type createListRequest struct {
	Title   string  `json:"title"`
	AfterID *string `json:"afterId"`
}

type patchListRequest struct {
	Title *string `json:"title"`
}

// reorderRequest moves one item by index or lists the complete new order.
type reorderRequest struct {
	SourceIndex *int     `json:"sourceIndex"`
	TargetIndex *int     `json:"targetIndex"`
	IDs         []string `json:"ids"`
}

type createTaskRequest struct {
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Priority    *int     `json:"priority"`
	Tags        []string `json:"tags"`
	DueDate     *string  `json:"dueDate"`
	AfterID     *string  `json:"afterId"`
}

type patchTaskRequest struct {
	Title       *string          `json:"title"`
	Description nullable[string] `json:"description"`
	Status      *string          `json:"status"`
	Priority    *int             `json:"priority"`
	Tags        *[]string        `json:"tags"`
	DueDate     nullable[string] `json:"dueDate"`
}

type moveTaskRequest struct {
	TargetListID string  `json:"targetListId"`
	AfterTaskID  *string `json:"afterTaskId"`
}

// nullable tells an absent field (Set false) from an explicit null
// (Set true, Value nil).
type nullable[T any] struct {
	Set   bool
	Value *T
}

func (n *nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var v T
	if err := sonic.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}
