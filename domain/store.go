package domain

import "context"

// ItemKind identifies which ordering scope a batch targets.
type ItemKind string

const (
	KindList ItemKind = "list"
	KindTask ItemKind = "task"
)

// Placement assigns a position to an existing item. For tasks a non-empty
// ListID also moves the task; the two fields are always written together.
type Placement struct {
	ID       string
	ListID   string
	Position float64
	// Version is the concurrency token the item was read with. Empty skips the check.
	Version string
}

// Batch is an all-or-nothing group of writes inside one user's data.
// Either every write lands or none does.
type Batch struct {
	UserID     string
	Kind       ItemKind
	NewList    *List
	NewTask    *Task
	Placements []Placement
}

// Empty reports whether the batch writes nothing.
func (b Batch) Empty() bool {
	return b.NewList == nil && b.NewTask == nil && len(b.Placements) == 0
}

// UserStore persists accounts and refresh tokens.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SaveRefreshToken(ctx context.Context, t RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) error
}

// ListStore reads and edits lists. ReadLists returns lists in ascending
// position order.
type ListStore interface {
	GetList(ctx context.Context, userID, listID string) (List, error)
	ReadLists(ctx context.Context, userID string) ([]List, error)
	UpdateList(ctx context.Context, l List) error
	// DeleteList removes the list and every task inside it.
	DeleteList(ctx context.Context, userID, listID string) error
}

// TaskStore reads and edits tasks. ReadTasks returns tasks of one list in
// ascending position order, or every task of the user when listID is empty.
type TaskStore interface {
	GetTask(ctx context.Context, userID, taskID string) (Task, error)
	ReadTasks(ctx context.Context, userID, listID string) ([]Task, error)
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, userID, taskID string) error
}

// Store is the persistence collaborator. Apply is its transactional batch
// write: it returns ErrConflict when any placement's version is stale.
type Store interface {
	UserStore
	ListStore
	TaskStore
	Apply(ctx context.Context, b Batch) error
	Ping(ctx context.Context) error
}

// Locker serializes mutations of the same ordering scope.
type Locker interface {
	// Lock blocks until every key is held or ctx is done. Keys are
	// acquired in sorted order.
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// ListScope is the lock key for the ordering of a user's lists.
func ListScope(userID string) string { return "scope:lists:" + userID }

// TaskScope is the lock key for the ordering of one list's tasks.
func TaskScope(listID string) string { return "scope:tasks:" + listID }
