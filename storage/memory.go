package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"taskboard-api/domain"
)

// Memory is an in-process Store. Every operation, including Apply, runs
// under one mutex, so a batch is never observed half-applied.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]domain.User
	emails  map[string]string
	tokens  map[string]domain.RefreshToken
	lists   map[string]domain.List
	tasks   map[string]domain.Task
	version uint64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:  map[string]domain.User{},
		emails: map[string]string{},
		tokens: map[string]domain.RefreshToken{},
		lists:  map[string]domain.List{},
		tasks:  map[string]domain.Task{},
	}
}

func (m *Memory) nextVersion() string {
	m.version++
	return strconv.FormatUint(m.version, 10)
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) CreateUser(ctx context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, taken := m.emails[key]; taken {
		return domain.ErrEmailTaken
	}
	if _, exists := m.users[u.ID]; exists {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	m.users[u.ID] = u
	m.emails[key] = u.ID
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[strings.ToLower(email)]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return m.users[id], nil
}

func (m *Memory) SaveRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.Token] = t
	return nil
}

func (m *Memory) GetRefreshToken(ctx context.Context, token string) (domain.RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[token]
	if !ok {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *Memory) DeleteRefreshToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *Memory) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, k)
		}
	}
	return nil
}

func (m *Memory) GetList(ctx context.Context, userID, listID string) (domain.List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lists[listID]
	if !ok || l.UserID != userID {
		return domain.List{}, domain.ErrNotFound
	}
	return l, nil
}

func (m *Memory) ReadLists(ctx context.Context, userID string) ([]domain.List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.List{}
	for _, l := range m.lists {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateList(ctx context.Context, l domain.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.lists[l.ID]
	if !ok || cur.UserID != l.UserID {
		return domain.ErrNotFound
	}
	if l.Version != "" && l.Version != cur.Version {
		return domain.ErrConflict
	}
	// position is owned by Apply
	l.Position = cur.Position
	l.Version = m.nextVersion()
	m.lists[l.ID] = l
	return nil
}

func (m *Memory) DeleteList(ctx context.Context, userID, listID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[listID]
	if !ok || l.UserID != userID {
		return domain.ErrNotFound
	}
	for id, t := range m.tasks {
		if t.ListID == listID {
			delete(m.tasks, id)
		}
	}
	delete(m.lists, listID)
	return nil
}

func (m *Memory) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok || t.UserID != userID {
		return domain.Task{}, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *Memory) ReadTasks(ctx context.Context, userID, listID string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Task{}
	for _, t := range m.tasks {
		if t.UserID != userID || (listID != "" && t.ListID != listID) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[t.ID]
	if !ok || cur.UserID != t.UserID {
		return domain.ErrNotFound
	}
	if t.Version != "" && t.Version != cur.Version {
		return domain.ErrConflict
	}
	t = cloneTask(t)
	t.ListID = cur.ListID
	t.Position = cur.Position
	t.Version = m.nextVersion()
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, userID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.UserID != userID {
		return domain.ErrNotFound
	}
	delete(m.tasks, taskID)
	return nil
}

// Apply validates the whole batch before writing any of it.
func (m *Memory) Apply(ctx context.Context, b domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validate(b); err != nil {
		return err
	}

	if b.NewList != nil {
		l := *b.NewList
		l.Version = m.nextVersion()
		m.lists[l.ID] = l
	}
	if b.NewTask != nil {
		t := cloneTask(*b.NewTask)
		t.Version = m.nextVersion()
		m.tasks[t.ID] = t
	}
	for _, p := range b.Placements {
		switch b.Kind {
		case domain.KindList:
			l := m.lists[p.ID]
			l.Position = p.Position
			l.Version = m.nextVersion()
			m.lists[p.ID] = l
		case domain.KindTask:
			t := m.tasks[p.ID]
			t.Position = p.Position
			if p.ListID != "" {
				t.ListID = p.ListID
			}
			t.Version = m.nextVersion()
			m.tasks[p.ID] = t
		}
	}
	return nil
}

func (m *Memory) validate(b domain.Batch) error {
	switch b.Kind {
	case domain.KindList, domain.KindTask:
	default:
		return fmt.Errorf("unknown batch kind %q", b.Kind)
	}
	if b.NewList != nil {
		if b.Kind != domain.KindList || b.NewList.UserID != b.UserID {
			return fmt.Errorf("new list does not belong to batch")
		}
		if _, exists := m.lists[b.NewList.ID]; exists {
			return fmt.Errorf("%w: list %s already exists", domain.ErrConflict, b.NewList.ID)
		}
	}
	if b.NewTask != nil {
		if b.Kind != domain.KindTask || b.NewTask.UserID != b.UserID {
			return fmt.Errorf("new task does not belong to batch")
		}
		if _, exists := m.tasks[b.NewTask.ID]; exists {
			return fmt.Errorf("%w: task %s already exists", domain.ErrConflict, b.NewTask.ID)
		}
		if l, ok := m.lists[b.NewTask.ListID]; !ok || l.UserID != b.UserID {
			return domain.ErrNotFound
		}
	}
	for _, p := range b.Placements {
		var owner, version string
		switch b.Kind {
		case domain.KindList:
			l, ok := m.lists[p.ID]
			if !ok {
				return domain.ErrNotFound
			}
			owner, version = l.UserID, l.Version
		case domain.KindTask:
			t, ok := m.tasks[p.ID]
			if !ok {
				return domain.ErrNotFound
			}
			owner, version = t.UserID, t.Version
			if p.ListID != "" {
				if l, ok := m.lists[p.ListID]; !ok || l.UserID != b.UserID {
					return domain.ErrNotFound
				}
			}
		}
		if owner != b.UserID {
			return domain.ErrNotFound
		}
		if p.Version != "" && p.Version != version {
			return fmt.Errorf("%w: %s %s changed", domain.ErrConflict, b.Kind, p.ID)
		}
	}
	return nil
}

func cloneTask(t domain.Task) domain.Task {
	if t.Tags != nil {
		t.Tags = append([]string(nil), t.Tags...)
	}
	if t.Description != nil {
		d := *t.Description
		t.Description = &d
	}
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	return t
}
