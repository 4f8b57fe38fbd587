package board

import (
	"context"
	"fmt"

	"taskboard-api/domain"
	"taskboard-api/events"
	"taskboard-api/position"
	"taskboard-api/query"
)

// MoveRequest places a task after AfterID in list ListID; an empty AfterID
// appends.
type MoveRequest struct {
	ListID  string
	AfterID string
}

// CreateTask adds a task to listID after afterID, or at the end when
// afterID is empty.
func (s *Service) CreateTask(ctx context.Context, userID, listID string, in domain.TaskInput, afterID string) (domain.Task, error) {
	title, err := requireTitle(in.Title)
	if err != nil {
		return domain.Task{}, err
	}
	priority := domain.DefaultPriority
	if in.Priority != nil {
		if err := requirePriority(*in.Priority); err != nil {
			return domain.Task{}, err
		}
		priority = *in.Priority
	}

	unlock, err := s.lock(ctx, domain.TaskScope(listID))
	if err != nil {
		return domain.Task{}, err
	}
	defer unlock()

	if _, err := s.store.GetList(ctx, userID, listID); err != nil {
		return domain.Task{}, err
	}
	siblings, err := s.store.ReadTasks(ctx, userID, listID)
	if err != nil {
		return domain.Task{}, err
	}
	slots, versions := taskSlots(siblings, "")
	pl, err := s.place(slots, afterID)
	if err != nil {
		return domain.Task{}, err
	}

	now := s.now().UTC()
	t := domain.Task{
		ID:          s.newID(),
		UserID:      userID,
		ListID:      listID,
		Title:       title,
		Description: in.Description,
		Status:      domain.StatusTodo,
		Priority:    priority,
		Tags:        normalizeTags(in.Tags),
		DueDate:     in.DueDate,
		Position:    pl.position,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.store.Apply(ctx, domain.Batch{
		UserID:     userID,
		Kind:       domain.KindTask,
		NewTask:    &t,
		Placements: placements(pl.respaced, versions),
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}

	ev := events.NewEvent(domain.TaskCreated, "task", t.ID, userID, listID)
	ev.Rebalanced = pl.rebalanced()
	s.publish(ctx, ev)
	return t, nil
}

// PatchTask edits task fields. Position and list membership only change
// through MoveTask and ReorderTasks.
func (s *Service) PatchTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	if err := validatePatch(&patch); err != nil {
		return domain.Task{}, err
	}
	t, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if patch.Empty() {
		return t, nil
	}
	patch.Apply(&t)
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	s.publish(ctx, events.NewEvent(domain.TaskUpdated, "task", t.ID, userID, t.ListID))
	return t, nil
}

func validatePatch(p *domain.TaskPatch) error {
	if p.Title != nil {
		title, err := requireTitle(*p.Title)
		if err != nil {
			return err
		}
		p.Title = &title
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *p.Status)
	}
	if p.Priority != nil {
		if err := requirePriority(*p.Priority); err != nil {
			return err
		}
	}
	if p.Tags != nil {
		tags := normalizeTags(*p.Tags)
		p.Tags = &tags
	}
	return nil
}

// DeleteTask removes a task. Its siblings keep their positions.
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	t, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	unlock, err := s.lock(ctx, domain.TaskScope(t.ListID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.DeleteTask(ctx, userID, taskID); err != nil {
		return err
	}
	s.publish(ctx, events.NewEvent(domain.TaskDeleted, "task", taskID, userID, t.ListID))
	return nil
}

// MoveTask relocates a task within its list or into another list of the
// same user. Only the moved task is written unless the destination had to
// be rebalanced.
func (s *Service) MoveTask(ctx context.Context, userID, taskID string, req MoveRequest) (domain.Task, error) {
	if req.ListID == "" {
		return domain.Task{}, fmt.Errorf("%w: destination list is required", domain.ErrValidation)
	}
	t, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	source := t.ListID

	unlock, err := s.lock(ctx, domain.TaskScope(source), domain.TaskScope(req.ListID))
	if err != nil {
		return domain.Task{}, err
	}
	defer unlock()

	// re-read under the lock; the task may have moved meanwhile
	t, err = s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.ListID != source {
		return domain.Task{}, fmt.Errorf("%w: task %s moved concurrently", domain.ErrConflict, taskID)
	}
	if _, err := s.store.GetList(ctx, userID, req.ListID); err != nil {
		return domain.Task{}, err
	}
	members, err := s.store.ReadTasks(ctx, userID, req.ListID)
	if err != nil {
		return domain.Task{}, err
	}
	slots, versions := taskSlots(members, taskID)
	pl, err := s.place(slots, req.AfterID)
	if err != nil {
		return domain.Task{}, err
	}

	batch := domain.Batch{
		UserID:     userID,
		Kind:       domain.KindTask,
		Placements: placements(pl.respaced, versions),
	}
	batch.Placements = append(batch.Placements, domain.Placement{
		ID:       taskID,
		ListID:   req.ListID,
		Position: pl.position,
		Version:  t.Version,
	})
	if err := s.store.Apply(ctx, batch); err != nil {
		return domain.Task{}, fmt.Errorf("move task: %w", err)
	}

	t.ListID = req.ListID
	t.Position = pl.position
	t.Version = ""
	ev := events.NewEvent(domain.TaskMoved, "task", taskID, userID, req.ListID)
	ev.Rebalanced = pl.rebalanced()
	s.publish(ctx, ev)
	return t, nil
}

// ReorderTasks gives every task of listID a fresh position in the requested
// order.
func (s *Service) ReorderTasks(ctx context.Context, userID, listID string, req ReorderRequest) ([]domain.Task, error) {
	unlock, err := s.lock(ctx, domain.TaskScope(listID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.store.GetList(ctx, userID, listID); err != nil {
		return nil, err
	}
	tasks, err := s.store.ReadTasks(ctx, userID, listID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Task, len(tasks))
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		byID[t.ID] = t
		ids[i] = t.ID
	}
	order, err := req.ordered(ids)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return []domain.Task{}, nil
	}

	slots := s.alloc.Rebalance(idSlots(order))
	_, versions := taskSlots(tasks, "")
	err = s.store.Apply(ctx, domain.Batch{
		UserID:     userID,
		Kind:       domain.KindTask,
		Placements: placements(slots, versions),
	})
	if err != nil {
		return nil, fmt.Errorf("reorder tasks: %w", err)
	}

	out := make([]domain.Task, len(slots))
	for i, sl := range slots {
		t := byID[sl.ID]
		t.Position = sl.Position
		t.Version = ""
		out[i] = t
	}
	s.publish(ctx, events.NewEvent(domain.TasksReordered, "task", "", userID, listID))
	return out, nil
}

// QueryTasks filters, sorts and pages the user's tasks, or one list's tasks
// when listID is set.
func (s *Service) QueryTasks(ctx context.Context, userID, listID string, p query.Params) (query.Result, error) {
	if p.PageSize == 0 {
		p.PageSize = s.pageSize
	}
	if listID != "" {
		if _, err := s.store.GetList(ctx, userID, listID); err != nil {
			return query.Result{}, err
		}
		tasks, err := s.store.ReadTasks(ctx, userID, listID)
		if err != nil {
			return query.Result{}, err
		}
		return query.Run(tasks, p, s.now())
	}

	lists, err := s.store.ReadLists(ctx, userID)
	if err != nil {
		return query.Result{}, err
	}
	p.ListOrder = make(map[string]int, len(lists))
	for i, l := range lists {
		p.ListOrder[l.ID] = i
	}
	tasks, err := s.store.ReadTasks(ctx, userID, "")
	if err != nil {
		return query.Result{}, err
	}
	return query.Run(tasks, p, s.now())
}

// taskSlots converts tasks to allocator slots, leaving out skipID.
func taskSlots(tasks []domain.Task, skipID string) ([]position.Slot, map[string]string) {
	slots := make([]position.Slot, 0, len(tasks))
	versions := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if t.ID == skipID {
			continue
		}
		slots = append(slots, position.Slot{ID: t.ID, Position: t.Position})
		versions[t.ID] = t.Version
	}
	return slots, versions
}
