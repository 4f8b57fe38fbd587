package board

import (
	"context"
	"fmt"

	"taskboard-api/domain"
	"taskboard-api/events"
	"taskboard-api/position"
)

// Lists returns the user's lists in order.
func (s *Service) Lists(ctx context.Context, userID string) ([]domain.List, error) {
	return s.store.ReadLists(ctx, userID)
}

// CreateList adds a list after afterID, or at the end when afterID is empty.
func (s *Service) CreateList(ctx context.Context, userID, title, afterID string) (domain.List, error) {
	title, err := requireTitle(title)
	if err != nil {
		return domain.List{}, err
	}
	unlock, err := s.lock(ctx, domain.ListScope(userID))
	if err != nil {
		return domain.List{}, err
	}
	defer unlock()

	lists, err := s.store.ReadLists(ctx, userID)
	if err != nil {
		return domain.List{}, err
	}
	slots, versions := listSlots(lists)
	pl, err := s.place(slots, afterID)
	if err != nil {
		return domain.List{}, err
	}

	now := s.now().UTC()
	l := domain.List{
		ID:        s.newID(),
		UserID:    userID,
		Title:     title,
		Position:  pl.position,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.Apply(ctx, domain.Batch{
		UserID:     userID,
		Kind:       domain.KindList,
		NewList:    &l,
		Placements: placements(pl.respaced, versions),
	})
	if err != nil {
		return domain.List{}, fmt.Errorf("create list: %w", err)
	}

	ev := events.NewEvent(domain.ListCreated, "list", l.ID, userID, "")
	ev.Rebalanced = pl.rebalanced()
	s.publish(ctx, ev)
	return l, nil
}

// PatchList edits list fields other than position.
func (s *Service) PatchList(ctx context.Context, userID, listID string, patch domain.ListPatch) (domain.List, error) {
	l, err := s.store.GetList(ctx, userID, listID)
	if err != nil {
		return domain.List{}, err
	}
	if patch.Title == nil {
		return l, nil
	}
	title, err := requireTitle(*patch.Title)
	if err != nil {
		return domain.List{}, err
	}
	l.Title = title
	l.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateList(ctx, l); err != nil {
		return domain.List{}, fmt.Errorf("update list: %w", err)
	}
	s.publish(ctx, events.NewEvent(domain.ListUpdated, "list", l.ID, userID, ""))
	return l, nil
}

// DeleteList removes the list with all its tasks. Other lists keep their
// positions.
func (s *Service) DeleteList(ctx context.Context, userID, listID string) error {
	unlock, err := s.lock(ctx, domain.ListScope(userID), domain.TaskScope(listID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.DeleteList(ctx, userID, listID); err != nil {
		return err
	}
	s.publish(ctx, events.NewEvent(domain.ListDeleted, "list", listID, userID, ""))
	return nil
}

// ReorderLists gives every list of the user a fresh position in the
// requested order.
func (s *Service) ReorderLists(ctx context.Context, userID string, req ReorderRequest) ([]domain.List, error) {
	unlock, err := s.lock(ctx, domain.ListScope(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	lists, err := s.store.ReadLists(ctx, userID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.List, len(lists))
	ids := make([]string, len(lists))
	for i, l := range lists {
		byID[l.ID] = l
		ids[i] = l.ID
	}
	order, err := req.ordered(ids)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return []domain.List{}, nil
	}

	slots := s.alloc.Rebalance(idSlots(order))
	_, versions := listSlots(lists)
	err = s.store.Apply(ctx, domain.Batch{
		UserID:     userID,
		Kind:       domain.KindList,
		Placements: placements(slots, versions),
	})
	if err != nil {
		return nil, fmt.Errorf("reorder lists: %w", err)
	}

	out := make([]domain.List, len(slots))
	for i, sl := range slots {
		l := byID[sl.ID]
		l.Position = sl.Position
		l.Version = ""
		out[i] = l
	}
	s.publish(ctx, events.NewEvent(domain.ListsReordered, "list", "", userID, ""))
	return out, nil
}

func listSlots(lists []domain.List) ([]position.Slot, map[string]string) {
	slots := make([]position.Slot, len(lists))
	versions := make(map[string]string, len(lists))
	for i, l := range lists {
		slots[i] = position.Slot{ID: l.ID, Position: l.Position}
		versions[l.ID] = l.Version
	}
	return slots, versions
}

func idSlots(ids []string) []position.Slot {
	slots := make([]position.Slot, len(ids))
	for i, id := range ids {
		slots[i] = position.Slot{ID: id}
	}
	return slots
}
