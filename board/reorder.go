package board

import (
	"fmt"

	"taskboard-api/domain"
)

// ReorderRequest describes a new order for a whole scope, either as one
// item moved from SourceIndex to TargetIndex or as the complete ID sequence.
type ReorderRequest struct {
	SourceIndex *int
	TargetIndex *int
	IDs         []string
}

// ordered returns the scope's IDs in the requested order.
func (r ReorderRequest) ordered(current []string) ([]string, error) {
	byIndex := r.SourceIndex != nil || r.TargetIndex != nil
	byIDs := r.IDs != nil
	switch {
	case byIndex && byIDs:
		return nil, fmt.Errorf("%w: give either indexes or ids", domain.ErrInvalidOrder)
	case byIDs:
		return permutation(current, r.IDs)
	case r.SourceIndex != nil && r.TargetIndex != nil:
		return splice(current, *r.SourceIndex, *r.TargetIndex)
	}
	return nil, fmt.Errorf("%w: sourceIndex and targetIndex are required", domain.ErrInvalidOrder)
}

func splice(current []string, from, to int) ([]string, error) {
	n := len(current)
	if from < 0 || from >= n || to < 0 || to >= n {
		return nil, fmt.Errorf("%w: index out of range [0,%d)", domain.ErrInvalidOrder, n)
	}
	out := make([]string, 0, n)
	out = append(out, current[:from]...)
	out = append(out, current[from+1:]...)
	moved := current[from]
	out = append(out[:to], append([]string{moved}, out[to:]...)...)
	return out, nil
}

func permutation(current, ids []string) ([]string, error) {
	if len(ids) != len(current) {
		return nil, fmt.Errorf("%w: expected %d ids, got %d", domain.ErrInvalidOrder, len(current), len(ids))
	}
	members := make(map[string]bool, len(current))
	for _, id := range current {
		members[id] = false
	}
	for _, id := range ids {
		used, ok := members[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not in this scope", domain.ErrInvalidOrder, id)
		}
		if used {
			return nil, fmt.Errorf("%w: %s appears twice", domain.ErrInvalidOrder, id)
		}
		members[id] = true
	}
	return append([]string(nil), ids...), nil
}
