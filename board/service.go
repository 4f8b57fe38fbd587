// Package board orders lists and tasks. Every write that touches positions
// runs under the scope lock and lands in the store as one atomic batch.
package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/events"
	"taskboard-api/position"
	"taskboard-api/query"
)

// Service is the reorder/move engine plus the create/patch/delete
// orchestration around it.
type Service struct {
	store    domain.Store
	locker   domain.Locker
	alloc    position.Allocator
	events   events.Publisher
	log      *log.Logger
	now      func() time.Time
	newID    func() string
	pageSize int
}

// Option customizes a Service.
type Option func(*Service)

// WithAllocator replaces the default position allocator.
func WithAllocator(a position.Allocator) Option { return func(s *Service) { s.alloc = a } }

// WithPublisher sets where committed changes are announced.
func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.events = p } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithPageSize sets the page size used when a query does not ask for one.
func WithPageSize(n int) Option { return func(s *Service) { s.pageSize = query.ClampPageSize(n) } }

// New creates a Service.
func New(store domain.Store, locker domain.Locker, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		panic("Logger is not initialized")
	}
	s := &Service{
		store:    store,
		locker:   locker,
		alloc:    position.New(),
		events:   events.Nop{},
		log:      logger,
		now:      time.Now,
		newID:    uuid.NewString,
		pageSize: query.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// placement is the outcome of allocating one slot in a scope.
type placement struct {
	position float64
	// respaced holds siblings whose positions changed in a rebalance.
	respaced []position.Slot
}

func (p placement) rebalanced() bool { return len(p.respaced) > 0 }

// place allocates a position after anchorID. When the scope has run out of
// precision it is rebalanced and the allocation retried once; the caller
// writes the respaced siblings in the same batch.
func (s *Service) place(siblings []position.Slot, anchorID string) (placement, error) {
	pos, err := s.alloc.Allocate(siblings, anchorID)
	switch {
	case err == nil:
		return placement{position: pos}, nil
	case errors.Is(err, position.ErrInvalidAnchor):
		return placement{}, fmt.Errorf("%w: %s", domain.ErrInvalidAnchor, anchorID)
	case !errors.Is(err, position.ErrPrecisionExhausted):
		return placement{}, err
	}

	rebalanced := s.alloc.Rebalance(siblings)
	pos, err = s.alloc.Allocate(rebalanced, anchorID)
	if err != nil {
		return placement{}, fmt.Errorf("allocate after rebalance: %w", err)
	}
	s.log.WithFields(log.Fields{"items": len(siblings), "anchor": anchorID}).Debug("scope rebalanced")
	return placement{position: pos, respaced: position.Changed(siblings, rebalanced)}, nil
}

func (s *Service) lock(ctx context.Context, keys ...string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("lock scope: %w", err)
	}
	return unlock, nil
}

func (s *Service) publish(ctx context.Context, ev domain.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithFields(log.Fields{
			"event":  ev.Type,
			"entity": ev.EntityID,
			"user":   ev.UserID,
		}).Warn("event publish failed")
	}
}

func placements(slots []position.Slot, versions map[string]string) []domain.Placement {
	out := make([]domain.Placement, 0, len(slots))
	for _, sl := range slots {
		out = append(out, domain.Placement{ID: sl.ID, Position: sl.Position, Version: versions[sl.ID]})
	}
	return out
}

func requireTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	return title, nil
}

func requirePriority(p int) error {
	if p < domain.MinPriority || p > domain.MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d", domain.ErrValidation, domain.MinPriority, domain.MaxPriority)
	}
	return nil
}

// normalizeTags trims tags and drops blanks and duplicates, keeping order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
