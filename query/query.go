// Package query filters, sorts and pages task collections. It never mutates
// the tasks it is given.
package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"taskboard-api/domain"
)

// ErrInvalidQuery is returned for unknown sort fields and filter values.
var ErrInvalidQuery = errors.New("invalid query")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// DueBucket selects tasks by due date relative to now.
type DueBucket string

const (
	DueAny      DueBucket = ""
	DueToday    DueBucket = "today"
	DueOverdue  DueBucket = "overdue"
	DueThisWeek DueBucket = "week"
)

// Params are the filter, sort and paging inputs of a query. Zero values
// disable the corresponding filter.
type Params struct {
	Search   string
	Status   domain.Status
	Priority *int
	Tags     []string
	Due      DueBucket
	Sort     string
	Page     int
	PageSize int

	// ListOrder ranks list IDs; user-wide queries use it to break position ties.
	ListOrder map[string]int
}

// Result is one page of matching tasks.
type Result struct {
	Items    []domain.Task `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
	Total    int           `json:"total"`
}

// ClampPageSize bounds an explicitly requested page size to [1, MaxPageSize].
func ClampPageSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// Run applies p to tasks. now anchors the due-date buckets; its location is
// the calendar used for "today".
func Run(tasks []domain.Task, p Params, now time.Time) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	keys, err := ParseSort(p.Sort)
	if err != nil {
		return Result{}, err
	}

	match := newMatcher(p, now)
	filtered := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if match.ok(t) {
			filtered = append(filtered, t)
		}
	}

	sortTasks(filtered, keys, p.ListOrder)

	page := p.Page
	if page < 1 {
		page = 1
	}
	size := p.PageSize
	if size == 0 {
		size = DefaultPageSize
	}
	size = ClampPageSize(size)

	res := Result{Items: []domain.Task{}, Page: page, PageSize: size, Total: len(filtered)}
	if page-1 >= (len(filtered)+size-1)/size {
		return res, nil
	}
	start := (page - 1) * size
	end := start + size
	if end > len(filtered) {
		end = len(filtered)
	}
	res.Items = append(res.Items, filtered[start:end]...)
	return res, nil
}

func (p Params) validate() error {
	if p.Status != "" && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidQuery, p.Status)
	}
	if p.Priority != nil && (*p.Priority < domain.MinPriority || *p.Priority > domain.MaxPriority) {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidQuery, domain.MinPriority, domain.MaxPriority)
	}
	switch p.Due {
	case DueAny, DueToday, DueOverdue, DueThisWeek:
	default:
		return fmt.Errorf("%w: unknown due bucket %q", ErrInvalidQuery, p.Due)
	}
	return nil
}

type matcher struct {
	p          Params
	search     string
	fold       cases.Caser
	now        time.Time
	todayStart time.Time
	weekEnd    time.Time
}

func newMatcher(p Params, now time.Time) *matcher {
	m := &matcher{p: p, now: now, fold: cases.Fold()}
	if s := strings.TrimSpace(p.Search); s != "" {
		m.search = m.fold.String(s)
	}
	y, mo, d := now.Date()
	m.todayStart = time.Date(y, mo, d, 0, 0, 0, 0, now.Location())
	m.weekEnd = m.todayStart.AddDate(0, 0, 7)
	return m
}

func (m *matcher) ok(t domain.Task) bool {
	if m.p.Status != "" && t.Status != m.p.Status {
		return false
	}
	if m.p.Priority != nil && t.Priority != *m.p.Priority {
		return false
	}
	for _, tag := range m.p.Tags {
		if tag != "" && !t.HasTag(tag) {
			return false
		}
	}
	if m.search != "" && !m.matchesText(t) {
		return false
	}
	return m.inBucket(t)
}

func (m *matcher) matchesText(t domain.Task) bool {
	if strings.Contains(m.fold.String(t.Title), m.search) {
		return true
	}
	return t.Description != nil && strings.Contains(m.fold.String(*t.Description), m.search)
}

func (m *matcher) inBucket(t domain.Task) bool {
	if m.p.Due == DueAny {
		return true
	}
	if t.DueDate == nil {
		return false
	}
	due := t.DueDate.In(m.now.Location())
	switch m.p.Due {
	case DueToday:
		y1, m1, d1 := due.Date()
		y2, m2, d2 := m.now.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	case DueOverdue:
		return due.Before(m.now) && t.Status != domain.StatusDone
	case DueThisWeek:
		return !due.Before(m.todayStart) && due.Before(m.weekEnd)
	}
	return false
}
