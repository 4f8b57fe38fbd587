package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"taskboard-api/domain"
)

// SortKey is one field of a sort expression.
type SortKey struct {
	Field string
	Desc  bool
}

var sortFields = map[string]struct{}{
	"position":  {},
	"title":     {},
	"status":    {},
	"priority":  {},
	"dueDate":   {},
	"createdAt": {},
	"updatedAt": {},
}

// ParseSort parses "field,-field" expressions. An empty expression yields no
// keys, which sorts by position.
func ParseSort(expr string) ([]SortKey, error) {
	var keys []SortKey
	for _, raw := range strings.Split(expr, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		k := SortKey{Field: raw}
		if strings.HasPrefix(raw, "-") {
			k = SortKey{Field: raw[1:], Desc: true}
		}
		if _, ok := sortFields[k.Field]; !ok {
			return nil, fmt.Errorf("%w: unknown sort field %q", ErrInvalidQuery, k.Field)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func sortTasks(tasks []domain.Task, keys []SortKey, listOrder map[string]int) {
	fold := cases.Fold()
	sort.SliceStable(tasks, func(i, j int) bool {
		return compareTasks(tasks[i], tasks[j], keys, listOrder, &fold) < 0
	})
}

func compareTasks(a, b domain.Task, keys []SortKey, listOrder map[string]int, fold *cases.Caser) int {
	for _, k := range keys {
		c, nullsDecided := compareField(a, b, k.Field, fold)
		if c == 0 {
			continue
		}
		if k.Desc && !nullsDecided {
			c = -c
		}
		return c
	}
	if c := compareFloat(a.Position, b.Position); c != 0 {
		return c
	}
	if listOrder != nil && a.ListID != b.ListID {
		ra, okA := listOrder[a.ListID]
		rb, okB := listOrder[b.ListID]
		switch {
		case okA && okB && ra != rb:
			return compareInt(ra, rb)
		case okA && !okB:
			return -1
		case !okA && okB:
			return 1
		}
	}
	return strings.Compare(a.ID, b.ID)
}

// compareField reports the ascending comparison of field. nullsDecided is set
// when exactly one side is null; nulls sort last in either direction. Titles
// compare case-folded, the same way search matches them.
func compareField(a, b domain.Task, field string, fold *cases.Caser) (c int, nullsDecided bool) {
	switch field {
	case "position":
		return compareFloat(a.Position, b.Position), false
	case "title":
		if c := strings.Compare(fold.String(a.Title), fold.String(b.Title)); c != 0 {
			return c, false
		}
		return strings.Compare(a.Title, b.Title), false
	case "status":
		return compareInt(a.Status.Rank(), b.Status.Rank()), false
	case "priority":
		return compareInt(a.Priority, b.Priority), false
	case "dueDate":
		return compareOptionalTime(a.DueDate, b.DueDate)
	case "createdAt":
		return compareTime(a.CreatedAt, b.CreatedAt), false
	case "updatedAt":
		return compareTime(a.UpdatedAt, b.UpdatedAt), false
	}
	return 0, false
}

func compareOptionalTime(a, b *time.Time) (int, bool) {
	switch {
	case a == nil && b == nil:
		return 0, false
	case a == nil:
		return 1, true
	case b == nil:
		return -1, true
	}
	return compareTime(*a, *b), false
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
