package board

import (
	"errors"
	"testing"

	"taskboard-api/domain"
)

func TestSplice(t *testing.T) {
	cur := []string{"a", "b", "c", "d"}
	cases := []struct {
		from, to int
		want     []string
	}{
		{0, 2, []string{"b", "c", "a", "d"}},
		{3, 0, []string{"d", "a", "b", "c"}},
		{1, 1, []string{"a", "b", "c", "d"}},
		{0, 3, []string{"b", "c", "d", "a"}},
	}
	for _, tc := range cases {
		got, err := splice(cur, tc.from, tc.to)
		if err != nil {
			t.Fatalf("splice %d->%d: %v", tc.from, tc.to, err)
		}
		if !equal(got, tc.want) {
			t.Fatalf("splice %d->%d: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if !equal(cur, []string{"a", "b", "c", "d"}) {
		t.Fatalf("splice mutated its input: %v", cur)
	}
	if _, err := splice(cur, 0, 4); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("expected invalid order, got %v", err)
	}
}
