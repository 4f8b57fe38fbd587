package position

// Rebalance respaces siblings evenly from the baseline, keeping their order.
// The returned slice is new; siblings is not modified.
func (a Allocator) Rebalance(siblings []Slot) []Slot {
	out := make([]Slot, len(siblings))
	for i, s := range siblings {
		out[i] = Slot{ID: s.ID, Position: a.Baseline + float64(i)*a.Gap}
	}
	return out
}

// Changed returns the slots of next whose position differs from prev.
// Both slices must hold the same IDs in the same order.
func Changed(prev, next []Slot) []Slot {
	out := make([]Slot, 0, len(next))
	for i := range next {
		if i >= len(prev) || prev[i].ID != next[i].ID || prev[i].Position != next[i].Position {
			out = append(out, next[i])
		}
	}
	return out
}
