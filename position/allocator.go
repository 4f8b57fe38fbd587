// Package position assigns sort keys to items of an ordered scope so that an
// insert touches only the inserted item. Positions are float64 values spaced
// by a fixed gap; inserting between two neighbors takes their midpoint until
// the gap is exhausted, at which point the scope must be rebalanced.
package position

import "errors"

var (
	// ErrInvalidAnchor is returned when the anchor is not one of the siblings.
	ErrInvalidAnchor = errors.New("anchor is not a member of the scope")
	// ErrPrecisionExhausted is returned when no usable value exists between
	// the neighbors (or past the last item). Callers rebalance and retry.
	ErrPrecisionExhausted = errors.New("position precision exhausted")
)

const (
	DefaultBaseline = 65536.0
	DefaultGap      = 1024.0
	DefaultMinDelta = 1e-9
	// DefaultMax keeps every position an exactly representable integer
	// multiple of the gap.
	DefaultMax = float64(1 << 53)
)

// Slot is one item of a scope with its current position.
type Slot struct {
	ID       string
	Position float64
}

// Allocator computes positions. The zero value is not usable; use New.
type Allocator struct {
	Baseline float64
	Gap      float64
	MinDelta float64
	Max      float64
}

// New returns an Allocator with the default spacing.
func New() Allocator {
	return Allocator{
		Baseline: DefaultBaseline,
		Gap:      DefaultGap,
		MinDelta: DefaultMinDelta,
		Max:      DefaultMax,
	}
}

// Allocate returns the position for an item placed after anchorID, or at the
// end of the scope when anchorID is empty. siblings must be sorted ascending
// by position and must not contain the item being placed.
func (a Allocator) Allocate(siblings []Slot, anchorID string) (float64, error) {
	if anchorID == "" {
		if len(siblings) == 0 {
			return a.Baseline, nil
		}
		return a.after(siblings[len(siblings)-1].Position)
	}

	i := Index(siblings, anchorID)
	if i < 0 {
		return 0, ErrInvalidAnchor
	}
	if i == len(siblings)-1 {
		return a.after(siblings[i].Position)
	}
	return a.between(siblings[i].Position, siblings[i+1].Position)
}

func (a Allocator) after(p float64) (float64, error) {
	next := p + a.Gap
	if next > a.Max || next <= p {
		return 0, ErrPrecisionExhausted
	}
	return next, nil
}

func (a Allocator) between(lo, hi float64) (float64, error) {
	if hi <= lo {
		// ties left behind by an older writer; only a rebalance separates them
		return 0, ErrPrecisionExhausted
	}
	mid := lo + (hi-lo)/2
	if mid <= lo || mid >= hi || mid-lo < a.MinDelta || hi-mid < a.MinDelta {
		return 0, ErrPrecisionExhausted
	}
	return mid, nil
}

// Index returns the index of id in slots or -1.
func Index(slots []Slot, id string) int {
	for i, s := range slots {
		if s.ID == id {
			return i
		}
	}
	return -1
}
