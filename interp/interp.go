// Package interp implements piecewise-linear lookup on sorted sample tables.
//
// Results are tagged: a query inside the sampled range (including an exact
// hit) is Interpolated, a query outside it is Extrapolated from the nearest
// edge segment, and a query against an empty table is Absent.
package interp

import (
	"fmt"
	"slices"
)

// Kind classifies how a lookup value was obtained.
type Kind int

const (
	// Absent means the table held no samples.
	Absent Kind = iota
	// Interpolated means the query fell within [xs[0], xs[last]].
	Interpolated
	// Extrapolated means the query fell outside the sampled range.
	Extrapolated
)

func (k Kind) String() string {
	switch k {
	case Absent:
		return "absent"
	case Interpolated:
		return "interpolated"
	case Extrapolated:
		return "extrapolated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of a single table lookup.
type Result struct {
	Kind  Kind
	Value float64
}

// IsInterpolated reports whether the value came from within the table range.
func (r Result) IsInterpolated() bool { return r.Kind == Interpolated }

// IsExtrapolated reports whether the value was projected beyond the table range.
func (r Result) IsExtrapolated() bool { return r.Kind == Extrapolated }

// HasValue reports whether the result carries a number at all.
func (r Result) HasValue() bool { return r.Kind == Interpolated || r.Kind == Extrapolated }

// Interpolated returns the value only if it was interpolated.
func (r Result) Interpolated() (float64, bool) {
	if r.Kind != Interpolated {
		return 0, false
	}
	return r.Value, true
}

// Extrapolated returns the value only if it was extrapolated.
func (r Result) Extrapolated() (float64, bool) {
	if r.Kind != Extrapolated {
		return 0, false
	}
	return r.Value, true
}

// Get returns the numeric value regardless of how it was obtained.
func (r Result) Get() (float64, bool) {
	if !r.HasValue() {
		return 0, false
	}
	return r.Value, true
}

func (r Result) String() string {
	if !r.HasValue() {
		return r.Kind.String()
	}
	return fmt.Sprintf("%s(%g)", r.Kind, r.Value)
}

// Interpolate looks up x in the sample table (xs, ys).
//
// xs must be sorted ascending and have the same length as ys. A length
// mismatch is a programming error and panics; ordering is not checked.
func Interpolate(x float64, xs, ys []float64) Result {
	if len(xs) != len(ys) {
		panic(fmt.Sprintf("interp: sample length mismatch (xs=%d, ys=%d)", len(xs), len(ys)))
	}
	n := len(xs)
	if n == 0 {
		return Result{Kind: Absent}
	}

	i, found := slices.BinarySearch(xs, x)
	switch {
	case found:
		return Result{Kind: Interpolated, Value: ys[i]}
	case i == 0:
		if n == 1 {
			return Result{Kind: Extrapolated, Value: ys[0]}
		}
		return Result{Kind: Extrapolated, Value: line(x, xs[0], ys[0], xs[1], ys[1], xs[0], ys[0])}
	case i == n:
		if n == 1 {
			return Result{Kind: Extrapolated, Value: ys[n-1]}
		}
		return Result{Kind: Extrapolated, Value: line(x, xs[n-2], ys[n-2], xs[n-1], ys[n-1], xs[n-1], ys[n-1])}
	default:
		return Result{Kind: Interpolated, Value: line(x, xs[i-1], ys[i-1], xs[i], ys[i], xs[i-1], ys[i-1])}
	}
}

// line evaluates the straight line through (x0,y0)-(x1,y1) at x, anchored at
// (ax,ay) so that edge extrapolation starts from the outermost sample.
func line(x, x0, y0, x1, y1, ax, ay float64) float64 {
	slope := (y1 - y0) / (x1 - x0)
	return slope*(x-ax) + ay
}
