// Package stopping holds tabulated stopping-power curves and the per-species
// constants needed to integrate them.
package stopping

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/timzifer/eloss/interp"
)

var (
	// ErrMalformedTable reports a sample table that violates the ordering or shape invariants.
	ErrMalformedTable = errors.New("stopping: malformed table")
	// ErrMissingTable reports a projectile/target pair without a registered table.
	ErrMissingTable = errors.New("stopping: no table for projectile/target pair")
	// ErrMissingMass reports a projectile without a per-nucleon mass.
	ErrMissingMass = errors.New("stopping: no mass for projectile")
	// ErrMissingMaterial reports a target material without a molar mass.
	ErrMissingMaterial = errors.New("stopping: no molar mass for material")
)

// Table is an immutable stopping-power curve. Xs holds specific energies
// (MeV/u) in strictly ascending order, Ys the stopping power at each of them
// (MeV cm^2/mg).
type Table struct {
	xs []float64
	ys []float64
}

// NewTable validates and copies the samples into a Table.
func NewTable(xs, ys []float64) (Table, error) {
	if len(xs) != len(ys) {
		return Table{}, fmt.Errorf("%w: %d energies but %d stopping powers", ErrMalformedTable, len(xs), len(ys))
	}
	if len(xs) == 0 {
		return Table{}, fmt.Errorf("%w: no samples", ErrMalformedTable)
	}
	for i := range xs {
		if !finite(xs[i]) || !finite(ys[i]) {
			return Table{}, fmt.Errorf("%w: non-finite sample at index %d", ErrMalformedTable, i)
		}
		if i > 0 && xs[i] <= xs[i-1] {
			return Table{}, fmt.Errorf("%w: energies not strictly ascending at index %d (%g after %g)", ErrMalformedTable, i, xs[i], xs[i-1])
		}
	}
	return Table{
		xs: append([]float64(nil), xs...),
		ys: append([]float64(nil), ys...),
	}, nil
}

// At returns the stopping power at specific energy u.
func (t Table) At(u float64) interp.Result {
	return interp.Interpolate(u, t.xs, t.ys)
}

// Len returns the number of samples.
func (t Table) Len() int { return len(t.xs) }

// Bounds returns the smallest and largest sampled specific energy.
func (t Table) Bounds() (float64, float64) {
	if len(t.xs) == 0 {
		return 0, 0
	}
	return t.xs[0], t.xs[len(t.xs)-1]
}

// Points returns copies of the sample arrays.
func (t Table) Points() ([]float64, []float64) {
	return append([]float64(nil), t.xs...), append([]float64(nil), t.ys...)
}

// ParseTable reads a stopping-power listing. The first line is a header; on
// every following line the third and fourth whitespace separated fields are
// the specific energy and the stopping power.
func ParseTable(r io.Reader) (Table, error) {
	scanner := bufio.NewScanner(r)
	var xs, ys []float64
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return Table{}, fmt.Errorf("%w: line %d: expected at least 4 fields, got %d", ErrMalformedTable, lineNo, len(fields))
		}
		x, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return Table{}, fmt.Errorf("%w: line %d: specific energy %q: %v", ErrMalformedTable, lineNo, fields[2], err)
		}
		y, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return Table{}, fmt.Errorf("%w: line %d: stopping power %q: %v", ErrMalformedTable, lineNo, fields[3], err)
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if err := scanner.Err(); err != nil {
		return Table{}, fmt.Errorf("read table: %w", err)
	}
	return NewTable(xs, ys)
}

// LoadFile parses the table stored at path.
func LoadFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()
	table, err := ParseTable(f)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
