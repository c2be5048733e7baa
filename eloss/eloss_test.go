package eloss

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/eloss/stopping"
)

const mass = 33.980270093

func newCatalog(t *testing.T, tables map[stopping.Key]stopping.Table) *stopping.Catalog {
	t.Helper()
	cat, err := stopping.NewCatalog(tables, map[string]float64{"34Ar": mass, "34S": 33.967867012}, nil)
	require.NoError(t, err)
	return cat
}

func mustTable(t *testing.T, xs, ys []float64) stopping.Table {
	t.Helper()
	table, err := stopping.NewTable(xs, ys)
	require.NoError(t, err)
	return table
}

func constantCalculator(t *testing.T, power float64, opts ...Option) *Calculator {
	t.Helper()
	cat := newCatalog(t, map[stopping.Key]stopping.Table{
		{Projectile: "34Ar", Target: "He"}: mustTable(t, []float64{0.01, 100}, []float64{power, power}),
	})
	calc, err := New(cat, opts...)
	require.NoError(t, err)
	return calc
}

type recordingCollector struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingCollector) ObserveCalculation(projectile, target string, stopped, extrapolated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcome := "traversed"
	if stopped {
		outcome = "stopped"
	}
	if extrapolated {
		outcome += "+extrapolated"
	}
	r.calls = append(r.calls, projectile+"/"+target+"/"+outcome)
}

func (r *recordingCollector) ObserveScanPoint(float64) {}
func (r *recordingCollector) IncHotReload(string)      {}

func TestEnergyLossConstantStoppingPowerMatchesClosedForm(t *testing.T) {
	calc := constantCalculator(t, 2)

	loss, err := calc.EnergyLoss("34Ar", 50, "He", 5)
	require.NoError(t, err)
	require.InEpsilon(t, 10.0, loss, 2e-5)
}

func TestTraverseTakesFixedNumberOfSteps(t *testing.T) {
	calc := constantCalculator(t, 2)

	for _, thickness := range []float64{1e-4, 0.3, 5, 17} {
		out, err := calc.Traverse("34Ar", 500, "He", thickness)
		require.NoError(t, err)
		require.False(t, out.Stopped)
		require.InDelta(t, 100000, out.Steps, 1, "thickness=%g", thickness)
		require.Zero(t, out.RemainingThickness)
		require.InDelta(t, 500-out.Loss, out.Residual, 1e-9)
	}
}

func TestEnergyLossZeroThickness(t *testing.T) {
	calc := constantCalculator(t, 2)

	out, err := calc.Traverse("34Ar", 50, "He", 0)
	require.NoError(t, err)
	require.Zero(t, out.Loss)
	require.Zero(t, out.Steps)
	require.Equal(t, 50.0, out.Residual)
	require.False(t, out.Stopped)
}

func TestTraverseReportsRangeOut(t *testing.T) {
	calc := constantCalculator(t, 2)

	out, err := calc.Traverse("34Ar", 50, "He", 100)
	require.NoError(t, err)
	require.True(t, out.Stopped)
	require.GreaterOrEqual(t, out.Loss, 50.0)
	require.Less(t, out.Loss, 50.0+2*(2*100*StepFraction))
	require.LessOrEqual(t, out.Residual, 0.0)
	require.InDelta(t, 75, out.RemainingThickness, 0.01)
	require.Less(t, out.Steps, 100000)
}

func TestEnergyLossMonotonicInThickness(t *testing.T) {
	cat := newCatalog(t, map[stopping.Key]stopping.Table{
		{Projectile: "34Ar", Target: "Butane"}: mustTable(t, []float64{0.1, 1, 2}, []float64{10, 6, 4}),
	})
	calc, err := New(cat)
	require.NoError(t, err)

	prev := 0.0
	for _, thickness := range []float64{0, 0.01, 0.5, 1, 2, 3, 4} {
		loss, err := calc.EnergyLoss("34Ar", 50, "Butane", thickness)
		require.NoError(t, err)
		require.GreaterOrEqual(t, loss, prev, "thickness=%g", thickness)
		prev = loss
	}
	require.Greater(t, prev, 0.0)
}

func TestTraverseFlagsExtrapolation(t *testing.T) {
	cat := newCatalog(t, map[stopping.Key]stopping.Table{
		{Projectile: "34Ar", Target: "He"}:    mustTable(t, []float64{0.1, 10}, []float64{3, 1}),
		{Projectile: "34Ar", Target: "Mylar"}: mustTable(t, []float64{10, 20}, []float64{3, 1}),
	})
	calc, err := New(cat)
	require.NoError(t, err)

	inside, err := calc.Traverse("34Ar", 50, "He", 0.1)
	require.NoError(t, err)
	require.False(t, inside.Extrapolated)

	outside, err := calc.Traverse("34Ar", 50, "Mylar", 0.1)
	require.NoError(t, err)
	require.True(t, outside.Extrapolated)
}

func TestTraverseErrors(t *testing.T) {
	cat, err := stopping.NewCatalog(map[stopping.Key]stopping.Table{
		{Projectile: "34Ar", Target: "He"}: mustTable(t, []float64{1}, []float64{1}),
		{Projectile: "37K", Target: "He"}:  mustTable(t, []float64{1}, []float64{1}),
	}, map[string]float64{"34Ar": mass}, nil)
	require.NoError(t, err)
	calc, err := New(cat)
	require.NoError(t, err)

	_, err = calc.Traverse("34Ar", 50, "Mylar", 1)
	require.ErrorIs(t, err, stopping.ErrMissingTable)

	_, err = calc.Traverse("37K", 50, "He", 1)
	require.ErrorIs(t, err, stopping.ErrMissingMass)

	invalid := []struct {
		energy, thickness float64
	}{
		{energy: 0, thickness: 1},
		{energy: -1, thickness: 1},
		{energy: 50, thickness: -0.1},
		{energy: math.NaN(), thickness: 1},
		{energy: 50, thickness: math.Inf(1)},
	}
	for _, tc := range invalid {
		_, err := calc.Traverse("34Ar", tc.energy, "He", tc.thickness)
		require.ErrorIs(t, err, ErrInvalidInput, "energy=%g thickness=%g", tc.energy, tc.thickness)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	cat := newCatalog(t, nil)
	for _, fraction := range []float64{0, -1, 1.5, math.NaN()} {
		_, err := New(cat, WithStepFraction(fraction))
		require.Error(t, err, "fraction=%g", fraction)
	}

	calc, err := New(cat, WithStepFraction(1), nil)
	require.NoError(t, err)
	require.Same(t, cat, calc.Catalog())
}

func TestWithStepFractionChangesStepCount(t *testing.T) {
	calc := constantCalculator(t, 2, WithStepFraction(1e-2))

	out, err := calc.Traverse("34Ar", 50, "He", 5)
	require.NoError(t, err)
	require.InDelta(t, 100, out.Steps, 1)
	require.InEpsilon(t, 10.0, out.Loss, 2e-2)
}

func TestTraverseReportsToCollector(t *testing.T) {
	collector := &recordingCollector{}
	calc := constantCalculator(t, 2, WithCollector(collector))

	_, err := calc.Traverse("34Ar", 50, "He", 1)
	require.NoError(t, err)
	_, err = calc.Traverse("34Ar", 50, "He", 100)
	require.NoError(t, err)
	_, err = calc.Traverse("34Ar", 50, "Mylar", 1)
	require.Error(t, err)

	require.Equal(t, []string{"34Ar/He/traversed", "34Ar/He/stopped+extrapolated"}, collector.calls)
}

func TestTraverseRangeOutExtrapolatesBelowTable(t *testing.T) {
	calc := constantCalculator(t, 2)

	out, err := calc.Traverse("34Ar", 50, "He", 100)
	require.NoError(t, err)
	require.True(t, out.Stopped)
	require.True(t, out.Extrapolated, "last steps run below the first table energy")

	out, err = calc.Traverse("34Ar", 50, "He", 1)
	require.NoError(t, err)
	require.False(t, out.Stopped)
	require.False(t, out.Extrapolated)
}

func TestTraverseRejectsDivergingIntegration(t *testing.T) {
	cat := newCatalog(t, map[stopping.Key]stopping.Table{
		{Projectile: "34Ar", Target: "He"}: mustTable(t, []float64{0.01, 100}, []float64{1, 1e300}),
	})
	calc, err := New(cat)
	require.NoError(t, err)

	_, err = calc.Traverse("34Ar", 1e308, "He", 1)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCalculatorIsSafeForConcurrentUse(t *testing.T) {
	cat := newCatalog(t, map[stopping.Key]stopping.Table{
		{Projectile: "34Ar", Target: "He"}: mustTable(t, []float64{0.1, 1, 2}, []float64{10, 6, 4}),
	})
	calc, err := New(cat)
	require.NoError(t, err)

	want, err := calc.EnergyLoss("34Ar", 55.4, "He", 0.25)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]float64, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = calc.EnergyLoss("34Ar", 55.4, "He", 0.25)
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, want, results[i])
	}
}
