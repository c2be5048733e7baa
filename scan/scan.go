// Package scan evaluates a beamline setup over a grid of jet areal densities
// and chamber pressures.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/eloss/geometry"
	"github.com/timzifer/eloss/telemetry"
)

// Plan is the scan grid. Points are enumerated rhoa-major: every pressure is
// visited for the first rhoa before moving to the next one.
type Plan struct {
	Rhoa      []float64
	Pressures []float64
}

// Point is one grid position.
type Point struct {
	Index    int
	Rhoa     float64
	Pressure float64
}

// Points enumerates the grid.
func (p Plan) Points() []Point {
	points := make([]Point, 0, len(p.Rhoa)*len(p.Pressures))
	for _, rhoa := range p.Rhoa {
		for _, pressure := range p.Pressures {
			points = append(points, Point{Index: len(points), Rhoa: rhoa, Pressure: pressure})
		}
	}
	return points
}

// Row is the result for one grid position.
type Row struct {
	Point
	Chain   geometry.Chain
	Columns map[string]float64
}

// Runner evaluates plans against a base setup.
type Runner struct {
	Setup     geometry.Setup
	Calc      geometry.Traverser
	Workers   int
	Columns   []Column
	Logger    zerolog.Logger
	Collector telemetry.Collector
}

// Run evaluates every point of the plan. Rows are returned in point order.
// The first failing point cancels the remaining work and its error is
// returned.
func (r *Runner) Run(ctx context.Context, plan Plan) ([]Row, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.Calc == nil {
		return nil, errors.New("scan: calculator must not be nil")
	}
	columns, err := compileColumns(r.Columns)
	if err != nil {
		return nil, err
	}
	collector := r.Collector
	if collector == nil {
		collector = telemetry.Noop()
	}

	points := plan.Points()
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	rows, err := runWorkerPool(ctx, workers, points, func(ctx context.Context, pt Point) (Row, error) {
		begin := time.Now()
		row, err := r.evaluate(pt, columns)
		collector.ObserveScanPoint(time.Since(begin).Seconds())
		if err != nil {
			cancel()
			return Row{}, fmt.Errorf("scan point %d (rhoa=%g, pressure=%g): %w", pt.Index, pt.Rhoa, pt.Pressure, err)
		}
		r.Logger.Debug().
			Int("point", pt.Index).
			Float64("rhoa", pt.Rhoa).
			Float64("pressure", pt.Pressure).
			Float64("residual", row.Chain.Residual).
			Msg("scan point computed")
		return row, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })
	r.Logger.Info().
		Int("points", len(rows)).
		Int("workers", workers).
		Dur("elapsed", time.Since(started)).
		Msg("scan finished")
	return rows, nil
}

func (r *Runner) evaluate(pt Point, columns []compiledColumn) (Row, error) {
	setup := r.Setup.WithJetRhoa(pt.Rhoa).WithChamberPressure(pt.Pressure)
	chain, err := setup.Calculate(r.Calc)
	if err != nil {
		return Row{}, err
	}
	row := Row{Point: pt, Chain: chain}
	if len(columns) == 0 {
		return row, nil
	}
	env := columnEnv(chain.Losses(), chain.Total(), chain.Residual,
		setup.Params().BeamBefore.Energy, pt.Rhoa, pt.Pressure, chain.Stopped)
	row.Columns, err = evalColumns(columns, env)
	if err != nil {
		return Row{}, err
	}
	return row, nil
}
