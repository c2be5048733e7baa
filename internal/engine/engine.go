// Package engine assembles the stopping catalog, the integrator and the
// beamline setup described by a configuration.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/eloss/config"
	"github.com/timzifer/eloss/eloss"
	"github.com/timzifer/eloss/geometry"
	"github.com/timzifer/eloss/scan"
	"github.com/timzifer/eloss/stopping"
	"github.com/timzifer/eloss/telemetry"
)

// ErrNoTables reports a configuration that resolves to no stopping table.
var ErrNoTables = errors.New("engine: no stopping tables found")

// Engine is an immutable snapshot built from one configuration.
type Engine struct {
	cfg       *config.Config
	catalog   *stopping.Catalog
	calc      *eloss.Calculator
	setup     geometry.Setup
	files     map[stopping.Key]string
	logger    zerolog.Logger
	collector telemetry.Collector
	built     time.Time
}

// Build loads every table referenced by cfg and prepares the calculator and
// setup.
func Build(cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config must not be nil")
	}
	if collector == nil {
		collector = telemetry.Noop()
	}

	masses := stopping.DefaultMasses()
	for name, mass := range cfg.Data.Masses {
		masses[name] = mass
	}
	molar := stopping.DefaultMolarMasses()
	for name, mass := range cfg.Data.MolarMasses {
		molar[name] = mass
	}

	files, err := tableFiles(cfg, molar)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTables, cfg.DataDir())
	}

	tables := make(map[stopping.Key]stopping.Table, len(files))
	for key, path := range files {
		table, err := stopping.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		lo, hi := table.Bounds()
		logger.Debug().
			Str("projectile", key.Projectile).
			Str("target", key.Target).
			Str("file", path).
			Int("points", table.Len()).
			Float64("min", lo).
			Float64("max", hi).
			Msg("stopping table loaded")
		tables[key] = table
	}

	catalog, err := stopping.NewCatalog(tables, masses, molar)
	if err != nil {
		return nil, err
	}

	opts := []eloss.Option{eloss.WithCollector(collector), eloss.WithLogger(logger)}
	if cfg.Integration.StepFraction > 0 {
		opts = append(opts, eloss.WithStepFraction(cfg.Integration.StepFraction))
	}
	calc, err := eloss.New(catalog, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calculator: %w", err)
	}

	setup, err := geometry.NewSetup(cfg.Setup, catalog.MolarMass)
	if err != nil {
		return nil, fmt.Errorf("create setup: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		catalog:   catalog,
		calc:      calc,
		setup:     setup,
		files:     files,
		logger:    logger,
		collector: collector,
		built:     time.Now(),
	}
	for _, key := range e.Missing() {
		logger.Warn().
			Str("projectile", key.Projectile).
			Str("target", key.Target).
			Msg("setup layer has no stopping table")
	}
	logger.Info().
		Int("tables", len(tables)).
		Str("source", cfg.Source).
		Msg("engine ready")
	return e, nil
}

func tableFiles(cfg *config.Config, molar map[string]float64) (map[stopping.Key]string, error) {
	if len(cfg.Data.Tables) > 0 {
		files := make(map[stopping.Key]string, len(cfg.Data.Tables))
		for _, t := range cfg.Data.Tables {
			key := stopping.Key{Projectile: t.Projectile, Target: t.Target}
			if _, dup := files[key]; dup {
				return nil, fmt.Errorf("engine: table %s configured twice", key)
			}
			files[key] = cfg.TablePath(t)
		}
		return files, nil
	}
	materials := make([]string, 0, len(molar))
	for name := range molar {
		materials = append(materials, name)
	}
	sort.Strings(materials)
	return stopping.Discover(cfg.DataDir(), materials)
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Catalog returns the loaded tables and constants.
func (e *Engine) Catalog() *stopping.Catalog { return e.catalog }

// Calculator returns the integrator.
func (e *Engine) Calculator() *eloss.Calculator { return e.calc }

// Setup returns the configured beamline.
func (e *Engine) Setup() geometry.Setup { return e.setup }

// BuiltAt returns when the engine was assembled.
func (e *Engine) BuiltAt() time.Time { return e.built }

// TableFile returns the file a table was loaded from.
func (e *Engine) TableFile(key stopping.Key) string { return e.files[key] }

// Missing lists the projectile/material pairs the setup needs but the
// catalog lacks.
func (e *Engine) Missing() []stopping.Key {
	seen := make(map[stopping.Key]struct{})
	var missing []stopping.Key
	for _, layer := range e.setup.Layers() {
		key := stopping.Key{Projectile: layer.Beam.Nuclide, Target: layer.Target.Material}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, err := e.catalog.Table(key.Projectile, key.Target); err != nil {
			missing = append(missing, key)
			continue
		}
		if _, err := e.catalog.Mass(key.Projectile); err != nil {
			missing = append(missing, key)
		}
	}
	return missing
}

// Chain follows the beam through the setup. Zero or negative overrides keep
// the configured jet areal density and chamber pressure.
func (e *Engine) Chain(rhoa, pressure float64) (geometry.Chain, error) {
	setup := e.setup
	if rhoa > 0 {
		setup = setup.WithJetRhoa(rhoa)
	}
	if pressure > 0 {
		setup = setup.WithChamberPressure(pressure)
	}
	return setup.Calculate(e.calc)
}

// Plan returns the configured scan grid.
func (e *Engine) Plan() scan.Plan {
	return scan.Plan{
		Rhoa:      append([]float64(nil), e.cfg.Scan.Rhoa...),
		Pressures: append([]float64(nil), e.cfg.Scan.Pressures...),
	}
}

// Columns returns the configured derived columns.
func (e *Engine) Columns() []scan.Column {
	cols := make([]scan.Column, 0, len(e.cfg.Scan.Columns))
	for _, c := range e.cfg.Scan.Columns {
		cols = append(cols, scan.Column{Name: c.Name, Expr: c.Expr})
	}
	return cols
}

// ColumnNames returns the derived column names in configuration order.
func (e *Engine) ColumnNames() []string {
	names := make([]string, 0, len(e.cfg.Scan.Columns))
	for _, c := range e.cfg.Scan.Columns {
		names = append(names, c.Name)
	}
	return names
}

// Runner returns a scan runner over the configured setup. A positive workers
// value overrides the configuration.
func (e *Engine) Runner(workers int) *scan.Runner {
	if workers <= 0 {
		workers = e.cfg.Scan.Workers
	}
	return &scan.Runner{
		Setup:     e.setup,
		Calc:      e.calc,
		Workers:   workers,
		Columns:   e.Columns(),
		Logger:    e.logger,
		Collector: e.collector,
	}
}
