// Package eloss integrates tabulated stopping powers to obtain the energy a
// projectile loses while crossing a layer of material.
package eloss

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/timzifer/eloss/stopping"
	"github.com/timzifer/eloss/telemetry"
)

// StepFraction is the fraction of the total thickness crossed per
// integration step. Every calculation therefore takes 1/StepFraction steps.
const StepFraction = 1e-5

var (
	// ErrInvalidInput reports a non-positive energy, a negative thickness, a
	// non-finite argument or an integration that left the finite range.
	ErrInvalidInput = errors.New("eloss: invalid input")
	// ErrAbsentValue reports a stopping table lookup that produced no value.
	ErrAbsentValue = errors.New("eloss: stopping table returned no value")
)

// Outcome describes one traversal of a layer.
type Outcome struct {
	// Loss is the kinetic energy lost in the layer (MeV).
	Loss float64 `json:"loss"`
	// Residual is the kinetic energy left on exit (MeV).
	Residual float64 `json:"residual"`
	// RemainingThickness is the part of the layer (mg/cm^2) not crossed
	// because the projectile stopped.
	RemainingThickness float64 `json:"remaining_thickness"`
	Steps              int     `json:"steps"`
	// Stopped is set when the projectile ranged out inside the layer.
	Stopped bool `json:"stopped"`
	// Extrapolated is set when any step queried the table outside its range.
	Extrapolated bool `json:"extrapolated"`
}

// Calculator runs energy-loss integrations against a catalog. It holds no
// mutable state and may be shared between goroutines.
type Calculator struct {
	catalog      *stopping.Catalog
	stepFraction float64
	collector    telemetry.Collector
	logger       zerolog.Logger
}

// Option customises a Calculator.
type Option func(*Calculator) error

// WithStepFraction overrides StepFraction.
func WithStepFraction(fraction float64) Option {
	return func(c *Calculator) error {
		if math.IsNaN(fraction) || fraction <= 0 || fraction > 1 {
			return fmt.Errorf("step fraction must be in (0, 1], got %g", fraction)
		}
		c.stepFraction = fraction
		return nil
	}
}

// WithCollector reports every calculation to the collector.
func WithCollector(collector telemetry.Collector) Option {
	return func(c *Calculator) error {
		if collector != nil {
			c.collector = collector
		}
		return nil
	}
}

// WithLogger sets the logger used for debug traces.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Calculator) error {
		c.logger = logger
		return nil
	}
}

// New builds a calculator over the catalog.
func New(catalog *stopping.Catalog, opts ...Option) (*Calculator, error) {
	if catalog == nil {
		return nil, errors.New("eloss: catalog must not be nil")
	}
	calc := &Calculator{
		catalog:      catalog,
		stepFraction: StepFraction,
		collector:    telemetry.Noop(),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(calc); err != nil {
			return nil, err
		}
	}
	return calc, nil
}

// Catalog returns the catalog the calculator reads from.
func (c *Calculator) Catalog() *stopping.Catalog {
	return c.catalog
}

// EnergyLoss returns the energy (MeV) a projectile with the given total
// kinetic energy (MeV) loses in thickness (mg/cm^2) of target.
func (c *Calculator) EnergyLoss(projectile string, energy float64, target string, thickness float64) (float64, error) {
	out, err := c.Traverse(projectile, energy, target, thickness)
	if err != nil {
		return 0, err
	}
	return out.Loss, nil
}

// Traverse integrates the stopping power over the layer with fixed forward
// Euler steps in thickness and reports the full outcome.
func (c *Calculator) Traverse(projectile string, energy float64, target string, thickness float64) (Outcome, error) {
	if err := validate(energy, thickness); err != nil {
		return Outcome{}, err
	}
	table, err := c.catalog.Table(projectile, target)
	if err != nil {
		return Outcome{}, err
	}
	mass, err := c.catalog.Mass(projectile)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	u := energy / mass
	remaining := thickness
	step := remaining * c.stepFraction
	for remaining > 0 && u > 0 {
		res := table.At(u)
		power, ok := res.Get()
		if !ok {
			return Outcome{}, fmt.Errorf("%w: %s in %s at %g MeV/u", ErrAbsentValue, projectile, target, u)
		}
		if res.IsExtrapolated() {
			out.Extrapolated = true
		}
		u -= power * step / mass
		if math.IsNaN(u) || math.IsInf(u, 0) {
			return Outcome{}, fmt.Errorf("%w: %s in %s diverged after %d steps", ErrInvalidInput, projectile, target, out.Steps)
		}
		remaining -= step
		out.Steps++
	}

	out.Residual = u * mass
	out.Loss = energy - out.Residual
	if u <= 0 {
		out.Stopped = true
		out.RemainingThickness = math.Max(remaining, 0)
	}

	c.collector.ObserveCalculation(projectile, target, out.Stopped, out.Extrapolated)
	c.logger.Debug().
		Str("projectile", projectile).
		Str("target", target).
		Float64("energy", energy).
		Float64("thickness", thickness).
		Float64("loss", out.Loss).
		Int("steps", out.Steps).
		Bool("stopped", out.Stopped).
		Msg("energy loss computed")
	return out, nil
}

func validate(energy, thickness float64) error {
	if math.IsNaN(energy) || math.IsInf(energy, 0) {
		return fmt.Errorf("%w: energy %g is not finite", ErrInvalidInput, energy)
	}
	if math.IsNaN(thickness) || math.IsInf(thickness, 0) {
		return fmt.Errorf("%w: thickness %g is not finite", ErrInvalidInput, thickness)
	}
	if energy <= 0 {
		return fmt.Errorf("%w: energy must be positive, got %g", ErrInvalidInput, energy)
	}
	if thickness < 0 {
		return fmt.Errorf("%w: thickness must not be negative, got %g", ErrInvalidInput, thickness)
	}
	return nil
}
