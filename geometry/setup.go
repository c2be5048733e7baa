package geometry

import (
	"errors"
	"fmt"

	"github.com/timzifer/eloss/eloss"
)

// Stage names the part of the beamline a layer belongs to.
type Stage string

const (
	StageJetIn   Stage = "jet-in"
	StageJetOut  Stage = "jet-out"
	StageWindow  Stage = "window"
	StageChamber Stage = "chamber"
)

// JetParams describes the gas jet target.
type JetParams struct {
	Material string  `json:"material"`
	Rhoa     float64 `json:"rhoa"`   // atoms/cm^2
	Length   float64 `json:"length"` // cm
}

// WindowParams describes a solid foil between jet and chamber.
type WindowParams struct {
	Material string  `json:"material"`
	Density  float64 `json:"density"`  // g/cm^3
	Distance float64 `json:"distance"` // cm
}

// ChamberParams describes the gas-filled ionisation chamber and its anode segments.
type ChamberParams struct {
	Material    string    `json:"material"`
	Pressure    float64   `json:"pressure"`    // torr
	Temperature float64   `json:"temperature"` // K
	Anodes      []float64 `json:"anodes"`      // cm
}

// Params is the physical description of a setup.
type Params struct {
	BeamBefore       Projectile     `json:"beam_before"`
	BeamAfter        Projectile     `json:"beam_after"`
	ReactionLocation float64        `json:"reaction_location"`
	Jet              JetParams      `json:"jet"`
	Windows          []WindowParams `json:"windows"`
	Chamber          ChamberParams  `json:"chamber"`
}

// DefaultParams returns the reference beamline: 34Ar at 55.4 MeV through a
// helium jet, a 3 um Mylar window and a five-anode butane ionisation chamber.
func DefaultParams() Params {
	beam := Projectile{Nuclide: "34Ar", Energy: 55.4}
	return Params{
		BeamBefore:       beam,
		BeamAfter:        beam,
		ReactionLocation: ReactionLocation,
		Jet:              JetParams{Material: "He", Rhoa: 1e19, Length: JetLength},
		Windows:          []WindowParams{{Material: "Mylar", Density: MylarDensity, Distance: 3e-4}},
		Chamber: ChamberParams{
			Material:    "Butane",
			Pressure:    15,
			Temperature: ChamberTemperature,
			Anodes:      []float64{2.0, 3.66, 3.66, 7.32, 18.3},
		},
	}
}

// MolarMassFunc resolves the molar mass of a material.
type MolarMassFunc func(material string) (float64, error)

// Layer is one target crossed by one beam species.
type Layer struct {
	Stage  Stage
	Index  int
	Beam   Projectile
	Target Target
}

// Setup is a concrete beamline with thicknesses resolved.
type Setup struct {
	params  Params
	jetIn   Target
	jetOut  Target
	windows []Target
	chamber []Target
}

// NewSetup resolves params into layer thicknesses.
func NewSetup(params Params, molarMass MolarMassFunc) (Setup, error) {
	if molarMass == nil {
		return Setup{}, errors.New("geometry: molar mass lookup must not be nil")
	}
	if params.ReactionLocation < 0 || params.ReactionLocation > 1 {
		return Setup{}, fmt.Errorf("geometry: reaction location must be within [0, 1], got %g", params.ReactionLocation)
	}
	if params.Jet.Rhoa < 0 || params.Jet.Length <= 0 {
		return Setup{}, fmt.Errorf("geometry: jet needs rhoa >= 0 and a positive length")
	}
	if params.Chamber.Pressure < 0 || params.Chamber.Temperature <= 0 {
		return Setup{}, fmt.Errorf("geometry: chamber needs pressure >= 0 and a positive temperature")
	}
	if params.BeamBefore.Nuclide == "" || params.BeamAfter.Nuclide == "" {
		return Setup{}, errors.New("geometry: beam nuclides must be set")
	}

	jetMass, err := molarMass(params.Jet.Material)
	if err != nil {
		return Setup{}, err
	}
	s := Setup{params: params}
	s.jetIn = NewTarget(params.Jet.Material, jetMass)
	s.jetOut = NewTarget(params.Jet.Material, jetMass)

	for i, w := range params.Windows {
		if w.Density <= 0 || w.Distance < 0 {
			return Setup{}, fmt.Errorf("geometry: window %d needs a positive density and distance >= 0", i)
		}
		mass, err := molarMass(w.Material)
		if err != nil {
			return Setup{}, err
		}
		s.windows = append(s.windows, NewTarget(w.Material, mass).WithDensity(w.Density).WithDistance(w.Distance))
	}

	chamberMass, err := molarMass(params.Chamber.Material)
	if err != nil {
		return Setup{}, err
	}
	for i, anode := range params.Chamber.Anodes {
		if anode < 0 {
			return Setup{}, fmt.Errorf("geometry: anode %d length must not be negative", i)
		}
		t := NewTarget(params.Chamber.Material, chamberMass).
			WithPressureTemperature(params.Chamber.Pressure, params.Chamber.Temperature).
			WithDistance(anode)
		s.chamber = append(s.chamber, t)
	}

	return s.WithJetRhoa(params.Jet.Rhoa), nil
}

// Params returns the parameters the setup currently reflects.
func (s Setup) Params() Params {
	p := s.params
	p.Windows = append([]WindowParams(nil), s.params.Windows...)
	p.Chamber.Anodes = append([]float64(nil), s.params.Chamber.Anodes...)
	return p
}

// WithJetRhoa returns a copy with the jet areal density replaced.
func (s Setup) WithJetRhoa(rhoa float64) Setup {
	out := s.clone()
	out.params.Jet.Rhoa = rhoa
	loc := out.params.ReactionLocation
	out.jetIn = out.jetIn.WithRhoaDistance(rhoa, loc*out.params.Jet.Length)
	out.jetOut = out.jetOut.WithRhoaDistance(rhoa, (1-loc)*out.params.Jet.Length)
	return out
}

// WithChamberPressure returns a copy with the chamber gas at a new pressure.
// Anode lengths are kept.
func (s Setup) WithChamberPressure(pressure float64) Setup {
	out := s.clone()
	out.params.Chamber.Pressure = pressure
	for i, t := range out.chamber {
		d := t.Distance()
		if t.Density == 0 {
			d = out.params.Chamber.Anodes[i]
		}
		out.chamber[i] = t.WithPressureTemperature(pressure, out.params.Chamber.Temperature).WithDistance(d)
	}
	return out
}

// Layers lists the layers in beam order.
func (s Setup) Layers() []Layer {
	layers := make([]Layer, 0, 2+len(s.windows)+len(s.chamber))
	layers = append(layers,
		Layer{Stage: StageJetIn, Beam: s.params.BeamBefore, Target: s.jetIn},
		Layer{Stage: StageJetOut, Beam: s.params.BeamAfter, Target: s.jetOut},
	)
	for i, t := range s.windows {
		layers = append(layers, Layer{Stage: StageWindow, Index: i, Beam: s.params.BeamAfter, Target: t})
	}
	for i, t := range s.chamber {
		layers = append(layers, Layer{Stage: StageChamber, Index: i, Beam: s.params.BeamAfter, Target: t})
	}
	return layers
}

func (s Setup) clone() Setup {
	out := s
	out.params = s.Params()
	out.windows = append([]Target(nil), s.windows...)
	out.chamber = append([]Target(nil), s.chamber...)
	return out
}

// Traverser computes the passage of a projectile through one layer.
type Traverser interface {
	Traverse(projectile string, energy float64, target string, thickness float64) (eloss.Outcome, error)
}

// LayerLoss is the energy deposited in one layer.
type LayerLoss struct {
	Stage        Stage   `json:"stage"`
	Index        int     `json:"index"`
	Projectile   string  `json:"projectile"`
	Material     string  `json:"material"`
	Thickness    float64 `json:"thickness"`
	EnergyIn     float64 `json:"energy_in"`
	Loss         float64 `json:"loss"`
	Stopped      bool    `json:"stopped"`
	Extrapolated bool    `json:"extrapolated,omitempty"`
}

// Label names the layer for reports, e.g. "chamber[2]".
func (l LayerLoss) Label() string {
	return fmt.Sprintf("%s[%d]", l.Stage, l.Index)
}

// Chain is the result of following the beam through every layer.
type Chain struct {
	Layers   []LayerLoss `json:"layers"`
	Residual float64     `json:"residual"`
	Stopped  bool        `json:"stopped"`
}

// Losses returns the per-layer losses in beam order.
func (c Chain) Losses() []float64 {
	out := make([]float64, len(c.Layers))
	for i, l := range c.Layers {
		out[i] = l.Loss
	}
	return out
}

// Total returns the summed loss over all layers.
func (c Chain) Total() float64 {
	total := 0.0
	for _, l := range c.Layers {
		total += l.Loss
	}
	return total
}

// Calculate follows the beam through all layers. The energy entering a layer
// is that layer's beam energy minus everything lost upstream. Once the
// projectile has stopped, downstream layers report zero loss.
func (s Setup) Calculate(calc Traverser) (Chain, error) {
	if calc == nil {
		return Chain{}, errors.New("geometry: traverser must not be nil")
	}
	layers := s.Layers()
	chain := Chain{Layers: make([]LayerLoss, 0, len(layers))}
	lost := 0.0
	residual := 0.0
	for _, layer := range layers {
		energy := layer.Beam.Energy - lost
		entry := LayerLoss{
			Stage:      layer.Stage,
			Index:      layer.Index,
			Projectile: layer.Beam.Nuclide,
			Material:   layer.Target.Material,
			Thickness:  layer.Target.Thickness,
			EnergyIn:   energy,
		}
		if chain.Stopped || energy <= 0 {
			entry.EnergyIn = 0
			entry.Stopped = true
			chain.Stopped = true
			chain.Layers = append(chain.Layers, entry)
			residual = 0
			continue
		}
		out, err := calc.Traverse(layer.Beam.Nuclide, energy, layer.Target.Material, layer.Target.Thickness)
		if err != nil {
			return Chain{}, fmt.Errorf("%s: %w", entry.Label(), err)
		}
		entry.Loss = out.Loss
		entry.Stopped = out.Stopped
		entry.Extrapolated = out.Extrapolated
		chain.Layers = append(chain.Layers, entry)
		chain.Stopped = chain.Stopped || out.Stopped
		lost += out.Loss
		residual = out.Residual
	}
	if residual < 0 {
		residual = 0
	}
	chain.Residual = residual
	return chain, nil
}
