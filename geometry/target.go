// Package geometry converts the physical description of a beamline (gas
// pressures, jet areal densities, foil thicknesses) into the areal
// thicknesses fed to the energy-loss integrator, and chains the layers.
package geometry

// Physical constants used by the unit conversions.
const (
	// ChamberTemperature is the ionisation chamber gas temperature (K).
	ChamberTemperature = 300.0
	// JetLength is the length of the gas jet along the beam (cm).
	JetLength = 0.3
	// Avogadro is Avogadro's constant (1/mol).
	Avogadro = 6.022140857e23
	// GasConstant is the molar gas constant (J/mol/K).
	GasConstant = 8.3144598
	// MylarDensity is the density of the entrance window foil (g/cm^3).
	MylarDensity = 1.39
	// ReactionLocation is the fractional position of the reaction in the jet.
	ReactionLocation = 0.5
	// PascalPerTorr converts torr to pascal.
	PascalPerTorr = 133.322
)

// Projectile is a beam particle entering a layer.
type Projectile struct {
	Nuclide string  `json:"nuclide"`
	Energy  float64 `json:"energy"` // MeV
}

// Target is one homogeneous layer of material. Builders return modified
// copies so that setups can be varied without sharing state.
type Target struct {
	Material  string  `json:"material"`
	MolarMass float64 `json:"molar_mass"` // g/mol
	Thickness float64 `json:"thickness"`  // mg/cm^2
	Density   float64 `json:"density"`    // g/cm^3
}

// NewTarget returns an empty layer of material.
func NewTarget(material string, molarMass float64) Target {
	return Target{Material: material, MolarMass: molarMass}
}

// Distance returns the geometric length of the layer (cm).
func (t Target) Distance() float64 {
	if t.Density == 0 {
		return 0
	}
	return t.Thickness / t.Density / 1000
}

// WithDensity sets the density (g/cm^3).
func (t Target) WithDensity(density float64) Target {
	t.Density = density
	return t
}

// WithRhoaDistance derives thickness and density from an areal atom
// density (atoms/cm^2) spread over distance (cm).
func (t Target) WithRhoaDistance(rhoa, distance float64) Target {
	t.Thickness = rhoa / Avogadro * (1000 * t.MolarMass)
	if distance != 0 {
		t.Density = (t.Thickness / 1000) / distance
	}
	return t
}

// WithPressureTemperature derives the gas density from pressure (torr) and
// temperature (K) using the ideal gas law.
func (t Target) WithPressureTemperature(pressure, temperature float64) Target {
	t.Density = ((pressure * PascalPerTorr) * t.MolarMass / GasConstant / temperature) / 1e6
	return t
}

// WithDistance derives the thickness from the current density and a length (cm).
func (t Target) WithDistance(distance float64) Target {
	t.Thickness = 1000 * t.Density * distance
	return t
}
