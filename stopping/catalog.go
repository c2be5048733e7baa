package stopping

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Key identifies the stopping-power curve of one projectile in one material.
type Key struct {
	Projectile string
	Target     string
}

func (k Key) String() string {
	return k.Projectile + " in " + k.Target
}

// Catalog is the read-only set of tables and constants shared by all
// calculations. It is safe for concurrent use once built.
type Catalog struct {
	tables map[Key]Table
	masses map[string]float64
	molar  map[string]float64
}

// NewCatalog validates the inputs and builds a catalog. The maps are copied.
func NewCatalog(tables map[Key]Table, masses, molar map[string]float64) (*Catalog, error) {
	cat := &Catalog{
		tables: make(map[Key]Table, len(tables)),
		masses: make(map[string]float64, len(masses)),
		molar:  make(map[string]float64, len(molar)),
	}
	for key, table := range tables {
		if key.Projectile == "" || key.Target == "" {
			return nil, fmt.Errorf("%w: empty projectile or target in key %q", ErrMalformedTable, key)
		}
		if table.Len() == 0 {
			return nil, fmt.Errorf("%w: %s has no samples", ErrMalformedTable, key)
		}
		cat.tables[key] = table
	}
	for name, mass := range masses {
		if !finite(mass) || mass <= 0 {
			return nil, fmt.Errorf("mass of %s must be positive, got %g", name, mass)
		}
		cat.masses[name] = mass
	}
	for name, mass := range molar {
		if !finite(mass) || mass <= 0 {
			return nil, fmt.Errorf("molar mass of %s must be positive, got %g", name, mass)
		}
		cat.molar[name] = mass
	}
	return cat, nil
}

// Table returns the curve registered for the pair.
func (c *Catalog) Table(projectile, target string) (Table, error) {
	if c != nil {
		if table, ok := c.tables[Key{Projectile: projectile, Target: target}]; ok {
			return table, nil
		}
	}
	return Table{}, fmt.Errorf("%w: %s in %s", ErrMissingTable, projectile, target)
}

// Mass returns the per-nucleon mass (u) of a projectile.
func (c *Catalog) Mass(projectile string) (float64, error) {
	if c != nil {
		if mass, ok := c.masses[projectile]; ok {
			return mass, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrMissingMass, projectile)
}

// MolarMass returns the molar mass (g/mol) of a target material.
func (c *Catalog) MolarMass(material string) (float64, error) {
	if c != nil {
		if mass, ok := c.molar[material]; ok {
			return mass, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrMissingMaterial, material)
}

// Keys lists the registered pairs ordered by projectile, then target.
func (c *Catalog) Keys() []Key {
	if c == nil {
		return nil
	}
	keys := make([]Key, 0, len(c.tables))
	for key := range c.tables {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Projectile != keys[j].Projectile {
			return keys[i].Projectile < keys[j].Projectile
		}
		return keys[i].Target < keys[j].Target
	})
	return keys
}

// Materials lists the materials with a known molar mass.
func (c *Catalog) Materials() []string {
	if c == nil {
		return nil
	}
	return sortedKeys(c.molar)
}

// Projectiles lists the projectiles with a known mass.
func (c *Catalog) Projectiles() []string {
	if c == nil {
		return nil
	}
	return sortedKeys(c.masses)
}

// DefaultMasses returns atomic masses (u) of the beam species the tables were
// prepared for.
func DefaultMasses() map[string]float64 {
	return map[string]float64{
		"34S":  33.967867012,
		"34Cl": 33.973762491,
		"34Ar": 33.980270093,
		"37Cl": 36.965902584,
		"37Ar": 36.966776314,
		"37K":  36.973375889,
	}
}

// DefaultMolarMasses returns molar masses (g/mol) of the built-in target materials.
func DefaultMolarMasses() map[string]float64 {
	return map[string]float64{
		"He":     4.002602,
		"Mylar":  192.17,
		"Butane": 58.1222,
	}
}

// Discover scans dir for files named "<projectile>_<material>.txt" and maps
// each of them to its key. The material part is matched case-insensitively
// against materials; files that do not match are skipped.
func Discover(dir string, materials []string) (map[Key]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read table dir: %w", err)
	}
	known := make(map[string]string, len(materials))
	for _, m := range materials {
		known[strings.ToLower(m)] = m
	}
	found := make(map[Key]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".txt") {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		idx := strings.LastIndex(stem, "_")
		if idx <= 0 || idx == len(stem)-1 {
			continue
		}
		material, ok := known[strings.ToLower(stem[idx+1:])]
		if !ok {
			continue
		}
		found[Key{Projectile: stem[:idx], Target: material}] = filepath.Join(dir, entry.Name())
	}
	return found, nil
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
