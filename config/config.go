package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/timzifer/eloss/geometry"
)

// Duration wraps time.Duration to support decoding from strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `json:"enabled"`
	URL     string            `json:"url"`
	Labels  map[string]string `json:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `json:"level"`
	Format string     `json:"format,omitempty"`
	Loki   LokiConfig `json:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider,omitempty"`
}

// TableConfig binds a stopping-power file to a projectile/target pair.
type TableConfig struct {
	Projectile string `json:"projectile"`
	Target     string `json:"target"`
	File       string `json:"file"`
}

// DataConfig locates stopping tables and overrides built-in constants.
//
// When Tables is empty every "<projectile>_<material>.txt" file in Dir is
// picked up.
type DataConfig struct {
	Dir         string             `json:"dir"`
	Tables      []TableConfig      `json:"tables"`
	Masses      map[string]float64 `json:"masses"`
	MolarMasses map[string]float64 `json:"molar_masses"`
}

// IntegrationConfig tunes the integrator.
type IntegrationConfig struct {
	StepFraction float64 `json:"step_fraction"`
}

// ColumnConfig defines a derived scan column computed by an expression.
type ColumnConfig struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// ScanConfig describes the batch scan grid.
type ScanConfig struct {
	Rhoa      []float64      `json:"rhoa"`
	Pressures []float64      `json:"pressures"`
	Workers   int            `json:"workers"`
	Columns   []ColumnConfig `json:"columns"`
}

// OutputConfig selects the report format.
type OutputConfig struct {
	Format    string `json:"format"`
	Path      string `json:"path"`
	Precision int    `json:"precision"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen          string   `json:"listen"`
	RateLimit       float64  `json:"rate_limit"`
	Burst           int      `json:"burst"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	ReloadInterval  Duration `json:"reload_interval"`
}

// Config is the root configuration structure.
type Config struct {
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Logging     LoggingConfig     `json:"logging"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	Data        DataConfig        `json:"data"`
	Integration IntegrationConfig `json:"integration"`
	Setup       geometry.Params   `json:"setup"`
	Scan        ScanConfig        `json:"scan"`
	Output      OutputConfig      `json:"output"`
	Server      ServerConfig      `json:"server"`
	HotReload   bool              `json:"hot_reload,omitempty"`

	// Source is the absolute path of the file the configuration came from.
	Source string `json:"-"`
}

// Default returns the configuration obtained from an empty file.
func Default() (*Config, error) {
	return decode(cuecontext.New(), map[string]interface{}{}, "")
}

// Load reads, validates and decodes the configuration file at path. Files
// ending in .cue are compiled as CUE (optionally wrapped in a top-level
// "config" field); everything else is parsed as YAML.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	ctx := cuecontext.New()
	var data interface{}
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".cue":
		val := ctx.CompileBytes(raw, cue.Filename(abs))
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("compile config: %w", err)
		}
		if wrapped := val.LookupPath(cue.ParsePath("config")); wrapped.Exists() {
			val = wrapped
		}
		data = val
	default:
		doc := map[string]interface{}{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
		data = doc
	}

	cfg, err := decode(ctx, data, abs)
	if err != nil {
		return nil, err
	}
	cfg.Source = abs
	return cfg, nil
}

func decode(ctx *cue.Context, data interface{}, filename string) (*Config, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("eloss-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	var val cue.Value
	switch v := data.(type) {
	case cue.Value:
		val = v
	default:
		val = ctx.Encode(v)
	}
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	merged := def.Unify(val)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		if filename != "" {
			return nil, fmt.Errorf("validate config %s: %w", filename, err)
		}
		return nil, fmt.Errorf("validate config: %w", err)
	}
	var cfg Config
	if err := merged.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ResolvePath interprets p relative to the directory of the configuration file.
func (c *Config) ResolvePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) || c == nil || c.Source == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.Source), p)
}

// DataDir returns the resolved stopping table directory.
func (c *Config) DataDir() string {
	if c == nil {
		return ""
	}
	return c.ResolvePath(c.Data.Dir)
}

// TablePath returns the resolved location of a configured table file.
func (c *Config) TablePath(table TableConfig) string {
	if filepath.IsAbs(table.File) {
		return table.File
	}
	return filepath.Join(c.DataDir(), table.File)
}
