package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/eloss/geometry"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDefaultMatchesReferenceSetup(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "auto", cfg.Logging.Format)
	require.False(t, cfg.Logging.Loki.Enabled)
	require.Equal(t, "data", cfg.Data.Dir)
	require.Empty(t, cfg.Data.Tables)
	require.Equal(t, 1e-5, cfg.Integration.StepFraction)
	require.Equal(t, geometry.DefaultParams(), cfg.Setup)
	require.Equal(t, []float64{5e18, 1e19}, cfg.Scan.Rhoa)
	require.Equal(t, []float64{14, 15, 16}, cfg.Scan.Pressures)
	require.Equal(t, "text", cfg.Output.Format)
	require.Equal(t, 6, cfg.Output.Precision)
	require.Equal(t, ":8080", cfg.Server.Listen)
	require.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Duration)
	require.Equal(t, 2*time.Second, cfg.Server.ReloadInterval.Duration)
	require.False(t, cfg.HotReload)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eloss.yaml")
	writeFile(t, path, `name: ic-calibration
logging:
  level: debug
  format: json
data:
  dir: tables
  tables:
    - projectile: 37K
      target: He
      file: 37K_he.txt
  masses:
    37K: 36.973375889
integration:
  step_fraction: 0.001
setup:
  beam_before:
    nuclide: 37K
    energy: 60
  chamber:
    pressure: 12
    anodes: [1, 2]
  windows: []
scan:
  rhoa: [1e18]
  pressures: [10, 12]
  workers: 4
  columns:
    - name: first_anode
      expr: losses[3]
output:
  format: csv
  precision: 3
server:
  shutdown_timeout: 1s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, cfg.Source)
	require.Equal(t, "ic-calibration", cfg.Name)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, filepath.Join(dir, "tables"), cfg.DataDir())
	require.Len(t, cfg.Data.Tables, 1)
	require.Equal(t, filepath.Join(dir, "tables", "37K_he.txt"), cfg.TablePath(cfg.Data.Tables[0]))
	require.Equal(t, 36.973375889, cfg.Data.Masses["37K"])
	require.Equal(t, 0.001, cfg.Integration.StepFraction)

	require.Equal(t, geometry.Projectile{Nuclide: "37K", Energy: 60}, cfg.Setup.BeamBefore)
	require.Equal(t, geometry.Projectile{Nuclide: "34Ar", Energy: 55.4}, cfg.Setup.BeamAfter)
	require.Equal(t, 12.0, cfg.Setup.Chamber.Pressure)
	require.Equal(t, 300.0, cfg.Setup.Chamber.Temperature)
	require.Equal(t, []float64{1, 2}, cfg.Setup.Chamber.Anodes)
	require.Empty(t, cfg.Setup.Windows)

	require.Equal(t, []float64{1e18}, cfg.Scan.Rhoa)
	require.Equal(t, []float64{10, 12}, cfg.Scan.Pressures)
	require.Equal(t, 4, cfg.Scan.Workers)
	require.Equal(t, []ColumnConfig{{Name: "first_anode", Expr: "losses[3]"}}, cfg.Scan.Columns)
	require.Equal(t, "csv", cfg.Output.Format)
	require.Equal(t, 3, cfg.Output.Precision)
	require.Equal(t, time.Second, cfg.Server.ShutdownTimeout.Duration)
}

func TestLoadCUE(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eloss.cue")
	writeFile(t, path, `package eloss

_pressures: [13.0, 14.0]

config: {
	telemetry: enabled: true
	scan: pressures: _pressures
	output: format: "xlsx"
	hot_reload: true
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "prometheus", cfg.Telemetry.Provider)
	require.Equal(t, []float64{13, 14}, cfg.Scan.Pressures)
	require.Equal(t, "xlsx", cfg.Output.Format)
	require.True(t, cfg.HotReload)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "unknown: 1\n",
		"bad format":       "output:\n  format: pdf\n",
		"negative step":    "integration:\n  step_fraction: -1\n",
		"bad mass":         "data:\n  masses:\n    34Ar: 0\n",
		"bad column name":  "scan:\n  columns:\n    - name: 1st\n      expr: residual\n",
		"precision range":  "output:\n  precision: 40\n",
		"malformed yaml":   "logging: [\n",
		"reaction outside": "setup:\n  reaction_location: 2\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "eloss.yaml")
			writeFile(t, path, content)
			_, err := Load(path)
			require.Error(t, err)
		})
	}

	_, err := Load("")
	require.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("150ms")))
	require.Equal(t, 150*time.Millisecond, d.Duration)
	require.NoError(t, d.UnmarshalText(nil))
	require.Zero(t, d.Duration)
	require.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration{Duration: time.Minute}.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m0s", string(text))
}

func TestLoadEnvAndApplyEnv(t *testing.T) {
	for _, key := range []string{EnvDataDir, EnvLogLevel, EnvListen} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	envFile := filepath.Join(t.TempDir(), ".env")
	writeFile(t, envFile, EnvDataDir+"=/srv/tables\n"+EnvListen+"=127.0.0.1:9000\n")

	require.NoError(t, LoadEnv(envFile, filepath.Join(t.TempDir(), "absent.env")))

	cfg, err := Default()
	require.NoError(t, err)
	ApplyEnv(cfg)
	require.Equal(t, "/srv/tables", cfg.Data.Dir)
	require.Equal(t, "/srv/tables", cfg.DataDir())
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	require.Equal(t, "info", cfg.Logging.Level)

	ApplyEnv(nil)
}

func TestSourceFiles(t *testing.T) {
	dir := t.TempDir()
	tables := filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(tables, 0o700))
	writeFile(t, filepath.Join(tables, "34Ar_he.txt"), "h\n")
	writeFile(t, filepath.Join(tables, "34Ar_mylar.txt"), "h\n")
	writeFile(t, filepath.Join(tables, "README"), "h\n")

	path := filepath.Join(dir, "eloss.yaml")
	writeFile(t, path, "name: discover\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, []string{
		filepath.Join(tables, "34Ar_he.txt"),
		filepath.Join(tables, "34Ar_mylar.txt"),
		path,
	}, SourceFiles(cfg))

	cfg.Data.Tables = []TableConfig{{Projectile: "34Ar", Target: "He", File: "34Ar_he.txt"}}
	require.Equal(t, []string{filepath.Join(tables, "34Ar_he.txt"), path}, SourceFiles(cfg))

	require.Nil(t, SourceFiles(nil))
}
