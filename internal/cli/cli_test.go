package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/eloss/config"
	"github.com/timzifer/eloss/stopping"
)

func fixtureDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs("../../testdata/tables")
	require.NoError(t, err)
	return dir
}

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eloss.yaml")
	content := `
logging:
  level: error
  format: json
data:
  dir: ` + fixtureDir(t) + `
integration:
  step_fraction: 0.001
scan:
  rhoa: [1.0e+19]
  pressures: [14.0, 15.0]
  columns:
    - name: jet
      expr: losses[0] + losses[1]
output:
  precision: 4
` + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "eloss "))
}

func TestCalc(t *testing.T) {
	cfg := writeConfig(t, "")
	out, _, err := run(t, "--config", cfg, "calc", "-t", "He", "-e", "55.4", "-x", "0.05")
	require.NoError(t, err)
	require.Contains(t, out, "loss=")
	require.Contains(t, out, "residual=")
	require.NotContains(t, out, "stopped")

	out, _, err = run(t, "-c", cfg, "calc", "-p", "34Ar", "-t", "Butane", "-e", "10", "-x", "100")
	require.NoError(t, err)
	require.Contains(t, out, "stopped remaining=")
}

func TestCalcErrors(t *testing.T) {
	cfg := writeConfig(t, "")
	_, stderr, err := run(t, "--config", cfg, "calc", "-t", "Gold", "-e", "55.4", "-x", "1")
	require.ErrorIs(t, err, stopping.ErrMissingTable)
	require.Contains(t, stderr, "error:")

	_, _, err = run(t, "--config", cfg, "calc", "-t", "He", "-e", "55.4")
	require.Error(t, err, "thickness is required")

	_, _, err = run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "calc", "-t", "He", "-e", "1", "-x", "1")
	require.Error(t, err)
}

func TestChainText(t *testing.T) {
	out, _, err := run(t, "--config", writeConfig(t, ""), "chain")
	require.NoError(t, err)
	require.Contains(t, out, "jet-in[0]")
	require.Contains(t, out, "window[0]")
	require.Contains(t, out, "chamber[4]")
	require.Contains(t, out, "residual=")
	require.NotContains(t, out, "stopped")
}

func TestChainCSV(t *testing.T) {
	out, _, err := run(t, "--config", writeConfig(t, ""), "chain", "--pressure", "20", "-f", "csv")
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "jet-in[0]", records[0][3])
	require.Equal(t, "1e+19", records[1][1])
	require.Equal(t, "20", records[1][2])
}

func TestScanToFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "scan.csv")
	_, _, err := run(t, "--config", writeConfig(t, ""), "scan", "-f", "csv", "-o", target, "--workers", "2")
	require.NoError(t, err)

	f, err := os.Open(target)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "jet", records[0][len(records[0])-1])
	require.Equal(t, "14", records[1][2])
	require.Equal(t, "15", records[2][2])
}

func TestScanFlagsOverrideGrid(t *testing.T) {
	out, _, err := run(t, "--config", writeConfig(t, ""), "scan", "-f", "json", "--rhoa", "5e18,1e19", "--pressure", "16")
	require.NoError(t, err)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	require.Equal(t, 5e18, rows[0]["rhoa"])
	require.Equal(t, 16.0, rows[1]["pressure"])
}

func TestScanRejectsUnknownFormat(t *testing.T) {
	_, _, err := run(t, "--config", writeConfig(t, ""), "scan", "-f", "pdf")
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	out, _, err := run(t, "--config", writeConfig(t, ""), "check")
	require.NoError(t, err)
	require.Contains(t, out, "34Ar")
	require.Contains(t, out, "Butane")
	require.Contains(t, out, "Configuration check completed successfully.")
}

func TestCheckReportsMissingTables(t *testing.T) {
	cfg := writeConfig(t, `
setup:
  beam_after:
    nuclide: 37K
`)
	out, _, err := run(t, "--config", cfg, "check")
	require.Error(t, err)
	require.Contains(t, out, "Missing stopping tables:")
	require.Contains(t, out, "37K in Butane")
}

func TestEnvFileOverridesDataDir(t *testing.T) {
	t.Cleanup(func() { os.Unsetenv(config.EnvDataDir) })
	dir := t.TempDir()
	env := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(env, []byte(config.EnvDataDir+"="+fixtureDir(t)+"\n"), 0o600))

	cfgPath := filepath.Join(dir, "eloss.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: error\n  format: json\ndata:\n  dir: nowhere\n"), 0o600))

	out, _, err := run(t, "--config", cfgPath, "--env-file", env, "check")
	require.NoError(t, err)
	require.Contains(t, out, fixtureDir(t))
}

func TestNewTelemetryCollector(t *testing.T) {
	c, err := newTelemetryCollector(config.TelemetryConfig{})
	require.NoError(t, err)
	require.NotNil(t, c)

	_, err = newTelemetryCollector(config.TelemetryConfig{Enabled: true, Provider: "statsd"})
	require.Error(t, err)
}
