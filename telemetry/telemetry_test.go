package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func resetMetrics() {
	metricsMu.Lock()
	calculationCounter = nil
	extrapolationCount = nil
	scanPointHistogram = nil
	hotReloadCounter = nil
	metricsMu.Unlock()
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncHotReload("config.yaml")
	collector.ObserveCalculation("34Ar", "He", false, true)
	collector.ObserveScanPoint(0.5)
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	resetMetrics()
	t.Cleanup(resetMetrics)

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncHotReload("a.yaml")

	family := findFamily(t, reg, "eloss_config_hot_reload_total")
	requireCounterValue(t, family, 1)

	resetMetrics()
	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	again.IncHotReload("a.yaml")
	family = findFamily(t, reg, "eloss_config_hot_reload_total")
	requireCounterValue(t, family, 2)
}

func TestPrometheusCollectorCalculationOutcomes(t *testing.T) {
	resetMetrics()
	t.Cleanup(resetMetrics)

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.ObserveCalculation("34Ar", "He", false, false)
	collector.ObserveCalculation("34Ar", "He", false, false)
	collector.ObserveCalculation("34Ar", "Butane", true, true)
	collector.ObserveScanPoint(0.01)

	calcs := findFamily(t, reg, "eloss_calculations_total")
	require.Len(t, calcs.Metric, 2)
	values := map[string]float64{}
	for _, m := range calcs.Metric {
		labels := map[string]string{}
		for _, lp := range m.Label {
			labels[lp.GetName()] = lp.GetValue()
		}
		values[labels["target"]+"/"+labels["outcome"]] = m.Counter.GetValue()
	}
	require.Equal(t, map[string]float64{"He/traversed": 2, "Butane/stopped": 1}, values)

	extrap := findFamily(t, reg, "eloss_extrapolated_calculations_total")
	requireCounterValue(t, extrap, 1)

	hist := findFamily(t, reg, "eloss_scan_point_duration_seconds")
	require.Equal(t, uint64(1), hist.Metric[0].Histogram.GetSampleCount())
}

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
