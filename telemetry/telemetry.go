package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the calculation engine.
//
// Implementations are called once per energy-loss calculation, so they
// should be inexpensive.
type Collector interface {
	ObserveCalculation(projectile, target string, stopped, extrapolated bool)
	ObserveScanPoint(seconds float64)
	IncHotReload(file string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveCalculation(string, string, bool, bool) {}
func (noopCollector) ObserveScanPoint(float64)                      {}
func (noopCollector) IncHotReload(string)                           {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	calculations   *prometheus.CounterVec
	extrapolations *prometheus.CounterVec
	scanPoints     prometheus.Histogram
	hotReloads     *prometheus.CounterVec
}

var (
	metricsMu          sync.Mutex
	calculationCounter *prometheus.CounterVec
	extrapolationCount *prometheus.CounterVec
	scanPointHistogram prometheus.Histogram
	hotReloadCounter   *prometheus.CounterVec
)

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Metrics that are already registered are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if calculationCounter == nil {
		counter, err := registerCounterVec(reg, prometheus.CounterOpts{
			Name: "eloss_calculations_total",
			Help: "Number of energy-loss integrations per projectile, target and outcome.",
		}, []string{"projectile", "target", "outcome"})
		if err != nil {
			return nil, err
		}
		calculationCounter = counter
	}

	if extrapolationCount == nil {
		counter, err := registerCounterVec(reg, prometheus.CounterOpts{
			Name: "eloss_extrapolated_calculations_total",
			Help: "Number of integrations that queried a stopping table outside its sampled range.",
		}, []string{"projectile", "target"})
		if err != nil {
			return nil, err
		}
		extrapolationCount = counter
	}

	if scanPointHistogram == nil {
		hist := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eloss_scan_point_duration_seconds",
			Help:    "Wall time spent computing one scan point.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		})
		if err := reg.Register(hist); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			existing, ok := already.ExistingCollector.(prometheus.Histogram)
			if !ok {
				return nil, err
			}
			hist = existing
		}
		scanPointHistogram = hist
	}

	if hotReloadCounter == nil {
		counter, err := registerCounterVec(reg, prometheus.CounterOpts{
			Name: "eloss_config_hot_reload_total",
			Help: "Number of hot reload operations triggered per configuration or table file.",
		}, []string{"file"})
		if err != nil {
			return nil, err
		}
		hotReloadCounter = counter
	}

	return &PrometheusCollector{
		calculations:   calculationCounter,
		extrapolations: extrapolationCount,
		scanPoints:     scanPointHistogram,
		hotReloads:     hotReloadCounter,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

// ObserveCalculation counts one finished integration.
func (p *PrometheusCollector) ObserveCalculation(projectile, target string, stopped, extrapolated bool) {
	if p == nil || p.calculations == nil {
		return
	}
	outcome := "traversed"
	if stopped {
		outcome = "stopped"
	}
	p.calculations.WithLabelValues(projectile, target, outcome).Inc()
	if extrapolated && p.extrapolations != nil {
		p.extrapolations.WithLabelValues(projectile, target).Inc()
	}
}

// ObserveScanPoint records the duration of one scan point.
func (p *PrometheusCollector) ObserveScanPoint(seconds float64) {
	if p == nil || p.scanPoints == nil {
		return
	}
	p.scanPoints.Observe(seconds)
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}
