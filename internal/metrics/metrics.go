// Package metrics exposes Prometheus instrumentation for scans and providers.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/optionflow/internal/models"
)

const namespace = "optionflow"

// Registry holds every optionflow metric on its own Prometheus registry
type Registry struct {
	reg *prometheus.Registry

	ScansTotal       prometheus.Counter
	ScanDuration     prometheus.Histogram
	Symbols          *prometheus.CounterVec
	UnusualContracts *prometheus.CounterVec
	Strategies       *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec
	CacheLookups     *prometheus.CounterVec
	WSClients        prometheus.Gauge

	mu       sync.Mutex
	breakers map[string]gobreaker.State
}

// New creates and registers all metrics, including Go runtime collectors
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scan runs",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of a scan run",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		Symbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbols_total",
			Help:      "Symbols processed by outcome",
		}, []string{"outcome"}),
		UnusualContracts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unusual_contracts_total",
			Help:      "Unusual contracts reported by option type",
		}, []string{"type"}),
		Strategies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategies_total",
			Help:      "Strategy candidates reported by type",
		}, []string{"type"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Market-data requests by provider, operation and outcome",
		}, []string{"provider", "op", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Market-data request latency",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "op"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"provider"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Provider cache lookups by operation and result",
		}, []string{"op", "result"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket subscribers",
		}),

		breakers: make(map[string]gobreaker.State),
	}

	r.reg.MustRegister(
		r.ScansTotal,
		r.ScanDuration,
		r.Symbols,
		r.UnusualContracts,
		r.Strategies,
		r.ProviderRequests,
		r.ProviderLatency,
		r.BreakerState,
		r.CacheLookups,
		r.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests and custom exporters
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveScan records a completed run
func (r *Registry) ObserveScan(run *models.ScanRun) {
	r.ScansTotal.Inc()
	r.ScanDuration.Observe(run.Duration.Seconds())
	r.Symbols.WithLabelValues("succeeded").Add(float64(run.SymbolsSucceeded))
	r.Symbols.WithLabelValues("skipped").Add(float64(run.SymbolsSkipped))
	r.Symbols.WithLabelValues("failed").Add(float64(len(run.Failures)))

	for _, res := range run.Results {
		r.UnusualContracts.WithLabelValues(string(models.Call)).Add(float64(len(res.UnusualCalls)))
		r.UnusualContracts.WithLabelValues(string(models.Put)).Add(float64(len(res.UnusualPuts)))
		for _, s := range res.Strategies {
			r.Strategies.WithLabelValues(string(s.Type)).Inc()
		}
	}
}

// ObserveRequest records one provider call
func (r *Registry) ObserveRequest(provider, op, outcome string, d time.Duration) {
	r.ProviderRequests.WithLabelValues(provider, op, outcome).Inc()
	if d > 0 {
		r.ProviderLatency.WithLabelValues(provider, op).Observe(d.Seconds())
	}
}

// ObserveBreaker records a circuit breaker transition
func (r *Registry) ObserveBreaker(provider string, state gobreaker.State) {
	r.BreakerState.WithLabelValues(provider).Set(float64(state))
	r.mu.Lock()
	r.breakers[provider] = state
	r.mu.Unlock()
}

// ObserveCache records a cache lookup
func (r *Registry) ObserveCache(op string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.WithLabelValues(op, result).Inc()
}

// Snapshot is a compact view of the counters for health output
type Snapshot struct {
	Scans            float64            `json:"scans"`
	SymbolsSucceeded float64            `json:"symbols_succeeded"`
	SymbolsSkipped   float64            `json:"symbols_skipped"`
	SymbolsFailed    float64            `json:"symbols_failed"`
	ProviderErrors   float64            `json:"provider_errors"`
	CacheHitRatio    float64            `json:"cache_hit_ratio"`
	Breakers         map[string]string  `json:"breakers"`
	Strategies       map[string]float64 `json:"strategies,omitempty"`
}

// Snapshot reads current values through the client model
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		Scans:            counterValue(r.ScansTotal),
		SymbolsSucceeded: counterValue(r.Symbols.WithLabelValues("succeeded")),
		SymbolsSkipped:   counterValue(r.Symbols.WithLabelValues("skipped")),
		SymbolsFailed:    counterValue(r.Symbols.WithLabelValues("failed")),
		Breakers:         make(map[string]string),
		Strategies:       make(map[string]float64),
	}

	families, err := r.reg.Gather()
	if err == nil {
		var hits, lookups float64
		for _, mf := range families {
			switch mf.GetName() {
			case namespace + "_provider_requests_total":
				for _, m := range mf.GetMetric() {
					if label(m, "outcome") != "ok" {
						s.ProviderErrors += m.GetCounter().GetValue()
					}
				}
			case namespace + "_cache_lookups_total":
				for _, m := range mf.GetMetric() {
					v := m.GetCounter().GetValue()
					lookups += v
					if label(m, "result") == "hit" {
						hits += v
					}
				}
			case namespace + "_strategies_total":
				for _, m := range mf.GetMetric() {
					s.Strategies[label(m, "type")] = m.GetCounter().GetValue()
				}
			}
		}
		if lookups > 0 {
			s.CacheHitRatio = hits / lookups
		}
	}

	r.mu.Lock()
	for name, st := range r.breakers {
		s.Breakers[name] = st.String()
	}
	r.mu.Unlock()
	return s
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
