package governor

import (
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/governor/budget"
	"mercator-hq/gatekeeper/pkg/governor/circuit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for the requests counter.
const (
	OutcomeSuccess   = "success"
	OutcomeCacheHit  = "cache_hit"
	OutcomeShared    = "shared"
	OutcomeBudget    = "budget_exceeded"
	OutcomeCircuit   = "circuit_open"
	OutcomeTransient = "upstream_transient"
	OutcomeFatal     = "upstream_fatal"
	OutcomeCancelled = "cancelled"
	OutcomeInvalid   = "invalid"
)

// DefaultMetricsNamespace prefixes metric names when none is configured.
const DefaultMetricsNamespace = "gatekeeper"

// DefaultMaxTenantSeries bounds the distinct tenant label values.
const DefaultMaxTenantSeries = 1000

// OtherTenant is the tenant label for tenants past the series limit.
const OtherTenant = "other"

// Metrics contains the Prometheus collectors of a Governor.
type Metrics struct {
	// Execute outcomes and latency
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	// Budget
	budgetDenials   *prometheus.CounterVec
	tokensCommitted *prometheus.CounterVec
	budgetUsage     *prometheus.GaugeVec

	// Circuit breaker
	circuitState       prometheus.Gauge
	circuitTransitions *prometheus.CounterVec

	// Upstream
	upstreamAttempts prometheus.Counter

	// Cache
	cacheStoreErrors prometheus.Counter

	tenants *tenantLimiter
}

// NewMetrics creates the governor collectors and registers them with reg.
// A nil reg selects a private registry, so several governors can coexist
// in one process (tests).
//
// maxTenants bounds the tenant label values of the per-tenant series; the
// rest are aggregated under OtherTenant. Zero selects
// DefaultMaxTenantSeries and a negative value disables per-tenant series.
func NewMetrics(namespace string, maxTenants int, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}
	if maxTenants == 0 {
		maxTenants = DefaultMaxTenantSeries
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	const subsystem = "governor"

	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of governed calls by outcome",
			},
			[]string{"outcome"},
		),

		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "execute_duration_seconds",
				Help:      "Duration of governed calls in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
			},
			[]string{"outcome"},
		),

		budgetDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "budget_denials_total",
				Help:      "Total number of calls denied by a token budget",
			},
			[]string{"scope"},
		),

		tokensCommitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tokens_committed_total",
				Help:      "Total number of tokens charged after upstream calls",
			},
			[]string{"tenant"},
		),

		budgetUsage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "budget_usage_ratio",
				Help:      "Consumed fraction of a budget window (0.0-1.0)",
			},
			[]string{"scope", "identifier"},
		),

		circuitState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "circuit_state",
				Help:      "Upstream circuit state (0=closed, 1=half-open, 2=open)",
			},
		),

		circuitTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "circuit_transitions_total",
				Help:      "Total number of circuit state transitions",
			},
			[]string{"from", "to"},
		),

		upstreamAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "upstream_attempts_total",
				Help:      "Total number of operation invocations, retries included",
			},
		),

		cacheStoreErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_store_errors_total",
				Help:      "Total number of results that could not be cached",
			},
		),

		tenants: newTenantLimiter(maxTenants),
	}
}

// RecordRequest records the outcome and latency of one Execute call.
func (m *Metrics) RecordRequest(outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordBudgetDenial records a denial by scope.
func (m *Metrics) RecordBudgetDenial(scope budget.Scope) {
	m.budgetDenials.WithLabelValues(string(scope)).Inc()
}

// RecordCommit records committed tokens and refreshes the usage gauges.
// Tenants past the series limit count under OtherTenant and get no usage
// gauge of their own.
func (m *Metrics) RecordCommit(tenant string, tokens uint64, usage budget.Usage) {
	if m.tenants.Allow(tenant) {
		m.tokensCommitted.WithLabelValues(tenant).Add(float64(tokens))
		m.budgetUsage.WithLabelValues(string(budget.ScopeTenant), tenant).Set(usage.Tenant.Ratio())
	} else {
		m.tokensCommitted.WithLabelValues(OtherTenant).Add(float64(tokens))
	}
	m.budgetUsage.WithLabelValues(string(budget.ScopeGlobal), budget.GlobalIdentifier).Set(usage.Global.Ratio())
}

// RecordCircuitTransition updates the state gauge and transition counter.
func (m *Metrics) RecordCircuitTransition(from, to circuit.State) {
	m.circuitState.Set(to.Value())
	m.circuitTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordAttempts records operation invocations.
func (m *Metrics) RecordAttempts(n int) {
	m.upstreamAttempts.Add(float64(n))
}

// RecordCacheStoreError records a result that could not be cached.
func (m *Metrics) RecordCacheStoreError() {
	m.cacheStoreErrors.Inc()
}

// tenantLimiter admits up to max distinct tenants as label values.
type tenantLimiter struct {
	max  int
	mu   sync.RWMutex
	seen map[string]struct{}
}

func newTenantLimiter(max int) *tenantLimiter {
	return &tenantLimiter{max: max, seen: make(map[string]struct{})}
}

// Allow reports whether tenant has, or can get, its own series.
func (l *tenantLimiter) Allow(tenant string) bool {
	if l.max < 0 {
		return false
	}

	l.mu.RLock()
	_, ok := l.seen[tenant]
	l.mu.RUnlock()
	if ok {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[tenant]; ok {
		return true
	}
	if len(l.seen) >= l.max {
		return false
	}
	l.seen[tenant] = struct{}{}
	return true
}

// Count returns the number of tenants with their own series.
func (l *tenantLimiter) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}
