// Package metrics provides lightweight, lock-minimal performance counters
// for the redaction gateway.
//
// Counters use sync/atomic so hot paths (request handling, token replacement)
// incur no mutex contention. Latency statistics use a single mutex per
// dimension; they are updated at most once per request. Snapshot() returns an
// in-process view of every counter; the same values are exposed to
// Prometheus through the collector installed by RegisterPrometheus, which
// cmd/redactgw serves at /metrics.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// knownCategories bounds the cache hit/miss label set so an attacker-influenced
// category string can never grow the metrics map unboundedly.
var knownCategories = []string{
	"email", "phone", "ssn", "creditCard", "ipAddress",
	"awsKey", "apiKey", "secret", "exportControl", "person",
}

// Metrics holds all runtime counters for a running gateway instance.
// The zero value is valid and ready to use; prefer New() for clarity.
type Metrics struct {
	// Request counters
	RequestsTotal       atomic.Int64
	RequestsRedacted    atomic.Int64
	RequestsPassthrough atomic.Int64
	RequestsAuth        atomic.Int64

	// Error counters
	ErrorsUpstream atomic.Int64
	ErrorsRedact   atomic.Int64

	// Token volume
	TokensReplaced    atomic.Int64
	TokensDetokenized atomic.Int64

	// TokenMap backend counters: dispatches/errors against the remote
	// (Redis) backend, and falls-back-to-memory events when it is
	// unreachable.
	RemoteBackendDispatches atomic.Int64
	RemoteBackendErrors     atomic.Int64
	MemoryFallbacks         atomic.Int64

	cacheMu     sync.Mutex
	cacheHits   map[string]int64
	cacheMisses map[string]int64

	// Latency statistics (mutex-guarded because they accumulate floats)
	redactMu   sync.Mutex
	redactStat latencyStats

	upstreamMu   sync.Mutex
	upstreamStat latencyStats

	startTime time.Time

	promOnce sync.Once
}

// New returns a new Metrics with the start time recorded.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRedactLatency records the duration of one redaction pass.
func (m *Metrics) RecordRedactLatency(d time.Duration) {
	m.redactMu.Lock()
	m.redactStat.record(float64(d.Microseconds()) / 1000.0)
	m.redactMu.Unlock()
}

// RecordUpstreamLatency records the round-trip time to the upstream provider.
func (m *Metrics) RecordUpstreamLatency(d time.Duration) {
	m.upstreamMu.Lock()
	m.upstreamStat.record(float64(d.Microseconds()) / 1000.0)
	m.upstreamMu.Unlock()
}

// RecordCacheHit records a TokenMap lookup hit for the given category.
// Categories outside knownCategories are ignored so the label set stays bounded.
func (m *Metrics) RecordCacheHit(category string) {
	if !isKnownCategory(category) {
		return
	}
	m.cacheMu.Lock()
	if m.cacheHits == nil {
		m.cacheHits = make(map[string]int64, len(knownCategories))
	}
	m.cacheHits[category]++
	m.cacheMu.Unlock()
}

// RecordCacheMiss records a TokenMap lookup miss for the given category.
func (m *Metrics) RecordCacheMiss(category string) {
	if !isKnownCategory(category) {
		return
	}
	m.cacheMu.Lock()
	if m.cacheMisses == nil {
		m.cacheMisses = make(map[string]int64, len(knownCategories))
	}
	m.cacheMisses[category]++
	m.cacheMu.Unlock()
}

func isKnownCategory(category string) bool {
	for _, c := range knownCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.redactMu.Lock()
	redact := m.redactStat.snapshot()
	m.redactMu.Unlock()

	m.upstreamMu.Lock()
	upstream := m.upstreamStat.snapshot()
	m.upstreamMu.Unlock()

	m.cacheMu.Lock()
	hits := copyNonZero(m.cacheHits)
	misses := copyNonZero(m.cacheMisses)
	m.cacheMu.Unlock()

	return Snapshot{
		Requests: RequestSnapshot{
			Total:       m.RequestsTotal.Load(),
			Redacted:    m.RequestsRedacted.Load(),
			Passthrough: m.RequestsPassthrough.Load(),
			Auth:        m.RequestsAuth.Load(),
		},
		Errors: ErrorSnapshot{
			Upstream: m.ErrorsUpstream.Load(),
			Redact:   m.ErrorsRedact.Load(),
		},
		Tokens: TokenSnapshot{
			Replaced:                m.TokensReplaced.Load(),
			Detokenized:             m.TokensDetokenized.Load(),
			CacheHits:               hits,
			CacheMisses:             misses,
			RemoteBackendDispatches: m.RemoteBackendDispatches.Load(),
			RemoteBackendErrors:     m.RemoteBackendErrors.Load(),
			MemoryFallbacks:         m.MemoryFallbacks.Load(),
		},
		Latency: LatencyGroup{
			RedactionMs: redact,
			UpstreamMs:  upstream,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

func copyNonZero(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// --- Prometheus mirror ---

// RegisterPrometheus wires a collector over this Metrics instance into reg;
// each Collect takes a Snapshot and emits it as const metrics, which
// cmd/redactgw serves at /metrics.
// Safe to call multiple times; registration happens once.
func (m *Metrics) RegisterPrometheus(reg prometheus.Registerer) {
	m.promOnce.Do(func() {
		reg.MustRegister(&promCollector{m: m})
	})
}

type promCollector struct{ m *Metrics }

var (
	descRequestsTotal = prometheus.NewDesc("redactgw_requests_total", "Total requests handled", nil, nil)
	descRequestsByKind = prometheus.NewDesc("redactgw_requests_by_kind_total", "Requests by handling path", []string{"kind"}, nil)
	descErrors         = prometheus.NewDesc("redactgw_errors_total", "Errors by source", []string{"source"}, nil)
	descTokens         = prometheus.NewDesc("redactgw_tokens_total", "Placeholder tokens by direction", []string{"direction"}, nil)
	descCache          = prometheus.NewDesc("redactgw_tokenmap_cache_total", "TokenMap cache lookups", []string{"category", "result"}, nil)
	descBackend        = prometheus.NewDesc("redactgw_tokenmap_backend_total", "TokenMap remote backend events", []string{"event"}, nil)
	descLatency        = prometheus.NewDesc("redactgw_latency_ms", "Latency summary statistics", []string{"dimension", "stat"}, nil)
)

func (c *promCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRequestsTotal
	ch <- descRequestsByKind
	ch <- descErrors
	ch <- descTokens
	ch <- descCache
	ch <- descBackend
	ch <- descLatency
}

func (c *promCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()

	ch <- prometheus.MustNewConstMetric(descRequestsTotal, prometheus.CounterValue, float64(s.Requests.Total))
	ch <- prometheus.MustNewConstMetric(descRequestsByKind, prometheus.CounterValue, float64(s.Requests.Redacted), "redacted")
	ch <- prometheus.MustNewConstMetric(descRequestsByKind, prometheus.CounterValue, float64(s.Requests.Passthrough), "passthrough")
	ch <- prometheus.MustNewConstMetric(descRequestsByKind, prometheus.CounterValue, float64(s.Requests.Auth), "auth")

	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(s.Errors.Upstream), "upstream")
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(s.Errors.Redact), "redact")

	ch <- prometheus.MustNewConstMetric(descTokens, prometheus.CounterValue, float64(s.Tokens.Replaced), "replaced")
	ch <- prometheus.MustNewConstMetric(descTokens, prometheus.CounterValue, float64(s.Tokens.Detokenized), "detokenized")

	for cat, n := range s.Tokens.CacheHits {
		ch <- prometheus.MustNewConstMetric(descCache, prometheus.CounterValue, float64(n), cat, "hit")
	}
	for cat, n := range s.Tokens.CacheMisses {
		ch <- prometheus.MustNewConstMetric(descCache, prometheus.CounterValue, float64(n), cat, "miss")
	}

	ch <- prometheus.MustNewConstMetric(descBackend, prometheus.CounterValue, float64(s.Tokens.RemoteBackendDispatches), "dispatch")
	ch <- prometheus.MustNewConstMetric(descBackend, prometheus.CounterValue, float64(s.Tokens.RemoteBackendErrors), "error")
	ch <- prometheus.MustNewConstMetric(descBackend, prometheus.CounterValue, float64(s.Tokens.MemoryFallbacks), "fallback")

	emitLatency(ch, "redaction", s.Latency.RedactionMs)
	emitLatency(ch, "upstream", s.Latency.UpstreamMs)
}

func emitLatency(ch chan<- prometheus.Metric, dimension string, l LatencySnapshot) {
	ch <- prometheus.MustNewConstMetric(descLatency, prometheus.GaugeValue, l.MinMs, dimension, "min")
	ch <- prometheus.MustNewConstMetric(descLatency, prometheus.GaugeValue, l.MeanMs, dimension, "mean")
	ch <- prometheus.MustNewConstMetric(descLatency, prometheus.GaugeValue, l.MaxMs, dimension, "max")
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests   RequestSnapshot `json:"requests"`
	Errors     ErrorSnapshot   `json:"errors"`
	Tokens     TokenSnapshot   `json:"tokens"`
	Latency    LatencyGroup    `json:"latency"`
	UptimeSecs float64         `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Total       int64 `json:"total"`
	Redacted    int64 `json:"redacted"`
	Passthrough int64 `json:"passthrough"`
	Auth        int64 `json:"auth"`
}

// ErrorSnapshot holds error counters.
type ErrorSnapshot struct {
	Upstream int64 `json:"upstream"`
	Redact   int64 `json:"redact"`
}

// TokenSnapshot holds placeholder-token and TokenMap-backend volume counters.
type TokenSnapshot struct {
	Replaced                int64            `json:"replaced"`
	Detokenized             int64            `json:"detokenized"`
	CacheHits               map[string]int64 `json:"cacheHits,omitempty"`
	CacheMisses             map[string]int64 `json:"cacheMisses,omitempty"`
	RemoteBackendDispatches int64            `json:"remoteBackendDispatches"`
	RemoteBackendErrors     int64            `json:"remoteBackendErrors"`
	MemoryFallbacks         int64            `json:"memoryFallbacks"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	RedactionMs LatencySnapshot `json:"redactionMs"`
	UpstreamMs  LatencySnapshot `json:"upstreamMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
