package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type tierKey struct {
	tier string
	kind string
}

type transitionKey struct {
	module string
	from   string
	to     string
}

type analysisMetrics struct {
	mu          sync.Mutex
	analyses    map[tierKey]uint64
	duration    *histogram
	cacheHits   uint64
	cacheMisses uint64
	transitions map[transitionKey]uint64
}

var analysisCollector = &analysisMetrics{
	analyses:    make(map[tierKey]uint64),
	duration:    newHistogram([]float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}),
	transitions: make(map[transitionKey]uint64),
}

// ObserveAnalysis records one completed analysis with its risk tier.
func ObserveAnalysis(tier, kind string, duration time.Duration) {
	analysisCollector.mu.Lock()
	defer analysisCollector.mu.Unlock()
	analysisCollector.analyses[tierKey{tier: tier, kind: kind}]++
	analysisCollector.duration.observe(duration.Seconds())
}

// ObserveCacheAccess records a shared cache hit or miss.
func ObserveCacheAccess(hit bool) {
	analysisCollector.mu.Lock()
	defer analysisCollector.mu.Unlock()
	if hit {
		analysisCollector.cacheHits++
	} else {
		analysisCollector.cacheMisses++
	}
}

// ObserveBreakerTransition records a circuit breaker state change.
func ObserveBreakerTransition(module, from, to string) {
	analysisCollector.mu.Lock()
	defer analysisCollector.mu.Unlock()
	analysisCollector.transitions[transitionKey{module: module, from: from, to: to}]++
}

func (m *analysisMetrics) render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	type tierMetric struct {
		tierKey
		value uint64
	}
	tiers := make([]tierMetric, 0, len(m.analyses))
	for key, value := range m.analyses {
		tiers = append(tiers, tierMetric{tierKey: key, value: value})
	}
	sort.Slice(tiers, func(i, j int) bool {
		if tiers[i].tier == tiers[j].tier {
			return tiers[i].kind < tiers[j].kind
		}
		return tiers[i].tier < tiers[j].tier
	})

	builder.WriteString("# HELP chainguard_analyses_total Total number of completed analyses by risk tier.\n")
	builder.WriteString("# TYPE chainguard_analyses_total counter\n")
	for _, metric := range tiers {
		builder.WriteString(fmt.Sprintf("chainguard_analyses_total{tier=\"%s\",type=\"%s\"} %d\n",
			escape(metric.tier), escape(metric.kind), metric.value))
	}

	builder.WriteString("# HELP chainguard_analysis_duration_seconds End-to-end analysis duration in seconds.\n")
	builder.WriteString("# TYPE chainguard_analysis_duration_seconds histogram\n")
	for idx, bound := range m.duration.buckets {
		builder.WriteString(fmt.Sprintf("chainguard_analysis_duration_seconds_bucket{le=\"%s\"} %d\n",
			formatFloat(bound), m.duration.counts[idx]))
	}
	builder.WriteString(fmt.Sprintf("chainguard_analysis_duration_seconds_bucket{le=\"+Inf\"} %d\n", m.duration.count))
	builder.WriteString(fmt.Sprintf("chainguard_analysis_duration_seconds_sum %s\n", formatFloat(m.duration.sum)))
	builder.WriteString(fmt.Sprintf("chainguard_analysis_duration_seconds_count %d\n", m.duration.count))

	builder.WriteString("# HELP chainguard_cache_requests_total Shared cache lookups by outcome.\n")
	builder.WriteString("# TYPE chainguard_cache_requests_total counter\n")
	builder.WriteString(fmt.Sprintf("chainguard_cache_requests_total{outcome=\"hit\"} %d\n", m.cacheHits))
	builder.WriteString(fmt.Sprintf("chainguard_cache_requests_total{outcome=\"miss\"} %d\n", m.cacheMisses))

	type transitionMetric struct {
		transitionKey
		value uint64
	}
	trans := make([]transitionMetric, 0, len(m.transitions))
	for key, value := range m.transitions {
		trans = append(trans, transitionMetric{transitionKey: key, value: value})
	}
	sort.Slice(trans, func(i, j int) bool {
		if trans[i].module == trans[j].module {
			if trans[i].from == trans[j].from {
				return trans[i].to < trans[j].to
			}
			return trans[i].from < trans[j].from
		}
		return trans[i].module < trans[j].module
	})

	builder.WriteString("# HELP chainguard_breaker_transitions_total Circuit breaker state transitions by module.\n")
	builder.WriteString("# TYPE chainguard_breaker_transitions_total counter\n")
	for _, metric := range trans {
		builder.WriteString(fmt.Sprintf("chainguard_breaker_transitions_total{module=\"%s\",from=\"%s\",to=\"%s\"} %d\n",
			escape(metric.module), escape(metric.from), escape(metric.to), metric.value))
	}

	return builder.String()
}
