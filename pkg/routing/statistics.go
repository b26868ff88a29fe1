package routing

import (
	"sort"
	"sync"
	"time"
)

// ModeStatistics counts decisions for one mode
type ModeStatistics struct {
	Mode        Mode             `json:"mode"`
	Decisions   int64            `json:"decisions"`
	Classifiers map[string]int64 `json:"classifiers"`
	LastUsed    int64            `json:"last_used"`
}

// GlobalStatistics aggregates every decision
type GlobalStatistics struct {
	TotalDecisions int64   `json:"total_decisions"`
	Fallbacks      int64   `json:"fallbacks"`
	Errors         int64   `json:"errors"`
	AvgLatency     float64 `json:"avg_latency_ms"`
	P95Latency     int64   `json:"p95_latency_ms"`
}

// Statistics is a snapshot returned by StatisticsTracker.Snapshot
type Statistics struct {
	Global GlobalStatistics `json:"global"`
	Modes  []ModeStatistics `json:"modes"`
}

const latencyWindow = 512

// StatisticsTracker tracks routing decisions
type StatisticsTracker struct {
	modes     map[Mode]*ModeStatistics
	global    GlobalStatistics
	latencies []int64
	mu        sync.RWMutex
}

// NewStatisticsTracker creates a new statistics tracker
func NewStatisticsTracker() *StatisticsTracker {
	return &StatisticsTracker{
		modes: make(map[Mode]*ModeStatistics),
	}
}

// RecordDecision records a decision and its latency in milliseconds.
// fallback marks decisions that defaulted to direct.
func (st *StatisticsTracker) RecordDecision(d Decision, latency int64, fallback bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	stats, ok := st.modes[d.Mode]
	if !ok {
		stats = &ModeStatistics{Mode: d.Mode, Classifiers: make(map[string]int64)}
		st.modes[d.Mode] = stats
	}
	stats.Decisions++
	stats.Classifiers[d.Classifier]++
	stats.LastUsed = time.Now().UnixMilli()

	st.global.TotalDecisions++
	if fallback {
		st.global.Fallbacks++
	}
	st.updateLatency(latency)
}

// RecordError records a classifier failure
func (st *StatisticsTracker) RecordError() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.global.Errors++
}

// Snapshot returns a copy of the statistics, modes sorted by name
func (st *StatisticsTracker) Snapshot() Statistics {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := Statistics{Global: st.global, Modes: make([]ModeStatistics, 0, len(st.modes))}
	for _, stats := range st.modes {
		statsCopy := *stats
		statsCopy.Classifiers = make(map[string]int64, len(stats.Classifiers))
		for k, v := range stats.Classifiers {
			statsCopy.Classifiers[k] = v
		}
		out.Modes = append(out.Modes, statsCopy)
	}
	sort.Slice(out.Modes, func(i, j int) bool { return out.Modes[i].Mode < out.Modes[j].Mode })
	return out
}

// Reset clears all statistics
func (st *StatisticsTracker) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.modes = make(map[Mode]*ModeStatistics)
	st.global = GlobalStatistics{}
	st.latencies = nil
}

// updateLatency keeps a sliding window for the percentile
func (st *StatisticsTracker) updateLatency(latency int64) {
	n := st.global.TotalDecisions
	st.global.AvgLatency = (st.global.AvgLatency*float64(n-1) + float64(latency)) / float64(n)

	st.latencies = append(st.latencies, latency)
	if len(st.latencies) > latencyWindow {
		st.latencies = st.latencies[len(st.latencies)-latencyWindow:]
	}

	sorted := make([]int64, len(st.latencies))
	copy(sorted, st.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	st.global.P95Latency = percentile(sorted, 95)
}

// percentile calculates a percentile from sorted values
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}

	index := (len(sorted) * p) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
