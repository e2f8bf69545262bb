package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	classifyTotal         atomic.Uint64
	classifyLLMTotal      atomic.Uint64
	classifyDegradedTotal atomic.Uint64
	ruleMatchesTotal      atomic.Uint64

	decisionsMu    sync.Mutex
	decisionsTotal = map[string]uint64{}

	analysisStartedTotal   atomic.Uint64
	analysisReusedTotal    atomic.Uint64
	analysisCompletedTotal atomic.Uint64
	analysisFailedTotal    atomic.Uint64

	jobsReceivedTotal      atomic.Uint64
	jobsCompletedTotal     atomic.Uint64
	jobsFailedTotal        atomic.Uint64
	jobsUnrecoverableTotal atomic.Uint64

	classifyDuration = newHistogram([]float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000})
	analysisDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// ObserveClassify records one classification.
func ObserveClassify(durationMs float64, usedLLM bool, matchedRules int) {
	classifyTotal.Add(1)
	if usedLLM {
		classifyLLMTotal.Add(1)
	}
	if matchedRules > 0 {
		ruleMatchesTotal.Add(uint64(matchedRules))
	}
	classifyDuration.Observe(nonNegative(durationMs))
}

// IncClassifyDegraded counts LLM passes that failed and fell back to local scoring.
func IncClassifyDegraded() {
	classifyDegradedTotal.Add(1)
}

// IncDecision counts a recorded decision by kind.
func IncDecision(kind string) {
	decisionsMu.Lock()
	decisionsTotal[kind]++
	decisionsMu.Unlock()
}

// IncAnalysisStarted increments the started counter.
func IncAnalysisStarted() {
	analysisStartedTotal.Add(1)
}

// IncAnalysisReused counts triggers that returned an existing run.
func IncAnalysisReused() {
	analysisReusedTotal.Add(1)
}

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() {
	analysisCompletedTotal.Add(1)
}

// IncAnalysisFailed increments the failed counter.
func IncAnalysisFailed() {
	analysisFailedTotal.Add(1)
}

// AddAnalysisFailed counts runs failed in bulk by the stale-run reaper.
func AddAnalysisFailed(n int) {
	if n > 0 {
		analysisFailedTotal.Add(uint64(n))
	}
}

// IncJobsReceived counts queue messages picked up by the worker.
func IncJobsReceived() {
	jobsReceivedTotal.Add(1)
}

// IncJobsCompleted counts queue messages processed and deleted.
func IncJobsCompleted() {
	jobsCompletedTotal.Add(1)
}

// IncJobsFailed counts queue messages left for redelivery.
func IncJobsFailed() {
	jobsFailedTotal.Add(1)
}

// IncJobsUnrecoverable counts malformed queue messages that were deleted.
func IncJobsUnrecoverable() {
	jobsUnrecoverableTotal.Add(1)
}

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	analysisDuration.Observe(nonNegative(value))
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "routing_classify_total", "Total classifications", classifyTotal.Load())
	writeCounter(&buf, "routing_classify_llm_total", "Classifications that used the LLM scorer", classifyLLMTotal.Load())
	writeCounter(&buf, "routing_classify_degraded_total", "LLM scorer failures that fell back to local scoring", classifyDegradedTotal.Load())
	writeCounter(&buf, "routing_rule_matches_total", "Rule matches across classifications", ruleMatchesTotal.Load())
	writeLabeledCounter(&buf, "routing_decisions_total", "Recorded routing decisions", "decision", snapshotDecisions())
	writeCounter(&buf, "analysis_started_total", "Total analysis runs started", analysisStartedTotal.Load())
	writeCounter(&buf, "analysis_reused_total", "Analysis triggers that returned an existing run", analysisReusedTotal.Load())
	writeCounter(&buf, "analysis_completed_total", "Total analysis runs completed", analysisCompletedTotal.Load())
	writeCounter(&buf, "analysis_failed_total", "Total analysis runs failed", analysisFailedTotal.Load())
	writeCounter(&buf, "analysis_jobs_received_total", "Analysis queue messages received", jobsReceivedTotal.Load())
	writeCounter(&buf, "analysis_jobs_completed_total", "Analysis queue messages processed", jobsCompletedTotal.Load())
	writeCounter(&buf, "analysis_jobs_failed_total", "Analysis queue messages left for redelivery", jobsFailedTotal.Load())
	writeCounter(&buf, "analysis_jobs_unrecoverable_total", "Malformed analysis queue messages deleted", jobsUnrecoverableTotal.Load())
	writeHistogram(&buf, "routing_classify_duration_ms", "Classification duration in milliseconds", classifyDuration.Snapshot())
	writeHistogram(&buf, "analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	return buf.String()
}

func snapshotDecisions() map[string]uint64 {
	decisionsMu.Lock()
	defer decisionsMu.Unlock()
	out := make(map[string]uint64, len(decisionsTotal))
	for k, v := range decisionsTotal {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe counts the value in its smallest bucket; Render accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
