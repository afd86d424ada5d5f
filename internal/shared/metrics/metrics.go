package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	captureStartedTotal   atomic.Uint64
	captureSucceededTotal atomic.Uint64
	captureFailedTotal    atomic.Uint64
	captureRejectedTotal  atomic.Uint64

	analysisCompletedTotal atomic.Uint64
	analysisFailedTotal    atomic.Uint64
	annotationFailedTotal  atomic.Uint64
	prunedPartitionsTotal  atomic.Uint64

	durationBucketsMs = []float64{1000, 5000, 10000, 30000, 60000, 120000, 300000}
	captureDuration   = newHistogram(durationBucketsMs)
	analysisDuration  = newHistogram(durationBucketsMs)
)

// IncCaptureStarted counts a capture job that began.
func IncCaptureStarted() { captureStartedTotal.Add(1) }

// IncCaptureSucceeded counts a capture job that stored a chart.
func IncCaptureSucceeded() { captureSucceededTotal.Add(1) }

// IncCaptureFailed counts a capture job that exhausted its retries.
func IncCaptureFailed() { captureFailedTotal.Add(1) }

// IncCaptureRejected counts triggers refused because a job was running.
func IncCaptureRejected() { captureRejectedTotal.Add(1) }

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() { analysisCompletedTotal.Add(1) }

// IncAnalysisFailed increments the failed counter.
func IncAnalysisFailed() { analysisFailedTotal.Add(1) }

// IncAnnotationFailed counts analyses stored without an annotated chart.
func IncAnnotationFailed() { annotationFailedTotal.Add(1) }

// AddPrunedPartitions counts partitions removed by retention.
func AddPrunedPartitions(n int) {
	if n > 0 {
		prunedPartitionsTotal.Add(uint64(n))
	}
}

// ObserveCapture records a capture duration.
func ObserveCapture(d time.Duration) { captureDuration.Observe(ms(d)) }

// ObserveAnalysis records an analyze-annotate-persist duration.
func ObserveAnalysis(d time.Duration) { analysisDuration.Observe(ms(d)) }

func ms(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
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
	writeCounter(&buf, "chart_capture_started_total", "Capture jobs started", captureStartedTotal.Load())
	writeCounter(&buf, "chart_capture_succeeded_total", "Capture jobs that stored a chart", captureSucceededTotal.Load())
	writeCounter(&buf, "chart_capture_failed_total", "Capture jobs that failed after retries", captureFailedTotal.Load())
	writeCounter(&buf, "chart_capture_rejected_total", "Capture triggers rejected while a job was running", captureRejectedTotal.Load())
	writeCounter(&buf, "chart_analysis_completed_total", "Analyses stored", analysisCompletedTotal.Load())
	writeCounter(&buf, "chart_analysis_failed_total", "Analyses that failed", analysisFailedTotal.Load())
	writeCounter(&buf, "chart_annotation_failed_total", "Analyses stored without an annotated chart", annotationFailedTotal.Load())
	writeCounter(&buf, "chart_partitions_pruned_total", "Date partitions removed by retention", prunedPartitionsTotal.Load())
	writeHistogram(&buf, "chart_capture_duration_ms", "Capture duration in milliseconds", captureDuration.Snapshot())
	writeHistogram(&buf, "chart_analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	return buf.String()
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

// Observe adds value to the first bucket whose bound it does not exceed.
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
