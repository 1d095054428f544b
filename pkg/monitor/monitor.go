// Package monitor records the pipeline's batch-boundary counters (spec
// §5 "Monitor counters — updated with relaxed-order atomics at batch
// boundaries") as Prometheus metrics, the way the teacher wraps
// client_golang in its own pkg/util/metric/v2 package, plus a rolling
// TPS counter for checkpoint log lines (ape-dts's StatisticCounter).
package monitor

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RecordCountTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dts",
		Name:      "record_count_total",
		Help:      "Rows/events processed, labeled by counter type.",
	}, []string{"counter_type"})

	RecordSizeBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dts",
		Name:      "record_size_bytes_total",
		Help:      "Cumulative data_size of rows/events processed, labeled by counter type.",
	}, []string{"counter_type"})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dts",
		Name:      "staging_queue_depth",
		Help:      "Current item count in the staging queue.",
	})

	QueueBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dts",
		Name:      "staging_queue_bytes",
		Help:      "Current byte-count accounting of the staging queue.",
	})

	SinkBatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dts",
		Name:      "sink_batch_duration_seconds",
		Help:      "Latency of a single sinker batch apply, labeled by sinker type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sinker_type"})
)

func init() {
	prometheus.MustRegister(RecordCountTotal, RecordSizeBytesTotal, QueueDepth, QueueBytes, SinkBatchDuration)
}

// CounterType labels the batch-boundary counters above (spec §4.4's
// "RecordSize, RecordCount" counters in the drain loop, generalized to
// every parallelizer variant).
type CounterType string

const (
	CounterRecordSize  CounterType = "record_size"
	CounterRecordCount CounterType = "record_count"
	CounterInsertRows  CounterType = "insert_rows"
	CounterDeleteRows  CounterType = "delete_rows"
	CounterUnmergedRows CounterType = "unmerged_rows"
)

// Monitor accumulates batch counters and exposes them to Prometheus.
// AddBatchCounter is cheap enough to call from the drain loop per the
// teacher's pattern (monitor.write().await.add_batch_counter(...)).
type Monitor struct {
	counts map[CounterType]*uint64
}

func New() *Monitor {
	m := &Monitor{counts: make(map[CounterType]*uint64)}
	for _, ct := range []CounterType{CounterRecordSize, CounterRecordCount, CounterInsertRows, CounterDeleteRows, CounterUnmergedRows} {
		var v uint64
		m.counts[ct] = &v
	}
	return m
}

// AddBatchCounter adds size/count to the named counter's running total
// and to the Prometheus counter vec, using relaxed-order atomics (spec §5).
func (m *Monitor) AddBatchCounter(ct CounterType, size uint64, count uint64) {
	if p, ok := m.counts[ct]; ok {
		atomic.AddUint64(p, size+count)
	}
	RecordCountTotal.WithLabelValues(string(ct)).Add(float64(count))
	RecordSizeBytesTotal.WithLabelValues(string(ct)).Add(float64(size))
}

// Snapshot returns the current value of a counter.
func (m *Monitor) Snapshot(ct CounterType) uint64 {
	if p, ok := m.counts[ct]; ok {
		return atomic.LoadUint64(p)
	}
	return 0
}

// StatisticCounter is a rolling rows/sec counter reset on a fixed
// interval, used to annotate checkpoint log lines the way ape-dts's
// pipelines do (spec §9 "Cyclic replication graph" notes aside — this is
// the plain per-checkpoint throughput figure referenced by §4.9's
// periodic-flush cadence).
type StatisticCounter struct {
	intervalSecs int64
	windowStart  time.Time
	count        uint64
}

func NewStatisticCounter(intervalSecs int64) *StatisticCounter {
	return &StatisticCounter{intervalSecs: intervalSecs, windowStart: time.Now()}
}

// Add records count new rows observed.
func (s *StatisticCounter) Add(count uint64) {
	atomic.AddUint64(&s.count, count)
}

// TPS returns rows/sec since the window started and resets the window if
// the configured interval has elapsed.
func (s *StatisticCounter) TPS() float64 {
	elapsed := time.Since(s.windowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	tps := float64(atomic.LoadUint64(&s.count)) / elapsed
	if int64(elapsed) >= s.intervalSecs {
		atomic.StoreUint64(&s.count, 0)
		s.windowStart = time.Now()
	}
	return tps
}
