package stats

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Stage    *prometheus.HistogramVec
	Records  *prometheus.CounterVec
	Batches  prometheus.Counter
	QueueLen prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iqdump_stage_duration_seconds",
			Help:    "Duration of each pipeline stage invocation.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"stage"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iqdump_records_total",
			Help: "IQ records by pipeline state (acquired, written, not_ready).",
		}, []string{"state"}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iqdump_batches_written_total",
			Help: "Batches persisted by the writer.",
		}),
		QueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iqdump_queue_length",
			Help: "Batches waiting in the queue for the writer.",
		}),
	}
	reg.MustRegister(m.Stage, m.Records, m.Batches, m.QueueLen)
	return m
}

// Progress holds live counters which are safe to read while the pipeline runs.
type Progress struct {
	RunID   string
	Started time.Time

	acquired atomic.Int64
	written  atomic.Int64
	batches  atomic.Int64
	notReady atomic.Int64
	queued   atomic.Int64

	metrics *Metrics
}

func NewProgress(runID string, m *Metrics) *Progress {
	return &Progress{
		RunID:   runID,
		Started: time.Now(),
		metrics: m,
	}
}

func (p *Progress) Acquired() {
	p.acquired.Add(1)
	if p.metrics != nil {
		p.metrics.Records.WithLabelValues("acquired").Inc()
	}
}

func (p *Progress) NotReady() {
	p.notReady.Add(1)
	if p.metrics != nil {
		p.metrics.Records.WithLabelValues("not_ready").Inc()
	}
}

// BatchWritten records a persisted batch of n records.
func (p *Progress) BatchWritten(n int) {
	p.batches.Add(1)
	p.written.Add(int64(n))
	if p.metrics != nil {
		p.metrics.Batches.Inc()
		p.metrics.Records.WithLabelValues("written").Add(float64(n))
	}
}

func (p *Progress) SetQueueLen(n int) {
	p.queued.Store(int64(n))
	if p.metrics != nil {
		p.metrics.QueueLen.Set(float64(n))
	}
}

type Snapshot struct {
	RunID    string  `json:"runId"`
	Uptime   float64 `json:"uptimeSeconds"`
	Acquired int64   `json:"acquired"`
	Written  int64   `json:"written"`
	Batches  int64   `json:"batches"`
	NotReady int64   `json:"notReady"`
	Queued   int64   `json:"queued"`
}

func (p *Progress) Snapshot() Snapshot {
	return Snapshot{
		RunID:    p.RunID,
		Uptime:   time.Since(p.Started).Seconds(),
		Acquired: p.acquired.Load(),
		Written:  p.written.Load(),
		Batches:  p.batches.Load(),
		NotReady: p.notReady.Load(),
		Queued:   p.queued.Load(),
	}
}
