// Package metrics exposes Prometheus instrumentation for the matching engine
// and the queue bridge.
//
// All methods are safe to call on a nil *Collector, which turns them into
// no-ops. Tests and degraded deployments can run without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 매칭 지표 수집기
type Collector struct {
	// 요청 흐름
	submitted prometheus.Counter
	matched   prometheus.Counter
	timedOut  prometheus.Counter
	requeued  prometheus.Counter
	cancelled prometheus.Counter
	replaced  prometheus.Counter

	confirmations *prometheus.CounterVec

	// 대기 시간 및 상태
	waitTime prometheus.Histogram
	pending  prometheus.Gauge

	// 큐 브리지
	queueOps          *prometheus.CounterVec
	transportFailures *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector registers the collector on reg. A nil reg means the default
// Prometheus registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matching_requests_submitted_total",
			Help: "Total number of match requests submitted",
		}),
		matched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matching_pairs_matched_total",
			Help: "Total number of pairs formed",
		}),
		timedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matching_requests_timed_out_total",
			Help: "Total number of requests that expired without a partner",
		}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matching_requests_requeued_total",
			Help: "Total number of deadline requeues",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matching_requests_cancelled_total",
			Help: "Total number of requests withdrawn by the requester",
		}),
		replaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matching_requests_replaced_total",
			Help: "Total number of pending requests replaced by a duplicate submission",
		}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matching_confirmations_total",
			Help: "Confirmation handshake outcomes",
		}, []string{"outcome"}),
		waitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matching_wait_seconds",
			Help:    "Time a request waited in the pool before being matched",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matching_pool_pending",
			Help: "Current number of pending requests in the pool",
		}),
		queueOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matching_queue_operations_total",
			Help: "Queue bridge operations by kind and result",
		}, []string{"op", "kind", "result"}),
		transportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matching_queue_transport_failures_total",
			Help: "Queue transport failures after retries",
		}, []string{"op"}),
	}

	reg.MustRegister(
		c.submitted,
		c.matched,
		c.timedOut,
		c.requeued,
		c.cancelled,
		c.replaced,
		c.confirmations,
		c.waitTime,
		c.pending,
		c.queueOps,
		c.transportFailures,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	} else {
		c.gatherer = prometheus.DefaultGatherer
	}

	return c
}

func (c *Collector) RecordSubmitted() {
	if c == nil {
		return
	}
	c.submitted.Inc()
}

// RecordMatched 매칭 1건과 양쪽 대기 시간 기록
func (c *Collector) RecordMatched(waits ...time.Duration) {
	if c == nil {
		return
	}
	c.matched.Inc()
	for _, w := range waits {
		c.waitTime.Observe(w.Seconds())
	}
}

func (c *Collector) RecordTimedOut() {
	if c == nil {
		return
	}
	c.timedOut.Inc()
}

func (c *Collector) RecordRequeued() {
	if c == nil {
		return
	}
	c.requeued.Inc()
}

func (c *Collector) RecordCancelled() {
	if c == nil {
		return
	}
	c.cancelled.Inc()
}

func (c *Collector) RecordReplaced() {
	if c == nil {
		return
	}
	c.replaced.Inc()
}

// RecordConfirmation outcome: confirmed, declined, expired
func (c *Collector) RecordConfirmation(outcome string) {
	if c == nil {
		return
	}
	c.confirmations.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.pending.Set(float64(n))
}

// RecordQueueOp 큐 작업 결과 기록 (op: publish, schedule, consume)
func (c *Collector) RecordQueueOp(op, kind string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.queueOps.WithLabelValues(op, kind, result).Inc()
}

func (c *Collector) RecordTransportFailure(op string) {
	if c == nil {
		return
	}
	c.transportFailures.WithLabelValues(op).Inc()
}

// Handler /metrics 엔드포인트 핸들러
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
