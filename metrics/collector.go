package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records interview and session metrics. It implements
// interview.Observer and is shared by every session of the process.
type Collector struct {
	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	sessionDuration prometheus.Histogram

	answersRecorded     *prometheus.CounterVec
	turnsIgnored        *prometheus.CounterVec
	interviewsFinished  *prometheus.CounterVec
	outputFailures      *prometheus.CounterVec
	collaboratorFailure *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the metrics with reg, or with the default
// registry when reg is nil.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Collector{
		logger: logger.With(zap.String("component", "metrics")),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently running",
		}),
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions by how they ended",
		}, []string{"result"}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		}),
		answersRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_recorded_total",
			Help:      "Answers recorded per question key",
		}, []string{"key"}),
		turnsIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_ignored_total",
			Help:      "Conversational turns that did not record an answer",
		}, []string{"reason"}),
		interviewsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interviews_finished_total",
			Help:      "Interviews finished, complete or partial",
		}, []string{"outcome"}),
		outputFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_failures_total",
			Help:      "Failed speak or generate requests",
		}, []string{"op"}),
		collaboratorFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_failures_total",
			Help:      "Failed message log or extraction calls",
		}, []string{"collaborator"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (c *Collector) AnswerRecorded(key string) {
	c.answersRecorded.WithLabelValues(key).Inc()
}

func (c *Collector) TurnIgnored(reason string) {
	c.turnsIgnored.WithLabelValues(reason).Inc()
}

func (c *Collector) InterviewFinished(complete bool) {
	outcome := "partial"
	if complete {
		outcome = "complete"
	}
	c.interviewsFinished.WithLabelValues(outcome).Inc()
}

func (c *Collector) OutputFailed(op string) {
	c.outputFailures.WithLabelValues(op).Inc()
}

func (c *Collector) CollaboratorFailed(name string) {
	c.collaboratorFailure.WithLabelValues(name).Inc()
	c.logger.Warn("collaborator failed", zap.String("collaborator", name))
}

// SessionStarted returns a func to call when the session ends.
func (c *Collector) SessionStarted() func(result string) {
	start := time.Now()
	c.sessionsActive.Inc()
	return func(result string) {
		c.sessionsActive.Dec()
		c.sessionsTotal.WithLabelValues(result).Inc()
		c.sessionDuration.Observe(time.Since(start).Seconds())
	}
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
