package metrics

import (
	"errors"
	"time"

	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/monitor"
	"github.com/opst/taskmon/pkg/rest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskmon"

// Collector records monitoring sessions as Prometheus metrics.
//
// It is a monitor.Observer.
type Collector struct {
	active   prometheus.Gauge
	started  prometheus.Counter
	polls    *prometheus.CounterVec
	duration prometheus.Histogram
	outcomes *prometheus.CounterVec
}

var _ monitor.Observer = &Collector{}

// New creates Collector and registers its metrics to reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of monitoring sessions in progress",
		}),
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of monitoring sessions started",
		}),
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of polls by result",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of polls",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Total number of monitoring sessions finished, by state and reason",
		}, []string{"state", "reason"}),
	}
}

func (c *Collector) SessionStarted(tasks.Reference) {
	c.started.Inc()
	c.active.Inc()
}

func (c *Collector) Polled(_ tasks.Reference, elapsed time.Duration, err error) {
	c.duration.Observe(elapsed.Seconds())
	c.polls.WithLabelValues(pollResult(err)).Inc()
}

func (c *Collector) SessionFinished(_ tasks.Reference, outcome monitor.Outcome) {
	c.active.Dec()

	reason := ""
	switch outcome.State {
	case monitor.Failed:
		reason = string(outcome.Reason)
	case monitor.Canceled:
		reason = string(outcome.CanceledBy)
	}
	c.outcomes.WithLabelValues(string(outcome.State), reason).Inc()
}

func pollResult(err error) string {
	if err == nil {
		return "ok"
	}
	perr := new(rest.PollError)
	if errors.As(err, &perr) && perr.Kind == rest.PollNotFound {
		return "not_found"
	}
	return "transport"
}
