// Package prometheus implements instrumentation.Instrumentation against
// exported Prometheus metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rkvlabs/rkv/internal/instrumentation"
)

// Satisfaction guaranteed.
var _ instrumentation.Instrumentation = PrometheusInstrumentation{}

// PrometheusInstrumentation holds metrics for every instrumented event.
// Per-command metrics use a "command" label instead of one series per verb.
type PrometheusInstrumentation struct {
	commandCallCount     *prometheus.CounterVec
	commandDuration      *prometheus.SummaryVec
	commandErrorCount    *prometheus.CounterVec
	connectionOpenCount  prometheus.Counter
	connectionCloseCount prometheus.Counter
	purgePassCount       prometheus.Counter
	purgeSampledCount    prometheus.Counter
	purgeExpiredCount    prometheus.Counter
	logWriteFailureCount prometheus.Counter
	logReplayedCount     prometheus.Counter
}

// New returns an Instrumentation that registers and serves metrics under
// the given namespace (e.g. "rkv" produces "rkv_command_call_count").
func New(namespace string, maxSummaryAge time.Duration) PrometheusInstrumentation {
	i := PrometheusInstrumentation{
		commandCallCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_call_count",
			Help:      "How many times each command has been dispatched.",
		}, []string{"command"}),
		commandDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "command_duration_nanoseconds",
			Help:      "Command execution duration, per command.",
			MaxAge:    maxSummaryAge,
		}, []string{"command"}),
		commandErrorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_error_count",
			Help:      "How many times each command has returned an error reply.",
		}, []string{"command"}),
		connectionOpenCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_opened_count",
			Help:      "How many client connections have been accepted.",
		}),
		connectionCloseCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_closed_count",
			Help:      "How many client connections have closed.",
		}),
		purgePassCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purge_pass_count",
			Help:      "How many purger invocations have run.",
		}),
		purgeSampledCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purge_sampled_count",
			Help:      "How many expiry-table keys the purger has examined.",
		}),
		purgeExpiredCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purge_expired_count",
			Help:      "How many keys the purger has removed.",
		}),
		logWriteFailureCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_write_failure_count",
			Help:      "How many append-log writes were swallowed after failing.",
		}),
		logReplayedCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_replayed_count",
			Help:      "How many append-log records have been replayed.",
		}),
	}

	prometheus.MustRegister(i.commandCallCount)
	prometheus.MustRegister(i.commandDuration)
	prometheus.MustRegister(i.commandErrorCount)
	prometheus.MustRegister(i.connectionOpenCount)
	prometheus.MustRegister(i.connectionCloseCount)
	prometheus.MustRegister(i.purgePassCount)
	prometheus.MustRegister(i.purgeSampledCount)
	prometheus.MustRegister(i.purgeExpiredCount)
	prometheus.MustRegister(i.logWriteFailureCount)
	prometheus.MustRegister(i.logReplayedCount)

	return i
}

func (i PrometheusInstrumentation) CommandCall(command string) {
	i.commandCallCount.WithLabelValues(command).Inc()
}

func (i PrometheusInstrumentation) CommandDuration(command string, d time.Duration) {
	i.commandDuration.WithLabelValues(command).Observe(float64(d.Nanoseconds()))
}

func (i PrometheusInstrumentation) CommandError(command string) {
	i.commandErrorCount.WithLabelValues(command).Inc()
}

func (i PrometheusInstrumentation) ConnectionOpened() {
	i.connectionOpenCount.Inc()
}

func (i PrometheusInstrumentation) ConnectionClosed() {
	i.connectionCloseCount.Inc()
}

func (i PrometheusInstrumentation) PurgePass() {
	i.purgePassCount.Inc()
}

func (i PrometheusInstrumentation) PurgeSampled(n int) {
	i.purgeSampledCount.Add(float64(n))
}

func (i PrometheusInstrumentation) PurgeExpired(n int) {
	i.purgeExpiredCount.Add(float64(n))
}

func (i PrometheusInstrumentation) LogWriteFailure() {
	i.logWriteFailureCount.Inc()
}

func (i PrometheusInstrumentation) ReplayedCommands(n int) {
	i.logReplayedCount.Add(float64(n))
}
