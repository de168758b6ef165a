// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispense pipeline
	DispenseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbot_dispense_total",
			Help: "Dispense attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	DispensedGrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbot_dispensed_grams_total",
			Help: "Grams successfully dispensed by trigger",
		},
		[]string{"trigger"},
	)

	DispenseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedbot_dispense_duration_seconds",
			Help:    "Device call plus ledger write duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	ScheduledSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbot_scheduled_skipped_total",
			Help: "Scheduled fires skipped by reason",
		},
		[]string{"reason"},
	)

	// Scheduler and reconciliation
	SchedulerJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedbot_scheduler_jobs",
			Help: "Feeding timer jobs currently registered",
		},
	)

	ResyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbot_schedule_resync_total",
			Help: "Full schedule reconciliations by result",
		},
		[]string{"result"},
	)

	TaskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbot_task_runs_total",
			Help: "Task engine runs by task name and result",
		},
		[]string{"task", "result"},
	)

	// Telegram
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbot_commands_total",
			Help: "Telegram commands handled by command and result",
		},
		[]string{"command", "result"},
	)

	// Alerts
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbot_notifications_total",
			Help: "Failure alerts by result",
		},
		[]string{"result"},
	)

	// Runtime
	GoroutineRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbot_goroutine_restarts_total",
			Help: "Supervised goroutine restarts by name",
		},
		[]string{"name"},
	)

	GoroutinePanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbot_goroutine_panics_total",
			Help: "Recovered panics in supervised goroutines by name",
		},
		[]string{"name"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbot_events_dropped_total",
			Help: "Bus events dropped because a subscriber was full",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(DispenseTotal)
	prometheus.MustRegister(DispensedGrams)
	prometheus.MustRegister(DispenseDuration)
	prometheus.MustRegister(ScheduledSkipped)
	prometheus.MustRegister(SchedulerJobs)
	prometheus.MustRegister(ResyncTotal)
	prometheus.MustRegister(TaskRuns)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(GoroutineRestarts)
	prometheus.MustRegister(GoroutinePanics)
	prometheus.MustRegister(EventsDropped)

	// Known label sets start at zero so the series exist before the first
	// dispense.
	for _, trigger := range []string{"manual", "scheduled"} {
		for _, outcome := range []string{"success", "failure"} {
			DispenseTotal.WithLabelValues(trigger, outcome)
		}
		DispensedGrams.WithLabelValues(trigger)
	}
	for _, reason := range []string{"not_found", "inactive", "invalid_amount"} {
		ScheduledSkipped.WithLabelValues(reason)
	}
	for _, result := range []string{"ok", "error"} {
		ResyncTotal.WithLabelValues(result)
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
