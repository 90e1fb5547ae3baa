package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "messages_total",
		Help:      "Dispatch attempts by source and status.",
	}, []string{"source", "status"})

	WatermarkFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "watermark_fallbacks_total",
		Help:      "Attachments sent without a watermark because the service failed.",
	})

	ScheduledJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "scheduled_jobs_total",
		Help:      "Scheduled job executions by result.",
	}, []string{"result"})

	LifecycleNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "lifecycle_notifications_total",
		Help:      "Lifecycle notifications by type and result.",
	}, []string{"type", "result"})

	BulkRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "bulk_runs_total",
		Help:      "Bulk campaign runs by outcome.",
	}, []string{"outcome"})
)

// Result maps a success flag to a label value.
func Result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
