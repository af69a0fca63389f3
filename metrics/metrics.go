// Package metrics holds the pipeline's prometheus collectors. Everything
// registers at init; cmd/replyhive mounts the handler on the ops router.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PollRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replyhive_poll_runs_total",
		Help: "Total poll jobs executed",
	})
	PollErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replyhive_poll_errors_total",
		Help: "Total per-platform poll failures",
	}, []string{"platform"})
	PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "replyhive_poll_duration_seconds",
		Help:    "Poll job duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
	CommentsDiscovered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replyhive_comments_discovered_total",
		Help: "New comments enqueued for processing",
	}, []string{"platform"})
	CommentsDuplicate = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replyhive_comments_duplicate_total",
		Help: "Comments skipped because they were already processed",
	}, []string{"platform"})
	Matches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replyhive_matches_total",
		Help: "Rule matches by trigger type",
	}, []string{"trigger"})
	Filtered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replyhive_filtered_total",
		Help: "Matches suppressed by a safety filter or quota",
	}, []string{"reason"})
	Responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replyhive_responses_total",
		Help: "Response attempts by action and outcome",
	}, []string{"action", "status"})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "replyhive_queue_depth",
		Help: "Jobs currently visible or in flight per queue",
	}, []string{"queue"})
	DeadJobs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "replyhive_dead_jobs",
		Help: "Jobs parked in the dead-letter table per queue",
	}, []string{"queue"})
)

func init() {
	prometheus.MustRegister(
		PollRuns, PollErrors, PollDuration,
		CommentsDiscovered, CommentsDuplicate,
		Matches, Filtered, Responses,
		QueueDepth, DeadJobs,
	)
}

// ObservePoll records one poll job's duration.
func ObservePoll(start time.Time) {
	PollDuration.Observe(time.Since(start).Seconds())
}
