// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobTransitions counts job state machine transitions.
	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubescribe_job_transitions_total",
		Help: "Job state transitions",
	}, []string{"from", "to"})

	// TaskOutcomes counts terminal task outcomes by transcript method.
	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubescribe_task_outcomes_total",
		Help: "Terminal task outcomes by transcript method used",
	}, []string{"outcome", "method"})

	// QuotaDenials counts ledger denials per metric.
	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubescribe_quota_denials_total",
		Help: "Quota check denials by metric",
	}, []string{"metric"})

	// WebhookDeliveries counts webhook POST outcomes.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubescribe_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome",
	}, []string{"outcome"})

	// ActiveJobs tracks jobs currently in processing state.
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tubescribe_active_jobs",
		Help: "Jobs currently processing",
	})
)
