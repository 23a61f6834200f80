// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptionMethodOutcomes counts caption ladder outcomes per method.
	CaptionMethodOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubescribe_caption_method_outcomes_total",
		Help: "Caption fetch outcomes by ladder method",
	}, []string{"method", "outcome"})

	// AudioStrategyOutcomes counts audio download outcomes per strategy.
	AudioStrategyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubescribe_audio_strategy_outcomes_total",
		Help: "Audio download outcomes by ladder strategy",
	}, []string{"strategy", "outcome"})

	// AcquisitionDuration tracks end-to-end acquisition time per path.
	AcquisitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tubescribe_acquisition_duration_seconds",
		Help:    "Duration of transcript acquisition per path",
		Buckets: prometheus.ExponentialBuckets(0.5, 2.0, 12), // 0.5s to ~34min
	}, []string{"path"})
)
