// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TranscriptionChunks counts chunk uploads by provider/model and outcome.
	TranscriptionChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubescribe_transcription_chunks_total",
		Help: "Chunk transcription attempts by outcome",
	}, []string{"provider", "model", "outcome"})

	// TranscriptionChunkDuration tracks per-chunk upload+response time.
	TranscriptionChunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tubescribe_transcription_chunk_duration_seconds",
		Help:    "Duration of individual chunk transcriptions",
		Buckets: prometheus.ExponentialBuckets(0.25, 2.0, 12),
	}, []string{"provider", "model"})

	// FFmpegInvocations counts preprocessor subprocess runs.
	FFmpegInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubescribe_ffmpeg_invocations_total",
		Help: "FFmpeg subprocess invocations by operation and outcome",
	}, []string{"op", "outcome"})
)
