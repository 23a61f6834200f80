// SPDX-License-Identifier: MIT

package config

import "time"

// Tier names resolved from a principal's subscription record.
const (
	TierFree       = "free"
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// TierLimits is one named quota profile.
type TierLimits struct {
	MaxVideosPerJob   int     `yaml:"max_videos_per_job"`
	MaxJobsPerDay     int     `yaml:"max_jobs_per_day"`
	MaxConcurrentJobs int     `yaml:"max_concurrent_jobs"`
	RateLimitDelaySec float64 `yaml:"rate_limit_delay_seconds"`
}

// InterTaskDelay is the pause inserted between tasks of one job.
func (t TierLimits) InterTaskDelay() time.Duration {
	return time.Duration(t.RateLimitDelaySec * float64(time.Second))
}

// TierRegistry maps tier name to limits.
type TierRegistry map[string]TierLimits

// Resolve returns the limits for a tier name, falling back to free.
func (r TierRegistry) Resolve(name string) TierLimits {
	if t, ok := r[name]; ok {
		return t
	}
	return r[TierFree]
}

// GuestLimits caps anonymous usage per guest session.
type GuestLimits struct {
	CaptionTranscripts int
	AITranscripts      int
	BulkVideos         int
	JobsPerDay         int
}

// DefaultGuestLimits returns the anonymous usage caps.
func DefaultGuestLimits() GuestLimits {
	return GuestLimits{
		CaptionTranscripts: 5,
		AITranscripts:      2,
		BulkVideos:         3,
		JobsPerDay:         1,
	}
}

// DefaultTiers returns the built-in tier registry.
func DefaultTiers() TierRegistry {
	return TierRegistry{
		TierFree:       {MaxVideosPerJob: 5, MaxJobsPerDay: 3, MaxConcurrentJobs: 1, RateLimitDelaySec: 5.0},
		TierBasic:      {MaxVideosPerJob: 25, MaxJobsPerDay: 10, MaxConcurrentJobs: 2, RateLimitDelaySec: 4.0},
		TierPro:        {MaxVideosPerJob: 100, MaxJobsPerDay: 50, MaxConcurrentJobs: 3, RateLimitDelaySec: 3.0},
		TierEnterprise: {MaxVideosPerJob: 500, MaxJobsPerDay: 200, MaxConcurrentJobs: 5, RateLimitDelaySec: 3.0},
	}
}
