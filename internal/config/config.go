// SPDX-License-Identifier: MIT

// Package config defines the service configuration surface: provider
// credentials, proxy settings, audio/chunking knobs, concurrency caps and
// the tier registry. Values come from an optional YAML file merged with
// environment overrides; validation collects all problems in one pass.
package config

import (
	"strconv"
	"time"
)

// Config is the root configuration object handed to the daemon.
type Config struct {
	ProviderAPIKeys map[string]string `yaml:"provider_api_keys"`
	Proxy           Proxy             `yaml:"proxy"`
	Concurrency     Concurrency       `yaml:"concurrency"`
	Audio           Audio             `yaml:"audio"`
	AudioFallback   AudioFallback     `yaml:"audio_fallback"`
	Download        Download          `yaml:"download"`
	Tiers           TierRegistry      `yaml:"tier_registry"`
	Storage         Storage           `yaml:"storage"`
	Admin           Admin             `yaml:"admin"`
	TempDir         string            `yaml:"temp_dir"`
	LogLevel        string            `yaml:"log_level"`
}

// Proxy carries the residential proxy credentials for caption fetching.
type Proxy struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
}

// Enabled reports whether proxy credentials are configured.
func (p Proxy) Enabled() bool { return p.Username != "" && p.Password != "" }

// URL renders the proxy as an http URL, or "" when disabled.
func (p Proxy) URL() string {
	if !p.Enabled() {
		return ""
	}
	host := p.Host
	if host == "" {
		host = "p.webshare.io"
	}
	port := p.Port
	if port == 0 {
		port = 80
	}
	return "http://" + p.Username + ":" + p.Password + "@" + host + ":" + strconv.Itoa(port)
}

// Concurrency bounds the transcription worker pools.
type Concurrency struct {
	MaxConcurrentTranscriptions int `yaml:"max_concurrent_transcriptions"`
}

// Audio configures the preprocessor and chunk planner.
type Audio struct {
	MaxFileSizeMB       int     `yaml:"max_file_size_mb"`
	ChunkOverlapSeconds float64 `yaml:"chunk_overlap_seconds"`
	SampleRate          int     `yaml:"sample_rate"`
	Channels            int     `yaml:"channels"`
	SpeedMultiplier     int     `yaml:"speed_multiplier"`
}

// AudioFallback bounds AI transcription when captions are unavailable.
type AudioFallback struct {
	MaxDurationSeconds int `yaml:"max_duration_seconds"`
}

// Download configures the yt-dlp strategy ladder.
type Download struct {
	// YtdlpPath overrides the yt-dlp binary on PATH.
	YtdlpPath string `yaml:"ytdlp_path"`

	// FallbackPath names a second yt-dlp build for the fallback-extractor
	// strategy; empty skips that strategy.
	FallbackPath string `yaml:"fallback_ytdlp_path"`

	// BrowserProfile enables the browser-cookie strategy, e.g.
	// "firefox:default-release"; empty skips it.
	BrowserProfile string `yaml:"browser_profile"`

	// CookieFile is a Netscape cookies.txt, hot-reloaded on change.
	CookieFile string `yaml:"cookie_file"`

	StrategyTimeoutSec int `yaml:"strategy_timeout_seconds"`
}

// StrategyTimeout returns the per-strategy deadline, 0 meaning the
// fetcher's default.
func (d Download) StrategyTimeout() time.Duration {
	return time.Duration(d.StrategyTimeoutSec) * time.Second
}

// Storage configures persistence and artifact locations.
type Storage struct {
	DatabasePath string `yaml:"database_path"`
	ArtifactDir  string `yaml:"artifact_dir"`
	RedisAddr    string `yaml:"redis_addr"` // optional; enables the Redis quota ledger
}

// Admin configures the health/metrics listener.
type Admin struct {
	Listen string `yaml:"listen"`
}

// Default returns the baseline configuration before file and env merging.
func Default() Config {
	return Config{
		ProviderAPIKeys: map[string]string{},
		Concurrency:     Concurrency{MaxConcurrentTranscriptions: 10},
		Audio: Audio{
			MaxFileSizeMB:       25,
			ChunkOverlapSeconds: 0.5,
			SampleRate:          16000,
			Channels:            1,
			SpeedMultiplier:     1,
		},
		AudioFallback: AudioFallback{MaxDurationSeconds: 600},
		Tiers:         DefaultTiers(),
		Storage: Storage{
			DatabasePath: "tubescribe.db",
			ArtifactDir:  "artifacts",
		},
		Admin:    Admin{Listen: ":8090"},
		TempDir:  "",
		LogLevel: "info",
	}
}

// FallbackCap returns the audio fallback duration cap.
func (c Config) FallbackCap() time.Duration {
	return time.Duration(c.AudioFallback.MaxDurationSeconds) * time.Second
}
