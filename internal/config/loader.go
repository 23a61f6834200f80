// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides, then
// validation. All validation problems are reported together.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Environment variable names recognised by applyEnv.
const (
	EnvGroqAPIKey    = "GROQ_API_KEY"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvProxyUsername = "PROXY_USERNAME"
	EnvProxyPassword = "PROXY_PASSWORD"
	EnvDatabasePath  = "TUBESCRIBE_DB"
	EnvRedisAddr     = "TUBESCRIBE_REDIS_ADDR"
	EnvTempDir       = "TUBESCRIBE_TEMP_DIR"
	EnvCookieFile    = "TUBESCRIBE_COOKIE_FILE"
	EnvBrowserProf   = "TUBESCRIBE_BROWSER_PROFILE"
	EnvAdminListen   = "TUBESCRIBE_ADMIN_LISTEN"
	EnvMaxWorkers    = "TUBESCRIBE_MAX_TRANSCRIPTIONS"
)

func applyEnv(cfg *Config) {
	if cfg.ProviderAPIKeys == nil {
		cfg.ProviderAPIKeys = map[string]string{}
	}
	if v := os.Getenv(EnvGroqAPIKey); v != "" {
		cfg.ProviderAPIKeys["groq"] = v
	}
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		cfg.ProviderAPIKeys["openai"] = v
	}
	if v := os.Getenv(EnvProxyUsername); v != "" {
		cfg.Proxy.Username = v
	}
	if v := os.Getenv(EnvProxyPassword); v != "" {
		cfg.Proxy.Password = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv(EnvTempDir); v != "" {
		cfg.TempDir = v
	}
	if v := os.Getenv(EnvCookieFile); v != "" {
		cfg.Download.CookieFile = v
	}
	if v := os.Getenv(EnvBrowserProf); v != "" {
		cfg.Download.BrowserProfile = v
	}
	if v := os.Getenv(EnvAdminListen); v != "" {
		cfg.Admin.Listen = v
	}
	if v := os.Getenv(EnvMaxWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency.MaxConcurrentTranscriptions = n
		}
	}
}

// Validate checks invariants across the whole configuration and returns all
// violations joined into a single error.
func (c Config) Validate() error {
	var errs []error

	if c.Concurrency.MaxConcurrentTranscriptions < 1 {
		errs = append(errs, errors.New("concurrency.max_concurrent_transcriptions must be >= 1"))
	}
	if c.Audio.MaxFileSizeMB < 1 {
		errs = append(errs, errors.New("audio.max_file_size_mb must be >= 1"))
	}
	if c.Audio.ChunkOverlapSeconds < 0 {
		errs = append(errs, errors.New("audio.chunk_overlap_seconds must be >= 0"))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		errs = append(errs, errors.New("audio.channels must be 1 or 2"))
	}
	switch c.Audio.SpeedMultiplier {
	case 1, 2, 3, 4:
	default:
		errs = append(errs, errors.New("audio.speed_multiplier must be 1..4"))
	}
	if c.AudioFallback.MaxDurationSeconds <= 0 {
		errs = append(errs, errors.New("audio_fallback.max_duration_seconds must be positive"))
	}
	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("storage.database_path is required"))
	}
	if c.Download.StrategyTimeoutSec < 0 {
		errs = append(errs, errors.New("download.strategy_timeout_seconds must be >= 0"))
	}
	if _, ok := c.Tiers[TierFree]; !ok {
		errs = append(errs, errors.New("tier_registry must define the free tier"))
	}
	for name, tier := range c.Tiers {
		if tier.MaxVideosPerJob <= 0 {
			errs = append(errs, fmt.Errorf("tier_registry.%s.max_videos_per_job must be positive", name))
		}
		if tier.MaxConcurrentJobs <= 0 {
			errs = append(errs, fmt.Errorf("tier_registry.%s.max_concurrent_jobs must be positive", name))
		}
	}
	if c.TempDir != "" {
		if info, err := os.Stat(c.TempDir); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Errorf("temp_dir %q is not a usable directory", c.TempDir))
		}
	}

	return errors.Join(errs...)
}
