// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider_api_keys:
  groq: file-key
audio:
  max_file_size_mb: 20
  chunk_overlap_seconds: 0.5
  sample_rate: 16000
  channels: 1
  speed_multiplier: 2
audio_fallback:
  max_duration_seconds: 300
download:
  ytdlp_path: /opt/yt-dlp/bin/yt-dlp
  fallback_ytdlp_path: /opt/yt-dlp-nightly/bin/yt-dlp
  browser_profile: firefox:default-release
  strategy_timeout_seconds: 120
`), 0o600))

	t.Setenv(EnvGroqAPIKey, "env-key")
	t.Setenv(EnvDatabasePath, filepath.Join(dir, "state.db"))
	t.Setenv(EnvCookieFile, filepath.Join(dir, "cookies.txt"))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.ProviderAPIKeys["groq"], "env overrides file")
	assert.Equal(t, 20, cfg.Audio.MaxFileSizeMB)
	assert.Equal(t, 2, cfg.Audio.SpeedMultiplier)
	assert.Equal(t, 5*time.Minute, cfg.FallbackCap())
	assert.Equal(t, filepath.Join(dir, "state.db"), cfg.Storage.DatabasePath)
	assert.Equal(t, "/opt/yt-dlp/bin/yt-dlp", cfg.Download.YtdlpPath)
	assert.Equal(t, "/opt/yt-dlp-nightly/bin/yt-dlp", cfg.Download.FallbackPath)
	assert.Equal(t, "firefox:default-release", cfg.Download.BrowserProfile)
	assert.Equal(t, filepath.Join(dir, "cookies.txt"), cfg.Download.CookieFile)
	assert.Equal(t, 2*time.Minute, cfg.Download.StrategyTimeout())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Concurrency.MaxConcurrentTranscriptions = 0
	cfg.Audio.SpeedMultiplier = 7
	cfg.Storage.DatabasePath = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_transcriptions")
	assert.Contains(t, err.Error(), "speed_multiplier")
	assert.Contains(t, err.Error(), "database_path")
}

func TestProxyURL(t *testing.T) {
	p := Proxy{}
	assert.Empty(t, p.URL())

	p = Proxy{Username: "u", Password: "pw"}
	assert.Equal(t, "http://u:pw@p.webshare.io:80", p.URL())

	p.Host = "proxy.example.com"
	p.Port = 8080
	assert.Equal(t, "http://u:pw@proxy.example.com:8080", p.URL())
}

func TestTierRegistryResolve(t *testing.T) {
	tiers := DefaultTiers()
	assert.Equal(t, 1, tiers.Resolve(TierFree).MaxConcurrentJobs)
	assert.Equal(t, 5, tiers.Resolve(TierEnterprise).MaxConcurrentJobs)
	// Unknown tiers fall back to free.
	assert.Equal(t, tiers[TierFree], tiers.Resolve("unknown"))
	assert.Equal(t, 5*time.Second, tiers.Resolve(TierFree).InterTaskDelay())
}
