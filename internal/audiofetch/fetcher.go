// SPDX-License-Identifier: MIT

// Package audiofetch downloads YouTube audio through a ladder of yt-dlp
// strategies, each working around a different class of bot-detection or
// client-gating failure. It also expands playlist and channel URLs into
// individual video entries.
package audiofetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/log"
	"github.com/tubescribe/tubescribe/internal/metrics"
)

// runFn executes a command and returns combined output. Injectable so
// tests can assert argument construction without yt-dlp installed.
type runFn func(ctx context.Context, name string, args []string) (string, error)

const iosUserAgent = "com.google.ios.youtube/19.09.3 (iPhone14,3; U; CPU iOS 15_6 like Mac OS X)"

// Download is a successful audio acquisition.
type Download struct {
	Path     string
	Strategy string
}

// Fetcher runs the download ladder.
type Fetcher struct {
	YtdlpPath    string
	FallbackPath string // secondary extractor binary (youtube-dl); "" disables that rung
	TempDir      string

	// BrowserProfile enables the browser-cookie strategy when set, e.g.
	// "chrome" or "firefox:default".
	BrowserProfile string

	Jar *CookieJar
	Pre ffmpegExtractor

	StrategyTimeout time.Duration

	run runFn
}

// ffmpegExtractor is the slice of the audio preprocessor the fetcher needs.
type ffmpegExtractor interface {
	ExtractAudioMP3(ctx context.Context, src, dst string) error
}

// Options configures a Fetcher.
type Options struct {
	YtdlpPath       string
	FallbackPath    string
	TempDir         string
	BrowserProfile  string
	CookieFile      string
	Extractor       ffmpegExtractor
	StrategyTimeout time.Duration
}

// New builds a Fetcher with defaults filled in and the cookie watcher
// started.
func New(opts Options) *Fetcher {
	f := &Fetcher{
		YtdlpPath:       opts.YtdlpPath,
		FallbackPath:    opts.FallbackPath,
		TempDir:         opts.TempDir,
		BrowserProfile:  opts.BrowserProfile,
		Jar:             NewCookieJar(opts.CookieFile),
		Pre:             opts.Extractor,
		StrategyTimeout: opts.StrategyTimeout,
	}
	if f.YtdlpPath == "" {
		f.YtdlpPath = "yt-dlp"
	}
	if f.TempDir == "" {
		f.TempDir = os.TempDir()
	}
	if f.StrategyTimeout <= 0 {
		f.StrategyTimeout = 10 * time.Minute
	}
	f.run = f.runCombined
	return f
}

// Close stops the cookie watcher.
func (f *Fetcher) Close() {
	if f.Jar != nil {
		f.Jar.Close()
	}
}

func (f *Fetcher) runCombined(ctx context.Context, name string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.StrategyTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), faults.Wrap(faults.KindDownloadFailed, name+" timed out", ctx.Err())
	}
	if err != nil {
		return string(out), fmt.Errorf("%s: %w", name, err)
	}
	return string(out), nil
}

// strategy is one rung of the download ladder.
type strategy struct {
	name string
	// enabled gates rungs that need optional resources (cookies, a
	// fallback binary).
	enabled func(f *Fetcher) bool
	// args builds the command line; bin overrides YtdlpPath when set.
	bin  string
	args func(f *Fetcher, url, outTemplate string) []string
	// extract re-encodes the downloaded file through ffmpeg.
	extract bool
}

func audioArgs(extra ...string) func(f *Fetcher, url, outTemplate string) []string {
	return func(_ *Fetcher, url, outTemplate string) []string {
		args := []string{"--no-playlist", "--no-progress", "-x", "--audio-format", "mp3", "-o", outTemplate}
		args = append(args, extra...)
		return append(args, url)
	}
}

func (f *Fetcher) strategies() []strategy {
	return []strategy{
		{
			name:    "browser_cookies",
			enabled: func(f *Fetcher) bool { return f.BrowserProfile != "" },
			args: func(f *Fetcher, url, out string) []string {
				return []string{
					"--no-playlist", "--no-progress", "-x", "--audio-format", "mp3", "-o", out,
					"--cookies-from-browser", f.BrowserProfile,
					"--extractor-args", "youtube:player_client=web,android,ios",
					"--extractor-args", "youtube:skip=dash,hls",
					"-4",
					url,
				}
			},
		},
		{
			name:    "cookie_file",
			enabled: func(f *Fetcher) bool { return f.Jar != nil && f.Jar.Available() },
			args: func(f *Fetcher, url, out string) []string {
				return audioArgs("--cookies", f.Jar.Path())(f, url, out)
			},
		},
		{
			name: "ios_client",
			args: audioArgs("--extractor-args", "youtube:player_client=ios", "--user-agent", iosUserAgent),
		},
		{
			name: "tv_embedded",
			args: audioArgs("--extractor-args", "youtube:player_client=tv_embedded"),
		},
		{
			name:    "fallback_extractor",
			enabled: func(f *Fetcher) bool { return f.FallbackPath != "" },
			bin:     "fallback",
			args: func(f *Fetcher, url, out string) []string {
				return []string{"--no-playlist", "-f", "bestaudio/best", "-o", out, url}
			},
			extract: true,
		},
		{
			name: "web_embedded",
			args: audioArgs("--extractor-args", "youtube:player_client=web_embedded"),
		},
		{
			name: "video_extract",
			args: func(f *Fetcher, url, out string) []string {
				return []string{"--no-playlist", "--no-progress", "-f", "worst[ext=mp4]/worst", "-o", out, url}
			},
			extract: true,
		},
	}
}

// Fetch walks the ladder for one video. A nil Download with a nil error
// means every strategy failed; callers treat that as a download failure
// for the video rather than a transient service error. A non-nil error is
// only returned on cancellation.
func (f *Fetcher) Fetch(ctx context.Context, videoID string) (*Download, error) {
	logger := log.WithComponent("audiofetch").With().Str(log.FieldVideoID, videoID).Logger()
	url := "https://www.youtube.com/watch?v=" + videoID
	started := time.Now()

	for i, s := range f.strategies() {
		if err := ctx.Err(); err != nil {
			return nil, faults.Wrap(faults.KindCancelled, "audio fetch cancelled", err)
		}
		if s.enabled != nil && !s.enabled(f) {
			metrics.AudioStrategyOutcomes.WithLabelValues(s.name, "skipped").Inc()
			continue
		}

		path, err := f.runStrategy(ctx, s, i, videoID, url)
		if err != nil {
			metrics.AudioStrategyOutcomes.WithLabelValues(s.name, "error").Inc()
			logger.Debug().Str(log.FieldStrategy, s.name).Err(err).Msg("download strategy failed")
			continue
		}
		metrics.AudioStrategyOutcomes.WithLabelValues(s.name, "ok").Inc()
		metrics.AcquisitionDuration.WithLabelValues("audio").Observe(time.Since(started).Seconds())
		logger.Info().Str(log.FieldStrategy, s.name).Str(log.FieldPath, path).Msg("audio downloaded")
		return &Download{Path: path, Strategy: s.name}, nil
	}

	logger.Warn().Msg("all download strategies exhausted")
	return nil, nil
}

func (f *Fetcher) runStrategy(ctx context.Context, s strategy, idx int, videoID, url string) (string, error) {
	stem := fmt.Sprintf("dl_%s_%d", videoID, idx)
	outTemplate := filepath.Join(f.TempDir, stem+".%(ext)s")

	bin := f.YtdlpPath
	if s.bin == "fallback" {
		bin = f.FallbackPath
	}

	if _, err := f.run(ctx, bin, s.args(f, url, outTemplate)); err != nil {
		f.cleanupStem(stem)
		return "", err
	}

	path, err := f.findOutput(stem)
	if err != nil {
		return "", err
	}

	if s.extract {
		dst := filepath.Join(f.TempDir, stem+"_audio.mp3")
		if f.Pre == nil {
			removeQuietly(path)
			return "", faults.New(faults.KindInternal, "no extractor configured for re-encode strategy")
		}
		if err := f.Pre.ExtractAudioMP3(ctx, path, dst); err != nil {
			removeQuietly(path)
			removeQuietly(dst)
			return "", err
		}
		removeQuietly(path)
		path = dst
	}
	return path, nil
}

// findOutput resolves the file yt-dlp produced for an output template. The
// extension is chosen by the downloader, so the stem is globbed.
func (f *Fetcher) findOutput(stem string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(f.TempDir, stem+".*"))
	if err != nil {
		return "", fmt.Errorf("glob download output: %w", err)
	}
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.Size() == 0 {
			continue
		}
		// yt-dlp leaves .part files behind on interrupted downloads.
		if filepath.Ext(m) == ".part" {
			continue
		}
		return m, nil
	}
	return "", faults.New(faults.KindDownloadFailed, "downloader exited clean but produced no file")
}

func (f *Fetcher) cleanupStem(stem string) {
	matches, _ := filepath.Glob(filepath.Join(f.TempDir, stem+".*"))
	for _, m := range matches {
		removeQuietly(m)
	}
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithComponent("audiofetch").Warn().Err(err).Str(log.FieldPath, path).Msg("temp file cleanup failed")
	}
}

// OutputName builds the archive-entry filename for a finished transcript.
func OutputName(title, videoID, format string) string {
	return SanitizeTitle(title) + "_" + videoID + "." + format
}
