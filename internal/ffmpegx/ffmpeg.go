// SPDX-License-Identifier: MIT

// Package ffmpegx wraps the ffmpeg and ffprobe binaries for audio
// preprocessing: normalisation to 16 kHz mono FLAC, chunk cutting, duration
// probing and audio-track extraction. Commands run with a soft timeout; on
// breach the process is killed and the failure is retryable.
package ffmpegx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/log"
	"github.com/tubescribe/tubescribe/internal/metrics"
)

// runFn executes a command and returns combined output. Injectable so
// tests can assert argument construction without binaries installed.
type runFn func(ctx context.Context, name string, args []string) (string, error)

// Preprocessor shells out to ffmpeg/ffprobe.
type Preprocessor struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string // working area for produced files; "" uses os.TempDir
	SampleRate  int
	Channels    int
	SoftTimeout time.Duration

	run runFn
}

// Options configures a Preprocessor.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	SampleRate  int
	Channels    int
	SoftTimeout time.Duration
}

// New builds a Preprocessor with defaults filled in.
func New(opts Options) *Preprocessor {
	p := &Preprocessor{
		FFmpegPath:  opts.FFmpegPath,
		FFprobePath: opts.FFprobePath,
		TempDir:     opts.TempDir,
		SampleRate:  opts.SampleRate,
		Channels:    opts.Channels,
		SoftTimeout: opts.SoftTimeout,
	}
	if p.FFmpegPath == "" {
		p.FFmpegPath = "ffmpeg"
	}
	if p.FFprobePath == "" {
		p.FFprobePath = "ffprobe"
	}
	if p.SampleRate <= 0 {
		p.SampleRate = 16000
	}
	if p.Channels <= 0 {
		p.Channels = 1
	}
	if p.SoftTimeout <= 0 {
		p.SoftTimeout = 10 * time.Minute
	}
	p.run = p.runCombined
	return p
}

func (p *Preprocessor) runCombined(ctx context.Context, name string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.SoftTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		// The process was killed at the soft timeout; the chunk is worth
		// retrying once the load clears.
		return string(out), faults.Wrap(faults.KindInternal, name+" timed out", ctx.Err())
	}
	if err != nil {
		return string(out), fmt.Errorf("%s: %w: %s", name, err, tail(string(out), 400))
	}
	return string(out), nil
}

// Normalize resamples src to the configured rate/channels and re-encodes to
// FLAC at the lowest compression level. speed applies chained atempo
// filters for 2x..4x. The produced path is returned; the caller owns it.
func (p *Preprocessor) Normalize(ctx context.Context, src string, speed int) (string, error) {
	out := p.tempFile("norm", ".flac")

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", src}
	if filter := atempoFilter(speed); filter != "" {
		args = append(args, "-filter:a", filter)
	}
	args = append(args,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-c:a", "flac", "-compression_level", "0",
		out,
	)

	if _, err := p.run(ctx, p.FFmpegPath, args); err != nil {
		metrics.FFmpegInvocations.WithLabelValues("normalize", "error").Inc()
		removeQuietly(out)
		return "", fmt.Errorf("normalize %s: %w", filepath.Base(src), err)
	}
	metrics.FFmpegInvocations.WithLabelValues("normalize", "ok").Inc()
	return out, nil
}

// atempoFilter builds the chained atempo expression for a speed multiplier.
// ffmpeg's atempo accepts 0.5..2.0 per instance, so 3x and 4x chain stages.
func atempoFilter(speed int) string {
	switch speed {
	case 2:
		return "atempo=2.0"
	case 3:
		return "atempo=2.0,atempo=1.5"
	case 4:
		return "atempo=2.0,atempo=2.0"
	default:
		return ""
	}
}

// Cut produces a FLAC segment [start, start+duration) of src. If the result
// exceeds maxBytes the duration is halved and re-cut; below one second the
// chunk is abandoned.
func (p *Preprocessor) Cut(ctx context.Context, src string, start, duration float64, maxBytes int64) (string, error) {
	for duration >= 1 {
		out := p.tempFile("chunk", ".flac")
		args := []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-ss", formatSeconds(start),
			"-t", formatSeconds(duration),
			"-i", src,
			"-ar", strconv.Itoa(p.SampleRate),
			"-ac", strconv.Itoa(p.Channels),
			"-c:a", "flac", "-compression_level", "0",
			out,
		}
		if _, err := p.run(ctx, p.FFmpegPath, args); err != nil {
			metrics.FFmpegInvocations.WithLabelValues("cut", "error").Inc()
			removeQuietly(out)
			return "", fmt.Errorf("cut %.1f+%.1f: %w", start, duration, err)
		}
		metrics.FFmpegInvocations.WithLabelValues("cut", "ok").Inc()

		if maxBytes <= 0 {
			return out, nil
		}
		info, err := os.Stat(out)
		if err != nil {
			removeQuietly(out)
			return "", fmt.Errorf("stat chunk: %w", err)
		}
		if info.Size() <= maxBytes {
			return out, nil
		}

		log.WithComponent("ffmpeg").Debug().
			Int64("size", info.Size()).
			Float64("duration", duration).
			Msg("chunk over upload cap, halving")
		removeQuietly(out)
		duration /= 2
	}
	return "", faults.Newf(faults.KindInternal, "chunk at %.1fs cannot be cut under the upload cap", start)
}

// Duration probes the length of an audio or video file in seconds.
func (p *Preprocessor) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.run(ctx, p.FFprobePath, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("probe %s: unparsable duration %q", filepath.Base(path), strings.TrimSpace(out))
	}
	return d, nil
}

// ExtractAudioMP3 pulls the audio track out of a video container into an
// MP3 file at dst. Used by the last-resort download strategy.
func (p *Preprocessor) ExtractAudioMP3(ctx context.Context, src, dst string) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vn", "-c:a", "libmp3lame", "-q:a", "5",
		dst,
	}
	if _, err := p.run(ctx, p.FFmpegPath, args); err != nil {
		metrics.FFmpegInvocations.WithLabelValues("extract", "error").Inc()
		return fmt.Errorf("extract audio from %s: %w", filepath.Base(src), err)
	}
	metrics.FFmpegInvocations.WithLabelValues("extract", "ok").Inc()
	return nil
}

func (p *Preprocessor) tempFile(prefix, ext string) string {
	dir := p.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, prefix+"-"+uuid.NewString()+ext)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithComponent("ffmpeg").Warn().Err(err).Str(log.FieldPath, path).Msg("temp file cleanup failed")
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
