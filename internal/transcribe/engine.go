// SPDX-License-Identifier: MIT

// Package transcribe runs AI speech-to-text over chunked audio. The engine
// normalises the source, plans cuts, fans chunk uploads across a bounded
// worker pool behind the per-model rate gate, and reassembles the text in
// chunk order. Identical concurrent requests are deduplicated.
package transcribe

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/tubescribe/tubescribe/internal/chunkplan"
	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/log"
	"github.com/tubescribe/tubescribe/internal/metrics"
	"github.com/tubescribe/tubescribe/internal/providers"
	"github.com/tubescribe/tubescribe/internal/rategate"
	"github.com/tubescribe/tubescribe/internal/retry"
)

// preprocessor is the slice of ffmpegx the engine needs. Injectable for
// tests.
type preprocessor interface {
	Normalize(ctx context.Context, src string, speed int) (string, error)
	Duration(ctx context.Context, path string) (float64, error)
	Cut(ctx context.Context, src string, start, duration float64, maxBytes int64) (string, error)
}

// Request describes one transcription.
type Request struct {
	AudioPath string
	Provider  providers.Provider
	Model     string // "" or "auto" defers to the provider heuristic
	Language  string

	// MaxDuration rejects audio longer than this many seconds; 0 disables
	// the cap. The orchestrator sets it for fallback-path transcriptions.
	MaxDuration float64
}

// Result is a completed transcription.
type Result struct {
	Text          string
	Provider      providers.Provider
	Model         string
	AudioDuration float64 // normalised audio, seconds
	Chunks        int
	FailedChunks  int // chunks dropped after both passes
}

// Options configures an Engine.
type Options struct {
	Preprocessor    preprocessor
	Gates           *rategate.Registry
	APIKeys         map[providers.Provider]string
	OverlapSeconds  float64
	MaxChunkSizeMB  int
	SpeedMultiplier int // 1 disables the atempo speed-up
	MaxWorkers      int // orchestration-level pool cap; 0 uses the planner's
}

// Engine is the transcription pipeline. Construct with New.
type Engine struct {
	pre   preprocessor
	gates *rategate.Registry
	stt   map[providers.Provider]stt

	overlap    float64
	maxChunkMB int
	speed      int
	maxWorkers int

	// secondPassDelay is the settle time before retrying failed chunks.
	secondPassDelay time.Duration

	group singleflight.Group
}

// New builds an Engine; it fails when no provider key is configured.
func New(opts Options) (*Engine, error) {
	clients, err := newSTTClients(opts.APIKeys)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		pre:             opts.Preprocessor,
		gates:           opts.Gates,
		stt:             clients,
		overlap:         opts.OverlapSeconds,
		maxChunkMB:      opts.MaxChunkSizeMB,
		speed:           opts.SpeedMultiplier,
		maxWorkers:      opts.MaxWorkers,
		secondPassDelay: time.Minute,
	}
	if e.gates == nil {
		e.gates = rategate.NewRegistry()
	}
	return e, nil
}

// Transcribe runs the pipeline. Concurrent calls for the same audio, model
// and language share one execution; the duplicate caller receives the same
// result. The shared execution runs under the first caller's context.
func (e *Engine) Transcribe(ctx context.Context, req Request) (Result, error) {
	key := req.AudioPath + "|" + string(req.Provider) + "|" + req.Model + "|" + req.Language
	v, err, shared := e.group.Do(key, func() (any, error) {
		return e.transcribe(ctx, req)
	})
	if shared {
		log.WithComponent("transcribe").Debug().Str(log.FieldPath, req.AudioPath).Msg("deduplicated concurrent transcription")
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (e *Engine) transcribe(ctx context.Context, req Request) (Result, error) {
	client, ok := e.stt[req.Provider]
	if !ok {
		return Result{}, faults.Newf(faults.KindInternal, "provider %s has no configured API key", req.Provider)
	}
	profile, err := providers.Resolve(req.Provider, req.Model, req.Language)
	if err != nil {
		return Result{}, faults.Wrap(faults.KindTranscriptionFailed, "model resolution failed", err)
	}

	normalized, err := e.pre.Normalize(ctx, req.AudioPath, e.speed)
	if err != nil {
		return Result{}, faults.Wrap(faults.KindTranscriptionFailed, "audio normalisation failed", err)
	}
	defer removeQuietly(normalized)

	duration, err := e.pre.Duration(ctx, normalized)
	if err != nil {
		return Result{}, faults.Wrap(faults.KindTranscriptionFailed, "duration probe failed", err)
	}
	if req.MaxDuration > 0 && duration > req.MaxDuration {
		return Result{}, faults.Newf(faults.KindAudioTooLong,
			"audio runs %.0fs, over the %.0fs fallback cap", duration, req.MaxDuration)
	}

	plan, err := chunkplan.Compute(chunkplan.Params{
		Duration:       duration,
		Profile:        profile,
		OverlapSeconds: e.overlap,
		MaxChunkSizeMB: e.maxChunkMB,
		MaxWorkers:     e.maxWorkers,
	})
	if err != nil {
		return Result{}, faults.Wrap(faults.KindTranscriptionFailed, "chunk planning failed", err)
	}

	logger := log.WithComponent("transcribe").With().
		Str(log.FieldProvider, string(profile.Provider)).
		Str(log.FieldModel, profile.Model).
		Logger()
	logger.Info().
		Float64("duration", duration).
		Int("chunks", len(plan.Chunks)).
		Int("workers", plan.Workers).
		Msg("transcription planned")

	gate := e.gates.Get(profile)
	texts := make([]string, len(plan.Chunks))
	done := make([]bool, len(plan.Chunks))

	failed := e.runPass(ctx, normalized, plan.Chunks, plan.Workers, profile, gate, client, req.Language, retryBudget{}, texts, done)

	// A second, gentler pass over what the first dropped: one worker, a
	// settle delay, and a fresh retry budget per chunk.
	if len(failed) > 0 && ctx.Err() == nil {
		logger.Info().Int("chunks", len(failed)).Msg("retrying failed chunks sequentially")
		if !sleepCtx(ctx, e.secondPassDelay) {
			return Result{}, faults.Wrap(faults.KindCancelled, "transcription cancelled", ctx.Err())
		}
		failed = e.runPass(ctx, normalized, failed, 1, profile, gate, client, req.Language, retryBudget{attempts: 3}, texts, done)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, faults.Wrap(faults.KindCancelled, "transcription cancelled", err)
	}

	parts := make([]string, 0, len(texts))
	for i, t := range texts {
		if done[i] && strings.TrimSpace(t) != "" {
			parts = append(parts, strings.TrimSpace(t))
		}
	}
	if len(parts) == 0 {
		return Result{}, faults.New(faults.KindTranscriptionFailed, "no chunk produced text")
	}
	if n := len(failed); n > 0 {
		logger.Warn().Int("chunks", n).Msg("chunks dropped after both passes")
	}

	return Result{
		Text:          strings.Join(parts, " "),
		Provider:      profile.Provider,
		Model:         profile.Model,
		AudioDuration: duration,
		Chunks:        len(plan.Chunks),
		FailedChunks:  len(failed),
	}, nil
}

// retryBudget overrides the per-chunk retry schedule; zero uses the
// class-appropriate default.
type retryBudget struct {
	attempts uint
}

// runPass transcribes the given chunks with a bounded pool, filling texts
// and done by chunk index, and returns the chunks that still failed.
func (e *Engine) runPass(ctx context.Context, src string, chunks []chunkplan.Chunk, workers int,
	profile providers.Profile, gate *rategate.Gate, client stt, language string,
	budget retryBudget, texts []string, done []bool) []chunkplan.Chunk {

	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var failed []chunkplan.Chunk

	for _, c := range chunks {
		c := c
		if err := sem.Acquire(gctx, 1); err != nil {
			mu.Lock()
			failed = append(failed, c)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			text, err := e.transcribeChunk(gctx, src, c, profile, gate, client, language, budget)
			if err != nil {
				log.WithComponent("transcribe").Debug().
					Int(log.FieldChunk, c.Index).
					Err(err).
					Msg("chunk failed")
				mu.Lock()
				failed = append(failed, c)
				mu.Unlock()
				return nil // failures are collected, not fatal to the pass
			}
			texts[c.Index] = text
			done[c.Index] = true
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (e *Engine) transcribeChunk(ctx context.Context, src string, c chunkplan.Chunk,
	profile providers.Profile, gate *rategate.Gate, client stt, language string,
	budget retryBudget) (string, error) {

	maxBytes := int64(e.maxChunkMB) << 20
	path, err := e.pre.Cut(ctx, src, c.Start, c.Duration, maxBytes)
	if err != nil {
		return "", err
	}
	defer removeQuietly(path)

	attempt := func() (string, error) {
		lease, err := gate.Acquire(ctx)
		if err != nil {
			return "", faults.Wrap(faults.KindCancelled, "gate wait cancelled", err)
		}
		started := time.Now()
		text, err := client.Transcribe(ctx, profile.Model, path, language)
		elapsed := time.Since(started)

		key := []string{string(profile.Provider), profile.Model}
		if err != nil {
			lease.Failure(err)
			metrics.TranscriptionChunks.WithLabelValues(key[0], key[1], "error").Inc()
			return "", err
		}
		lease.Success(elapsed)
		metrics.TranscriptionChunks.WithLabelValues(key[0], key[1], "ok").Inc()
		metrics.TranscriptionChunkDuration.WithLabelValues(key[0], key[1]).Observe(elapsed.Seconds())
		return text, nil
	}

	// The first attempt's failure class decides the backoff schedule for
	// the rest of the budget.
	text, err := attempt()
	if err == nil {
		return text, nil
	}
	kind := faults.KindOf(err)
	if !faults.Retryable(kind) {
		return "", err
	}
	policy := retry.ForKind(kind)
	if budget.attempts > 0 {
		policy.Attempts = budget.attempts
	}
	if policy.Attempts > 1 {
		policy.Attempts-- // the first attempt is already spent
	}
	return retry.DoValue(ctx, policy, attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithComponent("transcribe").Warn().Err(err).Str(log.FieldPath, path).Msg("temp file cleanup failed")
	}
}
