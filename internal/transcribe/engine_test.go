// SPDX-License-Identifier: MIT

package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/providers"
	"github.com/tubescribe/tubescribe/internal/rategate"
)

type fakePre struct {
	mu        sync.Mutex
	duration  float64
	normCalls int
	cutStarts []float64
}

func (p *fakePre) Normalize(_ context.Context, src string, _ int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.normCalls++
	return "normalized.flac", nil
}

func (p *fakePre) Duration(context.Context, string) (float64, error) {
	return p.duration, nil
}

func (p *fakePre) Cut(_ context.Context, _ string, start, _ float64, _ int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutStarts = append(p.cutStarts, start)
	return fmt.Sprintf("chunk_%.1f.flac", start), nil
}

// fakeSTT scripts responses per chunk path. failures counts down per path;
// while positive the call fails with a non-retryable rejection.
type fakeSTT struct {
	mu       sync.Mutex
	texts    map[string]string
	failures map[string]int
	calls    int
	delay    time.Duration
}

func (s *fakeSTT) Transcribe(_ context.Context, _, filePath, _ string) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures[filePath] > 0 {
		s.failures[filePath]--
		return "", faults.New(faults.KindTranscriptionFailed, "upstream rejected audio")
	}
	if t, ok := s.texts[filePath]; ok {
		return t, nil
	}
	return "text at " + filePath, nil
}

func newTestEngine(t *testing.T, pre *fakePre, s stt) *Engine {
	t.Helper()
	e, err := New(Options{
		Preprocessor:   pre,
		Gates:          rategate.NewRegistry(),
		APIKeys:        map[providers.Provider]string{providers.Groq: "gsk-test"},
		OverlapSeconds: 0.5,
		MaxChunkSizeMB: 25,
	})
	require.NoError(t, err)
	e.stt[providers.Groq] = s
	e.secondPassDelay = 0
	return e
}

func TestTranscribeSingleChunk(t *testing.T) {
	pre := &fakePre{duration: 60}
	s := &fakeSTT{texts: map[string]string{"chunk_0.0.flac": " hello world "}}
	e := newTestEngine(t, pre, s)

	res, err := e.Transcribe(context.Background(), Request{
		AudioPath: "in.mp3", Provider: providers.Groq, Language: "en",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 0, res.FailedChunks)
	assert.Equal(t, providers.ModelWhisperTurbo, res.Model)
	assert.InDelta(t, 60, res.AudioDuration, 1e-9)
}

func TestTranscribeJoinsChunksInOrder(t *testing.T) {
	// 700s forces chunking: 300s chunks, 0.5s overlap, starts 0/299.5/599.
	pre := &fakePre{duration: 700}
	s := &fakeSTT{texts: map[string]string{
		"chunk_0.0.flac":   "one",
		"chunk_299.5.flac": "two",
		"chunk_599.0.flac": "three",
	}}
	e := newTestEngine(t, pre, s)

	res, err := e.Transcribe(context.Background(), Request{
		AudioPath: "in.mp3", Provider: providers.Groq, Language: "en",
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", res.Text)
	assert.Equal(t, 3, res.Chunks)
}

func TestSecondPassRecoversFailedChunk(t *testing.T) {
	pre := &fakePre{duration: 700}
	s := &fakeSTT{
		texts: map[string]string{
			"chunk_0.0.flac":   "one",
			"chunk_299.5.flac": "two",
			"chunk_599.0.flac": "three",
		},
		failures: map[string]int{"chunk_299.5.flac": 1},
	}
	e := newTestEngine(t, pre, s)

	res, err := e.Transcribe(context.Background(), Request{
		AudioPath: "in.mp3", Provider: providers.Groq, Language: "en",
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", res.Text)
	assert.Equal(t, 0, res.FailedChunks)
}

func TestPartialResultWhenChunkNeverSucceeds(t *testing.T) {
	pre := &fakePre{duration: 700}
	s := &fakeSTT{
		texts: map[string]string{
			"chunk_0.0.flac":   "one",
			"chunk_599.0.flac": "three",
		},
		failures: map[string]int{"chunk_299.5.flac": 10},
	}
	e := newTestEngine(t, pre, s)

	res, err := e.Transcribe(context.Background(), Request{
		AudioPath: "in.mp3", Provider: providers.Groq, Language: "en",
	})
	require.NoError(t, err)
	assert.Equal(t, "one three", res.Text)
	assert.Equal(t, 1, res.FailedChunks)
}

func TestAllChunksFailed(t *testing.T) {
	pre := &fakePre{duration: 60}
	s := &fakeSTT{failures: map[string]int{"chunk_0.0.flac": 10}}
	e := newTestEngine(t, pre, s)

	_, err := e.Transcribe(context.Background(), Request{
		AudioPath: "in.mp3", Provider: providers.Groq, Language: "en",
	})
	require.Error(t, err)
	assert.Equal(t, faults.KindTranscriptionFailed, faults.KindOf(err))
}

func TestDurationCap(t *testing.T) {
	pre := &fakePre{duration: 700}
	s := &fakeSTT{}
	e := newTestEngine(t, pre, s)

	_, err := e.Transcribe(context.Background(), Request{
		AudioPath: "in.mp3", Provider: providers.Groq, Language: "en", MaxDuration: 600,
	})
	require.Error(t, err)
	assert.Equal(t, faults.KindAudioTooLong, faults.KindOf(err))
	assert.Zero(t, s.calls, "no upload for over-cap audio")
}

func TestUnconfiguredProvider(t *testing.T) {
	pre := &fakePre{duration: 60}
	e := newTestEngine(t, pre, &fakeSTT{})

	_, err := e.Transcribe(context.Background(), Request{
		AudioPath: "in.mp3", Provider: providers.OpenAI,
	})
	require.Error(t, err)
	assert.Equal(t, faults.KindInternal, faults.KindOf(err))
}

func TestConcurrentRequestsDeduplicated(t *testing.T) {
	pre := &fakePre{duration: 60}
	s := &fakeSTT{delay: 50 * time.Millisecond}
	e := newTestEngine(t, pre, s)

	req := Request{AudioPath: "in.mp3", Provider: providers.Groq, Language: "en"}

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Transcribe(context.Background(), req)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, pre.normCalls, "one execution serves both callers")
	assert.Equal(t, results[0].Text, results[1].Text)
}

func TestClassifyAPIError(t *testing.T) {
	err := classifyAPIError(&openai.APIError{HTTPStatusCode: 429, Message: "rate limit reached"})
	assert.Equal(t, faults.KindRateLimited, faults.KindOf(err))

	err = classifyAPIError(&openai.APIError{HTTPStatusCode: 503, Message: "overloaded"})
	assert.Equal(t, faults.KindUpstreamUnavailable, faults.KindOf(err))

	err = classifyAPIError(&openai.APIError{HTTPStatusCode: 400, Message: "unsupported audio"})
	assert.Equal(t, faults.KindTranscriptionFailed, faults.KindOf(err))

	err = classifyAPIError(errors.New("connection reset"))
	assert.Equal(t, faults.KindUpstreamUnavailable, faults.KindOf(err))
}
