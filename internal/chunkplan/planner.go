// SPDX-License-Identifier: MIT

// Package chunkplan computes the cut schedule for long audio before
// transcription. Planning is pure: the same inputs always produce the same
// plan, and no I/O happens here.
package chunkplan

import (
	"fmt"
	"math"

	"github.com/tubescribe/tubescribe/internal/providers"
)

// Chunk is one planned cut.
type Chunk struct {
	Index    int
	Start    float64 // seconds into the source
	Duration float64 // seconds
}

// Plan is the full cut schedule for one transcription.
type Plan struct {
	Model         string
	Provider      providers.Provider
	ChunkDuration float64 // seconds per chunk before the tail
	Overlap       float64 // seconds of context carried across boundaries
	Workers       int
	Chunks        []Chunk
}

// SingleChunk reports whether the plan covers the source in one request.
func (p Plan) SingleChunk() bool { return len(p.Chunks) == 1 }

// Params are the planner inputs.
type Params struct {
	Duration       float64 // total audio duration in seconds
	Profile        providers.Profile
	OverlapSeconds float64 // 0 uses the default
	MaxChunkSizeMB int     // provider upload cap; 0 uses 25
	MaxWorkers     int     // orchestration-level cap; 0 means unbounded
}

const (
	defaultOverlap = 0.5
	defaultMaxMB   = 25

	// Estimated bytes per second of 16 kHz mono FLAC at compression 0.
	flacBytesPerSecond = 20_000
)

// Compute derives the chunk plan for the given audio duration and model.
func Compute(p Params) (Plan, error) {
	if p.Duration <= 0 {
		return Plan{}, fmt.Errorf("chunkplan: non-positive duration %.2f", p.Duration)
	}
	overlap := p.OverlapSeconds
	if overlap <= 0 {
		overlap = defaultOverlap
	}
	maxMB := p.MaxChunkSizeMB
	if maxMB <= 0 {
		maxMB = defaultMaxMB
	}

	plan := Plan{
		Model:    p.Profile.Model,
		Provider: p.Profile.Provider,
		Overlap:  overlap,
	}

	// Short audio that fits in one upload is sent whole.
	estBytes := p.Duration * flacBytesPerSecond
	if p.Duration <= 180 && estBytes < float64(maxMB)*1024*1024 {
		plan.ChunkDuration = p.Duration
		plan.Workers = 1
		plan.Chunks = []Chunk{{Index: 0, Start: 0, Duration: p.Duration}}
		return plan, nil
	}

	plan.ChunkDuration = chunkSeconds(p.Duration, p.Profile.RPM)
	plan.Workers = workerCount(p.Duration, p.Profile, p.MaxWorkers)
	plan.Chunks = enumerate(p.Duration, plan.ChunkDuration, overlap)
	return plan, nil
}

// chunkSeconds picks the base chunk length for a total duration, then
// scales it for low-RPM models (fewer requests per minute favour larger
// chunks).
func chunkSeconds(duration float64, rpm int) float64 {
	var base float64
	switch {
	case duration > 14400:
		base = 120
	case duration > 7200:
		base = 150
	case duration > 3600:
		base = 180
	case duration > 1800:
		base = 240
	default:
		base = 300
	}
	if rpm > 0 && rpm != 400 {
		base *= 400.0 / float64(rpm)
	}
	if base > duration {
		base = duration
	}
	return base
}

func workerCount(duration float64, profile providers.Profile, orchestrationCap int) int {
	w := profile.RPM / 60
	if w < 2 {
		w = 2
	}
	if w > 10 {
		w = 10
	}
	switch {
	case duration > 14400:
		w /= 4
	case duration > 7200:
		w /= 3
	case duration > 3600:
		w /= 2
	}
	if w < 1 {
		w = 1
	}
	if ceiling := providers.MaxWorkers(profile.Provider); w > ceiling {
		w = ceiling
	}
	if orchestrationCap > 0 && w > orchestrationCap {
		w = orchestrationCap
	}
	return w
}

// enumerate lays out chunk start positions: s0 = 0, s_{i+1} = s_i + c - o.
// The tail chunk is truncated to the source duration.
func enumerate(duration, chunk, overlap float64) []Chunk {
	step := chunk - overlap
	if step <= 0 {
		return []Chunk{{Index: 0, Start: 0, Duration: duration}}
	}

	n := int(math.Ceil((duration - overlap) / step))
	if n < 1 {
		n = 1
	}
	chunks := make([]Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * step
		length := chunk
		if start+length > duration {
			length = duration - start
		}
		if length <= 0 {
			break
		}
		chunks = append(chunks, Chunk{Index: i, Start: start, Duration: length})
	}
	return chunks
}
