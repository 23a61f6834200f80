// SPDX-License-Identifier: MIT

// Package providers is the registry of speech-to-text upstreams and their
// model throughput profiles. The chunk planner and the rate gate both key
// off these numbers so they can never disagree about a model's RPM.
package providers

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies an STT upstream.
type Provider string

const (
	Groq   Provider = "groq"
	OpenAI Provider = "openai"
)

// Model identifiers.
const (
	ModelWhisperTurbo    = "whisper-large-v3-turbo"
	ModelWhisperLarge    = "whisper-large-v3"
	ModelDistilWhisperEN = "distil-whisper-large-v3-en"
	ModelWhisper1        = "whisper-1"

	// ModelAuto defers model selection to the planner heuristic.
	ModelAuto = "auto"
)

// Profile captures a model's throughput and breaker tuning.
type Profile struct {
	Provider         Provider
	Model            string
	RPM              int     // provider-advertised requests per minute
	SafetyFactor     float64 // fraction of RPM actually used
	FailureThreshold int     // consecutive failures before the circuit opens
	Recovery         time.Duration
	EnglishOnly      bool
}

// AdmitPerMinute is the effective sliding-window budget.
func (p Profile) AdmitPerMinute() int {
	return int(float64(p.RPM) * p.SafetyFactor)
}

// Key is the (provider, model) identity used for gates and breakers.
func (p Profile) Key() string {
	return string(p.Provider) + "/" + p.Model
}

var profiles = map[string]Profile{
	ModelWhisperTurbo:    {Provider: Groq, Model: ModelWhisperTurbo, RPM: 400, SafetyFactor: 0.8, FailureThreshold: 3, Recovery: 60 * time.Second},
	ModelWhisperLarge:    {Provider: Groq, Model: ModelWhisperLarge, RPM: 300, SafetyFactor: 0.8, FailureThreshold: 3, Recovery: 45 * time.Second},
	ModelDistilWhisperEN: {Provider: Groq, Model: ModelDistilWhisperEN, RPM: 100, SafetyFactor: 0.7, FailureThreshold: 2, Recovery: 30 * time.Second, EnglishOnly: true},
	ModelWhisper1:        {Provider: OpenAI, Model: ModelWhisper1, RPM: 300, SafetyFactor: 0.8, FailureThreshold: 3, Recovery: 45 * time.Second},
}

// Lookup returns the profile for a model name.
func Lookup(model string) (Profile, error) {
	p, ok := profiles[model]
	if !ok {
		return Profile{}, fmt.Errorf("providers: unknown model %q", model)
	}
	return p, nil
}

// Resolve maps (provider, model) to a concrete profile, applying the auto
// heuristic: Groq prefers the turbo model, falling back to the multilingual
// large model for non-English audio; OpenAI has a single general model.
func Resolve(provider Provider, model, language string) (Profile, error) {
	if model != ModelAuto && model != "" {
		p, err := Lookup(model)
		if err != nil {
			return Profile{}, err
		}
		if p.Provider != provider {
			return Profile{}, fmt.Errorf("providers: model %q belongs to %s, not %s", model, p.Provider, provider)
		}
		if p.EnglishOnly && !isEnglish(language) {
			return Profile{}, fmt.Errorf("providers: model %q only transcribes English", model)
		}
		return p, nil
	}

	switch provider {
	case Groq:
		if isEnglish(language) || language == "" {
			return profiles[ModelWhisperTurbo], nil
		}
		return profiles[ModelWhisperLarge], nil
	case OpenAI:
		return profiles[ModelWhisper1], nil
	default:
		return Profile{}, fmt.Errorf("providers: unknown provider %q", provider)
	}
}

// MaxWorkers is the provider-level worker ceiling; OpenAI's lower effective
// throughput caps its pool at 3.
func MaxWorkers(provider Provider) int {
	if provider == OpenAI {
		return 3
	}
	return 10
}

func isEnglish(language string) bool {
	lang := strings.ToLower(language)
	return lang == "en" || strings.HasPrefix(lang, "en-")
}

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case Groq:
		return Groq, nil
	case OpenAI:
		return OpenAI, nil
	default:
		return "", fmt.Errorf("providers: unknown provider %q", s)
	}
}
