// SPDX-License-Identifier: MIT

package transcribe

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/providers"
)

// groqBaseURL is Groq's OpenAI-compatible surface; the same client library
// serves both providers.
const groqBaseURL = "https://api.groq.com/openai/v1"

// stt performs one speech-to-text request. Injectable for tests.
type stt interface {
	Transcribe(ctx context.Context, model, filePath, language string) (string, error)
}

type openaiSTT struct {
	client *openai.Client
}

func (c *openaiSTT) Transcribe(ctx context.Context, model, filePath, language string) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       model,
		FilePath:    filePath,
		Language:    language,
		Temperature: 0,
		Format:      openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", classifyAPIError(err)
	}
	return resp.Text, nil
}

// classifyAPIError maps client errors onto the fault taxonomy so retry
// schedules and the rate gate can react by class.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := faults.ClassifyHTTP(apiErr.HTTPStatusCode, apiErr.Message)
		if kind == faults.KindInternal && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
			// Client-side rejections (bad audio, bad params) never heal on
			// retry.
			kind = faults.KindTranscriptionFailed
		}
		return faults.Wrap(kind, "transcription request rejected", err)
	}
	// Transport-level failures are worth retrying.
	return faults.Wrap(faults.KindUpstreamUnavailable, "transcription request failed", err)
}

// newSTTClients builds one client per configured provider key.
func newSTTClients(apiKeys map[providers.Provider]string) (map[providers.Provider]stt, error) {
	clients := make(map[providers.Provider]stt, len(apiKeys))
	for provider, key := range apiKeys {
		if key == "" {
			continue
		}
		cfg := openai.DefaultConfig(key)
		switch provider {
		case providers.Groq:
			cfg.BaseURL = groqBaseURL
		case providers.OpenAI:
			// Library default.
		default:
			return nil, fmt.Errorf("transcribe: unknown provider %q", provider)
		}
		clients[provider] = &openaiSTT{client: openai.NewClientWithConfig(cfg)}
	}
	if len(clients) == 0 {
		return nil, errors.New("transcribe: no provider API keys configured")
	}
	return clients, nil
}
