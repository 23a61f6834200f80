// SPDX-License-Identifier: MIT

// Package webhook delivers best-effort job completion notifications.
// Delivery failures are logged and counted, never retried: the status API
// remains the source of truth.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tubescribe/tubescribe/internal/log"
	"github.com/tubescribe/tubescribe/internal/metrics"
	"github.com/tubescribe/tubescribe/internal/store"
)

// Payload is the completion notification body.
type Payload struct {
	JobID           string    `json:"job_id"`
	OwnerType       string    `json:"owner_type"`
	OwnerID         string    `json:"owner_id"`
	Status          string    `json:"status"`
	TotalVideos     int       `json:"total_videos"`
	CompletedVideos int       `json:"completed_videos"`
	FailedVideos    int       `json:"failed_videos"`
	SuccessRate     float64   `json:"success_rate"`
	ZipAvailable    bool      `json:"zip_available"`
	CompletedAt     time.Time `json:"completed_at"`
}

// doer lets tests stub the HTTP client.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Notifier posts completion payloads.
type Notifier struct {
	client  doer
	timeout time.Duration
}

// New builds a Notifier with the delivery timeout.
func New() *Notifier {
	return &Notifier{
		client:  &http.Client{Timeout: 30 * time.Second},
		timeout: 30 * time.Second,
	}
}

// PayloadFor derives the notification from a finished job.
func PayloadFor(j *store.Job, now time.Time) Payload {
	rate := 0.0
	if j.TotalVideos > 0 {
		rate = float64(j.CompletedVideos) / float64(j.TotalVideos)
	}
	return Payload{
		JobID:           j.ID,
		OwnerType:       string(j.OwnerType),
		OwnerID:         j.OwnerID,
		Status:          string(j.Status),
		TotalVideos:     j.TotalVideos,
		CompletedVideos: j.CompletedVideos,
		FailedVideos:    j.FailedVideos,
		SuccessRate:     rate,
		ZipAvailable:    j.ZipPath != "",
		CompletedAt:     now.UTC(),
	}
}

// Notify posts the payload to url. All failures are swallowed after
// logging; the job outcome never depends on webhook delivery.
func (n *Notifier) Notify(ctx context.Context, url string, p Payload) {
	if url == "" {
		return
	}
	logger := log.WithComponent("webhook").With().Str(log.FieldJobID, p.JobID).Str(log.FieldURL, url).Logger()

	body, err := json.Marshal(p)
	if err != nil {
		logger.Error().Err(err).Msg("payload marshal failed")
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		logger.Error().Err(err).Msg("request build failed")
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("webhook delivery failed")
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn().Int("status", resp.StatusCode).Msg("webhook rejected")
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	logger.Info().Msg("webhook delivered")
}
