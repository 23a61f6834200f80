// SPDX-License-Identifier: MIT

// Package captions harvests YouTube caption tracks. Four methods are tried
// in order: the modern player API through a residential proxy, the same API
// directly, the legacy timedtext endpoint with the proxy injected through
// the environment, and the legacy endpoint directly.
package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/transcript"
)

// doer is the request surface both httpx.Caller and plain http.Client
// satisfy.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Track is one caption track advertised for a video.
type Track struct {
	BaseURL      string
	LanguageCode string
	Generated    bool // true for ASR tracks
}

// playerClient speaks the modern player API and fetches json3 tracks.
type playerClient struct {
	http    doer
	baseURL string // player API origin, test-overridable
}

const defaultPlayerOrigin = "https://www.youtube.com"

// playerRequest mirrors the android client context, which does not require
// a signature token for caption listings.
type playerRequest struct {
	VideoID string `json:"videoId"`
	Context struct {
		Client struct {
			ClientName    string `json:"clientName"`
			ClientVersion string `json:"clientVersion"`
		} `json:"client"`
	} `json:"context"`
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions struct {
		Tracklist struct {
			CaptionTracks []struct {
				BaseURL      string `json:"baseUrl"`
				LanguageCode string `json:"languageCode"`
				Kind         string `json:"kind"`
			} `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

// ListTracks fetches the caption track list for a video.
func (c *playerClient) ListTracks(ctx context.Context, videoID string) ([]Track, error) {
	var body playerRequest
	body.VideoID = videoID
	body.Context.Client.ClientName = "ANDROID"
	body.Context.Client.ClientVersion = "19.09.37"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("captions: marshal player request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/youtubei/v1/player", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("captions: build player request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "com.google.android.youtube/19.09.37 (Linux; U; Android 11)")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "player request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "player response read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := faults.ClassifyHTTP(resp.StatusCode, string(raw))
		return nil, faults.Newf(kind, "player API status %d", resp.StatusCode)
	}

	var pr playerResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, faults.Wrap(faults.KindInternal, "player response decode failed", err)
	}
	if pr.PlayabilityStatus.Status != "" && pr.PlayabilityStatus.Status != "OK" {
		return nil, faults.Newf(faults.KindNoTranscript, "video not playable: %s", pr.PlayabilityStatus.Reason)
	}

	tracks := make([]Track, 0, len(pr.Captions.Tracklist.CaptionTracks))
	for _, t := range pr.Captions.Tracklist.CaptionTracks {
		tracks = append(tracks, Track{
			BaseURL:      t.BaseURL,
			LanguageCode: t.LanguageCode,
			Generated:    t.Kind == "asr",
		})
	}
	return tracks, nil
}

// json3Events is the wire shape of fmt=json3 caption payloads.
type json3Events struct {
	Events []struct {
		TStartMs    int64 `json:"tStartMs"`
		DDurationMs int64 `json:"dDurationMs"`
		Segs        []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// FetchTrack downloads one track as ordered segments.
func (c *playerClient) FetchTrack(ctx context.Context, track Track) ([]transcript.Segment, error) {
	u, err := url.Parse(track.BaseURL)
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "bad track url", err)
	}
	q := u.Query()
	q.Set("fmt", "json3")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("captions: build track request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "track request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "track response read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := faults.ClassifyHTTP(resp.StatusCode, string(raw))
		return nil, faults.Newf(kind, "track fetch status %d", resp.StatusCode)
	}

	var events json3Events
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, faults.Wrap(faults.KindInternal, "track decode failed", err)
	}

	var segs []transcript.Segment
	for _, ev := range events.Events {
		var b strings.Builder
		for _, s := range ev.Segs {
			b.WriteString(s.UTF8)
		}
		text := strings.TrimSpace(strings.ReplaceAll(b.String(), "\n", " "))
		if text == "" {
			continue
		}
		segs = append(segs, transcript.Segment{
			Text:     text,
			Start:    float64(ev.TStartMs) / 1000,
			Duration: float64(ev.DDurationMs) / 1000,
		})
	}
	return segs, nil
}
