// SPDX-License-Identifier: MIT

package captions

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"

	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/transcript"
)

// legacyClient speaks the old timedtext surface. It predates the player
// API, survives player-response schema churn, and only works for videos
// whose owners left third-party caption access on.
type legacyClient struct {
	http    doer
	baseURL string // timedtext origin, test-overridable
}

const defaultTimedtextOrigin = "https://video.google.com"

type timedtextDoc struct {
	Texts []struct {
		Start float64 `xml:"start,attr"`
		Dur   float64 `xml:"dur,attr"`
		Body  string  `xml:",chardata"`
	} `xml:"text"`
}

type timedtextListDoc struct {
	Tracks []struct {
		LangCode string `xml:"lang_code,attr"`
		Kind     string `xml:"kind,attr"`
	} `xml:"track"`
}

// ListTracks enumerates available languages through the timedtext list
// endpoint.
func (c *legacyClient) ListTracks(ctx context.Context, videoID string) ([]Track, error) {
	raw, err := c.get(ctx, "/timedtext?type=list&v="+url.QueryEscape(videoID))
	if err != nil {
		return nil, err
	}

	var doc timedtextListDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, faults.Wrap(faults.KindInternal, "timedtext list decode failed", err)
	}

	tracks := make([]Track, 0, len(doc.Tracks))
	for _, t := range doc.Tracks {
		tracks = append(tracks, Track{
			LanguageCode: t.LangCode,
			Generated:    t.Kind == "asr",
			BaseURL:      c.baseURL + "/timedtext?v=" + url.QueryEscape(videoID) + "&lang=" + url.QueryEscape(t.LangCode) + kindParam(t.Kind),
		})
	}
	return tracks, nil
}

func kindParam(kind string) string {
	if kind == "" {
		return ""
	}
	return "&kind=" + url.QueryEscape(kind)
}

// FetchTrack downloads one timedtext XML track as ordered segments.
func (c *legacyClient) FetchTrack(ctx context.Context, track Track) ([]transcript.Segment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("captions: build timedtext request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "timedtext request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "timedtext read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := faults.ClassifyHTTP(resp.StatusCode, string(raw))
		return nil, faults.Newf(kind, "timedtext status %d", resp.StatusCode)
	}

	var doc timedtextDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, faults.Wrap(faults.KindInternal, "timedtext decode failed", err)
	}

	var segs []transcript.Segment
	for _, t := range doc.Texts {
		text := html.UnescapeString(t.Body)
		if text == "" {
			continue
		}
		segs = append(segs, transcript.Segment{Text: text, Start: t.Start, Duration: t.Dur})
	}
	return segs, nil
}

func (c *legacyClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("captions: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "timedtext request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "timedtext read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := faults.ClassifyHTTP(resp.StatusCode, string(raw))
		return nil, faults.Newf(kind, "timedtext status %d", resp.StatusCode)
	}
	return raw, nil
}
