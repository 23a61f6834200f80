// SPDX-License-Identifier: MIT

package captions

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/text/language"

	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/log"
	"github.com/tubescribe/tubescribe/internal/metrics"
	"github.com/tubescribe/tubescribe/internal/retry"
	"github.com/tubescribe/tubescribe/internal/transcript"
)

// Result is a successful caption acquisition.
type Result struct {
	Segments []transcript.Segment
	Language string
	Method   string // ladder method that produced the result
}

// Fetcher runs the caption ladder. Construct with NewFetcher.
type Fetcher struct {
	direct   doer
	proxyURL string // residential proxy; "" disables the proxy methods

	playerOrigin    string
	timedtextOrigin string
	retryPolicy     retry.Policy

	// newProxyDoer builds a client routed through the proxy. Overridable
	// in tests.
	newProxyDoer func(proxyURL string) (doer, error)
}

// NewFetcher builds a Fetcher using the shared pooled caller for direct
// connections. proxyURL may be empty.
func NewFetcher(direct doer, proxyURL string) *Fetcher {
	return &Fetcher{
		direct:          direct,
		proxyURL:        proxyURL,
		playerOrigin:    defaultPlayerOrigin,
		timedtextOrigin: defaultTimedtextOrigin,
		retryPolicy:     retry.Policy{Attempts: 4, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Jitter: 0.1, Multiplier: 2},
		newProxyDoer:    proxyDoer,
	}
}

func proxyDoer(proxyURL string) (doer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "bad proxy url", err)
	}
	return &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(u)},
		Timeout:   30 * time.Second,
	}, nil
}

type method struct {
	name string
	run  func(ctx context.Context, videoID string) ([]transcript.Segment, string, error)
}

// Fetch tries each ladder method in order; the first success wins and the
// error surfaced on total failure is the last method's.
func (f *Fetcher) Fetch(ctx context.Context, videoID string) (Result, error) {
	logger := log.WithComponent("captions").With().Str(log.FieldVideoID, videoID).Logger()

	var lastErr error
	for _, m := range f.methods() {
		segs, lang, err := f.withRetry(ctx, videoID, m)
		if err == nil {
			metrics.CaptionMethodOutcomes.WithLabelValues(m.name, "ok").Inc()
			logger.Info().Str(log.FieldMethod, m.name).Str("language", lang).Int("segments", len(segs)).Msg("captions fetched")
			return Result{Segments: segs, Language: lang, Method: m.name}, nil
		}
		metrics.CaptionMethodOutcomes.WithLabelValues(m.name, "error").Inc()
		logger.Debug().Str(log.FieldMethod, m.name).Err(err).Msg("caption method failed")
		lastErr = err

		if ctx.Err() != nil {
			return Result{}, faults.Wrap(faults.KindCancelled, "caption fetch cancelled", ctx.Err())
		}
	}
	return Result{}, faults.Wrap(faults.KindNoTranscript, "all caption methods exhausted", lastErr)
}

func (f *Fetcher) methods() []method {
	var ms []method
	if f.proxyURL != "" {
		ms = append(ms, method{"player_proxy", f.playerViaProxy})
	}
	ms = append(ms, method{"player_direct", f.playerDirect})
	if f.proxyURL != "" {
		ms = append(ms, method{"legacy_env_proxy", f.legacyViaEnvProxy})
	}
	ms = append(ms, method{"legacy_direct", f.legacyDirect})
	return ms
}

func (f *Fetcher) withRetry(ctx context.Context, videoID string, m method) ([]transcript.Segment, string, error) {
	type out struct {
		segs []transcript.Segment
		lang string
	}
	v, err := retry.DoValue(ctx, f.retryPolicy, func() (out, error) {
		segs, lang, err := m.run(ctx, videoID)
		if err != nil {
			return out{}, err
		}
		if len(segs) == 0 {
			// Empty tracks count as failure so the ladder can proceed.
			return out{}, faults.New(faults.KindNoTranscript, "track contained no text")
		}
		return out{segs, lang}, nil
	})
	return v.segs, v.lang, err
}

func (f *Fetcher) playerViaProxy(ctx context.Context, videoID string) ([]transcript.Segment, string, error) {
	d, err := f.newProxyDoer(f.proxyURL)
	if err != nil {
		return nil, "", err
	}
	return fetchVia(ctx, &playerClient{http: d, baseURL: f.playerOrigin}, videoID)
}

func (f *Fetcher) playerDirect(ctx context.Context, videoID string) ([]transcript.Segment, string, error) {
	return fetchVia(ctx, &playerClient{http: f.direct, baseURL: f.playerOrigin}, videoID)
}

// legacyViaEnvProxy routes the legacy endpoint through HTTP_PROXY. The env
// var is restored on exit; this works around upstream libraries that only
// honour the environment.
func (f *Fetcher) legacyViaEnvProxy(ctx context.Context, videoID string) ([]transcript.Segment, string, error) {
	restore := setProxyEnv(f.proxyURL)
	defer restore()

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		Timeout:   30 * time.Second,
	}
	return fetchVia(ctx, &legacyClient{http: client, baseURL: f.timedtextOrigin}, videoID)
}

func (f *Fetcher) legacyDirect(ctx context.Context, videoID string) ([]transcript.Segment, string, error) {
	return fetchVia(ctx, &legacyClient{http: f.direct, baseURL: f.timedtextOrigin}, videoID)
}

// trackSource is implemented by both caption clients.
type trackSource interface {
	ListTracks(ctx context.Context, videoID string) ([]Track, error)
	FetchTrack(ctx context.Context, track Track) ([]transcript.Segment, error)
}

func fetchVia(ctx context.Context, src trackSource, videoID string) ([]transcript.Segment, string, error) {
	tracks, err := src.ListTracks(ctx, videoID)
	if err != nil {
		return nil, "", err
	}
	track, ok := pickTrack(tracks)
	if !ok {
		return nil, "", faults.New(faults.KindNoTranscript, "no caption tracks advertised")
	}
	segs, err := src.FetchTrack(ctx, track)
	if err != nil {
		return nil, "", err
	}
	transcript.SortByStart(segs)
	return segs, track.LanguageCode, nil
}

// englishPreference orders manual English variants first.
var englishPreference = []language.Tag{
	language.English,
	language.AmericanEnglish,
	language.BritishEnglish,
}

// pickTrack selects manually-authored English first, then auto-generated
// English, then the first advertised track.
func pickTrack(tracks []Track) (Track, bool) {
	if len(tracks) == 0 {
		return Track{}, false
	}
	matcher := language.NewMatcher(englishPreference)

	best := -1
	for i, t := range tracks {
		if t.Generated || !isEnglishTag(matcher, t.LanguageCode) {
			continue
		}
		if best == -1 || exactEnglishRank(t.LanguageCode) < exactEnglishRank(tracks[best].LanguageCode) {
			best = i
		}
	}
	if best >= 0 {
		return tracks[best], true
	}

	for _, t := range tracks {
		if t.Generated && isEnglishTag(matcher, t.LanguageCode) {
			return t, true
		}
	}
	return tracks[0], true
}

func isEnglishTag(m language.Matcher, code string) bool {
	tag, err := language.Parse(code)
	if err != nil {
		return false
	}
	_, _, conf := m.Match(tag)
	return conf >= language.High
}

func exactEnglishRank(code string) int {
	switch code {
	case "en":
		return 0
	case "en-US":
		return 1
	case "en-GB":
		return 2
	default:
		return 3
	}
}

// setProxyEnv points HTTP_PROXY/HTTPS_PROXY at the proxy and returns a
// restore function.
func setProxyEnv(proxyURL string) func() {
	oldHTTP, hadHTTP := os.LookupEnv("HTTP_PROXY")
	oldHTTPS, hadHTTPS := os.LookupEnv("HTTPS_PROXY")
	_ = os.Setenv("HTTP_PROXY", proxyURL)
	_ = os.Setenv("HTTPS_PROXY", proxyURL)
	return func() {
		restoreEnv("HTTP_PROXY", oldHTTP, hadHTTP)
		restoreEnv("HTTPS_PROXY", oldHTTPS, hadHTTPS)
	}
}

func restoreEnv(key, value string, had bool) {
	if had {
		_ = os.Setenv(key, value)
	} else {
		_ = os.Unsetenv(key)
	}
}
