// SPDX-License-Identifier: MIT

// Package yturl classifies YouTube URLs into video, playlist and channel
// sources and extracts their identifiers. Parsing is strict: whitespace is
// trimmed, a video id runs up to the first '&', and any shape outside the
// recognised families yields no result.
package yturl

import (
	"net/url"
	"strings"
)

// Kind is the source family of a submitted URL.
type Kind string

const (
	KindVideo    Kind = "video"
	KindPlaylist Kind = "playlist"
	KindChannel  Kind = "channel"
)

// Source is a classified URL.
type Source struct {
	Kind Kind
	ID   string // video id, playlist id, or channel identifier
	URL  string // the cleaned input URL
}

var videoPathPrefixes = []string{"/shorts/", "/embed/", "/v/", "/live/"}

// Parse classifies raw into a Source. ok is false for anything that is not
// a recognised YouTube URL shape.
func Parse(raw string) (Source, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Source{}, false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))

	switch host {
	case "youtu.be":
		if id := firstPathSegment(u.Path); id != "" {
			return Source{Kind: KindVideo, ID: clipID(id), URL: raw}, true
		}
		return Source{}, false
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtube-nocookie.com":
	default:
		return Source{}, false
	}

	// Any URL bearing list= is a playlist submission, even watch URLs
	// that also carry v=.
	if list := u.Query().Get("list"); list != "" {
		return Source{Kind: KindPlaylist, ID: clipID(list), URL: raw}, true
	}
	if strings.HasPrefix(u.Path, "/playlist") {
		return Source{}, false // /playlist without list= carries no id
	}

	if v := u.Query().Get("v"); v != "" {
		return Source{Kind: KindVideo, ID: clipID(v), URL: raw}, true
	}
	for _, prefix := range videoPathPrefixes {
		if strings.HasPrefix(u.Path, prefix) {
			if id := firstPathSegment(strings.TrimPrefix(u.Path, prefix)); id != "" {
				return Source{Kind: KindVideo, ID: clipID(id), URL: raw}, true
			}
			return Source{}, false
		}
	}

	for _, prefix := range []string{"/channel/", "/c/", "/user/"} {
		if strings.HasPrefix(u.Path, prefix) {
			if id := firstPathSegment(strings.TrimPrefix(u.Path, prefix)); id != "" {
				return Source{Kind: KindChannel, ID: id, URL: raw}, true
			}
			return Source{}, false
		}
	}
	if strings.HasPrefix(u.Path, "/@") {
		if handle := firstPathSegment(strings.TrimPrefix(u.Path, "/")); handle != "@" && handle != "" {
			return Source{Kind: KindChannel, ID: handle, URL: raw}, true
		}
	}

	return Source{}, false
}

// VideoID extracts a bare video id, or "" when raw is not a video URL.
func VideoID(raw string) string {
	src, ok := Parse(raw)
	if !ok || src.Kind != KindVideo {
		return ""
	}
	return src.ID
}

// WatchURL renders the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

func firstPathSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}

// clipID truncates an id at the first '&', guarding against callers that
// hand over raw query tails.
func clipID(id string) string {
	if i := strings.IndexByte(id, '&'); i >= 0 {
		id = id[:i]
	}
	return id
}
