// SPDX-License-Identifier: MIT

package yturl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVideoShapes(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":       "dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s": "dQw4w9WgXcQ",
		"  https://youtube.com/watch?v=dQw4w9WgXcQ  ":       "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                      "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?si=share":             "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/abc123XYZ_-":        "abc123XYZ_-",
		"https://www.youtube.com/embed/abc123XYZ_-":         "abc123XYZ_-",
		"https://www.youtube.com/v/abc123XYZ_-":             "abc123XYZ_-",
		"https://www.youtube.com/live/abc123XYZ_-":          "abc123XYZ_-",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ":         "dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ":     "dQw4w9WgXcQ",
	}
	for raw, want := range cases {
		src, ok := Parse(raw)
		require.True(t, ok, raw)
		assert.Equal(t, KindVideo, src.Kind, raw)
		assert.Equal(t, want, src.ID, raw)
		assert.Equal(t, want, VideoID(raw))
	}
}

func TestParsePlaylistShapes(t *testing.T) {
	src, ok := Parse("https://www.youtube.com/playlist?list=PLtest123")
	require.True(t, ok)
	assert.Equal(t, KindPlaylist, src.Kind)
	assert.Equal(t, "PLtest123", src.ID)

	// A watch URL with list= is a playlist submission.
	src, ok = Parse("https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PLtest123")
	require.True(t, ok)
	assert.Equal(t, KindPlaylist, src.Kind)
	assert.Equal(t, "PLtest123", src.ID)
}

func TestParseChannelShapes(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/channel/UCabc123": "UCabc123",
		"https://www.youtube.com/c/SomeCreator":    "SomeCreator",
		"https://www.youtube.com/@handle":          "@handle",
		"https://www.youtube.com/@handle/videos":   "@handle",
		"https://www.youtube.com/user/legacyname":  "legacyname",
	}
	for raw, want := range cases {
		src, ok := Parse(raw)
		require.True(t, ok, raw)
		assert.Equal(t, KindChannel, src.Kind, raw)
		assert.Equal(t, want, src.ID, raw)
	}
}

func TestParseRejectsOtherShapes(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"not a url",
		"https://vimeo.com/12345",
		"https://www.youtube.com/",
		"https://www.youtube.com/playlist",
		"https://www.youtube.com/watch",
		"https://www.youtube.com/shorts/",
		"https://example.com/watch?v=dQw4w9WgXcQ",
	}
	for _, raw := range bad {
		_, ok := Parse(raw)
		assert.False(t, ok, raw)
		assert.Empty(t, VideoID(raw), raw)
	}
}

func TestWatchURL(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", WatchURL("abc"))
}
