// SPDX-License-Identifier: MIT

package transcript

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = []Segment{
	{Text: "Hello world", Start: 0, Duration: 2.5},
	{Text: "second line", Start: 2.5, Duration: 1.25},
	{Text: "third", Start: 3.75, Duration: 10},
}

func TestRenderTXT(t *testing.T) {
	out, err := Render(sample, FormatTXT)
	require.NoError(t, err)
	assert.Equal(t, "Hello world second line third", out)
}

func TestRenderSRT(t *testing.T) {
	out, err := Render(sample, FormatSRT)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "1\n00:00:00,000 --> 00:00:02,500\nHello world\n\n"), out)
	assert.Contains(t, out, "00:00:03,750 --> 00:00:13,750")
}

func TestRenderVTT(t *testing.T) {
	out, err := Render(sample, FormatVTT)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "WEBVTT\n\n"))
	assert.Contains(t, out, "00:00:02.500 --> 00:00:03.750")
	assert.NotContains(t, out, ",500")
}

func TestRenderJSON(t *testing.T) {
	out, err := Render(sample, FormatJSON)
	require.NoError(t, err)

	var decoded []Segment
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Empty(t, cmp.Diff(sample, decoded))

	// Empty input renders an empty array, not null.
	out, err = Render(nil, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestSRTRoundTrip(t *testing.T) {
	doc, err := Render(sample, FormatSRT)
	require.NoError(t, err)

	parsed, err := ParseSRT(doc)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(sample, parsed))
}

func TestParseSRTVariants(t *testing.T) {
	doc := "1\n00:00:01.000 --> 00:00:02,5\n<i>styled</i> text\n\n2\n00:00:03,000 --> 00:00:04,000\n   \n\n"
	segs, err := ParseSRT(doc)
	require.NoError(t, err)
	require.Len(t, segs, 1, "empty-text block discarded")
	assert.Equal(t, "styled text", segs[0].Text)
	assert.InDelta(t, 1.0, segs[0].Start, 1e-9)
	assert.InDelta(t, 1.5, segs[0].Duration, 1e-9)
}

func TestParseSRTRejectsGarbage(t *testing.T) {
	_, err := ParseSRT("not a subtitle file at all")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" SRT ")
	require.NoError(t, err)
	assert.Equal(t, FormatSRT, f)

	_, err = ParseFormat("docx")
	assert.Error(t, err)
}

func TestSortByStartIsStable(t *testing.T) {
	segs := []Segment{
		{Text: "b", Start: 5},
		{Text: "a", Start: 1},
		{Text: "b2", Start: 5},
	}
	SortByStart(segs)
	assert.Equal(t, "a", segs[0].Text)
	assert.Equal(t, "b", segs[1].Text)
	assert.Equal(t, "b2", segs[2].Text)
}

func TestHeader(t *testing.T) {
	h := Header("My Video", "https://youtu.be/abc", "abc")
	assert.Contains(t, h, "Title: My Video\n")
	assert.Contains(t, h, "Video ID: abc\n")
	assert.True(t, strings.HasSuffix(h, strings.Repeat("-", 40)+"\n"))
}
