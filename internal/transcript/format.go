// SPDX-License-Identifier: MIT

package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format identifies a transcript output format.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatTXT:
		return FormatTXT, nil
	case FormatSRT:
		return FormatSRT, nil
	case FormatVTT:
		return FormatVTT, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown transcript format %q", s)
	}
}

// Ext returns the file extension for the format, without a dot.
func (f Format) Ext() string { return string(f) }

// Render materialises segments into the requested format.
func Render(segs []Segment, format Format) (string, error) {
	switch format {
	case FormatTXT:
		return renderTXT(segs), nil
	case FormatSRT:
		return renderSRT(segs), nil
	case FormatVTT:
		return renderVTT(segs), nil
	case FormatJSON:
		return renderJSON(segs)
	default:
		return "", fmt.Errorf("unknown transcript format %q", format)
	}
}

func renderTXT(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func renderSRT(segs []Segment) string {
	var b strings.Builder
	for i, s := range segs {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			formatTimestamp(s.Start, ','),
			formatTimestamp(s.End(), ','),
			strings.TrimSpace(s.Text))
	}
	return b.String()
}

func renderVTT(segs []Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, s := range segs {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			formatTimestamp(s.Start, '.'),
			formatTimestamp(s.End(), '.'),
			strings.TrimSpace(s.Text))
	}
	return b.String()
}

func renderJSON(segs []Segment) (string, error) {
	if segs == nil {
		segs = []Segment{}
	}
	out, err := json.MarshalIndent(segs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal segments: %w", err)
	}
	return string(out), nil
}

// formatTimestamp renders seconds as HH:MM:SS<sep>mmm.
func formatTimestamp(seconds float64, sep byte) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(seconds*1000 + 0.5)
	h := millis / 3600000
	millis %= 3600000
	m := millis / 60000
	millis %= 60000
	s := millis / 1000
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}

// Header renders the optional plain-text preamble prepended by callers for
// single-video TXT exports.
func Header(title, url, videoID string) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n", title)
	}
	if url != "" {
		fmt.Fprintf(&b, "URL: %s\n", url)
	}
	if videoID != "" {
		fmt.Fprintf(&b, "Video ID: %s\n", videoID)
	}
	b.WriteString(strings.Repeat("-", 40) + "\n")
	return b.String()
}
