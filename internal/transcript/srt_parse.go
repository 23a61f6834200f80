// SPDX-License-Identifier: MIT

package transcript

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	timestampLineRe = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})`)
	inlineTagRe     = regexp.MustCompile(`<[^>]+>`)
)

// ParseSRT reverses renderSRT: blocks separated by blank lines, an optional
// numeric index line, a timestamp line accepting ',' or '.' as the fractional
// separator, then one or more text lines. Inline markup is stripped and
// blocks with empty text are discarded.
func ParseSRT(doc string) ([]Segment, error) {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	blocks := strings.Split(doc, "\n\n")

	var segs []Segment
	for _, block := range blocks {
		lines := nonEmptyLines(block)
		if len(lines) == 0 {
			continue
		}
		// Skip the index line when present.
		if isIndexLine(lines[0]) {
			lines = lines[1:]
			if len(lines) == 0 {
				continue
			}
		}
		m := timestampLineRe.FindStringSubmatch(lines[0])
		if m == nil {
			return nil, fmt.Errorf("srt: block %q has no timestamp line", truncate(block, 60))
		}
		start := timestampSeconds(m[1], m[2], m[3], m[4])
		end := timestampSeconds(m[5], m[6], m[7], m[8])

		text := strings.TrimSpace(inlineTagRe.ReplaceAllString(strings.Join(lines[1:], " "), ""))
		if text == "" {
			continue
		}
		dur := end - start
		if dur < 0 {
			dur = 0
		}
		segs = append(segs, Segment{Text: text, Start: start, Duration: dur})
	}
	return segs, nil
}

func nonEmptyLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isIndexLine(line string) bool {
	_, err := strconv.Atoi(line)
	return err == nil
}

func timestampSeconds(h, m, s, frac string) float64 {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.Atoi(s)
	// Fractional part may be 1-3 digits; right-pad to milliseconds.
	for len(frac) < 3 {
		frac += "0"
	}
	ms, _ := strconv.Atoi(frac)
	return float64(hh)*3600 + float64(mm)*60 + float64(ss) + float64(ms)/1000
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
