// SPDX-License-Identifier: MIT

package audiofetch

import (
	"regexp"
	"strings"
)

var (
	reservedChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

const maxTitleLength = 200

// SanitizeTitle makes a video title safe for use as a filename: reserved
// characters stripped, whitespace runs collapsed, leading/trailing dots and
// spaces trimmed, capped at 200 characters.
func SanitizeTitle(title string) string {
	s := reservedChars.ReplaceAllString(title, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = strings.Trim(s, ". ")
	if len(s) > maxTitleLength {
		s = s[:maxTitleLength]
		s = strings.Trim(s, ". ")
	}
	if s == "" {
		s = "untitled"
	}
	return s
}
