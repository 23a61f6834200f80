// SPDX-License-Identifier: MIT

// Package transcript holds the segment value type flowing through the
// acquisition pipeline and the formatters that materialise segment
// sequences into deliverable documents.
package transcript

import "sort"

// Segment is a timestamped fragment of transcript text. Start and Duration
// are in seconds. Overlapping segments around chunk boundaries are valid.
type Segment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// End returns the segment end time in seconds.
func (s Segment) End() float64 { return s.Start + s.Duration }

// SortByStart orders segments by ascending start time, preserving the
// relative order of equal starts.
func SortByStart(segs []Segment) {
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
}
