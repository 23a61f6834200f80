// SPDX-License-Identifier: MIT

package audiofetch

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/log"
	"github.com/tubescribe/tubescribe/internal/yturl"
)

// Entry is one video discovered while expanding a submission URL.
type Entry struct {
	VideoID  string
	Title    string
	Duration float64 // seconds; 0 when the flat listing omits it
}

type flatListing struct {
	Type     string      `json:"_type"`
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Duration float64     `json:"duration"`
	Entries  []flatEntry `json:"entries"`
}

type flatEntry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// Expand resolves a parsed submission into the videos it contains. Video
// URLs pass through without a subprocess; playlists and channels are
// enumerated with a flat (metadata-only) yt-dlp listing, capped at limit
// entries. limit <= 0 means no cap.
func (f *Fetcher) Expand(ctx context.Context, src yturl.Source, limit int) ([]Entry, error) {
	if src.Kind == yturl.KindVideo {
		return []Entry{{VideoID: src.ID}}, nil
	}

	args := []string{"--flat-playlist", "-J", "--no-progress"}
	if limit > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(limit))
	}
	args = append(args, src.URL)

	out, err := f.run(ctx, f.YtdlpPath, args)
	if err != nil {
		return nil, faults.Wrap(faults.KindDownloadFailed, "listing expansion failed", err)
	}

	var listing flatListing
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &listing); err != nil {
		return nil, faults.Wrap(faults.KindDownloadFailed, "listing decode failed", err)
	}

	if listing.Type != "playlist" {
		if listing.ID == "" {
			return nil, faults.New(faults.KindDownloadFailed, "listing contained no videos")
		}
		return []Entry{{VideoID: listing.ID, Title: listing.Title, Duration: listing.Duration}}, nil
	}

	entries := make([]Entry, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		if e.ID == "" {
			continue
		}
		entries = append(entries, Entry{VideoID: e.ID, Title: e.Title, Duration: e.Duration})
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	if len(entries) == 0 {
		return nil, faults.New(faults.KindDownloadFailed, "listing contained no videos")
	}

	log.WithComponent("audiofetch").Info().
		Str(log.FieldURL, src.URL).
		Int("videos", len(entries)).
		Msg("submission expanded")
	return entries, nil
}
