// SPDX-License-Identifier: MIT

// Package archive packages a job's transcripts into a ZIP delivered as one
// download. Archives are built in memory and written atomically, so a
// crashed build never leaves a half-written file for the API to serve.
package archive

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/tubescribe/tubescribe/internal/audiofetch"
	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/log"
)

// Entry is one transcript going into the archive.
type Entry struct {
	Title   string
	VideoID string
	Format  string
	Body    []byte
}

// Build assembles the ZIP bytes. Entries are compressed with DEFLATE at
// level 6. An empty entry set is an error: a job with no valid transcripts
// has nothing to deliver.
func Build(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, faults.New(faults.KindInternal, "no valid transcripts to archive")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, 6)
	})

	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		base := audiofetch.OutputName(e.Title, e.VideoID, e.Format)
		name := base
		// Two videos can sanitise to the same name; suffix duplicates.
		if n := seen[base]; n > 0 {
			ext := filepath.Ext(base)
			name = fmt.Sprintf("%s_%d%s", base[:len(base)-len(ext)], n+1, ext)
		}
		seen[base]++

		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("archive: create entry %s: %w", name, err)
		}
		if _, err := w.Write(e.Body); err != nil {
			return nil, fmt.Errorf("archive: write entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: finalize: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename names the archive for a job.
func Filename(jobID string, now time.Time) string {
	return fmt.Sprintf("bulk_job_%s_%s.zip", jobID, now.UTC().Format("20060102_150405"))
}

// Write persists the archive under dir with an atomic rename, returning the
// final path.
func Write(dir, jobID string, data []byte) (string, error) {
	path := filepath.Join(dir, Filename(jobID, time.Now()))
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("archive: write %s: %w", path, err)
	}
	log.WithComponent("archive").Info().
		Str(log.FieldJobID, jobID).
		Str(log.FieldPath, path).
		Int("bytes", len(data)).
		Msg("archive written")
	return path, nil
}
