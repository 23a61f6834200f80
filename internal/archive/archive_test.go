// SPDX-License-Identifier: MIT

package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubescribe/tubescribe/internal/faults"
)

func TestBuildAndReadBack(t *testing.T) {
	entries := []Entry{
		{Title: "First: Video", VideoID: "a1", Format: "srt", Body: []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n")},
		{Title: "Second", VideoID: "b2", Format: "srt", Body: []byte("1\n00:00:00,000 --> 00:00:01,000\nyo\n")},
	}
	data, err := Build(entries)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "First Video_a1.srt", zr.File[0].Name)
	assert.Equal(t, "Second_b2.srt", zr.File[1].Name)
	assert.Equal(t, zip.Deflate, zr.File[0].Method)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Contains(t, string(body), "00:00:00,000 --> 00:00:01,000")
}

func TestBuildDeduplicatesNames(t *testing.T) {
	entries := []Entry{
		{Title: "Same", VideoID: "x", Format: "txt", Body: []byte("a")},
		{Title: "Same", VideoID: "x", Format: "txt", Body: []byte("b")},
	}
	data, err := Build(entries)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "Same_x.txt", zr.File[0].Name)
	assert.Equal(t, "Same_x_2.txt", zr.File[1].Name)
}

func TestBuildEmpty(t *testing.T) {
	_, err := Build(nil)
	require.Error(t, err)
	assert.Equal(t, faults.KindInternal, faults.KindOf(err))
}

func TestFilename(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	assert.Equal(t, "bulk_job_j42_20260314_150926.zip", Filename("j42", now))
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	data, err := Build([]Entry{{Title: "T", VideoID: "v", Format: "txt", Body: []byte("hello")}})
	require.NoError(t, err)

	path, err := Write(dir, "j1", data)
	require.NoError(t, err)
	assert.FileExists(t, path)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()
	require.Len(t, zr.File, 1)
}
