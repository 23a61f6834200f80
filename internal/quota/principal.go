// SPDX-License-Identifier: MIT

// Package quota enforces per-owner usage limits. Counters are bucketed by
// UTC day and checked-and-incremented atomically, so concurrent submissions
// can never push an owner past a limit.
package quota

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/tubescribe/tubescribe/internal/store"
)

// Principal is the owner a counter belongs to: an authenticated user or an
// anonymous guest session.
type Principal struct {
	Type store.OwnerType
	ID   string
}

// User builds the principal for an authenticated account.
func User(userID string) Principal {
	return Principal{Type: store.OwnerUser, ID: userID}
}

// Guest builds the principal for a derived guest session ID.
func Guest(sessionID string) Principal {
	return Principal{Type: store.OwnerGuest, ID: sessionID}
}

// GuestSession derives a stable session identifier from an opaque browser
// token. The token never touches storage; only the salted digest does.
func GuestSession(token, salt string) string {
	sum := sha256.Sum256([]byte(token + salt))
	return hex.EncodeToString(sum[:])
}

// Resources countable per principal.
const (
	ResourceCaptionTranscripts = "caption_transcripts"
	ResourceAITranscripts      = "ai_transcripts"
	ResourceBulkVideos         = "bulk_videos"
	ResourceJobs               = "jobs"
)
