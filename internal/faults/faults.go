// SPDX-License-Identifier: MIT

// Package faults defines the categorised error values shared by the
// acquisition pipeline, the transcription engine and the orchestrator.
// Every task-level failure is stored as a (Kind, message) pair.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind categorises a failure for persistence and recovery decisions.
type Kind string

const (
	KindInvalidURL          Kind = "invalid_url"
	KindNoTranscript        Kind = "no_transcript_available"
	KindDownloadFailed      Kind = "download_failed"
	KindAudioTooLong        Kind = "audio_too_long"
	KindRateLimited         Kind = "rate_limited"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTranscriptionFailed Kind = "transcription_failed"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindCancelled           Kind = "cancelled"
	KindInternal            Kind = "internal_error"
)

// Error is a categorised error. The Kind survives wrapping so callers can
// route on errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a categorised error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a categorised error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf extracts the Kind from err, or KindInternal if it carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ClassifyHTTP maps an upstream HTTP status and response excerpt to a Kind.
// Message substrings take part in classification because several upstreams
// return 200-adjacent statuses with textual rate-limit markers.
func ClassifyHTTP(status int, body string) Kind {
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusTooManyRequests, strings.Contains(lower, "rate limit"):
		return KindRateLimited
	case status == http.StatusServiceUnavailable, strings.Contains(lower, "service unavailable"):
		return KindUpstreamUnavailable
	default:
		return KindInternal
	}
}

// Retryable reports whether a failure of this kind may succeed on a later
// attempt against the same upstream.
func Retryable(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindUpstreamUnavailable, KindInternal:
		return true
	default:
		return false
	}
}

// ServiceClass reports whether the kind counts toward the circuit breaker's
// accelerated open rule.
func ServiceClass(kind Kind) bool {
	return kind == KindRateLimited || kind == KindUpstreamUnavailable
}
