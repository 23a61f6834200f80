// SPDX-License-Identifier: MIT

package quota

import (
	"context"
	"time"
)

// Ledger tracks daily usage counters.
type Ledger interface {
	// Used returns the current count for today's bucket.
	Used(ctx context.Context, p Principal, resource string) (int64, error)

	// Increment adds delta unconditionally and returns the new count.
	// Callers that must stay under a limit use CheckAndIncrement instead.
	Increment(ctx context.Context, p Principal, resource string, delta int64) (int64, error)

	// CheckAndIncrement reserves delta units against limit in one atomic
	// step. It reports false, without consuming anything, when the
	// reservation would exceed the limit.
	CheckAndIncrement(ctx context.Context, p Principal, resource string, delta, limit int64) (bool, error)
}

// day formats the UTC day bucket.
func day(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
