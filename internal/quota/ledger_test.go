// SPDX-License-Identifier: MIT

package quota

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubescribe/tubescribe/internal/store"
)

func newSQLiteLedger(t *testing.T) Ledger {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	l, err := NewSQLiteLedger(s.DB())
	require.NoError(t, err)
	return l
}

func newRedisLedger(t *testing.T) Ledger {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLedger(client)
}

func ledgers(t *testing.T) map[string]Ledger {
	return map[string]Ledger{
		"sqlite": newSQLiteLedger(t),
		"redis":  newRedisLedger(t),
	}
}

func TestCheckAndIncrement(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := User("u1")

			ok, err := l.CheckAndIncrement(ctx, p, ResourceBulkVideos, 3, 5)
			require.NoError(t, err)
			assert.True(t, ok)

			used, err := l.Used(ctx, p, ResourceBulkVideos)
			require.NoError(t, err)
			assert.EqualValues(t, 3, used)

			// Over the remaining budget: denied without consuming.
			ok, err = l.CheckAndIncrement(ctx, p, ResourceBulkVideos, 3, 5)
			require.NoError(t, err)
			assert.False(t, ok)

			used, err = l.Used(ctx, p, ResourceBulkVideos)
			require.NoError(t, err)
			assert.EqualValues(t, 3, used, "denied reservation must not consume")

			// Exactly the remaining budget fits.
			ok, err = l.CheckAndIncrement(ctx, p, ResourceBulkVideos, 2, 5)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestIncrement(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := User("u1")

			used, err := l.Increment(ctx, p, ResourceAITranscripts, 2)
			require.NoError(t, err)
			assert.EqualValues(t, 2, used)

			// No limit applies; the running total just grows.
			used, err = l.Increment(ctx, p, ResourceAITranscripts, 5)
			require.NoError(t, err)
			assert.EqualValues(t, 7, used)

			read, err := l.Used(ctx, p, ResourceAITranscripts)
			require.NoError(t, err)
			assert.EqualValues(t, 7, read)

			_, err = l.Increment(ctx, p, ResourceAITranscripts, 0)
			assert.Error(t, err)
		})
	}
}

func TestNewDenialPayload(t *testing.T) {
	l := newSQLiteLedger(t)
	ctx := context.Background()

	guest := Guest(GuestSession("token", "salt"))
	_, err := l.Increment(ctx, guest, ResourceAITranscripts, 2)
	require.NoError(t, err)

	d := NewDenial(ctx, l, guest, ResourceAITranscripts, 2)
	assert.EqualValues(t, 2, d.Used)
	assert.EqualValues(t, 2, d.Limit)
	assert.EqualValues(t, 0, d.Remaining)
	assert.True(t, d.RequiresAuth)
	assert.Contains(t, d.Error(), ResourceAITranscripts)

	// Authenticated owners are never told to authenticate.
	d = NewDenial(ctx, l, User("u1"), ResourceJobs, 5)
	assert.False(t, d.RequiresAuth)
	assert.EqualValues(t, 5, d.Remaining)
}

func TestResourcesAndPrincipalsAreIndependent(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := l.CheckAndIncrement(ctx, User("u1"), ResourceAITranscripts, 2, 2)
			require.NoError(t, err)
			require.True(t, ok)

			// Same resource, other principal: untouched budget.
			ok, err = l.CheckAndIncrement(ctx, User("u2"), ResourceAITranscripts, 2, 2)
			require.NoError(t, err)
			assert.True(t, ok)

			// Same principal, other resource: untouched budget.
			ok, err = l.CheckAndIncrement(ctx, User("u1"), ResourceCaptionTranscripts, 1, 5)
			require.NoError(t, err)
			assert.True(t, ok)

			// Guest with the same raw ID is a different principal.
			ok, err = l.CheckAndIncrement(ctx, Guest("u1"), ResourceAITranscripts, 2, 2)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestConcurrentReservationsAdmitExactlyRemaining(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := User("u1")

			// Pre-consume 1 of 3; eight racers then fight for the 2 left.
			ok, err := l.CheckAndIncrement(ctx, p, ResourceJobs, 1, 3)
			require.NoError(t, err)
			require.True(t, ok)

			var admitted atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := l.CheckAndIncrement(ctx, p, ResourceJobs, 1, 3)
					assert.NoError(t, err)
					if ok {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.EqualValues(t, 2, admitted.Load())
			used, err := l.Used(ctx, p, ResourceJobs)
			require.NoError(t, err)
			assert.EqualValues(t, 3, used)
		})
	}
}

func TestDeltaLargerThanLimit(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := l.CheckAndIncrement(context.Background(), User("u1"), ResourceBulkVideos, 10, 5)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestGuestSessionDerivation(t *testing.T) {
	a := GuestSession("browser-token", "salt-1")
	b := GuestSession("browser-token", "salt-1")
	assert.Equal(t, a, b, "same token and salt derive the same session")
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, GuestSession("browser-token", "salt-2"))
	assert.NotEqual(t, a, GuestSession("other-token", "salt-1"))
	assert.NotContains(t, a, "browser-token")
}

func TestTouchGuest(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	l, err := NewSQLiteLedger(s.DB())
	require.NoError(t, err)

	ctx := context.Background()
	session := GuestSession("tok", "salt")
	require.NoError(t, l.TouchGuest(ctx, session))
	require.NoError(t, l.TouchGuest(ctx, session))

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM guest_usage`).Scan(&count))
	assert.Equal(t, 1, count)
}
