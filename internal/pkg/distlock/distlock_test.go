package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLocker(client, ttl), mr
}

func TestLeaseExcludesSecondHolder(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	first := locker.Lease("dispatch:archives/2026/01/14-sale")
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	second := locker.Lease("dispatch:archives/2026/01/14-sale")
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "overlapping invocation must not acquire the same lease")

	require.NoError(t, first.Release(ctx))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lease should be free after release")
}

func TestLeaseIndependentKeys(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	a := locker.Lease("dispatch:archives/2026/01/14-sale")
	b := locker.Lease("dispatch:archives/2026/02/02-update")

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "leases on different campaigns must not conflict")
}

func TestLeaseReleaseOnlyByOwner(t *testing.T) {
	locker, mr := newTestLocker(t, time.Minute)
	ctx := context.Background()

	owner := locker.Lease("dispatch:archives/2026/01/14-sale")
	ok, err := owner.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A stranger releasing the same key must be a no-op.
	stranger := locker.Lease("dispatch:archives/2026/01/14-sale")
	require.NoError(t, stranger.Release(ctx))

	val, err := mr.Get("lease:dispatch:archives/2026/01/14-sale")
	require.NoError(t, err)
	assert.NotEmpty(t, val, "owner's lease must survive a non-owner release")
}

func TestLeaseExpiresAfterTTL(t *testing.T) {
	locker, mr := newTestLocker(t, time.Minute)
	ctx := context.Background()

	crashed := locker.Lease("dispatch:archives/2026/01/14-sale")
	ok, err := crashed.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate a crashed trigger: TTL expires without a release.
	mr.FastForward(2 * time.Minute)

	next := locker.Lease("dispatch:archives/2026/01/14-sale")
	ok, err = next.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must become acquirable")
}
