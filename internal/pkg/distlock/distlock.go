// Package distlock provides a Redis-backed single-writer lease. The dispatch
// triggers take a per-campaign lease before calling the delivery provider so
// an overlapping trigger invocation observes the campaign as in flight
// instead of double-sending it.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease is a single-writer lease on one resource. A Lease instance is not
// safe for concurrent use; acquire a fresh one per resource per invocation.
type Lease interface {
	// Acquire tries to take the lease. Returns true on success, false when
	// another holder owns it.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lease back if this instance still owns it.
	Release(ctx context.Context) error
}

// Locker mints leases against a shared Redis client with a fixed TTL.
// The TTL bounds how long a crashed trigger can block a campaign.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker creates a lease factory. TTL <= 0 defaults to 5 minutes.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Locker{client: client, ttl: ttl}
}

// Lease returns a new lease for the given key.
func (f *Locker) Lease(key string) Lease {
	return newRedisLease(f.client, key, f.ttl)
}

// redisLease implements Lease via SET NX with TTL. A random ownership token
// and a Lua release script prevent releasing a lease taken over by another
// process after TTL expiry.
type redisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func newRedisLease(client *redis.Client, key string, ttl time.Duration) *redisLease {
	b := make([]byte, 16)
	rand.Read(b)
	return &redisLease{
		client: client,
		key:    fmt.Sprintf("lease:%s", key),
		token:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to take the lease. Returns true on success.
func (l *redisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", l.key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release releases the lease only if this instance still owns it.
func (l *redisLease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	return err
}
