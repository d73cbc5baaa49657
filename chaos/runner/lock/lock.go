// Package lock implements the cross-process run lease: a Redis-backed
// mutual-exclusion lock preventing two runners from executing the same
// named scenario concurrently against a shared external system (e.g. a
// staging deployment the scenario's agent talks to). Built on the SET NX
// PX primitive with a token-checked release.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by Acquire when another holder already owns the lease.
var ErrHeld = errors.New("lock: lease already held")

// Lease is a held run lock. Release must be called exactly once, typically
// via defer, to give up the lease before its TTL expires naturally.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Manager acquires and releases run leases backed by a Redis client.
type Manager struct {
	client *redis.Client
	prefix string
}

// New constructs a Manager. prefix namespaces lease keys, e.g.
// "agentchaos:run-lock:".
func New(client *redis.Client, prefix string) *Manager {
	if prefix == "" {
		prefix = "agentchaos:run-lock:"
	}
	return &Manager{client: client, prefix: prefix}
}

// Acquire attempts to take the lease for scenarioName, valid for ttl. It
// returns ErrHeld, wrapped, if another process holds it.
func (m *Manager) Acquire(ctx context.Context, scenarioName string, ttl time.Duration) (*Lease, error) {
	key := m.prefix + scenarioName
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock: scenario %q: %w", scenarioName, ErrHeld)
	}
	return &Lease{client: m.client, key: key, token: token}, nil
}

// releaseScript deletes the lease key only if its value still matches the
// token this Lease acquired, so a lease whose TTL already expired and was
// reacquired by someone else is never deleted out from under them.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Release gives up the lease. Safe to call once; a second call is a no-op
// since the key will no longer match this Lease's token.
func (l *Lease) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	return nil
}

// extendScript resets the lease key's TTL only if its value still matches
// the token this Lease acquired.
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// Extend pushes the lease's expiry out by ttl, for a run that is taking
// longer than originally leased. It is a no-op (returns ErrHeld) if the
// lease was lost in the meantime.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock: extend: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lock: extend: %w", ErrHeld)
	}
	return nil
}
