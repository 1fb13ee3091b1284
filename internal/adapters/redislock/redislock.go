// Package redislock provides a core.Locker backed by Redis SET NX.
package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/inkwell/internal/core"
)

const (
	defaultPrefix = "inkwell:lock:"
	minTTL        = time.Second
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options configures a Locker.
type Options struct {
	Client redis.UniversalClient
	// Prefix is prepended to every key. Defaults to "inkwell:lock:".
	Prefix string
}

// Locker implements core.Locker.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

var _ core.Locker = (*Locker)(nil)

// New constructs a Locker.
func New(opts Options) (*Locker, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Locker{client: opts.Client, prefix: prefix}, nil
}

// TryAcquire sets the key with NX and a TTL. A held key yields (nil, false, nil).
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (core.Lease, bool, error) {
	if key == "" {
		return nil, false, errors.New("key cannot be empty")
	}
	if ttl < minTTL {
		ttl = minTTL
	}

	token, err := newToken()
	if err != nil {
		return nil, false, err
	}

	fullKey := l.prefix + key
	// SETNX followed by EXPIRE is not atomic; SET with NX and a TTL is.
	status, err := l.client.SetArgs(ctx, fullKey, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis SET NX: %w", err)
	}
	if status != "OK" {
		return nil, false, nil
	}
	return &lease{client: l.client, key: fullKey, token: token}, true, nil
}

// Health pings the Redis connection.
func (l *Locker) Health(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

type lease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Release drops the key if this lease still owns it. Releasing an expired
// lease is not an error.
func (le *lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Err(); err != nil &&
		!errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", le.key, err)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
