package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/inkwell/internal/testutil"
)

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestLocker_TryAcquire(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	defer client.Close()

	locker, err := New(Options{Client: client, Prefix: "test:lock:"})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("second acquire is refused while held", func(t *testing.T) {
		lease, ok, err := locker.TryAcquire(ctx, "dispatch:send", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.NotNil(t, lease)

		other, ok, err := locker.TryAcquire(ctx, "dispatch:send", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, other)

		require.NoError(t, lease.Release(ctx))

		again, ok, err := locker.TryAcquire(ctx, "dispatch:send", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("ttl is applied", func(t *testing.T) {
		lease, ok, err := locker.TryAcquire(ctx, "dispatch:generate", 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		defer func() { _ = lease.Release(ctx) }()

		ttl := client.TTL(ctx, "test:lock:dispatch:generate").Val()
		assert.True(t, ttl > 0 && ttl <= 30*time.Second)
	})

	t.Run("stale lease does not release a newer holder", func(t *testing.T) {
		lease, ok, err := locker.TryAcquire(ctx, "dispatch:stale", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		// Simulate expiry and takeover by another holder.
		require.NoError(t, client.Set(ctx, "test:lock:dispatch:stale", "someone-else", time.Minute).Err())

		require.NoError(t, lease.Release(ctx))
		assert.Equal(t, "someone-else", client.Get(ctx, "test:lock:dispatch:stale").Val())
	})

	t.Run("empty key", func(t *testing.T) {
		_, _, err := locker.TryAcquire(ctx, "", time.Minute)
		require.Error(t, err)
	})
}
