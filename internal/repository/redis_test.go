package repository

import (
	"context"
	"testing"
	"time"

	"autoposter/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDayGuard(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer client.Close()
	require.NoError(t, Ping(context.Background(), client))

	guard := NewRedisDayGuard(client, 48*time.Hour)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)

	t.Run("ClaimOncePerDay", func(t *testing.T) {
		ok, err := guard.Claim(ctx, "user-1", day)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = guard.Claim(ctx, "user-1", day.Add(-time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = guard.Claim(ctx, "user-2", day)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("KeyExpires", func(t *testing.T) {
		key := dayKey("user-1", day)
		assert.Equal(t, 48*time.Hour, s.TTL(key))

		s.FastForward(49 * time.Hour)
		ok, err := guard.Claim(ctx, "user-1", day)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Release", func(t *testing.T) {
		other := day.AddDate(0, 0, 1)
		ok, err := guard.Claim(ctx, "user-3", other)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, guard.Release(ctx, "user-3", other))
		ok, err = guard.Claim(ctx, "user-3", other)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ServerDown", func(t *testing.T) {
		s.Close()
		_, err := guard.Claim(ctx, "user-4", day)
		assert.Error(t, err)
	})
}
