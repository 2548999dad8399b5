package credentials

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	want := &Credentials{ClientID: "c", ClientSecret: "s", AccessToken: "a", RefreshToken: "r"}
	require.NoError(t, store.Save(ctx, want))
	assert.True(t, mr.Exists(redisKey))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRedisStoreCorruptValue(t *testing.T) {
	store, mr := newTestRedis(t)
	require.NoError(t, mr.Set(redisKey, "not-json"))

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreHealth(t *testing.T) {
	store, mr := newTestRedis(t)
	assert.NoError(t, store.CheckHealth(context.Background()))

	mr.Close()
	assert.Error(t, store.CheckHealth(context.Background()))
}
