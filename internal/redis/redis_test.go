package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shiftsad/gameserver/internal/config"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapKV is an in-memory consul.KV
type mapKV struct {
	values map[string]string
	err    error
}

func (k *mapKV) Get(ctx context.Context, key string) (string, bool, error) {
	if k.err != nil {
		return "", false, k.err
	}
	v, ok := k.values[key]
	return v, ok, nil
}

func (k *mapKV) Set(ctx context.Context, key, value string) error {
	k.values[key] = value
	return nil
}

func (k *mapKV) Delete(ctx context.Context, key string) error {
	delete(k.values, key)
	return nil
}

func (k *mapKV) List(ctx context.Context, prefix string) (map[string]string, error) {
	return nil, errors.New("not implemented")
}

func TestModule_Metadata(t *testing.T) {
	m := New(&mapKV{}, config.RedisConfig{})
	assert.Equal(t, "Redis", m.Name())
	assert.Equal(t, lifecycle.Highest, m.Priority())
	assert.Equal(t, []string{"ConsulConfig"}, m.DependsOn())
	assert.Equal(t, "redis.host", m.cfg.ConsulKey)
}

func TestInitialize_AddressFromConsul(t *testing.T) {
	tests := []struct {
		name    string
		address func(mr *miniredis.Miniredis) string
	}{
		{name: "url", address: func(mr *miniredis.Miniredis) string { return "redis://" + mr.Addr() + "/0" }},
		{name: "host and port", address: func(mr *miniredis.Miniredis) string { return mr.Addr() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			kv := &mapKV{values: map[string]string{"redis.host": tt.address(mr)}}

			m := New(kv, config.RedisConfig{})
			require.NoError(t, m.Initialize(context.Background()))
			t.Cleanup(func() { _ = m.Stop(context.Background()) })

			assert.NotNil(t, m.Client())
		})
	}
}

func TestInitialize_FallbackAddress(t *testing.T) {
	mr := miniredis.RunT(t)
	m := New(&mapKV{values: map[string]string{}}, config.RedisConfig{Address: mr.Addr()})

	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
}

func TestInitialize_Errors(t *testing.T) {
	t.Run("no address anywhere", func(t *testing.T) {
		m := New(&mapKV{values: map[string]string{}}, config.RedisConfig{})
		err := m.Initialize(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), `consul key "redis.host"`)
	})

	t.Run("consul failure", func(t *testing.T) {
		kvErr := errors.New("consul down")
		m := New(&mapKV{err: kvErr}, config.RedisConfig{Address: "127.0.0.1:6379"})
		err := m.Initialize(context.Background())
		assert.ErrorIs(t, err, kvErr)
	})

	t.Run("bad url", func(t *testing.T) {
		m := New(&mapKV{values: map[string]string{"redis.host": "http://nope"}}, config.RedisConfig{})
		err := m.Initialize(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid redis url")
	})

	t.Run("unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		m := New(&mapKV{values: map[string]string{"redis.host": addr}}, config.RedisConfig{})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		err := m.Initialize(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping redis")
		assert.Nil(t, m.Client())
	})
}

func TestStringCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	m := New(&mapKV{values: map[string]string{"redis.host": mr.Addr()}}, config.RedisConfig{})
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	ctx := context.Background()

	_, found, err := m.Get(ctx, "round")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Set(ctx, "round", "3", 0))
	value, found, err := m.Get(ctx, "round")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "3", value)

	require.NoError(t, m.Set(ctx, "lobby", "open", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("lobby"))

	deleted, err := m.Del(ctx, "round", "lobby", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestStop_Idempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	m := New(&mapKV{values: map[string]string{"redis.host": mr.Addr()}}, config.RedisConfig{})
	require.NoError(t, m.Initialize(context.Background()))

	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	_, _, err := m.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, m.Set(context.Background(), "k", "v", 0), ErrNotConnected)
	_, err = m.Del(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNotConnected)
}
