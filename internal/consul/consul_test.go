package consul

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/shiftsad/gameserver/internal/config"
	"github.com/shiftsad/gameserver/internal/consul/consultest"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModule(t *testing.T, fake *consultest.Server, ttl time.Duration) *Module {
	t.Helper()
	m := New(config.ConsulConfig{
		Address:   fake.Address(),
		CacheTTL:  ttl,
		CacheSize: 16,
	})
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func TestModule_Metadata(t *testing.T) {
	m := New(config.ConsulConfig{})
	assert.Equal(t, "ConsulConfig", m.Name())
	assert.Equal(t, lifecycle.Critical, m.Priority())
}

func TestInitialize_RequiresAddress(t *testing.T) {
	err := New(config.ConsulConfig{}).Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consul address must be set")
}

func TestInitialize_NoLeader(t *testing.T) {
	fake := consultest.NewServer(t)
	fake.NoLeader(true)

	err := New(config.ConsulConfig{Address: fake.Address()}).Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no leader")
}

func TestInitialize_Unreachable(t *testing.T) {
	fake := consultest.NewServer(t)
	addr := fake.Address()
	fake.Close()

	err := New(config.ConsulConfig{Address: addr}).Initialize(context.Background())
	assert.Error(t, err)
}

func TestInitialize_HonorsContext(t *testing.T) {
	// Accepts connections but never answers
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 16)
	t.Cleanup(func() {
		l.Close()
		for {
			select {
			case conn := <-accepted:
				conn.Close()
			default:
				return
			}
		}
	})
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	m := New(config.ConsulConfig{Address: l.Addr().String()})
	done := make(chan error, 1)
	go func() { done <- m.Initialize(ctx) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to reach consul")
	case <-time.After(2 * time.Second):
		t.Fatal("Initialize ignored the context deadline")
	}
}

func TestOperations_BeforeInitialize(t *testing.T) {
	m := New(config.ConsulConfig{Address: "127.0.0.1:1"})
	ctx := context.Background()

	_, _, err := m.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.ErrorIs(t, m.Set(ctx, "k", "v"), ErrNotInitialized)
	assert.ErrorIs(t, m.Delete(ctx, "k"), ErrNotInitialized)
	_, err = m.List(ctx, "p")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestGet(t *testing.T) {
	fake := consultest.NewServer(t)
	fake.Put("redis.host", "redis://cache:6379")
	fake.PutNil("empty")
	m := newModule(t, fake, 0)
	ctx := context.Background()

	value, found, err := m.Get(ctx, "redis.host")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "redis://cache:6379", value)

	value, found, err = m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, value)

	_, found, err = m.Get(ctx, "empty")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetAndDelete(t *testing.T) {
	fake := consultest.NewServer(t)
	m := newModule(t, fake, 0)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "Fox-Teal-Swift", "25565"))
	stored, ok := fake.Value("Fox-Teal-Swift")
	require.True(t, ok)
	assert.Equal(t, "25565", stored)

	require.NoError(t, m.Delete(ctx, "Fox-Teal-Swift"))
	_, ok = fake.Value("Fox-Teal-Swift")
	assert.False(t, ok)

	// Deleting again is fine
	assert.NoError(t, m.Delete(ctx, "Fox-Teal-Swift"))
}

func TestWriteFailures(t *testing.T) {
	fake := consultest.NewServer(t)
	m := newModule(t, fake, 0)
	fake.FailWrites(true)
	ctx := context.Background()

	err := m.Set(ctx, "k", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to write consul key "k"`)

	err = m.Delete(ctx, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to delete consul key "k"`)
}

func TestList_StripsPrefix(t *testing.T) {
	fake := consultest.NewServer(t)
	fake.Put("games/tag/max_players", "16")
	fake.Put("games/tag/round_seconds", "300")
	fake.PutNil("games/tag/disabled")
	fake.Put("games/other/max_players", "8")
	m := newModule(t, fake, 0)

	values, err := m.List(context.Background(), "games/tag")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"max_players":   "16",
		"round_seconds": "300",
	}, values)

	values, err = m.List(context.Background(), "nothing/here")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestCache(t *testing.T) {
	fake := consultest.NewServer(t)
	fake.Put("motd", "hello")
	m := newModule(t, fake, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		value, found, err := m.Get(ctx, "motd")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "hello", value)
	}
	assert.Equal(t, int64(1), fake.KVReads())

	// Writes through the module invalidate the cached entry
	require.NoError(t, m.Set(ctx, "motd", "bye"))
	value, _, err := m.Get(ctx, "motd")
	require.NoError(t, err)
	assert.Equal(t, "bye", value)
	assert.Equal(t, int64(2), fake.KVReads())

	// Misses are cached too, until a Set
	_, found, err := m.Get(ctx, "later")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, m.Set(ctx, "later", "now"))
	value, found, err = m.Get(ctx, "later")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "now", value)
}

func TestCache_Expires(t *testing.T) {
	fake := consultest.NewServer(t)
	fake.Put("motd", "hello")
	m := newModule(t, fake, 50*time.Millisecond)
	ctx := context.Background()

	_, _, err := m.Get(ctx, "motd")
	require.NoError(t, err)

	fake.Put("motd", "changed elsewhere")
	require.Eventually(t, func() bool {
		value, _, err := m.Get(ctx, "motd")
		return err == nil && value == "changed elsewhere"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestTrimKey(t *testing.T) {
	assert.Equal(t, "a", trimKey("p/a", "p"))
	assert.Equal(t, "a", trimKey("p/a", "p/"))
	assert.Equal(t, "/a", trimKey("p//a", "p"))
	assert.Equal(t, "other/a", trimKey("other/a", "p"))
}
