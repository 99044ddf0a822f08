package rediskv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/kvdoc/kv"
	"github.com/jacentio/kvdoc/kv/kvtest"
	"github.com/jacentio/kvdoc/kv/rediskv"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return m, client
}

func TestConformance(t *testing.T) {
	kvtest.RunConnTests(t, "rediskv", func(t *testing.T) kvtest.Harness {
		m, client := newRedis(t)
		return kvtest.Harness{
			// A small batch exercises the multi-round-trip listing path.
			Backend: rediskv.New(client, rediskv.WithPrefix("test:"), rediskv.WithBatchSize(2)),
			Advance: m.FastForward,
		}
	})
}

func TestStore_Layout(t *testing.T) {
	m, client := newRedis(t)
	store := rediskv.New(client, rediskv.WithPrefix("app:"))
	ctx := context.Background()

	conn, err := store.Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	key := kv.Key{"users", "by_id", "1"}
	stamp, err := conn.Set(ctx, key, []byte(`{"a":1}`), 0)
	require.NoError(t, err)

	enc := kv.EncodeKey(key)
	require.True(t, m.Exists("app:v:"+enc))
	require.Equal(t, `{"a":1}`, m.HGet("app:v:"+enc, "v"))
	require.Equal(t, stamp, m.HGet("app:v:"+enc, "vs"))

	members, err := m.ZMembers("app:idx")
	require.NoError(t, err)
	require.Equal(t, []string{enc}, members)

	require.NoError(t, conn.Delete(ctx, key))
	require.False(t, m.Exists("app:v:"+enc))
	require.False(t, m.Exists("app:idx"))
}

func TestStore_ListUnindexesExpired(t *testing.T) {
	m, client := newRedis(t)
	store := rediskv.New(client)
	ctx := context.Background()

	conn, err := store.Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Set(ctx, kv.Key{"t", "a"}, []byte("a"), 500*time.Millisecond)
	require.NoError(t, err)
	_, err = conn.Set(ctx, kv.Key{"t", "b"}, []byte("b"), 0)
	require.NoError(t, err)

	m.FastForward(time.Second)

	entries, _, err := conn.List(ctx, kv.PrefixSelector(kv.Key{"t"}), kv.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "t/b", entries[0].Key.String())

	members, err := m.ZMembers("kvdoc:idx")
	require.NoError(t, err)
	require.Equal(t, []string{kv.EncodeKey(kv.Key{"t", "b"})}, members)
}

func TestStore_StampsIncrease(t *testing.T) {
	_, client := newRedis(t)
	store := rediskv.New(client)
	ctx := context.Background()

	conn, err := store.Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	first, err := conn.Set(ctx, kv.Key{"k"}, []byte("1"), 0)
	require.NoError(t, err)
	second, err := conn.Set(ctx, kv.Key{"k"}, []byte("2"), 0)
	require.NoError(t, err)
	require.Less(t, first, second)
}
