// Package rediskv is a kv.Backend on Redis.
//
// Each entry lives in a hash at <prefix>v:<encoded key> holding the value (field
// "v") and its version stamp (field "vs"); expiry is native key expiry. Ordering
// comes from a sorted set at <prefix>idx whose members are the encoded keys, all
// with score 0, so that ZRANGEBYLEX walks them in key order. Members whose hash
// has expired are removed lazily while listing.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jacentio/kvdoc/kv"
)

const (
	fieldValue = "v"
	fieldStamp = "vs"

	defaultPrefix    = "kvdoc:"
	defaultBatchSize = 128
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every Redis key the store touches.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithBatchSize sets how many sorted-set members a listing reads per round trip.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batch = n
		}
	}
}

// Store is a kv.Backend over a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	batch  int
}

// New wraps client. The client stays owned by the caller.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, batch: defaultBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open checks out a dedicated connection from the client pool.
func (s *Store) Open(ctx context.Context) (kv.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &conn{store: s, rc: s.client.Conn()}, nil
}

func (s *Store) dataKey(enc string) string {
	return s.prefix + "v:" + enc
}

func (s *Store) indexKey() string {
	return s.prefix + "idx"
}

func (s *Store) stampKey() string {
	return s.prefix + "vs"
}

type conn struct {
	store  *Store
	rc     *redis.Conn
	closed atomic.Bool
}

func (c *conn) check(ctx context.Context) error {
	if c.closed.Load() {
		return kv.ErrClosed
	}
	return ctx.Err()
}

func (c *conn) Get(ctx context.Context, key kv.Key) (kv.Entry, bool, error) {
	if err := c.check(ctx); err != nil {
		return kv.Entry{}, false, err
	}
	vals, err := c.rc.HMGet(ctx, c.store.dataKey(kv.EncodeKey(key)), fieldValue, fieldStamp).Result()
	if err != nil {
		return kv.Entry{}, false, fmt.Errorf("rediskv: get: %w", err)
	}
	entry, ok := toEntry(key, vals)
	return entry, ok, nil
}

func (c *conn) Set(ctx context.Context, key kv.Key, value []byte, ttl time.Duration) (string, error) {
	if err := c.check(ctx); err != nil {
		return "", err
	}
	n, err := c.rc.Incr(ctx, c.store.stampKey()).Result()
	if err != nil {
		return "", fmt.Errorf("rediskv: stamp: %w", err)
	}
	stamp := fmt.Sprintf("%020x", n)

	enc := kv.EncodeKey(key)
	dataKey := c.store.dataKey(enc)
	_, err = c.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, dataKey, fieldValue, value, fieldStamp, stamp)
		if ttl > 0 {
			pipe.PExpire(ctx, dataKey, ttl)
		} else {
			pipe.Persist(ctx, dataKey)
		}
		pipe.ZAdd(ctx, c.store.indexKey(), redis.Z{Score: 0, Member: enc})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("rediskv: set: %w", err)
	}
	return stamp, nil
}

func (c *conn) Delete(ctx context.Context, key kv.Key) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	enc := kv.EncodeKey(key)
	_, err := c.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.store.dataKey(enc))
		pipe.ZRem(ctx, c.store.indexKey(), enc)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rediskv: delete: %w", err)
	}
	return nil
}

func (c *conn) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) ([]kv.Entry, string, error) {
	if err := c.check(ctx); err != nil {
		return nil, "", err
	}
	if err := opts.Validate(); err != nil {
		return nil, "", err
	}
	span, err := sel.Span().Resume(opts.Cursor, opts.Reverse)
	if err != nil {
		return nil, "", err
	}

	rng := lexRange(span)
	var entries []kv.Entry
	for opts.Limit == 0 || len(entries) <= opts.Limit {
		rng.Count = int64(c.store.batch)
		var members []string
		if opts.Reverse {
			members, err = c.rc.ZRevRangeByLex(ctx, c.store.indexKey(), rng).Result()
		} else {
			members, err = c.rc.ZRangeByLex(ctx, c.store.indexKey(), rng).Result()
		}
		if err != nil {
			return nil, "", fmt.Errorf("rediskv: list: %w", err)
		}
		if len(members) == 0 {
			break
		}

		batch, err := c.load(ctx, members)
		if err != nil {
			return nil, "", err
		}
		entries = append(entries, batch...)

		last := members[len(members)-1]
		if opts.Reverse {
			rng.Max = "(" + last
		} else {
			rng.Min = "(" + last
		}
		if len(members) < c.store.batch {
			break
		}
	}

	if opts.Limit > 0 && len(entries) > opts.Limit+1 {
		entries = entries[:opts.Limit+1]
	}
	entries, cursor := kv.Page(entries, opts.Limit)
	return entries, cursor, nil
}

// load fetches the hashes behind members, dropping and unindexing the ones that
// have expired.
func (c *conn) load(ctx context.Context, members []string) ([]kv.Entry, error) {
	cmds := make([]*redis.SliceCmd, len(members))
	_, err := c.rc.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, enc := range members {
			cmds[i] = pipe.HMGet(ctx, c.store.dataKey(enc), fieldValue, fieldStamp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rediskv: load: %w", err)
	}

	entries := make([]kv.Entry, 0, len(members))
	var stale []any
	for i, enc := range members {
		key, err := kv.DecodeKey(enc)
		if err != nil {
			return nil, fmt.Errorf("rediskv: index member %q: %w", enc, err)
		}
		entry, ok := toEntry(key, cmds[i].Val())
		if !ok {
			stale = append(stale, enc)
			continue
		}
		entries = append(entries, entry)
	}
	if len(stale) > 0 {
		if err := c.rc.ZRem(ctx, c.store.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("rediskv: unindex expired: %w", err)
		}
	}
	return entries, nil
}

func (c *conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.rc.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func lexRange(span kv.Span) *redis.ZRangeBy {
	rng := &redis.ZRangeBy{Min: "-", Max: "+"}
	if span.Start != "" {
		rng.Min = "[" + span.Start
	}
	if span.End != "" {
		rng.Max = "(" + span.End
	}
	return rng
}

func toEntry(key kv.Key, vals []any) (kv.Entry, bool) {
	if len(vals) != 2 || vals[0] == nil {
		return kv.Entry{}, false
	}
	value, _ := vals[0].(string)
	stamp, _ := vals[1].(string)
	return kv.Entry{Key: key, Value: []byte(value), VersionStamp: stamp}, true
}
