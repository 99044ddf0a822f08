// Package memkv is an in-process kv.Backend backed by a B-tree.
//
// Every connection opened from the same Store shares its data. Expired entries
// are hidden from reads and removed when a Get or List comes across them, when
// their key is written again, or by Sweep.
package memkv

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"github.com/jacentio/kvdoc/kv"
)

const defaultDegree = 32

type item struct {
	enc     string
	key     kv.Key
	value   []byte
	stamp   string
	expires time.Time
}

func (it *item) expired(now time.Time) bool {
	return !it.expires.IsZero() && !now.Before(it.expires)
}

func (it *item) entry() kv.Entry {
	return kv.Entry{
		Key:          append(kv.Key(nil), it.key...),
		Value:        bytes.Clone(it.value),
		VersionStamp: it.stamp,
	}
}

func less(a, b *item) bool {
	return a.enc < b.enc
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithDegree sets the B-tree degree.
func WithDegree(degree int) Option {
	return func(s *Store) {
		s.degree = degree
	}
}

// Store is an ordered in-memory store.
type Store struct {
	mu      sync.RWMutex
	tree    *btree.BTreeG[*item]
	now     func() time.Time
	degree  int
	version atomic.Uint64
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now, degree: defaultDegree}
	for _, opt := range opts {
		opt(s)
	}
	s.tree = btree.NewG[*item](s.degree, less)
	return s
}

// Open returns a connection to the store.
func (s *Store) Open(ctx context.Context) (kv.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &conn{store: s}, nil
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Sweep removes every expired entry and returns how many it removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []*item
	s.tree.Ascend(func(it *item) bool {
		if it.expired(now) {
			expired = append(expired, it)
		}
		return true
	})
	for _, it := range expired {
		s.tree.Delete(it)
	}
	return len(expired)
}

// reap removes items a read found expired, unless their key was written
// again in the meantime.
func (s *Store) reap(items []*item) {
	if len(items) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, it := range items {
		if cur, ok := s.tree.Get(it); ok && cur == it && cur.expired(now) {
			s.tree.Delete(it)
		}
	}
}

func (s *Store) nextStamp() string {
	return fmt.Sprintf("%020x", s.version.Add(1))
}

type conn struct {
	store  *Store
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
	s := c.store
	s.mu.RLock()
	it, ok := s.tree.Get(&item{enc: kv.EncodeKey(key)})
	if !ok {
		s.mu.RUnlock()
		return kv.Entry{}, false, nil
	}
	if it.expired(s.now()) {
		s.mu.RUnlock()
		s.reap([]*item{it})
		return kv.Entry{}, false, nil
	}
	entry := it.entry()
	s.mu.RUnlock()
	return entry, true, nil
}

func (c *conn) Set(ctx context.Context, key kv.Key, value []byte, ttl time.Duration) (string, error) {
	if err := c.check(ctx); err != nil {
		return "", err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	it := &item{
		enc:   kv.EncodeKey(key),
		key:   append(kv.Key(nil), key...),
		value: bytes.Clone(value),
		stamp: s.nextStamp(),
	}
	if ttl > 0 {
		it.expires = s.now().Add(ttl)
	}
	s.tree.ReplaceOrInsert(it)
	return it.stamp, nil
}

func (c *conn) Delete(ctx context.Context, key kv.Key) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree.Delete(&item{enc: kv.EncodeKey(key)})
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

	s := c.store
	s.mu.RLock()

	now := s.now()
	var (
		entries []kv.Entry
		expired []*item
	)
	visit := func(it *item) bool {
		if it.expired(now) {
			expired = append(expired, it)
			return true
		}
		entries = append(entries, it.entry())
		return opts.Limit == 0 || len(entries) <= opts.Limit
	}

	if opts.Reverse {
		descend := func(it *item) bool {
			if it.enc < span.Start {
				return false
			}
			if span.End != "" && it.enc >= span.End {
				return true
			}
			return visit(it)
		}
		if span.End == "" {
			s.tree.Descend(descend)
		} else {
			s.tree.DescendLessOrEqual(&item{enc: span.End}, descend)
		}
	} else {
		s.tree.AscendGreaterOrEqual(&item{enc: span.Start}, func(it *item) bool {
			if span.End != "" && it.enc >= span.End {
				return false
			}
			return visit(it)
		})
	}

	s.mu.RUnlock()
	s.reap(expired)

	entries, cursor := kv.Page(entries, opts.Limit)
	return entries, cursor, nil
}

func (c *conn) Close() error {
	c.closed.Store(true)
	return nil
}
