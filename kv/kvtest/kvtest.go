// Package kvtest provides the conformance suite for kv.Backend implementations.
//
// Example usage:
//
//	kvtest.RunConnTests(t, "memkv", func(t *testing.T) kvtest.Harness {
//		clock := kvtest.NewClock()
//		return kvtest.Harness{
//			Backend: memkv.New(memkv.WithClock(clock.Now)),
//			Advance: clock.Advance,
//		}
//	})
package kvtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jacentio/kvdoc/kv"
)

// Harness is one fresh, empty store under test.
type Harness struct {
	Backend kv.Backend

	// Advance moves the store's notion of time forward. Expiry tests are skipped
	// when it is nil.
	Advance func(d time.Duration)
}

// Factory builds a fresh Harness for each test case.
type Factory func(t *testing.T) Harness

// RunConnTests runs the conformance suite against the backend built by factory.
func RunConnTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("SetGet", func(t *testing.T) {
			testSetGet(t, factory(t))
		})

		t.Run("VersionStamp", func(t *testing.T) {
			testVersionStamp(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("Expire", func(t *testing.T) {
			testExpire(t, factory(t))
		})

		t.Run("ListPrefix", func(t *testing.T) {
			testListPrefix(t, factory(t))
		})

		t.Run("ListRange", func(t *testing.T) {
			testListRange(t, factory(t))
		})

		t.Run("ListPaging", func(t *testing.T) {
			testListPaging(t, factory(t))
		})

		t.Run("InvalidCursor", func(t *testing.T) {
			testInvalidCursor(t, factory(t))
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory(t))
		})
	})
}

// Clock is a settable time source for backends that accept one.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func open(t *testing.T, h Harness) kv.Conn {
	t.Helper()
	conn, err := h.Backend.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func mustSet(t *testing.T, conn kv.Conn, key kv.Key, value string) string {
	t.Helper()
	stamp, err := conn.Set(context.Background(), key, []byte(value), 0)
	if err != nil {
		t.Fatalf("Set(%v): %v", key, err)
	}
	return stamp
}

func keysOf(entries []kv.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key.String()
	}
	return out
}

func sameKeys(got []kv.Entry, want ...string) bool {
	keys := keysOf(got)
	if len(keys) != len(want) {
		return false
	}
	for i := range keys {
		if keys[i] != want[i] {
			return false
		}
	}
	return true
}

// seed writes p/0 .. p/(n-1) plus keys just outside the p prefix.
func seed(t *testing.T, conn kv.Conn, n int) {
	t.Helper()
	mustSet(t, conn, kv.Key{"p"}, "prefix itself")
	mustSet(t, conn, kv.Key{"pp", "0"}, "sibling")
	mustSet(t, conn, kv.Key{"o", "0"}, "before")
	for i := 0; i < n; i++ {
		mustSet(t, conn, kv.Key{"p", fmt.Sprintf("%02d", i)}, fmt.Sprintf("v%d", i))
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, h Harness) {
	conn := open(t, h)
	ctx := context.Background()
	key := kv.Key{"users", "by_id", "1"}

	stamp := mustSet(t, conn, key, "first")
	if stamp == "" {
		t.Error("expected a non-empty version stamp")
	}

	entry, found, err := conn.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected key to exist after Set")
	}
	if !bytes.Equal(entry.Value, []byte("first")) {
		t.Errorf("expected value 'first', got %q", entry.Value)
	}
	if entry.VersionStamp != stamp {
		t.Errorf("expected stamp %q, got %q", stamp, entry.VersionStamp)
	}
	if entry.Key.String() != key.String() {
		t.Errorf("expected key %v, got %v", key, entry.Key)
	}

	mustSet(t, conn, key, "second")
	entry, _, _ = conn.Get(ctx, key)
	if !bytes.Equal(entry.Value, []byte("second")) {
		t.Errorf("expected value 'second', got %q", entry.Value)
	}

	_, found, err = conn.Get(ctx, kv.Key{"users", "by_id", "missing"})
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if found {
		t.Error("expected missing key to report found=false")
	}
}

func testVersionStamp(t *testing.T, h Harness) {
	conn := open(t, h)
	key := kv.Key{"k"}

	first := mustSet(t, conn, key, "a")
	second := mustSet(t, conn, key, "a")
	if first == second {
		t.Errorf("expected a new stamp per write, got %q twice", first)
	}
}

func testDelete(t *testing.T, h Harness) {
	conn := open(t, h)
	ctx := context.Background()
	key := kv.Key{"k", "1"}

	mustSet(t, conn, key, "v")
	if err := conn.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := conn.Get(ctx, key); found {
		t.Error("expected key to be gone after Delete")
	}
	if err := conn.Delete(ctx, key); err != nil {
		t.Errorf("expected deleting a missing key to succeed, got %v", err)
	}

	entries, _, err := conn.List(ctx, kv.PrefixSelector(kv.Key{"k"}), kv.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries after Delete, got %v", keysOf(entries))
	}
}

func testExpire(t *testing.T, h Harness) {
	if h.Advance == nil {
		t.Skip("backend has no controllable clock")
	}
	conn := open(t, h)
	ctx := context.Background()

	if _, err := conn.Set(ctx, kv.Key{"t", "short"}, []byte("v"), 500*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mustSet(t, conn, kv.Key{"t", "forever"}, "v")

	if _, found, _ := conn.Get(ctx, kv.Key{"t", "short"}); !found {
		t.Fatal("expected entry to exist before expiry")
	}

	h.Advance(600 * time.Millisecond)

	if _, found, _ := conn.Get(ctx, kv.Key{"t", "short"}); found {
		t.Error("expected entry to be gone after expiry")
	}
	entries, _, err := conn.List(ctx, kv.PrefixSelector(kv.Key{"t"}), kv.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !sameKeys(entries, "t/forever") {
		t.Errorf("expected only t/forever to be listed, got %v", keysOf(entries))
	}

	// Rewriting without a ttl clears a previous expiry.
	if _, err := conn.Set(ctx, kv.Key{"t", "renewed"}, []byte("v"), 500*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mustSet(t, conn, kv.Key{"t", "renewed"}, "v2")
	h.Advance(time.Second)
	if _, found, _ := conn.Get(ctx, kv.Key{"t", "renewed"}); !found {
		t.Error("expected rewritten entry to have no expiry")
	}
}

func testListPrefix(t *testing.T, h Harness) {
	conn := open(t, h)
	ctx := context.Background()
	seed(t, conn, 3)

	entries, cursor, err := conn.List(ctx, kv.PrefixSelector(kv.Key{"p"}), kv.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !sameKeys(entries, "p/00", "p/01", "p/02") {
		t.Errorf("expected p/00..p/02 ascending, got %v", keysOf(entries))
	}
	if cursor != "" {
		t.Errorf("expected empty cursor for exhausted listing, got %q", cursor)
	}
	if len(entries) > 0 && (string(entries[0].Value) != "v0" || entries[0].VersionStamp == "") {
		t.Errorf("expected value and stamp on listed entries, got %+v", entries[0])
	}

	entries, _, err = conn.List(ctx, kv.PrefixSelector(kv.Key{"p"}), kv.ListOptions{Reverse: true})
	if err != nil {
		t.Fatalf("List reverse: %v", err)
	}
	if !sameKeys(entries, "p/02", "p/01", "p/00") {
		t.Errorf("expected p/02..p/00 descending, got %v", keysOf(entries))
	}

	entries, _, err = conn.List(ctx, kv.PrefixSelector(kv.Key{"missing"}), kv.ListOptions{})
	if err != nil {
		t.Fatalf("List empty: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty listing, got %v", keysOf(entries))
	}
}

func testListRange(t *testing.T, h Harness) {
	conn := open(t, h)
	ctx := context.Background()
	seed(t, conn, 5)

	sel := kv.RangeSelector(kv.Key{"p", "01"}, kv.Key{"p", "03"})
	entries, _, err := conn.List(ctx, sel, kv.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !sameKeys(entries, "p/01", "p/02") {
		t.Errorf("expected [p/01, p/02], got %v", keysOf(entries))
	}

	entries, _, err = conn.List(ctx, sel, kv.ListOptions{Reverse: true, Limit: 1})
	if err != nil {
		t.Fatalf("List reverse: %v", err)
	}
	if !sameKeys(entries, "p/02") {
		t.Errorf("expected [p/02], got %v", keysOf(entries))
	}
}

func testListPaging(t *testing.T, h Harness) {
	conn := open(t, h)
	ctx := context.Background()
	seed(t, conn, 5)
	sel := kv.PrefixSelector(kv.Key{"p"})

	for _, reverse := range []bool{false, true} {
		t.Run(fmt.Sprintf("reverse=%v", reverse), func(t *testing.T) {
			var (
				got    []string
				cursor string
				pages  int
			)
			for {
				entries, next, err := conn.List(ctx, sel, kv.ListOptions{Reverse: reverse, Limit: 2, Cursor: cursor})
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				got = append(got, keysOf(entries)...)
				pages++
				if next == "" {
					break
				}
				if pages > 5 {
					t.Fatal("paging did not terminate")
				}
				cursor = next
			}

			want := []string{"p/00", "p/01", "p/02", "p/03", "p/04"}
			if reverse {
				want = []string{"p/04", "p/03", "p/02", "p/01", "p/00"}
			}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Errorf("expected %v, got %v", want, got)
			}
			if pages != 3 {
				t.Errorf("expected 3 pages, got %d", pages)
			}
		})
	}
}

func testInvalidCursor(t *testing.T, h Harness) {
	conn := open(t, h)
	ctx := context.Background()
	seed(t, conn, 2)

	outside := kv.EncodeCursor(kv.EncodeKey(kv.Key{"zzz"}))
	_, _, err := conn.List(ctx, kv.PrefixSelector(kv.Key{"p"}), kv.ListOptions{Cursor: outside})
	if !errors.Is(err, kv.ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}

	_, _, err = conn.List(ctx, kv.PrefixSelector(kv.Key{"p"}), kv.ListOptions{Limit: -1})
	if !errors.Is(err, kv.ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
}

func testClosed(t *testing.T, h Harness) {
	conn, err := h.Backend.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := conn.Get(context.Background(), kv.Key{"k"}); !errors.Is(err, kv.ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}
