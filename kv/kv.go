package kv

import (
	"context"
	"strings"
	"time"
)

// Key is an ordered sequence of path segments.
type Key []string

// String renders the key for logs and CLI output (segments joined by "/").
func (k Key) String() string {
	return strings.Join(k, "/")
}

// Append returns a new key with segments appended; k is never modified.
func (k Key) Append(segments ...string) Key {
	out := make(Key, 0, len(k)+len(segments))
	out = append(out, k...)
	return append(out, segments...)
}

// HasPrefix reports whether every segment of prefix matches the start of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, seg := range prefix {
		if k[i] != seg {
			return false
		}
	}
	return true
}

// Entry is a stored value together with the stamp of the write that produced it.
type Entry struct {
	Key          Key
	Value        []byte
	VersionStamp string
}

// ListOptions controls a List call.
type ListOptions struct {
	// Reverse lists in descending key order.
	Reverse bool

	// Limit is the maximum number of entries to return (0 = no limit).
	Limit int

	// Cursor resumes a previous listing just past the entry it points at.
	// It must come from a List call with the same selector and direction.
	Cursor string
}

// Validate checks the options for values no backend can serve.
func (o ListOptions) Validate() error {
	if o.Limit < 0 {
		return ErrInvalidLimit
	}
	return nil
}

// Conn is a handle on the ordered store, valid until Close.
type Conn interface {
	// Get returns the entry for key. The boolean is false when the key is missing
	// or its entry has expired.
	Get(ctx context.Context, key Key) (entry Entry, found bool, err error)

	// Set writes value under key and returns the new version stamp.
	// A positive ttl makes the entry expire after that duration.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) (versionStamp string, err error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// List returns the live entries selected by sel in key order, plus the cursor
	// to continue from (empty when nothing is left).
	List(ctx context.Context, sel Selector, opts ListOptions) (entries []Entry, cursor string, err error)

	// Close releases the handle.
	Close() error
}

// Backend hands out connections to one store.
type Backend interface {
	Open(ctx context.Context) (Conn, error)
}
