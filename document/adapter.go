package document

import (
	"context"
	"fmt"
	"time"

	"github.com/jacentio/kvdoc/internal/keyspace"
	"github.com/jacentio/kvdoc/kv"
)

// Record is a primary record read back from the store.
type Record struct {
	Key          kv.Key
	Values       map[string]any
	VersionStamp string
}

// Adapter performs the raw record operations documents are built on. Every call
// opens its own connection and closes it before returning. Store errors are
// returned as they come; nothing is retried.
type Adapter struct {
	backend kv.Backend
	codec   Codec
}

// NewAdapter creates an Adapter encoding payloads with codec (JSON when nil).
func NewAdapter(backend kv.Backend, codec Codec) *Adapter {
	if codec == nil {
		codec = JSON
	}
	return &Adapter{backend: backend, codec: codec}
}

// withConn runs fn on a fresh connection. A close error is returned only when
// fn itself succeeded.
func (a *Adapter) withConn(ctx context.Context, fn func(conn kv.Conn) error) (err error) {
	conn, err := a.backend.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(conn)
}

// Put writes the primary record for id, then one index record per indexed field
// present in values, then reads the primary record back. A positive ttl applies
// to every record written. The returned record is nil if it vanished before the
// read-back.
func (a *Adapter) Put(ctx context.Context, values map[string]any, keyPath []string, id string, indexedFields []string, ttl time.Duration) (*Record, error) {
	data, err := a.codec.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("kvdoc: encode %s: %w", id, err)
	}

	primary := keyspace.Primary(keyPath, id)
	var rec *Record
	err = a.withConn(ctx, func(conn kv.Conn) error {
		if _, err := conn.Set(ctx, primary, data, ttl); err != nil {
			return err
		}
		for _, field := range indexedFields {
			v, ok := values[field]
			if !ok || v == nil {
				continue
			}
			if _, err := conn.Set(ctx, keyspace.Index(keyPath, field, FormatIndexValue(v)), []byte(id), ttl); err != nil {
				return err
			}
		}

		entry, found, err := conn.Get(ctx, primary)
		if err != nil || !found {
			return err
		}
		rec, err = a.decode(entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the primary record at key, or nil if it is missing or expired.
func (a *Adapter) Get(ctx context.Context, key kv.Key) (*Record, error) {
	var rec *Record
	err := a.withConn(ctx, func(conn kv.Conn) error {
		entry, found, err := conn.Get(ctx, key)
		if err != nil || !found {
			return err
		}
		rec, err = a.decode(entry)
		return err
	})
	return rec, err
}

// GetIndexValue returns the id an index record points at.
func (a *Adapter) GetIndexValue(ctx context.Context, key kv.Key) (string, bool, error) {
	var (
		id    string
		found bool
	)
	err := a.withConn(ctx, func(conn kv.Conn) error {
		entry, ok, err := conn.Get(ctx, key)
		if err != nil || !ok {
			return err
		}
		id, found = string(entry.Value), true
		return nil
	})
	return id, found, err
}

// Scan lists the primary records selected by sel.
func (a *Adapter) Scan(ctx context.Context, sel kv.Selector, opts kv.ListOptions) ([]*Record, string, error) {
	var (
		recs   []*Record
		cursor string
	)
	err := a.withConn(ctx, func(conn kv.Conn) error {
		entries, next, err := conn.List(ctx, sel, opts)
		if err != nil {
			return err
		}
		recs = make([]*Record, 0, len(entries))
		for _, entry := range entries {
			rec, err := a.decode(entry)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		cursor = next
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return recs, cursor, nil
}

// Delete removes the primary record for id and the index records derived from
// values.
func (a *Adapter) Delete(ctx context.Context, keyPath []string, id string, indexedFields []string, values map[string]any) error {
	return a.withConn(ctx, func(conn kv.Conn) error {
		if err := conn.Delete(ctx, keyspace.Primary(keyPath, id)); err != nil {
			return err
		}
		for _, field := range indexedFields {
			v, ok := values[field]
			if !ok || v == nil {
				continue
			}
			if err := conn.Delete(ctx, keyspace.Index(keyPath, field, FormatIndexValue(v))); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteIndexIfOwned removes the index record field = value only while it still
// points at id, and reports whether it did. The check and the delete are two
// separate store calls.
func (a *Adapter) DeleteIndexIfOwned(ctx context.Context, keyPath []string, field, value, id string) (bool, error) {
	key := keyspace.Index(keyPath, field, value)
	var deleted bool
	err := a.withConn(ctx, func(conn kv.Conn) error {
		entry, found, err := conn.Get(ctx, key)
		if err != nil || !found || string(entry.Value) != id {
			return err
		}
		if err := conn.Delete(ctx, key); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// Decode parses stored bytes into an attribute map.
func (a *Adapter) Decode(data []byte) (map[string]any, error) {
	values := map[string]any{}
	if err := a.codec.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("kvdoc: decode payload: %w", err)
	}
	return values, nil
}

func (a *Adapter) decode(entry kv.Entry) (*Record, error) {
	values, err := a.Decode(entry.Value)
	if err != nil {
		return nil, fmt.Errorf("%w (key %s)", err, entry.Key)
	}
	return &Record{Key: entry.Key, Values: values, VersionStamp: entry.VersionStamp}, nil
}
