// Package keyspace derives the store keys documents and their secondary index
// records live under.
//
// For a key path P a document with id I is stored at P/by_id/I, and each indexed
// field F with value V adds a record at P/by_field/F/V whose value is I.
package keyspace

import "github.com/jacentio/kvdoc/kv"

const (
	// ByID is the segment under which primary records live.
	ByID = "by_id"

	// ByField is the segment under which index records live.
	ByField = "by_field"
)

// PrimaryPrefix returns the prefix shared by every primary record under keyPath.
func PrimaryPrefix(keyPath []string) kv.Key {
	return kv.Key(keyPath).Append(ByID)
}

// Primary returns the key of the primary record for id.
func Primary(keyPath []string, id string) kv.Key {
	return kv.Key(keyPath).Append(ByID, id)
}

// IndexPrefix returns the prefix shared by the index records of field.
func IndexPrefix(keyPath []string, field string) kv.Key {
	return kv.Key(keyPath).Append(ByField, field)
}

// Index returns the key of the index record for field = value.
func Index(keyPath []string, field, value string) kv.Key {
	return kv.Key(keyPath).Append(ByField, field, value)
}

// ParsePrimary splits a primary record key into its key path and id.
func ParsePrimary(key kv.Key) (keyPath []string, id string, ok bool) {
	n := len(key)
	if n < 2 || key[n-2] != ByID {
		return nil, "", false
	}
	return append([]string(nil), key[:n-2]...), key[n-1], true
}

// ParseIndex splits an index record key into its key path, field and value.
func ParseIndex(key kv.Key) (keyPath []string, field, value string, ok bool) {
	n := len(key)
	if n < 3 || key[n-3] != ByField {
		return nil, "", "", false
	}
	return append([]string(nil), key[:n-3]...), key[n-2], key[n-1], true
}
