// Package kv defines the boundary between kvdoc and the ordered key-value store it
// runs on.
//
// A store is modelled as an ordered map keyed by segment sequences ([Key]). Every
// write returns an opaque version stamp, entries may carry an expiry, and entries
// can be listed in key order under a prefix or between two keys with resumable
// cursors.
//
// # Connections
//
// Callers obtain a [Conn] from a [Backend] for the duration of one logical
// operation and must close it on every exit path:
//
//	conn, err := backend.Open(ctx)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
// # Key Encoding
//
// [EncodeKey] maps a Key to a string whose byte order matches the segment-wise
// order of the Key, and in which a key prefix encodes to a byte prefix. Each
// segment is escaped and terminated by 0x00, so the encoding stays valid UTF-8
// and can be used directly as a Redis sorted-set member, a DynamoDB sort key or a
// MongoDB _id.
//
// # Listing
//
// A [Selector] picks either every key strictly under a prefix, or the keys in the
// half-open range [Start, End). [ListOptions] controls direction, page size and
// the cursor to resume from. The cursor returned with a page points at the last
// entry of that page and is empty once the selection is exhausted.
//
// # Implementations
//
//   - memkv: in-process B-tree, mainly for tests and single-process use
//   - rediskv: Redis hash per entry plus a lexicographic sorted set
//   - dynamokv: single DynamoDB table (pk = first segment, sk = remainder)
//   - mongokv: MongoDB collection keyed by the encoded key
//
// kvmetrics wraps any Backend with Prometheus instrumentation and kvtest holds the
// conformance suite every implementation is expected to pass.
package kv
