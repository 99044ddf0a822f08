// Package document maps typed documents onto an ordered key-value store.
//
// kvdoc gives plain Go structs an identity, a storage location, secondary index
// lookups and cursor pagination on top of any kv.Backend (memory, Redis,
// DynamoDB, MongoDB).
//
// # Key Features
//
//   - Sortable generated ids (UUIDv7), so first/last queries follow creation order
//   - Secondary index records per declared field for equality lookups
//   - Prefix and id-range listing in both directions with resumable cursors
//   - Per-save expiry applied to a document and its index records together
//   - Version-stamp based refresh
//
// # Document Types
//
// A document type embeds [Base] and implements [Model]; [Defaulter] is optional:
//
//	type User struct {
//	    document.Base
//	    FirstName string `json:"firstName"`
//	    Age       int    `json:"age"`
//	}
//
//	func (User) KeyPath() []string       { return []string{"users"} }
//	func (User) IndexedFields() []string { return []string{"firstName"} }
//
//	func (u *User) SetDefaults() {
//	    if u.Age == 0 {
//	        u.Age = 42
//	    }
//	}
//
// # Storage Layout
//
// A document with id I is stored at KeyPath/by_id/I as a payload holding its
// fields plus _id, createdAt, updatedAt and type. Each indexed field F with a
// non-null value V adds KeyPath/by_field/F/V holding I.
//
// # Index Maintenance
//
// By default index records are written on every save and removed only on
// delete, using the values the document has at that moment. Changing an indexed
// field therefore leaves the old record behind, still pointing at the document.
// [Config].StrictIndexes removes such records during Save; for DynamoDB the
// stream package can do the same asynchronously from the table's stream.
//
// Saves are last-writer-wins. The version stamp returned by the store is merged
// back into the document but never used as a write condition.
//
// # Errors
//
//   - [ErrNotFound] - no document or index record (match with [IsNotFound] or errors.Is)
//   - [ErrIDImmutable] - the id of a persisted document was changed
//   - [ErrKindConflict] - a key path was registered under two kind names
//   - [ErrNoKeyPath] - a model declares an empty key path
//
// Errors from the store are returned unchanged.
package document
