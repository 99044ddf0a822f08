package document

import "time"

// Model is implemented by every document type.
type Model interface {
	// KeyPath returns the namespace the type's records live under (e.g., ["users"]).
	KeyPath() []string

	// IndexedFields returns the payload field names that get secondary index
	// records. Names are the encoded (json tag) names.
	IndexedFields() []string
}

// Defaulter is implemented by document types with default values.
//
// SetDefaults is called exactly once per construction, after attributes have
// been assigned, and must only fill fields that are still unset.
type Defaulter interface {
	SetDefaults()
}

// Document is the constraint satisfied by pointers to structs that embed Base
// and implement Model.
type Document[T any] interface {
	*T
	Model
	base() *Base
}

// Base carries the identity and bookkeeping fields of a document. Embed it in
// every document struct:
//
//	type User struct {
//	    document.Base
//	    FirstName string `json:"firstName"`
//	}
type Base struct {
	id           string
	createdAt    time.Time
	updatedAt    time.Time
	kind         string
	versionStamp string

	// extra keeps stored fields the Go type does not declare, so a save writes
	// them back unchanged.
	extra map[string]any
}

func (b *Base) base() *Base { return b }

// ID returns the document id (empty before the first save unless set).
func (b *Base) ID() string { return b.id }

// CreatedAt returns when the document was first saved.
func (b *Base) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt returns when the document was last re-saved (zero until then).
func (b *Base) UpdatedAt() time.Time { return b.updatedAt }

// Type returns the kind name stored on the document.
func (b *Base) Type() string { return b.kind }

// VersionStamp returns the stamp of the write the document was last synced with.
func (b *Base) VersionStamp() string { return b.versionStamp }

// IsNewDocument reports whether the document has never been persisted.
func (b *Base) IsNewDocument() bool { return b.versionStamp == "" }

// Extra returns a stored attribute the Go type does not declare.
func (b *Base) Extra(name string) (any, bool) {
	v, ok := b.extra[name]
	return v, ok
}

// SetID sets the document id. Once the document is persisted its id can no
// longer change.
func (b *Base) SetID(id string) error {
	if id == b.id {
		return nil
	}
	if b.id != "" && !b.IsNewDocument() {
		return ErrIDImmutable
	}
	b.id = id
	return nil
}
