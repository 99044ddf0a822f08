package document

import (
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jacentio/kvdoc/internal/keyspace"
	"github.com/jacentio/kvdoc/kv"
)

// Kind describes one document type: the discriminator written to its "type"
// field and where its records live.
type Kind struct {
	// Name is the discriminator stored on every record (e.g., "user").
	Name string

	// KeyPath is the namespace of the type's records (e.g., ["users"]).
	KeyPath []string

	// IndexedFields lists the fields with secondary index records.
	IndexedFields []string
}

// IsIndexed reports whether field has secondary index records.
func (k Kind) IsIndexed(field string) bool {
	for _, f := range k.IndexedFields {
		if f == field {
			return true
		}
	}
	return false
}

// Registry holds the kinds known to a process, keyed by key path.
// It is safe for concurrent use.
type Registry struct {
	byPath *xsync.MapOf[string, Kind]
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{byPath: xsync.NewMapOf[string, Kind]()}
}

// Register adds a kind. Registering the same key path again under the same name
// is a no-op; under a different name it fails with ErrKindConflict.
func (r *Registry) Register(k Kind) error {
	if len(k.KeyPath) == 0 {
		return ErrNoKeyPath
	}
	actual, loaded := r.byPath.LoadOrStore(kv.EncodeKey(k.KeyPath), k)
	if loaded && actual.Name != k.Name {
		return fmt.Errorf("%w: %s is %q, not %q", ErrKindConflict, kv.Key(k.KeyPath), actual.Name, k.Name)
	}
	return nil
}

// Lookup returns the kind registered for keyPath.
func (r *Registry) Lookup(keyPath []string) (Kind, bool) {
	return r.byPath.Load(kv.EncodeKey(keyPath))
}

// KindOf returns the kind owning the primary record at key.
func (r *Registry) KindOf(key kv.Key) (Kind, bool) {
	keyPath, _, ok := keyspace.ParsePrimary(key)
	if !ok {
		return Kind{}, false
	}
	return r.Lookup(keyPath)
}

// Kinds returns every registered kind, sorted by name.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, r.byPath.Size())
	r.byPath.Range(func(_ string, k Kind) bool {
		kinds = append(kinds, k)
		return true
	})
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Name < kinds[j].Name })
	return kinds
}
