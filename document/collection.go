package document

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/kvdoc/internal/keyspace"
	"github.com/jacentio/kvdoc/kv"
)

// ListOptions controls FindAll and FindByIDRange.
type ListOptions = kv.ListOptions

// Page is one page of documents and the cursor to continue from (empty when
// the scan is exhausted).
type Page[D any] struct {
	Docs   []D
	Cursor string
}

// SaveOption configures a Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	id  string
	ttl time.Duration
}

// WithID saves the document under id. It fails with ErrIDImmutable if the
// document is already persisted under a different id.
func WithID(id string) SaveOption {
	return func(o *saveOptions) {
		o.id = id
	}
}

// WithTTL makes the primary record and its index records expire after ttl.
func WithTTL(ttl time.Duration) SaveOption {
	return func(o *saveOptions) {
		o.ttl = ttl
	}
}

// Collection maps documents of type T onto a kv.Backend.
type Collection[T any, PT Document[T]] struct {
	adapter *Adapter
	config  Config
	kind    Kind
}

// NewCollection creates a Collection for T:
//
//	users, err := document.NewCollection[User](backend, document.DefaultConfig())
func NewCollection[T any, PT Document[T]](backend kv.Backend, config Config) (*Collection[T, PT], error) {
	var zero T
	model := PT(&zero)
	keyPath := append([]string(nil), model.KeyPath()...)
	if len(keyPath) == 0 {
		return nil, ErrNoKeyPath
	}

	config.validate(keyPath)
	kind := Kind{
		Name:          config.Kind,
		KeyPath:       keyPath,
		IndexedFields: append([]string(nil), model.IndexedFields()...),
	}
	if config.Registry != nil {
		if err := config.Registry.Register(kind); err != nil {
			return nil, err
		}
	}

	return &Collection[T, PT]{
		adapter: NewAdapter(backend, config.Codec),
		config:  config,
		kind:    kind,
	}, nil
}

// Kind returns the collection's kind.
func (c *Collection[T, PT]) Kind() Kind {
	return c.kind
}

// Adapter returns the adapter the collection writes through.
func (c *Collection[T, PT]) Adapter() *Adapter {
	return c.adapter
}

// New returns an empty, defaulted document.
func (c *Collection[T, PT]) New() PT {
	doc := PT(new(T))
	doc.base().kind = c.kind.Name
	c.setDefaults(doc)
	return doc
}

// NewFrom builds a document from attrs and an optional id, then applies
// defaults. Attributes the type does not declare are kept and written back on
// save.
func (c *Collection[T, PT]) NewFrom(attrs map[string]any, id string) (PT, error) {
	doc := PT(new(T))
	b := doc.base()
	if err := assign(doc, b, attrs); err != nil {
		return nil, err
	}
	if id != "" {
		b.id = id
	}
	b.kind = c.kind.Name
	c.setDefaults(doc)
	return doc, nil
}

func (c *Collection[T, PT]) setDefaults(doc PT) {
	if d, ok := any(doc).(Defaulter); ok {
		d.SetDefaults()
	}
}

// Values returns a deep copy of the document's attributes including the
// reserved fields, and _versionStamp once persisted.
func (c *Collection[T, PT]) Values(doc PT) (map[string]any, error) {
	b := doc.base()
	values, err := payload(doc, b)
	if err != nil {
		return nil, err
	}
	if b.versionStamp != "" {
		values[FieldVersionStamp] = b.versionStamp
	}
	return values, nil
}

// Save persists doc. A document without an id gets a new one; createdAt is set
// on the first save and updatedAt on every later one. When the stored record
// comes back with a different version stamp, it replaces the in-memory state.
func (c *Collection[T, PT]) Save(ctx context.Context, doc PT, opts ...SaveOption) error {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := doc.base()
	if o.id != "" {
		if err := b.SetID(o.id); err != nil {
			return err
		}
	}
	if b.id == "" {
		id, err := c.config.NewID()
		if err != nil {
			return fmt.Errorf("kvdoc: generate id: %w", err)
		}
		b.id = id
	}

	now := c.config.Now()
	if b.createdAt.IsZero() {
		b.createdAt = now
	} else {
		b.updatedAt = now
	}
	b.kind = c.kind.Name

	values, err := payload(doc, b)
	if err != nil {
		return err
	}

	if c.config.StrictIndexes {
		if err := c.dropStaleIndexes(ctx, b.id, values); err != nil {
			return err
		}
	}

	rec, err := c.adapter.Put(ctx, values, c.kind.KeyPath, b.id, c.kind.IndexedFields, o.ttl)
	if err != nil {
		return err
	}
	c.config.Logger.DebugContext(ctx, "document saved",
		slog.String("kind", c.kind.Name),
		slog.String("id", b.id),
	)
	return c.merge(doc, rec)
}

// dropStaleIndexes removes index records of the persisted version whose value
// differs from values.
func (c *Collection[T, PT]) dropStaleIndexes(ctx context.Context, id string, values map[string]any) error {
	if len(c.kind.IndexedFields) == 0 {
		return nil
	}
	old, err := c.adapter.Get(ctx, keyspace.Primary(c.kind.KeyPath, id))
	if err != nil || old == nil {
		return err
	}

	for field, prevValue := range StaleIndexes(c.kind.IndexedFields, old.Values, values) {
		deleted, err := c.adapter.DeleteIndexIfOwned(ctx, c.kind.KeyPath, field, prevValue, id)
		if err != nil {
			return err
		}
		if deleted {
			c.config.Logger.DebugContext(ctx, "stale index record removed",
				slog.String("kind", c.kind.Name),
				slog.String("id", id),
				slog.String("field", field),
				slog.String("value", prevValue),
			)
		}
	}
	return nil
}

// merge replaces doc with rec when rec carries a different version stamp.
func (c *Collection[T, PT]) merge(doc PT, rec *Record) error {
	if rec == nil || rec.VersionStamp == doc.base().versionStamp {
		return nil
	}
	fresh, err := c.fromRecord(rec)
	if err != nil {
		return err
	}
	*doc = *fresh
	return nil
}

// Refresh reloads doc from the store. It does nothing when doc has no id or no
// stored record.
func (c *Collection[T, PT]) Refresh(ctx context.Context, doc PT) error {
	id := doc.base().id
	if id == "" {
		return nil
	}
	rec, err := c.adapter.Get(ctx, keyspace.Primary(c.kind.KeyPath, id))
	if err != nil {
		return err
	}
	return c.merge(doc, rec)
}

// Delete removes doc's primary record and the index records of its current
// in-memory values. Refresh first if those may be stale.
func (c *Collection[T, PT]) Delete(ctx context.Context, doc PT) error {
	b := doc.base()
	if b.id == "" {
		return nil
	}
	values, err := payload(doc, b)
	if err != nil {
		return err
	}
	if err := c.adapter.Delete(ctx, c.kind.KeyPath, b.id, c.kind.IndexedFields, values); err != nil {
		return err
	}
	c.config.Logger.DebugContext(ctx, "document deleted",
		slog.String("kind", c.kind.Name),
		slog.String("id", b.id),
	)
	return nil
}

func (c *Collection[T, PT]) fromRecord(rec *Record) (PT, error) {
	doc, err := c.NewFrom(rec.Values, "")
	if err != nil {
		return nil, err
	}
	b := doc.base()
	if b.id == "" {
		if _, id, ok := keyspace.ParsePrimary(rec.Key); ok {
			b.id = id
		}
	}
	if kind, ok := rec.Values[FieldType].(string); ok && kind != "" {
		b.kind = kind
	}
	b.versionStamp = rec.VersionStamp
	return doc, nil
}

// FindByID returns the document with id, or an ErrNotFound error.
func (c *Collection[T, PT]) FindByID(ctx context.Context, id string) (PT, error) {
	rec, err := c.adapter.Get(ctx, keyspace.Primary(c.kind.KeyPath, id))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFound("%s %q not found", c.kind.Name, id)
	}
	return c.fromRecord(rec)
}

// TryFindByID is FindByID returning nil instead of a not-found error.
func (c *Collection[T, PT]) TryFindByID(ctx context.Context, id string) (PT, error) {
	doc, err := c.FindByID(ctx, id)
	if IsNotFound(err) {
		return nil, nil
	}
	return doc, err
}

// FindByField returns the document whose indexed field has value. An index
// record pointing at a missing document counts as not found.
func (c *Collection[T, PT]) FindByField(ctx context.Context, field string, value any) (PT, error) {
	formatted := FormatIndexValue(value)
	id, found, err := c.adapter.GetIndexValue(ctx, keyspace.Index(c.kind.KeyPath, field, formatted))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("%s with %s=%q not found", c.kind.Name, field, formatted)
	}
	doc, err := c.TryFindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, notFound("%s with %s=%q points at missing id %q", c.kind.Name, field, formatted, id)
	}
	return doc, nil
}

// TryFindByField is FindByField returning nil instead of a not-found error.
func (c *Collection[T, PT]) TryFindByField(ctx context.Context, field string, value any) (PT, error) {
	doc, err := c.FindByField(ctx, field, value)
	if IsNotFound(err) {
		return nil, nil
	}
	return doc, err
}

// FindAll lists every document of the collection in id order.
func (c *Collection[T, PT]) FindAll(ctx context.Context, opts ListOptions) (Page[PT], error) {
	return c.scan(ctx, kv.PrefixSelector(keyspace.PrimaryPrefix(c.kind.KeyPath)), opts)
}

// FindByIDRange lists the documents with fromID <= id < toID.
func (c *Collection[T, PT]) FindByIDRange(ctx context.Context, fromID, toID string, opts ListOptions) (Page[PT], error) {
	sel := kv.RangeSelector(keyspace.Primary(c.kind.KeyPath, fromID), keyspace.Primary(c.kind.KeyPath, toID))
	return c.scan(ctx, sel, opts)
}

func (c *Collection[T, PT]) scan(ctx context.Context, sel kv.Selector, opts ListOptions) (Page[PT], error) {
	recs, cursor, err := c.adapter.Scan(ctx, sel, opts)
	if err != nil {
		return Page[PT]{}, err
	}
	docs := make([]PT, 0, len(recs))
	for _, rec := range recs {
		doc, err := c.fromRecord(rec)
		if err != nil {
			return Page[PT]{}, err
		}
		docs = append(docs, doc)
	}
	return Page[PT]{Docs: docs, Cursor: cursor}, nil
}

// FindOrCreateByID returns the stored document with id, or a new unsaved,
// defaulted document carrying id.
func (c *Collection[T, PT]) FindOrCreateByID(ctx context.Context, id string) (PT, error) {
	doc, err := c.TryFindByID(ctx, id)
	if err != nil || doc != nil {
		return doc, err
	}
	doc = c.New()
	doc.base().id = id
	return doc, nil
}

// TryFindFirst returns the document with the lowest id, or nil.
func (c *Collection[T, PT]) TryFindFirst(ctx context.Context) (PT, error) {
	return c.tryFindEdge(ctx, false)
}

// TryFindLast returns the document with the highest id, or nil.
func (c *Collection[T, PT]) TryFindLast(ctx context.Context) (PT, error) {
	return c.tryFindEdge(ctx, true)
}

func (c *Collection[T, PT]) tryFindEdge(ctx context.Context, reverse bool) (PT, error) {
	page, err := c.FindAll(ctx, ListOptions{Reverse: reverse, Limit: 1})
	if err != nil || len(page.Docs) == 0 {
		return nil, err
	}
	return page.Docs[0], nil
}
