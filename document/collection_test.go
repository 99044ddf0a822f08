package document_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jacentio/kvdoc/document"
	"github.com/jacentio/kvdoc/kv"
	"github.com/jacentio/kvdoc/kv/kvtest"
	"github.com/jacentio/kvdoc/kv/memkv"
)

// --- Test Document Types ---

type TestUser struct {
	document.Base
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	Age       int    `json:"age"`
}

func (TestUser) KeyPath() []string       { return []string{"test-users"} }
func (TestUser) IndexedFields() []string { return []string{"firstName"} }

func (u *TestUser) SetDefaults() {
	if u.Age == 0 {
		u.Age = 42
	}
}

type env struct {
	users *document.Collection[TestUser, *TestUser]
	store *memkv.Store
	clock *kvtest.Clock
}

func newEnv(t *testing.T, configure ...func(*document.Config)) *env {
	t.Helper()
	clock := kvtest.NewClock()
	store := memkv.New(memkv.WithClock(clock.Now))

	cfg := document.DefaultConfig()
	cfg.Now = clock.Now
	for _, fn := range configure {
		fn(&cfg)
	}
	users, err := document.NewCollection[TestUser](store, cfg)
	if err != nil {
		t.Fatalf("NewCollection: %v", err)
	}
	return &env{users: users, store: store, clock: clock}
}

func (e *env) save(t *testing.T, firstName string, opts ...document.SaveOption) *TestUser {
	t.Helper()
	u := e.users.New()
	u.FirstName = firstName
	if err := e.users.Save(context.Background(), u, opts...); err != nil {
		t.Fatalf("Save(%q): %v", firstName, err)
	}
	return u
}

func (e *env) rawKeys(t *testing.T, prefix kv.Key) []string {
	t.Helper()
	conn, err := e.store.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()
	entries, _, err := conn.List(context.Background(), kv.PrefixSelector(prefix), kv.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key.String()
	}
	return keys
}

// --- Lifecycle Tests ---

func TestSave_AssignsIDAndVersionStamp(t *testing.T) {
	e := newEnv(t)
	u := e.users.New()
	u.FirstName = "John"

	if !u.IsNewDocument() {
		t.Error("expected new document before save")
	}
	if err := e.users.Save(context.Background(), u); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if u.IsNewDocument() {
		t.Error("expected persisted document after save")
	}
	if len(u.ID()) < 6 {
		t.Errorf("expected id of at least 6 characters, got %q", u.ID())
	}
	if u.VersionStamp() == "" {
		t.Error("expected version stamp after save")
	}
	if u.Type() != "test-users" {
		t.Errorf("expected type 'test-users', got %q", u.Type())
	}
}

func TestSave_Timestamps(t *testing.T) {
	e := newEnv(t)
	u := e.save(t, "John")

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !u.CreatedAt().Equal(created) {
		t.Errorf("expected createdAt %v, got %v", created, u.CreatedAt())
	}
	if !u.UpdatedAt().IsZero() {
		t.Errorf("expected no updatedAt after first save, got %v", u.UpdatedAt())
	}

	e.clock.Advance(1500 * time.Millisecond)
	first := u.VersionStamp()
	if err := e.users.Save(context.Background(), u); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !u.CreatedAt().Equal(created) {
		t.Errorf("expected createdAt unchanged, got %v", u.CreatedAt())
	}
	if !u.UpdatedAt().Equal(created.Add(1500 * time.Millisecond)) {
		t.Errorf("expected updatedAt %v, got %v", created.Add(1500*time.Millisecond), u.UpdatedAt())
	}
	if u.VersionStamp() == first {
		t.Error("expected a new version stamp on re-save")
	}

	values, err := e.users.Values(u)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if values["createdAt"] != "2024-01-01T00:00:00.000Z" {
		t.Errorf("expected ISO createdAt, got %v", values["createdAt"])
	}
	if values["updatedAt"] != "2024-01-01T00:00:01.500Z" {
		t.Errorf("expected ISO updatedAt, got %v", values["updatedAt"])
	}
}

func TestSave_WithID(t *testing.T) {
	e := newEnv(t)
	u := e.save(t, "John", document.WithID("custom-id"))

	if u.ID() != "custom-id" {
		t.Errorf("expected id 'custom-id', got %q", u.ID())
	}
	found, err := e.users.FindByID(context.Background(), "custom-id")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if found.FirstName != "John" {
		t.Errorf("expected firstName 'John', got %q", found.FirstName)
	}
}

func TestSave_IDImmutable(t *testing.T) {
	e := newEnv(t)
	u := e.save(t, "John")

	err := e.users.Save(context.Background(), u, document.WithID("other"))
	if !errors.Is(err, document.ErrIDImmutable) {
		t.Errorf("expected ErrIDImmutable from Save, got %v", err)
	}
	if err := u.SetID("other"); !errors.Is(err, document.ErrIDImmutable) {
		t.Errorf("expected ErrIDImmutable from SetID, got %v", err)
	}
	if err := u.SetID(u.ID()); err != nil {
		t.Errorf("expected setting the same id to succeed, got %v", err)
	}

	fresh := e.users.New()
	if err := fresh.SetID("a"); err != nil {
		t.Fatalf("SetID on new document: %v", err)
	}
	if err := fresh.SetID("b"); err != nil {
		t.Errorf("expected unsaved document id to stay mutable, got %v", err)
	}
}

func TestSave_Merge(t *testing.T) {
	e := newEnv(t)
	u := e.save(t, "John")

	// A second copy saved later wins; refreshing the first pulls it in.
	other, err := e.users.FindByID(context.Background(), u.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	other.LastName = "Doe"
	if err := e.users.Save(context.Background(), other); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := e.users.Refresh(context.Background(), u); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if u.LastName != "Doe" {
		t.Errorf("expected refreshed lastName 'Doe', got %q", u.LastName)
	}
	if u.VersionStamp() != other.VersionStamp() {
		t.Errorf("expected stamp %q, got %q", other.VersionStamp(), u.VersionStamp())
	}
}

func TestRefresh_NoOp(t *testing.T) {
	e := newEnv(t)

	u := e.users.New()
	u.FirstName = "unsaved"
	if err := e.users.Refresh(context.Background(), u); err != nil {
		t.Fatalf("Refresh without id: %v", err)
	}
	if u.FirstName != "unsaved" {
		t.Errorf("expected document untouched, got %q", u.FirstName)
	}

	_ = u.SetID("missing")
	if err := e.users.Refresh(context.Background(), u); err != nil {
		t.Fatalf("Refresh of missing record: %v", err)
	}
	if u.FirstName != "unsaved" || !u.IsNewDocument() {
		t.Error("expected document untouched when record is absent")
	}
}

func TestNew_Defaults(t *testing.T) {
	e := newEnv(t)

	u := e.users.New()
	if u.Age != 42 {
		t.Errorf("expected default age 42, got %d", u.Age)
	}

	u, err := e.users.NewFrom(map[string]any{"firstName": "Jane", "age": 7}, "jane")
	if err != nil {
		t.Fatalf("NewFrom: %v", err)
	}
	if u.Age != 7 {
		t.Errorf("expected explicit age 7 to survive defaults, got %d", u.Age)
	}
	if u.ID() != "jane" || u.FirstName != "Jane" {
		t.Errorf("expected id 'jane' and firstName 'Jane', got %q and %q", u.ID(), u.FirstName)
	}
	if !u.IsNewDocument() {
		t.Error("expected NewFrom to build an unsaved document")
	}
}

func TestValues(t *testing.T) {
	e := newEnv(t)
	u := e.users.New()
	u.FirstName = "John"

	values, err := e.users.Values(u)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if _, ok := values["_versionStamp"]; ok {
		t.Error("expected no _versionStamp before save")
	}
	if _, ok := values["_id"]; ok {
		t.Error("expected no _id before save")
	}

	if err := e.users.Save(context.Background(), u); err != nil {
		t.Fatalf("Save: %v", err)
	}
	values, _ = e.users.Values(u)
	if values["_id"] != u.ID() {
		t.Errorf("expected _id %q, got %v", u.ID(), values["_id"])
	}
	if values["_versionStamp"] != u.VersionStamp() {
		t.Errorf("expected _versionStamp %q, got %v", u.VersionStamp(), values["_versionStamp"])
	}
	if values["type"] != "test-users" {
		t.Errorf("expected type 'test-users', got %v", values["type"])
	}
	if values["firstName"] != "John" {
		t.Errorf("expected firstName 'John', got %v", values["firstName"])
	}

	// The map is a copy.
	values["firstName"] = "changed"
	if u.FirstName != "John" {
		t.Error("expected Values to return a copy")
	}
}

func TestExtraFields_RoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	conn, _ := e.store.Open(ctx)
	_, err := conn.Set(ctx, kv.Key{"test-users", "by_id", "legacy"},
		[]byte(`{"_id":"legacy","firstName":"Old","nickname":"Z","prefs":{"theme":"dark"}}`), 0)
	conn.Close()
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	u, err := e.users.FindByID(ctx, "legacy")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if v, ok := u.Extra("nickname"); !ok || v != "Z" {
		t.Errorf("expected extra nickname 'Z', got %v", v)
	}
	if _, ok := u.Extra("firstName"); ok {
		t.Error("expected declared field not to land in extra")
	}

	u.FirstName = "New"
	if err := e.users.Save(ctx, u); err != nil {
		t.Fatalf("Save: %v", err)
	}

	conn, _ = e.store.Open(ctx)
	defer conn.Close()
	entry, _, _ := conn.Get(ctx, kv.Key{"test-users", "by_id", "legacy"})
	raw, err := e.users.Adapter().Decode(entry.Value)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if raw["nickname"] != "Z" {
		t.Errorf("expected nickname preserved, got %v", raw["nickname"])
	}
	if prefs, ok := raw["prefs"].(map[string]any); !ok || prefs["theme"] != "dark" {
		t.Errorf("expected nested extra preserved, got %v", raw["prefs"])
	}
	if raw["firstName"] != "New" {
		t.Errorf("expected firstName 'New', got %v", raw["firstName"])
	}
}

// --- Finder Tests ---

func TestFindByID_NotFound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	u, err := e.users.TryFindByID(ctx, "never-saved")
	if err != nil {
		t.Fatalf("TryFindByID: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil, got %+v", u)
	}

	_, err = e.users.FindByID(ctx, "never-saved")
	if !document.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !errors.Is(err, document.ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound)")
	}
	var docErr *document.Error
	if !errors.As(err, &docErr) || docErr.Status != 404 || !docErr.IsNotFound() {
		t.Errorf("expected *document.Error with status 404, got %#v", err)
	}
}

func TestTryFindFirstLast(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.users.TryFindFirst(ctx)
	if err != nil || first != nil {
		t.Fatalf("expected nil on empty collection, got %v, %v", first, err)
	}

	a := e.save(t, "A")
	b := e.save(t, "B")
	if a.ID() >= b.ID() {
		t.Errorf("expected ids in creation order, got %q then %q", a.ID(), b.ID())
	}

	first, err = e.users.TryFindFirst(ctx)
	if err != nil {
		t.Fatalf("TryFindFirst: %v", err)
	}
	if first == nil || first.ID() != a.ID() {
		t.Errorf("expected first %q, got %v", a.ID(), first)
	}

	last, err := e.users.TryFindLast(ctx)
	if err != nil {
		t.Fatalf("TryFindLast: %v", err)
	}
	if last == nil || last.ID() != b.ID() {
		t.Errorf("expected last %q, got %v", b.ID(), last)
	}
}

func TestFindOrCreateByID(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	saved := e.save(t, "John")

	u, err := e.users.FindOrCreateByID(ctx, "other_id")
	if err != nil {
		t.Fatalf("FindOrCreateByID: %v", err)
	}
	if u.ID() != "other_id" {
		t.Errorf("expected id 'other_id', got %q", u.ID())
	}
	if u.Age != 42 || u.FirstName != "" {
		t.Errorf("expected default values, got age %d firstName %q", u.Age, u.FirstName)
	}
	if u.VersionStamp() == saved.VersionStamp() || !u.IsNewDocument() {
		t.Error("expected an unpersisted document")
	}

	existing, err := e.users.FindOrCreateByID(ctx, saved.ID())
	if err != nil {
		t.Fatalf("FindOrCreateByID existing: %v", err)
	}
	if existing.FirstName != "John" || existing.IsNewDocument() {
		t.Errorf("expected the stored document, got %+v", existing)
	}
}

func TestFindByField(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	saved := e.save(t, "John")

	u, err := e.users.FindByField(ctx, "firstName", "John")
	if err != nil {
		t.Fatalf("FindByField: %v", err)
	}
	if u.ID() != saved.ID() {
		t.Errorf("expected %q, got %q", saved.ID(), u.ID())
	}

	_, err = e.users.FindByField(ctx, "firstName", "Nobody")
	if !document.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	u, err = e.users.TryFindByField(ctx, "firstName", "Nobody")
	if err != nil || u != nil {
		t.Errorf("expected nil, nil; got %v, %v", u, err)
	}
}

func TestFindByField_DanglingIndex(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	conn, _ := e.store.Open(ctx)
	conn.Set(ctx, kv.Key{"test-users", "by_field", "firstName", "Ghost"}, []byte("gone"), 0)
	conn.Close()

	_, err := e.users.FindByField(ctx, "firstName", "Ghost")
	if !document.IsNotFound(err) {
		t.Errorf("expected not found for index pointing at a missing id, got %v", err)
	}
}

func TestFindAll_Pagination(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.save(t, "A")
	b := e.save(t, "B")

	page, err := e.users.FindAll(ctx, document.ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(page.Docs) != 1 || page.Docs[0].ID() != a.ID() {
		t.Fatalf("expected first page [%s], got %d docs", a.ID(), len(page.Docs))
	}
	if page.Cursor == "" {
		t.Fatal("expected a cursor after the first page")
	}

	page, err = e.users.FindAll(ctx, document.ListOptions{Limit: 1, Cursor: page.Cursor})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(page.Docs) != 1 || page.Docs[0].ID() != b.ID() {
		t.Fatalf("expected second page [%s], got %d docs", b.ID(), len(page.Docs))
	}
	if page.Cursor != "" {
		t.Errorf("expected exhausted scan, got cursor %q", page.Cursor)
	}

	page, err = e.users.FindAll(ctx, document.ListOptions{Reverse: true})
	if err != nil {
		t.Fatalf("FindAll reverse: %v", err)
	}
	if len(page.Docs) != 2 || page.Docs[0].ID() != b.ID() {
		t.Errorf("expected descending order starting at %s", b.ID())
	}
}

func TestFindAll_SkipsIndexRecords(t *testing.T) {
	e := newEnv(t)
	e.save(t, "A")

	page, err := e.users.FindAll(context.Background(), document.ListOptions{})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(page.Docs) != 1 {
		t.Errorf("expected only primary records, got %d docs", len(page.Docs))
	}
}

func TestFindByIDRange(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		e.save(t, id, document.WithID(id))
	}

	page, err := e.users.FindByIDRange(ctx, "b", "d", document.ListOptions{})
	if err != nil {
		t.Fatalf("FindByIDRange: %v", err)
	}
	if len(page.Docs) != 2 || page.Docs[0].ID() != "b" || page.Docs[1].ID() != "c" {
		t.Errorf("expected [b c], got %d docs", len(page.Docs))
	}

	page, err = e.users.FindByIDRange(ctx, "a", "d", document.ListOptions{Reverse: true, Limit: 2})
	if err != nil {
		t.Fatalf("FindByIDRange reverse: %v", err)
	}
	if len(page.Docs) != 2 || page.Docs[0].ID() != "c" || page.Docs[1].ID() != "b" {
		t.Errorf("expected [c b], got %d docs", len(page.Docs))
	}

	page, err = e.users.FindByIDRange(ctx, "a", "d", document.ListOptions{Reverse: true, Limit: 2, Cursor: page.Cursor})
	if err != nil {
		t.Fatalf("FindByIDRange resume: %v", err)
	}
	if len(page.Docs) != 1 || page.Docs[0].ID() != "a" || page.Cursor != "" {
		t.Errorf("expected final page [a], got %d docs cursor %q", len(page.Docs), page.Cursor)
	}
}

// --- Expiry and Deletion Tests ---

func TestSave_TTL(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.save(t, "Temp", document.WithTTL(500*time.Millisecond))

	found, err := e.users.TryFindByID(ctx, u.ID())
	if err != nil || found == nil {
		t.Fatalf("expected document before expiry, got %v, %v", found, err)
	}

	e.clock.Advance(600 * time.Millisecond)

	found, err = e.users.TryFindByID(ctx, u.ID())
	if err != nil {
		t.Fatalf("TryFindByID: %v", err)
	}
	if found != nil {
		t.Error("expected document to expire")
	}
	byField, err := e.users.TryFindByField(ctx, "firstName", "Temp")
	if err != nil {
		t.Fatalf("TryFindByField: %v", err)
	}
	if byField != nil {
		t.Error("expected index record to expire with the document")
	}
	if keys := e.rawKeys(t, kv.Key{"test-users"}); len(keys) != 0 {
		t.Errorf("expected no live raw entries, got %v", keys)
	}
}

func TestDelete_Sweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.save(t, "A")
	e.save(t, "B")
	e.save(t, "C", document.WithID("custom"))

	page, err := e.users.FindAll(ctx, document.ListOptions{})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	for _, u := range page.Docs {
		if err := e.users.Delete(ctx, u); err != nil {
			t.Fatalf("Delete(%s): %v", u.ID(), err)
		}
	}

	page, err = e.users.FindAll(ctx, document.ListOptions{})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(page.Docs) != 0 {
		t.Errorf("expected no documents, got %d", len(page.Docs))
	}
	if keys := e.rawKeys(t, kv.Key{"test-users"}); len(keys) != 0 {
		t.Errorf("expected no raw entries under the key path, got %v", keys)
	}
}

func TestDelete_WithoutID(t *testing.T) {
	e := newEnv(t)
	if err := e.users.Delete(context.Background(), e.users.New()); err != nil {
		t.Errorf("expected deleting an unsaved document to be a no-op, got %v", err)
	}
}

// --- Index Maintenance Tests ---

func TestStaleIndex_DefaultKeepsOldRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.save(t, "Before")

	u.FirstName = "After"
	if err := e.users.Save(ctx, u); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// The old index record still resolves to the renamed document.
	stale, err := e.users.FindByField(ctx, "firstName", "Before")
	if err != nil {
		t.Fatalf("expected stale index lookup to succeed, got %v", err)
	}
	if stale.ID() != u.ID() || stale.FirstName != "After" {
		t.Errorf("expected stale lookup to return the renamed document, got %q/%q", stale.ID(), stale.FirstName)
	}

	current, err := e.users.FindByField(ctx, "firstName", "After")
	if err != nil || current.ID() != u.ID() {
		t.Errorf("expected current lookup to succeed, got %v", err)
	}

	// Delete only knows the current value.
	if err := e.users.Delete(ctx, u); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	keys := e.rawKeys(t, kv.Key{"test-users"})
	if len(keys) != 1 || keys[0] != "test-users/by_field/firstName/Before" {
		t.Errorf("expected only the stale index record left, got %v", keys)
	}
}

func TestStaleIndex_StrictRemovesOldRecord(t *testing.T) {
	e := newEnv(t, func(c *document.Config) { c.StrictIndexes = true })
	ctx := context.Background()
	u := e.save(t, "Before")

	u.FirstName = "After"
	if err := e.users.Save(ctx, u); err != nil {
		t.Fatalf("Save: %v", err)
	}

	stale, err := e.users.TryFindByField(ctx, "firstName", "Before")
	if err != nil {
		t.Fatalf("TryFindByField: %v", err)
	}
	if stale != nil {
		t.Error("expected old index record to be removed")
	}
	if _, err := e.users.FindByField(ctx, "firstName", "After"); err != nil {
		t.Errorf("expected current lookup to succeed, got %v", err)
	}

	if err := e.users.Delete(ctx, u); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if keys := e.rawKeys(t, kv.Key{"test-users"}); len(keys) != 0 {
		t.Errorf("expected no raw entries, got %v", keys)
	}
}

func TestStaleIndex_StrictKeepsForeignRecord(t *testing.T) {
	e := newEnv(t, func(c *document.Config) { c.StrictIndexes = true })
	ctx := context.Background()
	first := e.save(t, "Shared")
	second := e.save(t, "Shared")

	// The index now points at second; renaming first must not remove it.
	first.FirstName = "Renamed"
	if err := e.users.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	u, err := e.users.FindByField(ctx, "firstName", "Shared")
	if err != nil {
		t.Fatalf("FindByField: %v", err)
	}
	if u.ID() != second.ID() {
		t.Errorf("expected index to keep pointing at %q, got %q", second.ID(), u.ID())
	}
}

// --- Configuration Tests ---

func TestNewCollection_Registry(t *testing.T) {
	reg := document.NewRegistry()
	store := memkv.New()

	cfg := document.DefaultConfig()
	cfg.Registry = reg
	cfg.Kind = "user"
	users, err := document.NewCollection[TestUser](store, cfg)
	if err != nil {
		t.Fatalf("NewCollection: %v", err)
	}
	if users.Kind().Name != "user" {
		t.Errorf("expected kind 'user', got %q", users.Kind().Name)
	}

	kind, ok := reg.Lookup([]string{"test-users"})
	if !ok || kind.Name != "user" || !kind.IsIndexed("firstName") {
		t.Errorf("expected registered kind, got %+v", kind)
	}

	cfg.Kind = "member"
	if _, err := document.NewCollection[TestUser](store, cfg); !errors.Is(err, document.ErrKindConflict) {
		t.Errorf("expected ErrKindConflict, got %v", err)
	}
}

func TestCollection_CBOR(t *testing.T) {
	e := newEnv(t, func(c *document.Config) { c.Codec = document.CBOR })
	ctx := context.Background()
	u := e.save(t, "Cbor")

	found, err := e.users.FindByField(ctx, "firstName", "Cbor")
	if err != nil {
		t.Fatalf("FindByField: %v", err)
	}
	if found.ID() != u.ID() || found.Age != 42 {
		t.Errorf("expected round-tripped document, got %+v", found)
	}
}

type Untyped struct {
	document.Base
}

func (Untyped) KeyPath() []string       { return nil }
func (Untyped) IndexedFields() []string { return nil }

func TestNewCollection_NoKeyPath(t *testing.T) {
	_, err := document.NewCollection[Untyped](memkv.New(), document.DefaultConfig())
	if !errors.Is(err, document.ErrNoKeyPath) {
		t.Errorf("expected ErrNoKeyPath, got %v", err)
	}
}

type Account struct {
	document.Base
	Balance int64  `json:"balance"`
	Credits uint64 `json:"credits"`
}

func (Account) KeyPath() []string       { return []string{"accounts"} }
func (Account) IndexedFields() []string { return []string{"balance", "credits"} }

func TestSave_LargeIntegersExact(t *testing.T) {
	const balance = int64(1<<60 + 1)
	const credits = uint64(1<<63 + 1)

	for _, codec := range []document.Codec{document.JSON, document.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			cfg := document.DefaultConfig()
			cfg.Codec = codec
			accounts, err := document.NewCollection[Account](memkv.New(), cfg)
			if err != nil {
				t.Fatalf("NewCollection: %v", err)
			}
			ctx := context.Background()

			a := accounts.New()
			a.Balance = balance
			a.Credits = credits
			if err := accounts.Save(ctx, a); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if a.Balance != balance || a.Credits != credits {
				t.Errorf("expected %d/%d after save, got %d/%d", balance, credits, a.Balance, a.Credits)
			}

			found, err := accounts.FindByID(ctx, a.ID())
			if err != nil {
				t.Fatalf("FindByID: %v", err)
			}
			if found.Balance != balance || found.Credits != credits {
				t.Errorf("expected %d/%d after reload, got %d/%d", balance, credits, found.Balance, found.Credits)
			}

			byBalance, err := accounts.FindByField(ctx, "balance", balance)
			if err != nil {
				t.Fatalf("FindByField(balance): %v", err)
			}
			if byBalance.ID() != a.ID() {
				t.Errorf("expected %q, got %q", a.ID(), byBalance.ID())
			}
			if _, err := accounts.FindByField(ctx, "credits", credits); err != nil {
				t.Errorf("FindByField(credits): %v", err)
			}
			if _, err := accounts.FindByField(ctx, "balance", balance-1); !document.IsNotFound(err) {
				t.Errorf("expected neighbouring value not found, got %v", err)
			}
		})
	}
}
