// Package mongokv is a kv.Backend on a MongoDB collection.
//
// Documents are {_id: <encoded key>, k: [segments], v: <binary>, vs: <stamp>,
// exp: <date>}. String _id values compare byte-wise, so an _id range scan walks
// keys in order. Expired documents are filtered out of reads; EnsureIndexes adds
// a TTL index on exp so the server eventually removes them.
package mongokv

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jacentio/kvdoc/kv"
)

type document struct {
	ID        string     `bson:"_id"`
	Key       []string   `bson:"k"`
	Value     []byte     `bson:"v"`
	Stamp     string     `bson:"vs"`
	ExpiresAt *time.Time `bson:"exp,omitempty"`
}

func (d document) entry() kv.Entry {
	return kv.Entry{Key: kv.Key(d.Key), Value: d.Value, VersionStamp: d.Stamp}
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used to stamp and filter expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is a kv.Backend over one collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// New creates a Store on coll. The client is needed to start sessions.
func New(client *mongo.Client, coll *mongo.Collection, opts ...Option) *Store {
	s := &Store{client: client, coll: coll, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri and returns a Store on database.collection.
func Connect(ctx context.Context, uri, database, collection string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongokv: connect: %w", err)
	}
	return New(client, client.Database(database).Collection(collection), opts...), nil
}

// Disconnect closes the underlying client.
func (s *Store) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the TTL index on exp.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "exp", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("exp_ttl"),
	})
	if err != nil {
		return fmt.Errorf("mongokv: create ttl index: %w", err)
	}
	return nil
}

// Open starts a session that backs the connection until Close.
func (s *Store) Open(ctx context.Context) (kv.Conn, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("mongokv: start session: %w", err)
	}
	return &conn{store: s, sess: sess}, nil
}

type conn struct {
	store  *Store
	sess   mongo.Session
	closed atomic.Bool
}

func (c *conn) ctx(ctx context.Context) (context.Context, error) {
	if c.closed.Load() {
		return nil, kv.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return mongo.NewSessionContext(ctx, c.sess), nil
}

func (c *conn) Get(ctx context.Context, key kv.Key) (kv.Entry, bool, error) {
	sctx, err := c.ctx(ctx)
	if err != nil {
		return kv.Entry{}, false, err
	}
	s := c.store
	filter := append(bson.D{{Key: "_id", Value: kv.EncodeKey(key)}}, liveFilter(s.now())...)

	var doc document
	err = s.coll.FindOne(sctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return kv.Entry{}, false, nil
	}
	if err != nil {
		return kv.Entry{}, false, fmt.Errorf("mongokv: get: %w", err)
	}
	return doc.entry(), true, nil
}

func (c *conn) Set(ctx context.Context, key kv.Key, value []byte, ttl time.Duration) (string, error) {
	sctx, err := c.ctx(ctx)
	if err != nil {
		return "", err
	}
	s := c.store
	stamp, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("mongokv: stamp: %w", err)
	}

	doc := document{
		ID:    kv.EncodeKey(key),
		Key:   append([]string{}, key...),
		Value: value,
		Stamp: stamp.String(),
	}
	if ttl > 0 {
		expires := s.now().Add(ttl)
		doc.ExpiresAt = &expires
	}

	_, err = s.coll.ReplaceOne(sctx, bson.D{{Key: "_id", Value: doc.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return "", fmt.Errorf("mongokv: set: %w", err)
	}
	return doc.Stamp, nil
}

func (c *conn) Delete(ctx context.Context, key kv.Key) error {
	sctx, err := c.ctx(ctx)
	if err != nil {
		return err
	}
	if _, err := c.store.coll.DeleteOne(sctx, bson.D{{Key: "_id", Value: kv.EncodeKey(key)}}); err != nil {
		return fmt.Errorf("mongokv: delete: %w", err)
	}
	return nil
}

func (c *conn) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) ([]kv.Entry, string, error) {
	sctx, err := c.ctx(ctx)
	if err != nil {
		return nil, "", err
	}
	if err := opts.Validate(); err != nil {
		return nil, "", err
	}
	span, err := sel.Span().Resume(opts.Cursor, opts.Reverse)
	if err != nil {
		return nil, "", err
	}

	s := c.store
	cur, err := s.coll.Find(sctx, rangeFilter(span, s.now()), findOptions(opts))
	if err != nil {
		return nil, "", fmt.Errorf("mongokv: list: %w", err)
	}
	var docs []document
	if err := cur.All(sctx, &docs); err != nil {
		return nil, "", fmt.Errorf("mongokv: list: %w", err)
	}

	entries := make([]kv.Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.entry())
	}
	entries, cursor := kv.Page(entries, opts.Limit)
	return entries, cursor, nil
}

func (c *conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sess.EndSession(context.Background())
	return nil
}

// liveFilter matches documents without an expiry or expiring after now.
func liveFilter(now time.Time) bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "exp", Value: bson.D{{Key: "$exists", Value: false}}}},
		bson.D{{Key: "exp", Value: bson.D{{Key: "$gt", Value: now}}}},
	}}}
}

// rangeFilter matches the live documents whose _id falls inside span.
func rangeFilter(span kv.Span, now time.Time) bson.D {
	bounds := bson.D{{Key: "$gte", Value: span.Start}}
	if span.End != "" {
		bounds = append(bounds, bson.E{Key: "$lt", Value: span.End})
	}
	return append(bson.D{{Key: "_id", Value: bounds}}, liveFilter(now)...)
}

// findOptions orders by _id and reads one document past the limit.
func findOptions(opts kv.ListOptions) *options.FindOptions {
	dir := 1
	if opts.Reverse {
		dir = -1
	}
	fo := options.Find().SetSort(bson.D{{Key: "_id", Value: dir}})
	if opts.Limit > 0 {
		fo.SetLimit(int64(opts.Limit + 1))
	}
	return fo
}
