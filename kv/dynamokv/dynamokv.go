// Package dynamokv is a kv.Backend on a single DynamoDB table.
//
// The table has a string partition key "pk" and a string sort key "sk" (see
// SplitKey). Each item also carries the value ("v"), the version stamp ("vs"),
// and for expiring entries the expiry in Unix milliseconds ("exp") and in Unix
// seconds ("ttl", for DynamoDB's native TTL sweeper). Expired items are
// filtered out of every read, since native TTL deletion lags behind.
//
// Listings that stay within one partition become a Query on the sort key;
// anything wider falls back to a Scan sorted client-side.
package dynamokv

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/kvdoc/kv"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// record is the stored shape of an entry.
type record struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	Value     []byte `dynamodbav:"v"`
	Stamp     string `dynamodbav:"vs"`
	ExpiresAt int64  `dynamodbav:"exp,omitempty"`
	TTL       int64  `dynamodbav:"ttl,omitempty"`
}

func (r record) expired(now time.Time) bool {
	return r.ExpiresAt != 0 && r.ExpiresAt <= now.UnixMilli()
}

func (r record) entry() (kv.Entry, error) {
	key, err := JoinKey(r.PK, r.SK)
	if err != nil {
		return kv.Entry{}, fmt.Errorf("dynamokv: item %q/%q: %w", r.PK, r.SK, err)
	}
	return kv.Entry{Key: key, Value: r.Value, VersionStamp: r.Stamp}, nil
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used to stamp and filter expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is a kv.Backend over one DynamoDB table.
type Store struct {
	api   API
	table string
	now   func() time.Time
}

// New creates a Store on table.
func New(api API, table string, opts ...Option) *Store {
	s := &Store{api: api, table: table, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns a connection. DynamoDB is stateless over HTTP, so connections
// only track their own closed state.
func (s *Store) Open(ctx context.Context) (kv.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &conn{store: s}, nil
}

type conn struct {
	store  *Store
	closed atomic.Bool
}

func (c *conn) check(ctx context.Context) error {
	if c.closed.Load() {
		return kv.ErrClosed
	}
	return ctx.Err()
}

func (c *conn) Get(ctx context.Context, key kv.Key) (kv.Entry, bool, error) {
	if err := c.check(ctx); err != nil {
		return kv.Entry{}, false, err
	}
	s := c.store
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return kv.Entry{}, false, err
	}
	if out.Item == nil {
		return kv.Entry{}, false, nil
	}

	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return kv.Entry{}, false, fmt.Errorf("dynamokv: unmarshal item: %w", err)
	}
	if rec.expired(s.now()) {
		return kv.Entry{}, false, nil
	}
	return kv.Entry{Key: key, Value: rec.Value, VersionStamp: rec.Stamp}, true, nil
}

func (c *conn) Set(ctx context.Context, key kv.Key, value []byte, ttl time.Duration) (string, error) {
	if err := c.check(ctx); err != nil {
		return "", err
	}
	s := c.store
	stamp, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("dynamokv: stamp: %w", err)
	}

	pk, sk := SplitKey(key)
	rec := record{PK: pk, SK: sk, Value: value, Stamp: stamp.String()}
	if ttl > 0 {
		expires := s.now().Add(ttl)
		rec.ExpiresAt = expires.UnixMilli()
		// Native TTL works in whole seconds; round up so it never fires early.
		rec.TTL = (rec.ExpiresAt + 999) / 1000
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return "", fmt.Errorf("dynamokv: marshal item: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return "", err
	}
	return rec.Stamp, nil
}

func (c *conn) Delete(ctx context.Context, key kv.Key) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	_, err := c.store.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.store.table),
		Key:       itemKey(key),
	})
	return err
}

func (c *conn) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) ([]kv.Entry, string, error) {
	if err := c.check(ctx); err != nil {
		return nil, "", err
	}
	if err := opts.Validate(); err != nil {
		return nil, "", err
	}
	span, err := sel.Span().Resume(opts.Cursor, opts.Reverse)
	if err != nil {
		return nil, "", err
	}

	var entries []kv.Entry
	if ps, ok := toPartition(span); ok {
		entries, err = c.query(ctx, ps, opts)
	} else {
		entries, err = c.scan(ctx, span, opts)
	}
	if err != nil {
		return nil, "", err
	}

	entries, cursor := kv.Page(entries, opts.Limit)
	return entries, cursor, nil
}

// query reads up to limit+1 live entries from one partition.
func (c *conn) query(ctx context.Context, ps partitionSpan, opts kv.ListOptions) ([]kv.Entry, error) {
	if ps.hi != "" && ps.lo > ps.hi {
		return nil, nil
	}
	s := c.store
	input := s.queryInput(ps, opts)

	var entries []kv.Entry
	paginator := dynamodb.NewQueryPaginator(s.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			var rec record
			if err := attributevalue.UnmarshalMap(raw, &rec); err != nil {
				return nil, fmt.Errorf("dynamokv: unmarshal item: %w", err)
			}
			// BETWEEN is inclusive; the span's upper bound is not.
			if ps.hi != "" && rec.SK == ps.hi {
				continue
			}
			entry, err := rec.entry()
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
			if opts.Limit > 0 && len(entries) > opts.Limit {
				return entries, nil
			}
		}
	}
	return entries, nil
}

func (s *Store) queryInput(ps partitionSpan, opts kv.ListOptions) *dynamodb.QueryInput {
	cond := "pk = :pk AND sk >= :lo"
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: ps.pk},
		":lo": &types.AttributeValueMemberS{Value: ps.lo},
	}
	if ps.hi != "" {
		cond = "pk = :pk AND sk BETWEEN :lo AND :hi"
		values[":hi"] = &types.AttributeValueMemberS{Value: ps.hi}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String(cond),
		FilterExpression:          aws.String(ExpiryFilterExpr()),
		ExpressionAttributeNames:  ExpiryFilterNames(),
		ExpressionAttributeValues: mergeExprValues(values, s.expiryFilterValues()),
		ConsistentRead:            aws.Bool(true),
		ScanIndexForward:          aws.Bool(!opts.Reverse),
	}
	if opts.Limit > 0 {
		input.Limit = aws.Int32(int32(opts.Limit + 1))
	}
	return input
}

// scan reads the whole table and orders the selected entries client-side.
func (c *conn) scan(ctx context.Context, span kv.Span, opts kv.ListOptions) ([]kv.Entry, error) {
	s := c.store
	paginator := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          aws.String(ExpiryFilterExpr()),
		ExpressionAttributeNames:  ExpiryFilterNames(),
		ExpressionAttributeValues: s.expiryFilterValues(),
		ConsistentRead:            aws.Bool(true),
	})

	type encoded struct {
		enc   string
		entry kv.Entry
	}
	var matched []encoded
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			var rec record
			if err := attributevalue.UnmarshalMap(raw, &rec); err != nil {
				return nil, fmt.Errorf("dynamokv: unmarshal item: %w", err)
			}
			entry, err := rec.entry()
			if err != nil {
				return nil, err
			}
			enc := kv.EncodeKey(entry.Key)
			if span.Contains(enc) {
				matched = append(matched, encoded{enc: enc, entry: entry})
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if opts.Reverse {
			return matched[i].enc > matched[j].enc
		}
		return matched[i].enc < matched[j].enc
	})

	entries := make([]kv.Entry, 0, len(matched))
	for _, m := range matched {
		entries = append(entries, m.entry)
	}
	return entries, nil
}

func (c *conn) Close() error {
	c.closed.Store(true)
	return nil
}

// ExpiryFilterExpr returns the filter expression that excludes expired items.
func ExpiryFilterExpr() string {
	return "attribute_not_exists(#exp) OR #exp > :now"
}

// ExpiryFilterNames returns expression attribute names for ExpiryFilterExpr.
func ExpiryFilterNames() map[string]string {
	return map[string]string{"#exp": "exp"}
}

func (s *Store) expiryFilterValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(s.now().UnixMilli(), 10),
		},
	}
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
