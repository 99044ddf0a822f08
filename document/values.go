package document

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/puzpuzpuz/xsync/v3"
)

// Reserved payload fields.
const (
	FieldID           = "_id"
	FieldCreatedAt    = "createdAt"
	FieldUpdatedAt    = "updatedAt"
	FieldType         = "type"
	FieldVersionStamp = "_versionStamp"
)

// timeLayout is ISO-8601 in UTC with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z"

func isReserved(name string) bool {
	switch name {
	case FieldID, FieldCreatedAt, FieldUpdatedAt, FieldType, FieldVersionStamp:
		return true
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v any) time.Time {
	s, _ := v.(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// fieldsOf returns the declared fields of doc as an attribute map, using the
// type's json tags for names.
func fieldsOf(doc any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := decodeExact(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// decodeExact decodes JSON into v keeping integers exact. Numbers inside a
// *map[string]any or *any target become int64, uint64 or float64.
func decodeExact(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	switch x := v.(type) {
	case *map[string]any:
		for k, e := range *x {
			(*x)[k] = exactNumbers(e)
		}
	case *any:
		*x = exactNumbers(*x)
	}
	return nil
}

func exactNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		return numberValue(x)
	case map[string]any:
		for k, e := range x {
			x[k] = exactNumbers(e)
		}
	case []any:
		for i, e := range x {
			x[i] = exactNumbers(e)
		}
	}
	return v
}

// numberValue converts n to int64 or uint64 when it is an integer literal in
// range, and to float64 otherwise.
func numberValue(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u
		}
	}
	f, _ := n.Float64()
	return f
}

// deepCopy copies an attribute map through a JSON round trip.
func deepCopy(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	return fieldsOf(m)
}

// payload builds the attribute map written to the store: extra attributes,
// then the declared fields, then the reserved fields.
func payload(doc any, b *Base) (map[string]any, error) {
	fields, err := fieldsOf(doc)
	if err != nil {
		return nil, fmt.Errorf("kvdoc: encode fields: %w", err)
	}
	values, err := deepCopy(b.extra)
	if err != nil {
		return nil, fmt.Errorf("kvdoc: encode extra fields: %w", err)
	}
	for k, v := range fields {
		if !isReserved(k) {
			values[k] = v
		}
	}

	if b.id != "" {
		values[FieldID] = b.id
	}
	if !b.createdAt.IsZero() {
		values[FieldCreatedAt] = formatTime(b.createdAt)
	}
	if !b.updatedAt.IsZero() {
		values[FieldUpdatedAt] = formatTime(b.updatedAt)
	}
	if b.kind != "" {
		values[FieldType] = b.kind
	}
	return values, nil
}

// assign sets the declared fields of doc from attrs and keeps the rest in the
// extra bag. Reserved fields are applied to b.
func assign(doc any, b *Base, attrs map[string]any) error {
	declared := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if !isReserved(k) {
			declared[k] = v
		}
	}

	if len(declared) > 0 {
		data, err := json.Marshal(declared)
		if err != nil {
			return fmt.Errorf("kvdoc: assign attributes: %w", err)
		}
		if err := json.Unmarshal(data, doc); err != nil {
			return fmt.Errorf("kvdoc: assign attributes: %w", err)
		}
	}

	names := declaredNames(reflect.TypeOf(doc))
	b.extra = nil
	for k, v := range declared {
		if _, ok := names[k]; ok {
			continue
		}
		if b.extra == nil {
			b.extra = map[string]any{}
		}
		b.extra[k] = v
	}

	if id, ok := attrs[FieldID].(string); ok {
		b.id = id
	}
	if kind, ok := attrs[FieldType].(string); ok {
		b.kind = kind
	}
	b.createdAt = parseTime(attrs[FieldCreatedAt])
	b.updatedAt = parseTime(attrs[FieldUpdatedAt])
	return nil
}

// StaleIndexes returns, per indexed field, the index value of prev that next no
// longer carries. A nil next treats every value of prev as stale.
func StaleIndexes(indexedFields []string, prev, next map[string]any) map[string]string {
	stale := map[string]string{}
	for _, field := range indexedFields {
		p, ok := prev[field]
		if !ok || p == nil {
			continue
		}
		value := FormatIndexValue(p)
		if n, ok := next[field]; ok && n != nil && FormatIndexValue(n) == value {
			continue
		}
		stale[field] = value
	}
	return stale
}

var namesByType = xsync.NewMapOf[reflect.Type, map[string]struct{}]()

// declaredNames returns the encoded names of the exported fields of t,
// including those promoted from embedded structs.
func declaredNames(t reflect.Type) map[string]struct{} {
	names, _ := namesByType.LoadOrCompute(t, func() map[string]struct{} {
		names := map[string]struct{}{}
		collectNames(t, names)
		return names
	})
	return names
}

func collectNames(t reflect.Type, names map[string]struct{}) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			collectNames(f.Type, names)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names[name] = struct{}{}
	}
}
