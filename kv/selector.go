package kv

import "encoding/base64"

// Selector picks the keys a List call visits.
//
// With Start or End set it selects the half-open range [Start, End); a nil End
// leaves the range open above. Otherwise it selects every key strictly under
// Prefix, never the prefix key itself. An empty Prefix selects the whole store.
type Selector struct {
	Prefix Key
	Start  Key
	End    Key
}

// PrefixSelector selects the keys strictly under prefix.
func PrefixSelector(prefix Key) Selector {
	return Selector{Prefix: prefix}
}

// RangeSelector selects the keys in [start, end).
func RangeSelector(start, end Key) Selector {
	if start == nil {
		start = Key{}
	}
	return Selector{Start: start, End: end}
}

// IsRange reports whether the selector is a range rather than a prefix.
func (s Selector) IsRange() bool {
	return s.Start != nil || s.End != nil
}

// Span returns the encoded bounds of the selection.
func (s Selector) Span() Span {
	if s.IsRange() {
		return Span{Start: EncodeKey(s.Start), End: EncodeKey(s.End)}
	}
	p := EncodeKey(s.Prefix)
	if p == "" {
		return Span{}
	}
	// Children of p extend it, so they sort after p+0x00 and before the key that
	// replaces p's final terminator with 0x01.
	return Span{Start: p + string(terminator), End: p[:len(p)-1] + string(escape)}
}

// Span is a half-open interval of encoded keys. An empty End means unbounded.
type Span struct {
	Start string
	End   string
}

// Contains reports whether the encoded key enc falls inside the span.
func (s Span) Contains(enc string) bool {
	return enc >= s.Start && (s.End == "" || enc < s.End)
}

// Resume narrows the span to the entries after cursor in the given direction.
// An empty cursor leaves the span unchanged.
func (s Span) Resume(cursor string, reverse bool) (Span, error) {
	if cursor == "" {
		return s, nil
	}
	last, err := DecodeCursor(cursor)
	if err != nil {
		return Span{}, err
	}
	if last == "" || !s.Contains(last) {
		return Span{}, ErrInvalidCursor
	}
	if reverse {
		s.End = last
	} else {
		// The smallest encoding greater than last.
		s.Start = last + string(terminator)
	}
	return s, nil
}

// EncodeCursor turns the encoded key of the last returned entry into a cursor.
func EncodeCursor(enc string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(enc))
}

// DecodeCursor returns the encoded key a cursor points at.
func DecodeCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", ErrInvalidCursor
	}
	return string(raw), nil
}

// Page cuts entries, fetched with one extra element past limit, down to a page
// and returns the cursor to continue from. Backends call it with the entries of
// a limit+1 read.
func Page(entries []Entry, limit int) ([]Entry, string) {
	if limit <= 0 || len(entries) <= limit {
		return entries, ""
	}
	entries = entries[:limit]
	return entries, EncodeCursor(EncodeKey(entries[limit-1].Key))
}
