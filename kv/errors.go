package kv

import "errors"

var (
	// ErrClosed is returned when a Conn is used after Close.
	ErrClosed = errors.New("kv: connection closed")

	// ErrInvalidCursor is returned when a cursor cannot be decoded or lies outside
	// the selection it is used with.
	ErrInvalidCursor = errors.New("kv: invalid cursor")

	// ErrMalformedKey is returned when an encoded key cannot be decoded.
	ErrMalformedKey = errors.New("kv: malformed key")

	// ErrInvalidLimit is returned for a negative list limit.
	ErrInvalidLimit = errors.New("kv: limit must not be negative")
)
