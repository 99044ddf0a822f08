package document

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a status-coded document error.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsNotFound reports whether the error means a missing document or index entry.
func (e *Error) IsNotFound() bool {
	return e.Status == http.StatusNotFound
}

// Is matches any *Error with the same status, so errors.Is(err, ErrNotFound)
// holds for every not-found error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Status == e.Status
}

var (
	// ErrNotFound is returned by finders when no record or index entry exists.
	ErrNotFound = &Error{Status: http.StatusNotFound, Message: "kvdoc: document not found"}

	// ErrIDImmutable is returned when the id of a persisted document is changed.
	ErrIDImmutable = errors.New("kvdoc: id of a persisted document cannot change")

	// ErrKindConflict is returned when a key path is registered under two kinds.
	ErrKindConflict = errors.New("kvdoc: key path already registered under another kind")

	// ErrNoKeyPath is returned for a model whose KeyPath is empty.
	ErrNoKeyPath = errors.New("kvdoc: model has no key path")
)

// IsNotFound reports whether err is a not-found document error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.IsNotFound()
}

func notFound(format string, args ...any) error {
	return &Error{Status: http.StatusNotFound, Message: "kvdoc: " + fmt.Sprintf(format, args...)}
}
