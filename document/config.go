package document

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds configuration for a Collection.
type Config struct {
	// Kind is the discriminator written to each record's "type" field.
	// Default: the key path joined with "/"
	Kind string

	// StrictIndexes makes Save remove the index records of indexed fields whose
	// value changed since the persisted version. The removal is a separate write
	// ahead of the put, so a failure in between can still leave a stale record.
	// Default: false (old index records stay until the document is deleted)
	StrictIndexes bool

	// Codec encodes stored payloads.
	// Default: JSON
	Codec Codec

	// Registry, when set, records the collection's Kind.
	Registry *Registry

	// Logger receives debug logs for writes.
	// Default: slog.Default()
	Logger *slog.Logger

	// Now is the clock used for createdAt/updatedAt.
	// Default: time.Now
	Now func() time.Time

	// NewID generates ids for documents saved without one. Ids must sort in
	// creation order for TryFindFirst/TryFindLast to be meaningful.
	// Default: UUIDv7
	NewID func() (string, error)
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Codec:  JSON,
		Logger: slog.Default(),
		Now:    time.Now,
		NewID:  newID,
	}
}

// validate fills unset values with their defaults.
func (c *Config) validate(keyPath []string) {
	if c.Kind == "" {
		c.Kind = strings.Join(keyPath, "/")
	}
	if c.Codec == nil {
		c.Codec = JSON
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = newID
	}
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
