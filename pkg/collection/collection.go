// Package collection defines the backing document store contract for doccache.
// Uses only standard library types, so backends can satisfy it without importing
// the doccache package itself.
package collection

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// DefaultCappedSize is the size of a capped collection when none is given (100 MiB).
const DefaultCappedSize int64 = 100 * 1024 * 1024

// ErrUnsupportedValue is returned by Upsert when the record value cannot be
// represented in the backend's native format.
var ErrUnsupportedValue = errors.New("value not representable in backing store")

// Record is one cached document: {key, value, expires}.
type Record struct {
	Key     string
	Value   any
	Expires time.Time
}

// Filter selects records. Zero fields are unconstrained, so the zero Filter matches everything.
type Filter struct {
	Key          string         // exact key match
	Pattern      *regexp.Regexp // regular expression over the stored key
	ExpiresAfter time.Time      // expires > ExpiresAfter
	ExpiredBy    time.Time      // expires <= ExpiredBy
}

// Match reports whether r satisfies every constraint in f.
// Backends that cannot push a constraint down to the server filter with Match.
func (f Filter) Match(r Record) bool {
	if f.Key != "" && r.Key != f.Key {
		return false
	}
	if f.Pattern != nil && !f.Pattern.MatchString(r.Key) {
		return false
	}
	if !f.ExpiresAfter.IsZero() && !r.Expires.After(f.ExpiresAfter) {
		return false
	}
	if !f.ExpiredBy.IsZero() && r.Expires.After(f.ExpiredBy) {
		return false
	}
	return true
}

// MatchKey reports whether key satisfies the key constraints of f, ignoring expiry.
func (f Filter) MatchKey(key string) bool {
	if f.Key != "" && key != f.Key {
		return false
	}
	return f.Pattern == nil || f.Pattern.MatchString(key)
}

// HasExpiry reports whether f constrains the expiration timestamp.
func (f Filter) HasExpiry() bool {
	return !f.ExpiresAfter.IsZero() || !f.ExpiredBy.IsZero()
}

// Options configures collection creation.
type Options struct {
	// Capped asks for a fixed-size collection that recycles its oldest records once full.
	// Backends without capped storage ignore it.
	Capped bool
	// SizeBytes is the capped collection size (DefaultCappedSize if zero).
	SizeBytes int64
}

// Collection is a set of records addressed by key.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// FindOne returns one record matching f.
	FindOne(ctx context.Context, f Filter) (Record, bool, error)

	// Upsert replaces the value and expiry of the record with r.Key, inserting it if missing.
	Upsert(ctx context.Context, r Record) error

	// Remove deletes every record matching f and returns how many were removed.
	Remove(ctx context.Context, f Filter) (int, error)

	// Count returns the number of stored records, expired ones included.
	Count(ctx context.Context) (int, error)

	// CreateIndex ensures an index on (key ascending, expires descending).
	CreateIndex(ctx context.Context) error
}

// Database opens collections.
type Database interface {
	// Name returns the database name.
	Name() string

	// CreateCollection opens the named collection, creating it if needed.
	CreateCollection(ctx context.Context, name string, opts Options) (Collection, error)

	// Close releases any resources held by the database.
	Close() error
}

// Connector opens (or creates) the named database.
type Connector func(ctx context.Context, database string) (Database, error)
