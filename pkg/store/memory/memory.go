// Package memory provides an in-process document database for doccache.
// Useful for tests, single-process deployments, and as a reference backend.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/puzpuzpuz/xsync/v3"
)

// Database is an in-process set of collections.
type Database struct {
	name        string
	collections *xsync.MapOf[string, *Collection]
}

// New creates an empty database.
func New(name string) *Database {
	return &Database{
		name:        name,
		collections: xsync.NewMapOf[string, *Collection](),
	}
}

// Connector returns a connector that keeps one database per name for the life of the process.
func Connector() collection.Connector {
	dbs := xsync.NewMapOf[string, *Database]()
	return func(_ context.Context, name string) (collection.Database, error) {
		db, _ := dbs.LoadOrCompute(name, func() *Database { return New(name) })
		return db, nil
	}
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// CreateCollection returns the named collection, creating it if needed.
// Options only apply when the collection is first created.
func (d *Database) CreateCollection(_ context.Context, name string, opts collection.Options) (collection.Collection, error) {
	if name == "" {
		return nil, errors.New("collection name cannot be empty")
	}
	c, _ := d.collections.LoadOrCompute(name, func() *Collection { return newCollection(name, opts) })
	return c, nil
}

// Collection returns the named collection if it exists.
func (d *Database) Collection(name string) (*Collection, bool) {
	return d.collections.Load(name)
}

// Close is a no-op; data lives as long as the Database value.
func (*Database) Close() error { return nil }

type entry struct {
	rec  collection.Record
	size int64
}

// Collection stores records in a concurrent map.
// In capped mode, inserting past SizeBytes recycles the oldest inserted records.
//
//nolint:govet // fieldalignment - current layout groups related fields logically (mutex with the state it protects)
type Collection struct {
	name    string
	records *xsync.MapOf[string, entry]
	indexed bool

	capped   bool
	maxBytes int64
	mu       sync.Mutex // serializes writes in capped mode
	order    []string   // insertion order, capped mode only
	bytes    int64

	scanned func() // test hook, runs between the scan and the deletes in Remove
}

func newCollection(name string, opts collection.Options) *Collection {
	c := &Collection{
		name:    name,
		records: xsync.NewMapOf[string, entry](),
		capped:  opts.Capped,
	}
	if c.capped {
		c.maxBytes = opts.SizeBytes
		if c.maxBytes <= 0 {
			c.maxBytes = collection.DefaultCappedSize
		}
	}
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Capped reports whether the collection recycles old records.
func (c *Collection) Capped() bool { return c.capped }

// Indexed reports whether CreateIndex has been called.
func (c *Collection) Indexed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexed
}

// FindOne returns a record matching f.
func (c *Collection) FindOne(_ context.Context, f collection.Filter) (collection.Record, bool, error) {
	if f.Key != "" {
		e, ok := c.records.Load(f.Key)
		if !ok || !f.Match(e.rec) {
			return collection.Record{}, false, nil
		}
		return e.rec, true, nil
	}

	var (
		found collection.Record
		ok    bool
	)
	c.records.Range(func(_ string, e entry) bool {
		if f.Match(e.rec) {
			found, ok = e.rec, true
			return false
		}
		return true
	})
	return found, ok, nil
}

// Upsert stores r, replacing any record with the same key.
func (c *Collection) Upsert(_ context.Context, r collection.Record) error {
	// Values must be encodable so every backend agrees on what is storable.
	b, err := collection.EncodeValue(r.Value)
	if err != nil {
		return err
	}
	e := entry{rec: r, size: int64(len(r.Key) + len(b))}

	if !c.capped {
		c.records.Store(r.Key, e)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e.size > c.maxBytes {
		return fmt.Errorf("record of %d bytes exceeds capped size %d", e.size, c.maxBytes)
	}
	prev, existed := c.records.LoadAndStore(r.Key, e)
	if existed {
		c.bytes -= prev.size
	} else {
		c.order = append(c.order, r.Key)
	}
	c.bytes += e.size

	for c.bytes > c.maxBytes && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if old, ok := c.records.LoadAndDelete(oldest); ok {
			c.bytes -= old.size
		}
	}
	return nil
}

// Remove deletes every record matching f.
func (c *Collection) Remove(_ context.Context, f collection.Filter) (int, error) {
	if c.capped {
		c.mu.Lock()
		defer c.mu.Unlock()
	}

	var keys []string
	if f.Key != "" {
		if e, ok := c.records.Load(f.Key); ok && f.Match(e.rec) {
			keys = append(keys, f.Key)
		}
	} else {
		c.records.Range(func(k string, e entry) bool {
			if f.Match(e.rec) {
				keys = append(keys, k)
			}
			return true
		})
	}

	if c.scanned != nil {
		c.scanned()
	}

	// A write may refresh a candidate after the scan, so the filter is
	// checked again atomically with the delete.
	n := 0
	for _, k := range keys {
		var removed entry
		var ok bool
		c.records.Compute(k, func(old entry, loaded bool) (entry, bool) {
			ok = loaded && f.Match(old.rec)
			removed = old
			return old, !loaded || ok
		})
		if ok {
			n++
			if c.capped {
				c.bytes -= removed.size
			}
		}
	}
	if c.capped && n > 0 {
		c.compactOrder()
	}
	return n, nil
}

// compactOrder drops removed keys from the insertion order. Caller holds mu.
func (c *Collection) compactOrder() {
	kept := c.order[:0]
	for _, k := range c.order {
		if _, ok := c.records.Load(k); ok {
			kept = append(kept, k)
		}
	}
	c.order = kept
}

// Count returns the number of records, expired ones included.
func (c *Collection) Count(_ context.Context) (int, error) {
	return c.records.Size(), nil
}

// CreateIndex records that an index was requested; lookups are by map key regardless.
func (c *Collection) CreateIndex(_ context.Context) error {
	c.mu.Lock()
	c.indexed = true
	c.mu.Unlock()
	return nil
}
