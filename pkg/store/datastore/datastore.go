// Package datastore provides Google Cloud Datastore persistence for doccache.
// Each collection is a Datastore kind; each record is an entity named by its key.
package datastore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ds "github.com/codeGROOVE-dev/ds9/pkg/datastore"
	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/codeGROOVE-dev/doccache/pkg/store/compress"
)

const maxDatastoreKeyLen = 1500 // Datastore has stricter key length limits

// Database is a Datastore database.
type Database struct {
	client     *ds.Client
	name       string
	compressor compress.Compressor
}

// Connect creates a client for the named Datastore database.
// The project is auto-detected. Optional compressor enables compression.
func Connect(ctx context.Context, name string, c ...compress.Compressor) (*Database, error) {
	client, err := ds.NewClientWithDatabase(ctx, "", name)
	if err != nil {
		return nil, fmt.Errorf("create datastore client: %w", err)
	}
	return New(client, name, c...), nil
}

// Connector returns a collection.Connector opening one Datastore database per name.
func Connector(c ...compress.Compressor) collection.Connector {
	return func(ctx context.Context, name string) (collection.Database, error) {
		return Connect(ctx, name, c...)
	}
}

// New wraps an existing client.
func New(client *ds.Client, name string, c ...compress.Compressor) *Database {
	comp := compress.None()
	if len(c) > 0 && c[0] != nil {
		comp = c[0]
	}
	return &Database{client: client, name: name, compressor: comp}
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// CreateCollection returns the collection for kind name. Kinds need no creation.
func (d *Database) CreateCollection(_ context.Context, name string, opts collection.Options) (collection.Collection, error) {
	if name == "" {
		return nil, errors.New("collection name cannot be empty")
	}
	if opts.Capped {
		slog.Warn("datastore has no capped kinds, creating an uncapped collection", "kind", name)
	}
	return &Collection{client: d.client, kind: name, compressor: d.compressor}, nil
}

// Close releases Datastore client resources.
func (d *Database) Close() error {
	return d.client.Close()
}

// Collection stores records as entities of one kind.
type Collection struct {
	client     *ds.Client
	kind       string
	compressor compress.Compressor
}

// entity represents a record in Datastore.
// Value is base64 of the (compressed) JSON encoding to avoid datastore []byte limitations.
type entity struct {
	Key     string    `datastore:"key"`
	Value   string    `datastore:"value,noindex"`
	Expires time.Time `datastore:"expires"`
}

// Name returns the kind.
func (c *Collection) Name() string { return c.kind }

func (c *Collection) makeKey(key string) *ds.Key {
	return ds.NameKey(c.kind, key, nil)
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(key) > maxDatastoreKeyLen {
		return fmt.Errorf("key too long: %d bytes (max %d for datastore)", len(key), maxDatastoreKeyLen)
	}
	return nil
}

// load fetches and decodes one record.
func (c *Collection) load(ctx context.Context, key string) (collection.Record, bool, error) {
	var e entity
	if err := c.client.Get(ctx, c.makeKey(key), &e); err != nil {
		if errors.Is(err, ds.ErrNoSuchEntity) {
			return collection.Record{}, false, nil
		}
		return collection.Record{}, false, fmt.Errorf("datastore get: %w", err)
	}

	b, err := base64.StdEncoding.DecodeString(e.Value)
	if err != nil {
		return collection.Record{}, false, fmt.Errorf("decode base64: %w", err)
	}
	data, err := c.compressor.Decode(b)
	if err != nil {
		return collection.Record{}, false, fmt.Errorf("decompress: %w", err)
	}
	v, err := collection.DecodeValue(data)
	if err != nil {
		return collection.Record{}, false, err
	}
	return collection.Record{Key: key, Value: v, Expires: e.Expires}, true, nil
}

// query builds a keys-only query with the expiry constraints of f.
// Single-property inequalities only need the built-in indexes.
func (c *Collection) query(f collection.Filter) *ds.Query {
	q := ds.NewQuery(c.kind)
	if !f.ExpiredBy.IsZero() {
		q = q.Filter("expires <=", f.ExpiredBy)
	}
	if !f.ExpiresAfter.IsZero() {
		q = q.Filter("expires >", f.ExpiresAfter)
	}
	return q.KeysOnly()
}

// keys lists the entity keys matching f. Expiry is filtered by the query,
// key patterns client-side.
func (c *Collection) keys(ctx context.Context, f collection.Filter) ([]*ds.Key, error) {
	if f.Key != "" {
		if !f.MatchKey(f.Key) {
			return nil, nil
		}
		return []*ds.Key{c.makeKey(f.Key)}, nil
	}

	all, err := c.client.AllKeys(ctx, c.query(f))
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	if f.Pattern == nil {
		return all, nil
	}
	var keys []*ds.Key
	for _, k := range all {
		if f.MatchKey(k.Name) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// FindOne returns one record matching f.
func (c *Collection) FindOne(ctx context.Context, f collection.Filter) (collection.Record, bool, error) {
	keys, err := c.keys(ctx, f)
	if err != nil {
		return collection.Record{}, false, err
	}
	for _, k := range keys {
		rec, found, err := c.load(ctx, k.Name)
		if err != nil {
			return collection.Record{}, false, err
		}
		if found && f.Match(rec) {
			return rec, true, nil
		}
	}
	return collection.Record{}, false, nil
}

// Upsert saves r, replacing any entity with the same key.
func (c *Collection) Upsert(ctx context.Context, r collection.Record) error {
	if err := validateKey(r.Key); err != nil {
		return err
	}
	jsonData, err := collection.EncodeValue(r.Value)
	if err != nil {
		return err
	}
	data, err := c.compressor.Encode(jsonData)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	e := entity{
		Key:     r.Key,
		Value:   base64.StdEncoding.EncodeToString(data),
		Expires: r.Expires,
	}
	if _, err := c.client.Put(ctx, c.makeKey(r.Key), &e); err != nil {
		return fmt.Errorf("datastore put: %w", err)
	}
	return nil
}

// Remove deletes every entity matching f.
//
// Entities selected by expiry are read back before the delete, so one rewritten
// with a later expiry since the query ran is kept. A write landing between that
// read and DeleteMulti can still be lost.
func (c *Collection) Remove(ctx context.Context, f collection.Filter) (int, error) {
	keys, err := c.keys(ctx, f)
	if err != nil {
		return 0, err
	}

	if f.Key != "" || f.HasExpiry() {
		var matched []*ds.Key
		for _, k := range keys {
			rec, found, err := c.load(ctx, k.Name)
			if err != nil {
				return 0, err
			}
			if found && f.Match(rec) {
				matched = append(matched, k)
			}
		}
		keys = matched
	}

	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.client.DeleteMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	return len(keys), nil
}

// Count returns the number of entities of the kind.
func (c *Collection) Count(ctx context.Context) (int, error) {
	keys, err := c.client.AllKeys(ctx, ds.NewQuery(c.kind).KeysOnly())
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return len(keys), nil
}

// CreateIndex is a no-op: Datastore indexes single properties automatically
// and composite indexes are declared in index.yaml.
func (*Collection) CreateIndex(context.Context) error {
	return nil
}
