// Package doccache provides an expiring, namespaced cache store backed by a document database.
//
// Records are {key, value, expires} documents. Reads ignore records whose expiration has
// passed; nothing is removed automatically, so call CleanExpired periodically to reclaim space.
package doccache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/codeGROOVE-dev/doccache/pkg/store/mongo"
)

// Store is a cache store persisting values in a backing collection.
// It is safe for concurrent use when the backing collection is.
type Store struct {
	cfg       *config
	expiresIn atomic.Int64
	metrics   *storeMetrics
	set       *metrics.Set

	resolved atomic.Pointer[resolvedCollection]

	mu    sync.Mutex
	owned collection.Database // opened by the store, closed by Close
}

type resolvedCollection struct {
	c collection.Collection
}

// New creates a store. The backing collection is not opened until first use.
//
// Example:
//
//	store, err := doccache.New(
//	    doccache.WithCollectionName("sessions"),
//	    doccache.WithDefaultExpiresIn(time.Hour),
//	    doccache.WithNamespace("web"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Write(ctx, "user:123", user)
//	v, ok, err := store.Read(ctx, "user:123")
func New(opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return newStore(cfg)
}

func newStore(cfg *config) (*Store, error) {
	if cfg.collection == nil && cfg.collectionName == "" {
		return nil, fmt.Errorf("%w: empty collection name", ErrInvalidArgument)
	}
	if cfg.expiresIn <= 0 {
		return nil, fmt.Errorf("%w: default expiration must be positive, got %v", ErrInvalidArgument, cfg.expiresIn)
	}
	if cfg.cappedSize < 0 {
		return nil, fmt.Errorf("%w: negative capped size %d", ErrInvalidArgument, cfg.cappedSize)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.metrics == nil {
		cfg.metrics = metrics.NewSet()
	}

	name := cfg.collectionName
	if cfg.collection != nil {
		name = cfg.collection.Name()
	}

	s := &Store{
		cfg:     cfg,
		metrics: newStoreMetrics(cfg.metrics, name),
		set:     cfg.metrics,
	}
	s.expiresIn.Store(int64(cfg.expiresIn))
	return s, nil
}

func mongoConnector(uri string) collection.Connector {
	return mongo.Connector(uri)
}

// Collection returns the backing collection, opening it on first use.
func (s *Store) Collection(ctx context.Context) (collection.Collection, error) {
	if r := s.resolved.Load(); r != nil {
		return r.c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r := s.resolved.Load(); r != nil {
		return r.c, nil
	}

	if s.cfg.collection != nil {
		s.resolved.Store(&resolvedCollection{c: s.cfg.collection})
		return s.cfg.collection, nil
	}

	db, owned, err := s.resolveDatabase(ctx)
	if err != nil {
		return nil, err
	}

	opts := collection.Options{Capped: s.cfg.capped, SizeBytes: s.cfg.cappedSize}
	if opts.Capped && opts.SizeBytes == 0 {
		opts.SizeBytes = collection.DefaultCappedSize
	}

	c, err := db.CreateCollection(ctx, s.cfg.collectionName, opts)
	if err != nil {
		return nil, closeOwned(db, owned, fmt.Errorf("create collection %q: %w", s.cfg.collectionName, err))
	}

	if s.cfg.createIndex {
		if err := c.CreateIndex(ctx); err != nil {
			return nil, closeOwned(db, owned, fmt.Errorf("create index on %q: %w", s.cfg.collectionName, err))
		}
	}

	s.cfg.logger.Debug("opened cache collection",
		"database", db.Name(), "collection", c.Name(), "index", s.cfg.createIndex, "capped", opts.Capped)

	if owned {
		s.owned = db
	}
	s.resolved.Store(&resolvedCollection{c: c})
	return c, nil
}

// resolveDatabase picks the backing database: explicit handle, explicit name,
// ambient provider, then a new database named after the collection.
func (s *Store) resolveDatabase(ctx context.Context) (db collection.Database, owned bool, err error) {
	if s.cfg.database != nil {
		return s.cfg.database, false, nil
	}

	name := s.cfg.databaseName
	if name == "" && s.cfg.provider != nil {
		if db := s.cfg.provider(); db != nil {
			return db, false, nil
		}
	}
	if name == "" {
		name = s.cfg.collectionName
	}

	if s.cfg.connector == nil {
		return nil, false, fmt.Errorf("%w: no connector to open database %q", ErrInvalidArgument, name)
	}
	db, err = s.cfg.connector(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("open database %q: %w", name, err)
	}
	return db, true, nil
}

func closeOwned(db collection.Database, owned bool, err error) error {
	if !owned {
		return err
	}
	return errors.Join(err, db.Close())
}

// DefaultExpiresIn returns the expiration applied to writes without ExpiresIn.
func (s *Store) DefaultExpiresIn() time.Duration {
	return time.Duration(s.expiresIn.Load())
}

// SetDefaultExpiresIn changes the default expiration for subsequent writes.
// Records already written keep their expiration.
func (s *Store) SetDefaultExpiresIn(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: default expiration must be positive, got %v", ErrInvalidArgument, d)
	}
	s.expiresIn.Store(int64(d))
	return nil
}

// Metrics returns the metrics set holding the store's counters.
func (s *Store) Metrics() *metrics.Set {
	return s.set
}

func (s *Store) namespace(o callOptions) string {
	if o.namespace != nil {
		return *o.namespace
	}
	return s.cfg.namespace
}

// Write stores value under key, replacing any existing value.
// Values the backend cannot represent are retried once as their string form.
// A non-positive ExpiresIn is rejected with ErrInvalidArgument.
func (s *Store) Write(ctx context.Context, key string, value any, opts ...CallOption) error {
	o := applyCallOptions(opts)
	ttl := s.DefaultExpiresIn()
	if o.expiresIn != nil {
		if *o.expiresIn <= 0 {
			return fmt.Errorf("%w: expiration must be positive, got %v", ErrInvalidArgument, *o.expiresIn)
		}
		ttl = *o.expiresIn
	}

	c, err := s.Collection(ctx)
	if err != nil {
		return err
	}
	rec := collection.Record{
		Key:     qualify(s.namespace(o), key),
		Value:   value,
		Expires: s.cfg.now().Add(ttl),
	}

	err = c.Upsert(ctx, rec)
	if errors.Is(err, collection.ErrUnsupportedValue) {
		s.cfg.logger.Warn("value not storable natively, storing its string form",
			"key", rec.Key, "type", fmt.Sprintf("%T", value), "error", err)
		s.metrics.coercions.Inc()
		rec.Value = fmt.Sprint(value)
		if err := c.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("%w: key %q: %w", ErrSerialization, rec.Key, err)
		}
		s.metrics.writes.Inc()
		return nil
	}
	if err != nil {
		return err
	}
	s.metrics.writes.Inc()
	return nil
}

// Read returns the unexpired value stored under key.
// The bool is false on a miss, which distinguishes it from a stored nil.
//
//nolint:gocritic // unnamedResult - public API signature is intentionally clear without named returns
func (s *Store) Read(ctx context.Context, key string, opts ...CallOption) (any, bool, error) {
	o := applyCallOptions(opts)
	c, err := s.Collection(ctx)
	if err != nil {
		return nil, false, err
	}

	rec, found, err := c.FindOne(ctx, collection.Filter{
		Key:          qualify(s.namespace(o), key),
		ExpiresAfter: s.cfg.now(),
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		s.metrics.misses.Inc()
		return nil, false, nil
	}
	s.metrics.hits.Inc()
	return rec.Value, true, nil
}

// ReadMulti reads several keys at once. Only hits appear in the result, so a
// stored nil (present, nil) stays distinguishable from a miss (absent).
func (s *Store) ReadMulti(ctx context.Context, keys []string, opts ...CallOption) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok, err := s.Read(ctx, k, opts...)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// Exist reports whether an unexpired value is stored under key.
func (s *Store) Exist(ctx context.Context, key string, opts ...CallOption) (bool, error) {
	_, ok, err := s.Read(ctx, key, opts...)
	return ok, err
}

// Fetch returns the value under key, or computes, stores and returns it on a miss.
// Errors from fn are returned as is and nothing is written.
func (s *Store) Fetch(ctx context.Context, key string, fn func(context.Context) (any, error), opts ...CallOption) (any, error) {
	v, ok, err := s.Read(ctx, key, opts...)
	if err != nil {
		return nil, err
	}
	if ok {
		return v, nil
	}

	v, err = fn(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Write(ctx, key, v, opts...); err != nil {
		return v, err
	}
	return v, nil
}

// Delete removes key. Deleting a missing key is not an error.
//
//nolint:revive // confusing-naming - standard cache operation
func (s *Store) Delete(ctx context.Context, key string, opts ...CallOption) error {
	o := applyCallOptions(opts)
	c, err := s.Collection(ctx)
	if err != nil {
		return err
	}
	n, err := c.Remove(ctx, collection.Filter{Key: qualify(s.namespace(o), key)})
	if err != nil {
		return err
	}
	s.metrics.deletes.Inc()
	s.metrics.removed.Add(n)
	return nil
}

// DeleteMatching removes every record whose raw key matches pattern, expired or not.
// With a namespace active only keys in that namespace are considered.
func (s *Store) DeleteMatching(ctx context.Context, pattern *regexp.Regexp, opts ...CallOption) (int, error) {
	if pattern == nil {
		return 0, fmt.Errorf("%w: nil pattern", ErrInvalidArgument)
	}
	o := applyCallOptions(opts)

	re := pattern
	if ns := s.namespace(o); ns != "" {
		var err error
		re, err = regexp.Compile(RewritePattern(pattern.String(), ns))
		if err != nil {
			return 0, fmt.Errorf("%w: pattern %q: %w", ErrInvalidArgument, pattern, err)
		}
	}

	c, err := s.Collection(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.Remove(ctx, collection.Filter{Pattern: re})
	if err != nil {
		return n, err
	}
	s.metrics.removed.Add(n)
	return n, nil
}

// CleanExpired removes every expired record in every namespace.
// Reads already skip expired records, so this only reclaims space.
//
//nolint:revive // confusing-naming - standard cache operation
func (s *Store) CleanExpired(ctx context.Context) (int, error) {
	c, err := s.Collection(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.Remove(ctx, collection.Filter{ExpiredBy: s.cfg.now()})
	if err != nil {
		return n, err
	}
	s.metrics.removed.Add(n)
	return n, nil
}

// Clear removes every record, regardless of namespace or expiration.
func (s *Store) Clear(ctx context.Context) (int, error) {
	c, err := s.Collection(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.Remove(ctx, collection.Filter{})
	if err != nil {
		return n, err
	}
	s.metrics.removed.Add(n)
	return n, nil
}

// Count returns the number of stored records, expired ones included.
func (s *Store) Count(ctx context.Context) (int, error) {
	c, err := s.Collection(ctx)
	if err != nil {
		return 0, err
	}
	return c.Count(ctx)
}

// Close releases the database if the store opened it.
//
//nolint:revive // confusing-naming - standard cache operation
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owned == nil {
		return nil
	}
	err := s.owned.Close()
	s.owned = nil
	s.resolved.Store(nil)
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
