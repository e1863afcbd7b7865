package doccache

import (
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/codeGROOVE-dev/doccache/pkg/collection"
)

const (
	// DefaultCollectionName is used when no collection name is given.
	DefaultCollectionName = "rails_cache"
	// DefaultExpiresIn is the expiration applied to writes without an explicit one.
	DefaultExpiresIn = 24 * time.Hour
	// DefaultMongoURI is dialed by the default connector.
	DefaultMongoURI = "mongodb://localhost:27017"
)

// DatabaseProvider returns an ambient database, or nil if none is available yet.
// It is consulted at first use, so a provider initialized after the store is still found.
type DatabaseProvider func() collection.Database

type config struct {
	collection     collection.Collection
	database       collection.Database
	provider       DatabaseProvider
	connector      collection.Connector
	collectionName string
	databaseName   string
	namespace      string
	expiresIn      time.Duration
	createIndex    bool
	capped         bool
	cappedSize     int64
	logger         *slog.Logger
	metrics        *metrics.Set
	now            func() time.Time
}

// Option is a functional option for configuring a Store.
type Option func(*config)

// WithCollection uses an existing collection. Index creation is then the caller's job.
func WithCollection(c collection.Collection) Option {
	return func(cfg *config) {
		cfg.collection = c
	}
}

// WithCollectionName sets the collection name (default: "rails_cache").
func WithCollectionName(name string) Option {
	return func(cfg *config) {
		cfg.collectionName = name
	}
}

// WithDatabase uses an existing database handle.
func WithDatabase(db collection.Database) Option {
	return func(cfg *config) {
		cfg.database = db
	}
}

// WithDatabaseName opens the named database through the connector.
// Defaults to the collection name.
func WithDatabaseName(name string) Option {
	return func(cfg *config) {
		cfg.databaseName = name
	}
}

// WithDatabaseProvider sets the ambient provider consulted when no database is configured.
func WithDatabaseProvider(p DatabaseProvider) Option {
	return func(cfg *config) {
		cfg.provider = p
	}
}

// WithConnector sets how new databases are opened (default: MongoDB on localhost).
func WithConnector(c collection.Connector) Option {
	return func(cfg *config) {
		cfg.connector = c
	}
}

// WithDefaultExpiresIn sets the expiration for writes without ExpiresIn (default: 1 day).
func WithDefaultExpiresIn(d time.Duration) Option {
	return func(cfg *config) {
		cfg.expiresIn = d
	}
}

// WithCreateIndex controls whether the (key, expires) index is created on first use (default: true).
func WithCreateIndex(b bool) Option {
	return func(cfg *config) {
		cfg.createIndex = b
	}
}

// WithNamespace prefixes every key with "namespace:".
func WithNamespace(ns string) Option {
	return func(cfg *config) {
		cfg.namespace = ns
	}
}

// WithCapped creates the collection size-capped when the store creates it.
// A size of zero uses collection.DefaultCappedSize.
func WithCapped(sizeBytes int64) Option {
	return func(cfg *config) {
		cfg.capped = true
		cfg.cappedSize = sizeBytes
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = l
	}
}

// WithMetrics registers the store's counters in s instead of a private set.
func WithMetrics(s *metrics.Set) Option {
	return func(cfg *config) {
		cfg.metrics = s
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.now = now
	}
}

func defaultConfig() *config {
	return &config{
		connector:      mongoConnector(DefaultMongoURI),
		collectionName: DefaultCollectionName,
		expiresIn:      DefaultExpiresIn,
		createIndex:    true,
		logger:         slog.Default(),
		now:            time.Now,
	}
}

type callOptions struct {
	expiresIn *time.Duration
	namespace *string
}

// CallOption adjusts a single operation.
type CallOption func(*callOptions)

// ExpiresIn overrides the store's default expiration for one write. It must be positive.
func ExpiresIn(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.expiresIn = &d
	}
}

// Namespace overrides the store's namespace for one operation.
func Namespace(ns string) CallOption {
	return func(o *callOptions) {
		o.namespace = &ns
	}
}

// NoNamespace disables the store's namespace for one operation.
func NoNamespace() CallOption {
	return Namespace("")
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
