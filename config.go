package doccache

import (
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
)

// Config is the option-hash form of the store configuration, for NewFromArgs.
// Zero fields keep their defaults.
type Config struct {
	CollectionName   string
	DatabaseName     string
	Database         collection.Database // takes precedence over DatabaseName
	DefaultExpiresIn time.Duration
	DisableIndex     bool // skip creating the (key, expires) index
	Namespace        string
	Capped           bool
	CappedSize       int64
}

func (c *Config) apply(cfg *config) {
	if c.CollectionName != "" {
		cfg.collectionName = c.CollectionName
	}
	if c.DatabaseName != "" {
		cfg.databaseName = c.DatabaseName
	}
	if c.Database != nil {
		cfg.database = c.Database
	}
	if c.DefaultExpiresIn != 0 {
		cfg.expiresIn = c.DefaultExpiresIn
	}
	if c.DisableIndex {
		cfg.createIndex = false
	}
	if c.Namespace != "" {
		cfg.namespace = c.Namespace
	}
	if c.Capped {
		cfg.capped = true
		cfg.cappedSize = c.CappedSize
	}
}

// NewFromArgs creates a store from positional arguments, the way a framework
// looks up a store by name with trailing parameters. Accepted shapes:
//
//	NewFromArgs()                                  // defaults
//	NewFromArgs(coll)                              // a collection.Collection
//	NewFromArgs("sessions")                        // collection name
//	NewFromArgs("sessions", "appdb")               // collection and database name
//	NewFromArgs(Config{...})                       // options (value or pointer)
//	NewFromArgs("sessions", Config{...})           // name followed by options
//
// Options may follow the arguments for settings Config has no field for.
// Any other shape fails with ErrInvalidArgument.
func NewFromArgs(args []any, opts ...Option) (*Store, error) {
	cfg := defaultConfig()

	if len(args) > 2 {
		return nil, fmt.Errorf("%w: at most 2 arguments, got %d", ErrInvalidArgument, len(args))
	}

	if len(args) > 0 {
		switch a := args[0].(type) {
		case nil:
		case collection.Collection:
			cfg.collection = a
		case string:
			cfg.collectionName = a
		case Config:
			a.apply(cfg)
		case *Config:
			if a != nil {
				a.apply(cfg)
			}
		default:
			return nil, fmt.Errorf("%w: store parameters must be nil, a collection, a collection name or a Config, got %T",
				ErrInvalidArgument, args[0])
		}
	}

	if len(args) > 1 {
		if _, ok := args[0].(string); !ok && args[0] != nil {
			return nil, fmt.Errorf("%w: second argument requires a collection name first, got %T", ErrInvalidArgument, args[0])
		}
		switch a := args[1].(type) {
		case nil:
		case string:
			cfg.databaseName = a
		case Config:
			a.apply(cfg)
		case *Config:
			if a != nil {
				a.apply(cfg)
			}
		default:
			return nil, fmt.Errorf("%w: second argument must be a database name or a Config, got %T",
				ErrInvalidArgument, args[1])
		}
	}

	for _, opt := range opts {
		opt(cfg)
	}
	return newStore(cfg)
}
