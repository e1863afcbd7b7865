// Package cloudrun provides automatic persistence backend selection for Cloud Run.
// Detects Cloud Run via K_SERVICE env var and tries Datastore first,
// falling back to local files if unavailable.
package cloudrun

import (
	"context"
	"log/slog"
	"os"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/codeGROOVE-dev/doccache/pkg/store/compress"
	"github.com/codeGROOVE-dev/doccache/pkg/store/datastore"
	"github.com/codeGROOVE-dev/doccache/pkg/store/localfs"
)

// Connector returns a collection.Connector for Cloud Run environments.
// In Cloud Run: tries Datastore, falls back to local files under base on error.
// Outside Cloud Run: uses local files directly.
// Optional compressor enables compression (e.g., compress.S2() for Snappy-compatible).
func Connector(base string, c ...compress.Compressor) collection.Connector {
	return func(ctx context.Context, name string) (collection.Database, error) {
		return Open(ctx, base, name, c...)
	}
}

// Open returns the Datastore database name when running on Cloud Run, else a local one.
func Open(ctx context.Context, base, name string, c ...compress.Compressor) (collection.Database, error) {
	if os.Getenv("K_SERVICE") != "" {
		db, err := datastore.Connect(ctx, name, c...)
		if err == nil {
			return db, nil
		}
		slog.Warn("datastore unavailable, falling back to local files", "database", name, "error", err)
	}
	return localfs.Open(base, name, c...)
}
