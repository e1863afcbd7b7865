package cloudrun

import (
	"context"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/codeGROOVE-dev/doccache/pkg/store/compress"
	"github.com/codeGROOVE-dev/doccache/pkg/store/localfs"
)

func TestOpen_LocalFallback(t *testing.T) {
	t.Setenv("K_SERVICE", "")

	db, err := Open(context.Background(), t.TempDir(), "test-cache")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Logf("Close error: %v", err)
		}
	}()

	if _, ok := db.(*localfs.Database); !ok {
		t.Errorf("Open() outside Cloud Run = %T; want *localfs.Database", db)
	}
}

func TestConnector_BasicOperations(t *testing.T) {
	t.Setenv("K_SERVICE", "")
	ctx := context.Background()

	db, err := Connector(t.TempDir(), compress.S2())(ctx, "test-ops")
	if err != nil {
		t.Fatalf("Connector() failed: %v", err)
	}
	c, err := db.CreateCollection(ctx, "rails_cache", collection.Options{})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if err := c.Upsert(ctx, collection.Record{Key: "key1", Value: 42.0, Expires: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rec, found, err := c.FindOne(ctx, collection.Filter{Key: "key1", ExpiresAfter: time.Now()})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !found || rec.Value != 42.0 {
		t.Errorf("FindOne = %v, %v; want 42, true", rec.Value, found)
	}
}
