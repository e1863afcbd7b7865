package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/codeGROOVE-dev/doccache/pkg/collection/collectiontest"
)

func newMemoryCollection(t *testing.T) collection.Collection {
	t.Helper()
	db, err := Open(Memory, "test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Close: %v", err)
		}
	})
	c, err := db.CreateCollection(context.Background(), "rails_cache", collection.Options{})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	return c
}

func TestCollection_Contract(t *testing.T) {
	collectiontest.Run(t, newMemoryCollection, collectiontest.Options{})
}

func TestDatabase_InvalidCollectionName(t *testing.T) {
	db, err := Open(Memory, "test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	for _, name := range []string{"", "drop table;", "1abc", `a"b`} {
		if _, err := db.CreateCollection(context.Background(), name, collection.Options{}); err == nil {
			t.Errorf("CreateCollection(%q) should fail", name)
		}
	}
}

func TestCollection_PatternBatches(t *testing.T) {
	c := newMemoryCollection(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	for i := range deleteBatch + 20 {
		if err := c.Upsert(ctx, collection.Record{Key: fmt.Sprintf("ns:%04d", i), Value: i, Expires: exp}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if err := c.Upsert(ctx, collection.Record{Key: "other:1", Value: 1, Expires: exp}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := c.Remove(ctx, collection.Filter{Pattern: regexp.MustCompile(`^ns:`)})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n != deleteBatch+20 {
		t.Errorf("Remove removed %d; want %d", n, deleteBatch+20)
	}
	if total, err := c.Count(ctx); err != nil || total != 1 {
		t.Errorf("Count = %d, %v; want 1", total, err)
	}
}

func TestConnector_File(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Connector(dir)(ctx, "cachedb")
	if err != nil {
		t.Fatalf("Connector: %v", err)
	}
	c, err := db.CreateCollection(ctx, "rails_cache", collection.Options{Capped: true, SizeBytes: 1024})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := c.CreateIndex(ctx); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := c.Upsert(ctx, collection.Record{Key: "persisted", Value: "yes", Expires: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and read back.
	db2, err := Open(filepath.Join(dir, "cachedb.db"), "cachedb")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db2.Close() //nolint:errcheck // test cleanup
	c2, err := db2.CreateCollection(ctx, "rails_cache", collection.Options{})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	rec, found, err := c2.FindOne(ctx, collection.Filter{Key: "persisted", ExpiresAfter: time.Now()})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !found || rec.Value != "yes" {
		t.Errorf("FindOne = %v, %v; want yes, true", rec.Value, found)
	}
}

func TestCollection_PatternWithExpiry(t *testing.T) {
	c := newMemoryCollection(t)
	ctx := context.Background()
	now := time.Now()

	records := map[string]time.Time{
		"ns1:old":  now.Add(-time.Hour),
		"ns1:new":  now.Add(time.Hour),
		"ns2:old":  now.Add(-time.Hour),
		"ns1:also": now.Add(-time.Minute),
	}
	for k, exp := range records {
		if err := c.Upsert(ctx, collection.Record{Key: k, Value: k, Expires: exp}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	n, err := c.Remove(ctx, collection.Filter{Pattern: regexp.MustCompile(`^ns1:`), ExpiredBy: now})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n != 2 {
		t.Errorf("Remove = %d; want 2", n)
	}
	for _, k := range []string{"ns1:new", "ns2:old"} {
		if _, found, err := c.FindOne(ctx, collection.Filter{Key: k}); err != nil || !found {
			t.Errorf("%s should survive, found = %v, %v", k, found, err)
		}
	}
}
