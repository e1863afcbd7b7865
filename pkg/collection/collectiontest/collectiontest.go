// Package collectiontest provides a contract suite for collection.Collection implementations.
package collectiontest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
)

// Options tunes the suite for backends with coarser behavior.
type Options struct {
	// SkipUnsupportedValue skips the unrepresentable-value check.
	SkipUnsupportedValue bool
}

// Run checks that the collection returned by newColl honors the collection contract.
// newColl must return an empty collection each time it is called.
func Run(t *testing.T, newColl func(t *testing.T) collection.Collection, opts Options) {
	t.Helper()

	t.Run("UpsertFind", func(t *testing.T) { testUpsertFind(t, newColl(t)) })
	t.Run("UpsertReplaces", func(t *testing.T) { testUpsertReplaces(t, newColl(t)) })
	t.Run("ExpiredNotFound", func(t *testing.T) { testExpiredNotFound(t, newColl(t)) })
	t.Run("RemoveKey", func(t *testing.T) { testRemoveKey(t, newColl(t)) })
	t.Run("RemovePattern", func(t *testing.T) { testRemovePattern(t, newColl(t)) })
	t.Run("RemoveExpired", func(t *testing.T) { testRemoveExpired(t, newColl(t)) })
	t.Run("RemoveAll", func(t *testing.T) { testRemoveAll(t, newColl(t)) })
	t.Run("CreateIndex", func(t *testing.T) { testCreateIndex(t, newColl(t)) })
	if !opts.SkipUnsupportedValue {
		t.Run("UnsupportedValue", func(t *testing.T) { testUnsupportedValue(t, newColl(t)) })
	}
}

func upsert(t *testing.T, c collection.Collection, key string, value any, expires time.Time) {
	t.Helper()
	if err := c.Upsert(context.Background(), collection.Record{Key: key, Value: value, Expires: expires}); err != nil {
		t.Fatalf("Upsert %s: %v", key, err)
	}
}

func count(t *testing.T, c collection.Collection) int {
	t.Helper()
	n, err := c.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func live(t *testing.T, c collection.Collection, key string) (any, bool) {
	t.Helper()
	rec, found, err := c.FindOne(context.Background(), collection.Filter{Key: key, ExpiresAfter: time.Now()})
	if err != nil {
		t.Fatalf("FindOne %s: %v", key, err)
	}
	if found && rec.Key != key {
		t.Errorf("FindOne %s returned key %q", key, rec.Key)
	}
	return rec.Value, found
}

func testUpsertFind(t *testing.T, c collection.Collection) {
	exp := time.Now().Add(time.Hour)
	upsert(t, c, "fnord", "I am vaguely disturbed.", exp)

	rec, found, err := c.FindOne(context.Background(), collection.Filter{Key: "fnord", ExpiresAfter: time.Now()})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !found {
		t.Fatal("fnord not found")
	}
	if rec.Value != "I am vaguely disturbed." {
		t.Errorf("FindOne value = %v; want %q", rec.Value, "I am vaguely disturbed.")
	}
	if rec.Expires.Sub(exp).Abs() > time.Second {
		t.Errorf("FindOne expires = %v; want %v", rec.Expires, exp)
	}

	if _, found := live(t, c, "missing"); found {
		t.Error("missing key should not be found")
	}
}

func testUpsertReplaces(t *testing.T, c collection.Collection) {
	exp := time.Now().Add(time.Hour)
	upsert(t, c, "k", "v1", exp)
	upsert(t, c, "k", "v2", exp)

	v, found := live(t, c, "k")
	if !found || v != "v2" {
		t.Errorf("after second upsert got %v, %v; want v2", v, found)
	}
	if n := count(t, c); n != 1 {
		t.Errorf("Count = %d; want 1 (upsert must not duplicate)", n)
	}
}

func testExpiredNotFound(t *testing.T, c collection.Collection) {
	upsert(t, c, "old", "value", time.Now().Add(-time.Minute))

	if _, found := live(t, c, "old"); found {
		t.Error("expired record should not be found")
	}
	if n := count(t, c); n != 1 {
		t.Errorf("Count = %d; expired record should still be stored", n)
	}
}

func testRemoveKey(t *testing.T, c collection.Collection) {
	ctx := context.Background()
	upsert(t, c, "foo", "bar", time.Now().Add(time.Hour))
	upsert(t, c, "food", "bar", time.Now().Add(time.Hour))

	n, err := c.Remove(ctx, collection.Filter{Key: "foo"})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n != 1 {
		t.Errorf("Remove removed %d; want 1", n)
	}
	if _, found := live(t, c, "foo"); found {
		t.Error("foo should be removed")
	}
	if _, found := live(t, c, "food"); !found {
		t.Error("food should remain")
	}

	n, err = c.Remove(ctx, collection.Filter{Key: "never-written"})
	if err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	if n != 0 {
		t.Errorf("Remove missing removed %d; want 0", n)
	}
}

func testRemovePattern(t *testing.T, c collection.Collection) {
	exp := time.Now().Add(time.Hour)
	for _, ns := range []string{"ns1", "ns2"} {
		for _, k := range []string{"foo", "fodder", "yoo"} {
			upsert(t, c, ns+":"+k, k, exp)
		}
	}
	// Expired records are removed too.
	upsert(t, c, "ns1:zoo", "zoo", time.Now().Add(-time.Hour))

	n, err := c.Remove(context.Background(), collection.Filter{Pattern: regexp.MustCompile(`^ns1:.*oo`)})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n != 3 {
		t.Errorf("Remove removed %d; want 3", n)
	}

	want := map[string]bool{
		"ns1:foo": false, "ns1:yoo": false, "ns1:fodder": true,
		"ns2:foo": true, "ns2:yoo": true, "ns2:fodder": true,
	}
	for k, w := range want {
		if _, found := live(t, c, k); found != w {
			t.Errorf("%s found = %v; want %v", k, found, w)
		}
	}
}

func testRemoveExpired(t *testing.T, c collection.Collection) {
	now := time.Now()
	upsert(t, c, "short", "a", now.Add(-time.Second))
	upsert(t, c, "long", "b", now.Add(48*time.Hour))

	if n := count(t, c); n != 2 {
		t.Fatalf("Count = %d; want 2", n)
	}
	n, err := c.Remove(context.Background(), collection.Filter{ExpiredBy: now})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n != 1 {
		t.Errorf("Remove removed %d; want 1", n)
	}
	if n := count(t, c); n != 1 {
		t.Errorf("Count = %d; want 1", n)
	}
	if _, found := live(t, c, "long"); !found {
		t.Error("long-lived record should remain")
	}
}

func testRemoveAll(t *testing.T, c collection.Collection) {
	for i := range 5 {
		upsert(t, c, fmt.Sprintf("ns%d:k", i%2), i, time.Now().Add(time.Duration(i-2)*time.Hour))
		upsert(t, c, fmt.Sprintf("k%d", i), i, time.Now().Add(time.Hour))
	}
	before := count(t, c)

	n, err := c.Remove(context.Background(), collection.Filter{})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n != before {
		t.Errorf("Remove removed %d; want %d", n, before)
	}
	if n := count(t, c); n != 0 {
		t.Errorf("Count = %d; want 0", n)
	}
}

func testCreateIndex(t *testing.T, c collection.Collection) {
	ctx := context.Background()
	if err := c.CreateIndex(ctx); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := c.CreateIndex(ctx); err != nil {
		t.Fatalf("CreateIndex twice: %v", err)
	}
}

func testUnsupportedValue(t *testing.T, c collection.Collection) {
	err := c.Upsert(context.Background(), collection.Record{Key: "k", Value: func() {}, Expires: time.Now().Add(time.Hour)})
	if !errors.Is(err, collection.ErrUnsupportedValue) {
		t.Errorf("Upsert(func) error = %v; want ErrUnsupportedValue", err)
	}
}
