//nolint:errcheck // benchmark code - errors not critical for performance measurement
package doccache

import (
	"context"
	"regexp"
	"strconv"
	"testing"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/codeGROOVE-dev/doccache/pkg/store/memory"
	"github.com/codeGROOVE-dev/doccache/pkg/store/sqlite"
)

func benchStores(b *testing.B) map[string]*Store {
	b.Helper()
	mem, err := New(WithDatabase(memory.New("bench")))
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	sq, err := New(WithConnector(sqlite.Connector(sqlite.Memory)))
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	b.Cleanup(func() { sq.Close() })
	return map[string]*Store{"memory": mem, "sqlite": sq}
}

func BenchmarkStore_Write(b *testing.B) {
	ctx := context.Background()
	for name, s := range benchStores(b) {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := range b.N {
				s.Write(ctx, strconv.Itoa(i%1000), i)
			}
		})
	}
}

func BenchmarkStore_Read(b *testing.B) {
	ctx := context.Background()
	for name, s := range benchStores(b) {
		for i := range 1000 {
			s.Write(ctx, strconv.Itoa(i), i)
		}
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := range b.N {
				s.Read(ctx, strconv.Itoa(i%2000))
			}
		})
	}
}

func BenchmarkStore_ReadParallel(b *testing.B) {
	ctx := context.Background()
	s, err := New(WithDatabase(memory.New("bench")))
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	for i := range 1000 {
		s.Write(ctx, strconv.Itoa(i), i)
	}
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			s.Read(ctx, strconv.Itoa(i%1000))
			i++
		}
	})
}

func BenchmarkCollection_RemovePattern(b *testing.B) {
	ctx := context.Background()
	re := regexp.MustCompile(`^ns1:.*9$`)
	for range b.N {
		b.StopTimer()
		c, _ := memory.New("bench").CreateCollection(ctx, "c", collection.Options{})
		for i := range 1000 {
			c.Upsert(ctx, collection.Record{Key: "ns1:" + strconv.Itoa(i), Value: i})
		}
		b.StartTimer()
		c.Remove(ctx, collection.Filter{Pattern: re})
	}
}
