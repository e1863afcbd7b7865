package doccache

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

type storeMetrics struct {
	hits      *metrics.Counter
	misses    *metrics.Counter
	writes    *metrics.Counter
	coercions *metrics.Counter
	deletes   *metrics.Counter
	removed   *metrics.Counter
}

func newStoreMetrics(s *metrics.Set, coll string) *storeMetrics {
	name := func(metric string) string {
		return fmt.Sprintf(`%s{collection=%q}`, metric, coll)
	}
	return &storeMetrics{
		hits:      s.GetOrCreateCounter(name("doccache_read_hits_total")),
		misses:    s.GetOrCreateCounter(name("doccache_read_misses_total")),
		writes:    s.GetOrCreateCounter(name("doccache_writes_total")),
		coercions: s.GetOrCreateCounter(name("doccache_write_coercions_total")),
		deletes:   s.GetOrCreateCounter(name("doccache_deletes_total")),
		removed:   s.GetOrCreateCounter(name("doccache_removed_records_total")),
	}
}
