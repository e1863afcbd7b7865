package doccache

import (
	"regexp"
	"strings"
)

// qualify returns the stored form of key under namespace ns.
func qualify(ns, key string) string {
	if ns == "" {
		return key
	}
	return ns + ":" + key
}

// RewritePattern rewrites a pattern over raw keys so it only matches qualified keys in ns.
// An anchored pattern stays anchored right after "ns:"; an unanchored one may match anywhere
// in the raw key. The raw pattern is grouped, so alternations stay inside the namespace.
// With an empty namespace the pattern is returned unchanged.
func RewritePattern(pattern, ns string) string {
	if ns == "" {
		return pattern
	}
	prefix := "^" + regexp.QuoteMeta(ns) + ":"
	if rest, ok := strings.CutPrefix(pattern, "^"); ok {
		return prefix + "(?:" + rest + ")"
	}
	return prefix + ".*(?:" + pattern + ")"
}
