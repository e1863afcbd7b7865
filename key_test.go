package doccache

import (
	"regexp"
	"testing"
)

func TestQualify(t *testing.T) {
	if got := qualify("", "key"); got != "key" {
		t.Errorf("qualify(\"\", key) = %q; want key", got)
	}
	if got := qualify("ns", "key"); got != "ns:key" {
		t.Errorf("qualify(ns, key) = %q; want ns:key", got)
	}
}

func TestRewritePattern(t *testing.T) {
	tests := []struct {
		pattern string
		ns      string
		want    string
	}{
		{"oo", "", "oo"},
		{"^foo", "", "^foo"},
		{"oo", "ns1", "^ns1:.*(?:oo)"},
		{"^foo", "ns1", "^ns1:(?:foo)"},
		{"bar$", "a.b", `^a\.b:.*(?:bar$)`},
		{"^(x|y)", "web+api", `^web\+api:(?:(x|y))`},
		{"oo|zz", "ns1", "^ns1:.*(?:oo|zz)"},
		{"^a|b", "ns1", "^ns1:(?:a|b)"},
	}
	for _, tt := range tests {
		if got := RewritePattern(tt.pattern, tt.ns); got != tt.want {
			t.Errorf("RewritePattern(%q, %q) = %q; want %q", tt.pattern, tt.ns, got, tt.want)
		}
	}
}

func TestRewritePattern_Matches(t *testing.T) {
	tests := []struct {
		pattern string
		ns      string
		keys    map[string]bool
	}{
		{"oo", "ns1", map[string]bool{
			"ns1:foo":    true,
			"ns1:yoo":    true,
			"ns1:fodder": false,
			"ns2:foo":    false,
			"xns1:foo":   false,
			"ns1":        false,
		}},
		{"oo|zz", "ns1", map[string]bool{
			"ns1:foo": true,
			"ns1:zz":  true,
			"ns2:zz":  false,
			"ns2:foo": false,
			"zz":      false,
		}},
		{"^a|b", "ns1", map[string]bool{
			"ns1:apple":  true,
			"ns1:banana": true,
			"ns1:cab":    false,
			"ns2:b":      false,
			"b":          false,
		}},
		{"(?i)foo", "ns1", map[string]bool{
			"ns1:FOO":    true,
			"ns1:barFoo": true,
			"NS1:foo":    false,
			"ns2:foo":    false,
		}},
		{"^x", "a.b", map[string]bool{
			"a.b:x":  true,
			"axb:x":  false,
			"a.b:yx": false,
		}},
	}
	for _, tt := range tests {
		re := regexp.MustCompile(RewritePattern(tt.pattern, tt.ns))
		for key, want := range tt.keys {
			if got := re.MatchString(key); got != want {
				t.Errorf("%q in %q: %s matches = %v; want %v", tt.pattern, tt.ns, key, got, want)
			}
		}
	}
}
