package collection

import (
	"errors"
	"math"
	"regexp"
	"testing"
	"time"
)

func TestFilter_Match(t *testing.T) {
	now := time.Now()
	live := Record{Key: "ns1:foo", Value: "bar", Expires: now.Add(time.Hour)}
	dead := Record{Key: "ns1:foo", Value: "bar", Expires: now.Add(-time.Hour)}

	tests := []struct {
		name   string
		filter Filter
		rec    Record
		want   bool
	}{
		{"zero filter matches live", Filter{}, live, true},
		{"zero filter matches expired", Filter{}, dead, true},
		{"exact key", Filter{Key: "ns1:foo"}, live, true},
		{"other key", Filter{Key: "ns1:bar"}, live, false},
		{"pattern", Filter{Pattern: regexp.MustCompile(`^ns1:.*oo`)}, live, true},
		{"pattern miss", Filter{Pattern: regexp.MustCompile(`^ns2:`)}, live, false},
		{"unexpired live", Filter{ExpiresAfter: now}, live, true},
		{"unexpired dead", Filter{ExpiresAfter: now}, dead, false},
		{"expired live", Filter{ExpiredBy: now}, live, false},
		{"expired dead", Filter{ExpiredBy: now}, dead, true},
		{"expires exactly now is expired", Filter{ExpiredBy: now}, Record{Key: "k", Expires: now}, true},
		{"expires exactly now is not live", Filter{ExpiresAfter: now}, Record{Key: "k", Expires: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.rec); got != tt.want {
				t.Errorf("Match() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_MatchKeyIgnoresExpiry(t *testing.T) {
	f := Filter{Key: "a", ExpiresAfter: time.Now().Add(time.Hour)}
	if !f.MatchKey("a") {
		t.Error("MatchKey(a) = false; want true")
	}
	if f.MatchKey("b") {
		t.Error("MatchKey(b) = true; want false")
	}
	if !f.HasExpiry() {
		t.Error("HasExpiry() = false; want true")
	}
	if (Filter{Key: "a"}).HasExpiry() {
		t.Error("HasExpiry() = true for key-only filter")
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	b, err := EncodeValue(map[string]any{"name": "Ada", "tags": []string{"x"}})
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	v, err := DecodeValue(b)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("DecodeValue type = %T; want map[string]any", v)
	}
	if m["name"] != "Ada" {
		t.Errorf("name = %v; want Ada", m["name"])
	}
}

func TestCodec_Unsupported(t *testing.T) {
	for name, v := range map[string]any{
		"chan": make(chan int),
		"func": func() {},
		"NaN":  math.NaN(),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := EncodeValue(v)
			if !errors.Is(err, ErrUnsupportedValue) {
				t.Errorf("EncodeValue(%s) error = %v; want ErrUnsupportedValue", name, err)
			}
		})
	}
}

func TestCodec_DecodeGarbage(t *testing.T) {
	if _, err := DecodeValue([]byte("{not json")); err == nil {
		t.Error("DecodeValue of garbage should fail")
	}
}
