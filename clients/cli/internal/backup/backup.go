// Package backup moves a ledger database to and from a portable JSONL
// snapshot: one line per key, JSON-valued families embedded as-is, binary
// families carried as base64. Snapshots restore byte-identical databases, so
// sealed handles survive the round trip without ever being decrypted.
package backup

import (
	"encoding/json"
	"strings"
)

// Line is one exported key/value pair. Exactly one of Value and Raw is set:
// Value for families whose stored form is JSON, Raw for binary values.
type Line struct {
	Key   string          `json:"key"`
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
	Raw   []byte          `json:"raw,omitempty"`
}

// Stats counts exported or imported keys per family.
type Stats struct {
	Records     int
	Projections int
	Requests    int
	Aggregates  int
	IndexSlots  int
	MetaKeys    int
	OtherKeys   int
}

func (s *Stats) Total() int {
	return s.Records + s.Projections + s.Requests + s.Aggregates + s.IndexSlots + s.MetaKeys + s.OtherKeys
}

func (s *Stats) bump(kind string) {
	switch kind {
	case "record":
		s.Records++
	case "projection":
		s.Projections++
	case "request":
		s.Requests++
	case "aggregate":
		s.Aggregates++
	case "category_index":
		s.IndexSlots++
	case "meta":
		s.MetaKeys++
	default:
		s.OtherKeys++
	}
}

// classify maps a store key to its family name.
func classify(key string) string {
	switch {
	case strings.HasPrefix(key, "rec:"):
		return "record"
	case strings.HasPrefix(key, "proj:"):
		return "projection"
	case strings.HasPrefix(key, "req:"):
		return "request"
	case strings.HasPrefix(key, "agg:cnt:"):
		return "aggregate"
	case strings.HasPrefix(key, "agg:idx:"):
		return "category_index"
	case strings.HasPrefix(key, "meta:"):
		return "meta"
	default:
		return "other"
	}
}

// jsonFamily reports whether the family stores its value as JSON.
func jsonFamily(kind string) bool {
	switch kind {
	case "record", "projection", "request", "aggregate":
		return true
	}
	return false
}
