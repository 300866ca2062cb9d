package models

// AggregateEntry is one row of the per-category aggregate table. Count is the
// number of processed records observed for the category; entries are created
// lazily on first observation and never removed.
type AggregateEntry struct {
	Category    string `json:"category"`
	Count       uint64 `json:"count"`
	FirstSeenTS int64  `json:"first_seen_ts"`
}
