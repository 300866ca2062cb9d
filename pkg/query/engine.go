// Package query serves the read-only derived views: per-listener record
// lists, recommendations, pattern extraction, niche detection and feed
// filtering. Every query is a full scan over processed projections;
// unprocessed records are invisible here by construction.
package query

import (
	"cipherfeed/pkg/store"
)

// Source yields projection rows in ascending record order. The ledger
// satisfies it; tests substitute fixed row sets.
type Source interface {
	ListProjections() ([]store.ProjectionRow, error)
}

// Engine evaluates queries over a Source. The predicate fields are
// swappable one by one; NewEngine installs the defaults.
type Engine struct {
	src Source

	Relevance  RelevanceFunc
	Pattern    PatternFunc
	Popularity PopularityFunc
	FeedFilter FeedFunc
}

// NewEngine returns an engine over src with the default predicates.
func NewEngine(src Source) *Engine {
	return &Engine{
		src:        src,
		Relevance:  DefaultRelevance,
		Pattern:    DefaultPattern,
		Popularity: DefaultPopularity,
		FeedFilter: DefaultFeed,
	}
}

// listenerRows returns the processed rows belonging to listener, in
// ascending record order.
func (e *Engine) listenerRows(listener string) ([]store.ProjectionRow, error) {
	rows, err := e.src.ListProjections()
	if err != nil {
		return nil, err
	}
	var out []store.ProjectionRow
	for _, r := range rows {
		if r.Projection.Processed && r.Projection.Listener == listener {
			out = append(out, r)
		}
	}
	return out, nil
}

// RecordsForUser returns every processed record of listener, ascending by
// record id.
func (e *Engine) RecordsForUser(listener string) ([]store.ProjectionRow, error) {
	return e.listenerRows(listener)
}

// Recommend emits one entry per (record, candidate) pair the relevance
// predicate accepts. Duplicates are intentional: a candidate matched by
// three records appears three times, which downstream ranking can use as
// a weight.
func (e *Engine) Recommend(listener string, candidates []string) ([]string, error) {
	rows, err := e.listenerRows(listener)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range rows {
		for _, c := range candidates {
			if e.Relevance(r.Projection.Category, c) {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// Patterns derives one label per processed record of listener.
func (e *Engine) Patterns(listener string) ([]string, error) {
	rows, err := e.listenerRows(listener)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range rows {
		out = append(out, e.Pattern(r.Projection))
	}
	return out, nil
}

// Niche returns the categories of listener's processed records that the
// popularity predicate accepts under threshold. One entry per record, so
// a category the listener returns to keeps showing up.
func (e *Engine) Niche(listener string, threshold uint64) ([]string, error) {
	rows, err := e.listenerRows(listener)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range rows {
		if e.Popularity(r.Projection.Category, threshold) {
			out = append(out, r.Projection.Category)
		}
	}
	return out, nil
}

// Feed filters an externally supplied candidate list through the
// per-listener feed predicate. Candidate order is preserved.
func (e *Engine) Feed(listener string, candidates []string) ([]string, error) {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if e.FeedFilter(listener, c) {
			out = append(out, c)
		}
	}
	return out, nil
}
