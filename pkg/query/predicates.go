package query

import "cipherfeed/pkg/models"

// The four predicates below are deliberately trivial. The engine's
// correctness does not depend on their bodies, only on their signatures
// and call sites; deployments swap in real scoring by assigning the
// corresponding engine field.

// RelevanceFunc decides whether a candidate show is relevant given a
// category the listener was observed listening to.
type RelevanceFunc func(listenedCategory, candidate string) bool

// PatternFunc derives a listening-pattern label from one processed record.
type PatternFunc func(p models.Projection) string

// PopularityFunc decides whether a category counts as niche under the
// given popularity threshold.
type PopularityFunc func(category string, threshold uint64) bool

// FeedFunc decides whether a candidate belongs in a listener's feed.
type FeedFunc func(listener, candidate string) bool

// DefaultRelevance accepts every candidate.
func DefaultRelevance(listenedCategory, candidate string) bool { return true }

// DefaultPattern labels every record the same.
func DefaultPattern(p models.Projection) string { return "baseline" }

// DefaultPopularity treats every category as niche.
func DefaultPopularity(category string, threshold uint64) bool { return true }

// DefaultFeed keeps every candidate.
func DefaultFeed(listener, candidate string) bool { return true }
