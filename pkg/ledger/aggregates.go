package ledger

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"

	"cipherfeed/pkg/models"
)

// Categories returns every observed category in first-observation order.
// The order never changes once a category appears.
func (l *Ledger) Categories() ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.ListCategories()
}

// Aggregates returns every aggregate entry in first-observation order.
func (l *Ledger) Aggregates() ([]models.AggregateEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.ListAggregates()
}

// Aggregate returns the counter entry for category.
func (l *Ledger) Aggregate(category string) (models.AggregateEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok, err := l.st.GetAggregate(category)
	if err != nil {
		return models.AggregateEntry{}, err
	}
	if !ok {
		return models.AggregateEntry{}, fmt.Errorf("category %q: %w", category, ErrNotFound)
	}
	return e, nil
}

// SealedCounter seals the category's current counter value back into the
// confidential domain and returns the handle. This is the read surface for
// counters: plaintext counts never leave the ledger directly.
func (l *Ledger) SealedCounter(category string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok, err := l.st.GetAggregate(category)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("category %q: %w", category, ErrNotFound)
	}
	return l.orc.Seal([]byte(strconv.FormatUint(e.Count, 10)))
}

// stageObserve stages one observation of category into batch b: a fresh
// category gets an entry at zero plus an index slot, then the counter is
// incremented. Returns whether the category was first seen. Called with
// the writer lock held.
func (l *Ledger) stageObserve(b *pebble.Batch, category string, ts int64) (bool, error) {
	e, ok, err := l.st.GetAggregate(category)
	if err != nil {
		return false, err
	}
	firstSeen := !ok
	if firstSeen {
		e = models.AggregateEntry{Category: category, FirstSeenTS: ts}
		seq, err := l.st.AggSeq()
		if err != nil {
			return false, err
		}
		if err := l.st.BatchAppendCategory(b, seq+1, category); err != nil {
			return false, err
		}
	}
	e.Count++
	if err := l.st.BatchSetAggregate(b, e); err != nil {
		return false, err
	}
	return firstSeen, nil
}
