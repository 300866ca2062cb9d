// Package ledger holds the core of the listen ledger: an append-only log of
// encrypted records, their plaintext projections, per-category aggregate
// counters and the correlation table for in-flight oracle requests.
//
// All mutation flows through a single writer lock; reads take the shared
// side and therefore always see a consistent snapshot. The ledger never
// decrypts anything itself: plaintext only ever enters through verified
// oracle callbacks.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/models"
	"cipherfeed/pkg/notify"
	"cipherfeed/pkg/oracle"
	"cipherfeed/pkg/store"
	"cipherfeed/pkg/telemetry"
)

// Ledger is the single authority over records, projections, aggregates and
// pending oracle requests. Construct one per process with New and pass it
// by handle; there is no package-level instance.
type Ledger struct {
	mu  sync.RWMutex
	st  *store.Store
	orc oracle.Oracle
	bus *notify.Bus

	// pending holds the created-state requests only. Resolved and expired
	// entries live solely in the store; absence here is what makes a
	// second callback for the same id invalid.
	pending map[string]models.PendingRequest
}

// New builds a ledger over an opened store and an oracle. Pending requests
// in the created state are reloaded from storage so a restart does not
// forget in-flight correlations; their oracle jobs may be gone, in which
// case the sweeper will eventually report them. bus may be nil when no
// subscriber surface is wanted (tests, offline tools).
func New(st *store.Store, orc oracle.Oracle, bus *notify.Bus) (*Ledger, error) {
	l := &Ledger{
		st:      st,
		orc:     orc,
		bus:     bus,
		pending: make(map[string]models.PendingRequest),
	}
	reqs, err := st.ListRequests()
	if err != nil {
		return nil, fmt.Errorf("load pending requests: %w", err)
	}
	for _, pr := range reqs {
		if pr.State == models.StateCreated {
			l.pending[pr.ID] = pr
		}
	}
	if n := len(l.pending); n > 0 {
		logger.Log.Info("pending_requests_recovered", zap.Int("count", n))
	}
	telemetry.PendingRequests.Set(float64(len(l.pending)))
	if cats, err := st.ListCategories(); err == nil {
		telemetry.AggregateCategories.Set(float64(len(cats)))
	}
	return l, nil
}

func (l *Ledger) publish(ev models.Event) {
	if l.bus != nil {
		l.bus.Publish(ev)
	}
}

// Submit appends a new encrypted listen record and returns it. Ids are
// allocated sequentially starting at 1; the record's projection starts out
// unprocessed. The handles are stored as given, never inspected.
func (l *Ledger) Submit(bundle models.CipherBundle) (models.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Unix()
	id, err := l.st.AppendRecord(bundle, ts)
	if err != nil {
		return models.Record{}, err
	}
	telemetry.RecordsSubmitted.Inc()
	logger.Log.Info("record_submitted", zap.Uint64("record", id))
	l.publish(models.Event{Type: models.EventSubmitted, RecordID: id, TS: ts})
	return models.Record{ID: id, Bundle: bundle, SubmittedTS: ts}, nil
}

// Record returns the stored encrypted record for id.
func (l *Ledger) Record(id uint64) (models.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok, err := l.st.GetRecord(id)
	if err != nil {
		return models.Record{}, err
	}
	if !ok {
		return models.Record{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return rec, nil
}

// Projection returns the plaintext projection for id. Ids outside the
// allocated range yield the zero (unprocessed) projection without error,
// so callers can probe freely.
func (l *Ledger) Projection(id uint64) (models.Projection, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, _, err := l.st.GetProjection(id)
	if err != nil {
		return models.Projection{}, err
	}
	return p, nil
}

// ListProjections returns every projection row in ascending record order,
// processed or not. The snapshot is consistent: no resolve can interleave
// with the scan.
func (l *Ledger) ListProjections() ([]store.ProjectionRow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.ListProjections()
}

// LastRecordID returns the highest allocated record id, zero when the
// ledger is empty.
func (l *Ledger) LastRecordID() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.LastRecordID()
}

// Request returns the stored request entry for id, whatever its state.
func (l *Ledger) Request(id string) (models.PendingRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pr, ok, err := l.st.GetRequest(id)
	if err != nil {
		return models.PendingRequest{}, err
	}
	if !ok {
		return models.PendingRequest{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return pr, nil
}

// Requests returns every stored request entry, pending or resolved.
func (l *Ledger) Requests() ([]models.PendingRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.ListRequests()
}

// PendingCount reports how many requests are still awaiting a callback.
func (l *Ledger) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}
