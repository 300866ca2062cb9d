package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/models"
	"cipherfeed/pkg/oracle"
	"cipherfeed/pkg/telemetry"
)

// RequestRecordDecryption forwards a record's three ciphertext handles to
// the oracle and registers the returned request id for later correlation.
// The record must exist and must not be processed yet. Duplicate pending
// requests for the same record are allowed; whichever callback lands first
// wins and the rest bounce off the processed flag.
func (l *Ledger) RequestRecordDecryption(ctx context.Context, id uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok, err := l.st.GetRecord(id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	proj, _, err := l.st.GetProjection(id)
	if err != nil {
		return "", err
	}
	if proj.Processed {
		return "", fmt.Errorf("record %d: %w", id, ErrAlreadyProcessed)
	}

	reqID, err := l.orc.Submit(ctx, [][]byte{rec.Bundle.Category, rec.Bundle.Minutes, rec.Bundle.Listener})
	if err != nil {
		return "", fmt.Errorf("oracle submit: %w", err)
	}

	now := time.Now().Unix()
	pr := models.PendingRequest{
		ID:        reqID,
		Kind:      models.KindRecord,
		RecordID:  id,
		State:     models.StateCreated,
		CreatedTS: now,
	}
	if err := l.st.SaveRequest(pr); err != nil {
		// The oracle job is already in flight; its callback will be
		// rejected as invalid since no mapping survives.
		logger.Log.Error("request_orphaned", zap.String("request", reqID), zap.Error(err))
		return "", err
	}
	l.pending[reqID] = pr

	telemetry.DecryptRequests.WithLabelValues(string(models.KindRecord)).Inc()
	telemetry.PendingRequests.Inc()
	logger.Log.Info("decrypt_requested", zap.String("request", reqID), zap.Uint64("record", id))
	l.publish(models.Event{Type: models.EventDiscoveryRequested, RecordID: id, RequestID: reqID, TS: now})
	return reqID, nil
}

// RequestAggregateDecryption seals the current counter value for category
// and submits it to the oracle. The category must have been observed at
// least once. The counter itself is not touched; the decrypted value only
// ever appears on the resolved request entry.
func (l *Ledger) RequestAggregateDecryption(ctx context.Context, category string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok, err := l.st.GetAggregate(category)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("category %q: %w", category, ErrNotFound)
	}

	sealed, err := l.orc.Seal([]byte(strconv.FormatUint(entry.Count, 10)))
	if err != nil {
		return "", fmt.Errorf("seal counter: %w", err)
	}
	reqID, err := l.orc.Submit(ctx, [][]byte{sealed})
	if err != nil {
		return "", fmt.Errorf("oracle submit: %w", err)
	}

	now := time.Now().Unix()
	pr := models.PendingRequest{
		ID:        reqID,
		Kind:      models.KindAggregate,
		Category:  category,
		State:     models.StateCreated,
		CreatedTS: now,
	}
	if err := l.st.SaveRequest(pr); err != nil {
		logger.Log.Error("request_orphaned", zap.String("request", reqID), zap.Error(err))
		return "", err
	}
	l.pending[reqID] = pr

	telemetry.DecryptRequests.WithLabelValues(string(models.KindAggregate)).Inc()
	telemetry.PendingRequests.Inc()
	logger.Log.Info("aggregate_decrypt_requested", zap.String("request", reqID), zap.String("category", category))
	return reqID, nil
}

// HandleCallback verifies an oracle callback and applies it to the pending
// request it answers. Each request resolves at most once: a second callback
// for the same id, or one for an id the ledger never issued, fails with
// ErrInvalidRequest and mutates nothing.
func (l *Ledger) HandleCallback(cb oracle.Callback) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pr, ok := l.pending[cb.RequestID]
	if !ok {
		telemetry.CallbackFailures.WithLabelValues("invalid_request").Inc()
		return fmt.Errorf("request %s: %w", cb.RequestID, ErrInvalidRequest)
	}
	if !l.orc.VerifyProof(cb.RequestID, cb.Plaintext, cb.Proof) {
		telemetry.CallbackFailures.WithLabelValues("proof_invalid").Inc()
		return fmt.Errorf("request %s: %w", cb.RequestID, ErrProofInvalid)
	}

	switch pr.Kind {
	case models.KindRecord:
		return l.resolveRecord(pr, cb.Plaintext)
	case models.KindAggregate:
		return l.resolveAggregate(pr, cb.Plaintext)
	default:
		telemetry.CallbackFailures.WithLabelValues("invalid_request").Inc()
		return fmt.Errorf("request %s has kind %q: %w", cb.RequestID, pr.Kind, ErrInvalidRequest)
	}
}

// resolveRecord applies a record decryption: the projection flips to
// processed, the request resolves and the category's counter observes the
// record, all in one synced batch. Called with the writer lock held.
func (l *Ledger) resolveRecord(pr models.PendingRequest, plaintext []byte) error {
	var plain oracle.RecordPlain
	if err := json.Unmarshal(plaintext, &plain); err != nil {
		telemetry.CallbackFailures.WithLabelValues("malformed").Inc()
		return fmt.Errorf("request %s: malformed record plaintext: %w", pr.ID, ErrInvalidRequest)
	}

	proj, _, err := l.st.GetProjection(pr.RecordID)
	if err != nil {
		return err
	}
	if proj.Processed {
		// Another request for the same record won the race. This request
		// stays pending; a later identical callback fails the same way.
		telemetry.CallbackFailures.WithLabelValues("already_processed").Inc()
		return fmt.Errorf("record %d: %w", pr.RecordID, ErrAlreadyProcessed)
	}

	now := time.Now().Unix()
	b, err := l.st.Batch()
	if err != nil {
		return err
	}
	defer b.Close()

	next := models.Projection{
		Category:  plain.Category,
		Minutes:   plain.Minutes,
		Listener:  plain.Listener,
		Processed: true,
	}
	if err := l.st.BatchSetProjection(b, pr.RecordID, next); err != nil {
		return err
	}
	pr.State = models.StateResolved
	pr.ResolvedTS = now
	if err := l.st.BatchSetRequest(b, pr); err != nil {
		return err
	}
	firstSeen, err := l.stageObserve(b, plain.Category, now)
	if err != nil {
		return err
	}
	if err := l.st.Apply(b); err != nil {
		return err
	}

	delete(l.pending, pr.ID)
	telemetry.RecordsProcessed.Inc()
	telemetry.PendingRequests.Dec()
	if firstSeen {
		telemetry.AggregateCategories.Inc()
	}
	logger.Log.Info("record_processed",
		zap.Uint64("record", pr.RecordID),
		zap.String("request", pr.ID),
		zap.String("category", plain.Category))
	l.publish(models.Event{
		Type:      models.EventProcessed,
		RecordID:  pr.RecordID,
		RequestID: pr.ID,
		Category:  plain.Category,
		TS:        now,
	})
	return nil
}

// resolveAggregate applies an aggregate decryption: the request entry
// carries the plaintext counter value from here on. The aggregate table
// itself is never touched by this path. Called with the writer lock held.
func (l *Ledger) resolveAggregate(pr models.PendingRequest, plaintext []byte) error {
	value := string(plaintext)
	if !isDecimal(value) {
		telemetry.CallbackFailures.WithLabelValues("malformed").Inc()
		return fmt.Errorf("request %s: malformed counter plaintext: %w", pr.ID, ErrInvalidRequest)
	}

	pr.State = models.StateResolved
	pr.ResolvedTS = time.Now().Unix()
	pr.Value = value
	if err := l.st.SaveRequest(pr); err != nil {
		return err
	}

	delete(l.pending, pr.ID)
	telemetry.PendingRequests.Dec()
	logger.Log.Info("aggregate_resolved",
		zap.String("request", pr.ID),
		zap.String("category", pr.Category))
	l.publish(models.Event{
		Type:      models.EventAggregateReady,
		RequestID: pr.ID,
		Category:  pr.Category,
		Value:     value,
		TS:        pr.ResolvedTS,
	})
	return nil
}

// ExpireStale transitions pending requests older than olderThan into the
// expired state. Expired requests reject any late callback exactly like
// unknown ids. The sweeper calls this only when expiry is configured;
// without it, stranded requests simply stay pending.
func (l *Ledger) ExpireStale(olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).Unix()
	n := 0
	for id, pr := range l.pending {
		if pr.CreatedTS > cutoff {
			continue
		}
		pr.State = models.StateExpired
		pr.ResolvedTS = time.Now().Unix()
		if err := l.st.SaveRequest(pr); err != nil {
			return n, err
		}
		delete(l.pending, id)
		telemetry.PendingRequests.Dec()
		n++
	}
	if n > 0 {
		logger.Log.Warn("pending_requests_expired", zap.Int("count", n))
	}
	return n, nil
}

// StalePending returns the pending requests created before now-olderThan,
// for the sweeper's report pass. The entries are copies.
func (l *Ledger) StalePending(olderThan time.Duration) []models.PendingRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := time.Now().Add(-olderThan).Unix()
	var out []models.PendingRequest
	for _, pr := range l.pending {
		if pr.CreatedTS <= cutoff {
			out = append(out, pr)
		}
	}
	return out
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
