// Package upkeep brings a freshly opened ledger database in line with the
// running server version. Version changes trigger a reconcile pass that
// repairs the allocation cursors: AppendRecord hands out meta:recseq+1, so a
// cursor lagging the stored rows (a partial restore, a hand-edited snapshot)
// would allocate ids that collide with existing records. The pass is
// idempotent and safe to run on every boot.
package upkeep

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/store"
)

const (
	versionKey = "meta:version"
	markerKey  = "meta:upkeep"
)

// Run checks the stored version against the running one and reconciles when
// they differ. Returns (invoked, error): invoked is true if Reconcile ran.
func Run(ctx context.Context, st *store.Store, version string) (bool, error) {
	stored := storedVersion(st)
	logger.Info("upkeep_version_check", "stored", stored, "running", version)
	if stored == version {
		logger.Info("upkeep_noop", "version", version)
		return false, nil
	}

	marker := map[string]string{
		"from":       stored,
		"to":         version,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.Marshal(marker)
	if err := st.SetKey(markerKey, mb); err != nil {
		logger.Error("upkeep_write_marker_failed", "error", err)
		return true, fmt.Errorf("failed to write upkeep marker: %w", err)
	}

	if err := Reconcile(ctx, st, stored, version); err != nil {
		logger.Error("upkeep_reconcile_failed", "from", stored, "to", version, "error", err)
		return true, err
	}

	if err := st.SetKey(versionKey, []byte(version)); err != nil {
		logger.Error("upkeep_persist_version_failed", "version", version, "error", err)
		return true, fmt.Errorf("failed to persist new version: %w", err)
	}
	if err := st.DeleteKey(markerKey); err != nil {
		logger.Error("upkeep_delete_marker_failed", "error", err)
	}

	logger.Info("upkeep_version_persisted", "version", version)
	return true, nil
}

// Reconcile recomputes the id cursors from the rows actually present and
// advances any cursor found lagging. A cursor ahead of the rows is left
// alone: ids are never reused, so gaps are harmless but collisions are not.
func Reconcile(ctx context.Context, st *store.Store, from, to string) error {
	logger.Info("upkeep_reconcile_start", "from", from, "to", to)

	cursor, err := st.LastRecordID()
	if err != nil {
		logger.Error("upkeep_read_recseq_failed", "error", err)
		return err
	}
	maxRec, err := st.MaxRecordID()
	if err != nil {
		logger.Error("upkeep_scan_records_failed", "error", err)
		return err
	}
	if maxRec > cursor {
		if err := st.SetRecordCursor(maxRec); err != nil {
			logger.Error("upkeep_advance_recseq_failed", "error", err)
			return err
		}
		logger.Info("upkeep_recseq_advanced", "was", cursor, "now", maxRec)
	}

	aggCursor, err := st.AggSeq()
	if err != nil {
		logger.Error("upkeep_read_aggseq_failed", "error", err)
		return err
	}
	maxSlot, err := st.MaxCategorySeq()
	if err != nil {
		logger.Error("upkeep_scan_index_failed", "error", err)
		return err
	}
	if maxSlot > aggCursor {
		if err := st.SetCategoryCursor(maxSlot); err != nil {
			logger.Error("upkeep_advance_aggseq_failed", "error", err)
			return err
		}
		logger.Info("upkeep_aggseq_advanced", "was", aggCursor, "now", maxSlot)
	}

	logger.Info("upkeep_reconcile_done", "from", from, "to", to)
	return nil
}

func storedVersion(st *store.Store) string {
	v, _ := st.GetKey(versionKey)
	return string(v)
}
