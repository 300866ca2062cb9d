package upkeep_test

import (
	"context"
	"path/filepath"
	"testing"

	"cipherfeed/pkg/models"
	"cipherfeed/pkg/store"
	"cipherfeed/pkg/upkeep"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRecords(t *testing.T, s *store.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		bundle := models.CipherBundle{
			Category: []byte("c"),
			Minutes:  []byte("m"),
			Listener: []byte("l"),
		}
		if _, err := s.AppendRecord(bundle, int64(1000+i)); err != nil {
			t.Fatalf("append record: %v", err)
		}
	}
}

func seedCategories(t *testing.T, s *store.Store, cats ...string) {
	t.Helper()
	for i, c := range cats {
		b, err := s.Batch()
		if err != nil {
			t.Fatalf("batch: %v", err)
		}
		if err := s.BatchSetAggregate(b, models.AggregateEntry{Category: c, Count: 1, FirstSeenTS: int64(i)}); err != nil {
			t.Fatalf("stage aggregate: %v", err)
		}
		if err := s.BatchAppendCategory(b, uint64(i+1), c); err != nil {
			t.Fatalf("stage category: %v", err)
		}
		if err := s.Apply(b); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
}

// TestRunHealsLaggingCursors simulates a database whose rows outrun the id
// cursors, as after a partial restore, and verifies the version change runs
// the repair.
func TestRunHealsLaggingCursors(t *testing.T) {
	s := openStore(t)
	seedRecords(t, s, 3)
	seedCategories(t, s, "tech", "news")

	// rewind both cursors behind the stored rows
	if err := s.SetRecordCursor(1); err != nil {
		t.Fatalf("rewind record cursor: %v", err)
	}
	if err := s.SetCategoryCursor(0); err != nil {
		t.Fatalf("rewind category cursor: %v", err)
	}

	invoked, err := upkeep.Run(context.Background(), s, "1.0.0")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !invoked {
		t.Fatal("expected first run on a fresh database to invoke the reconcile pass")
	}

	last, err := s.LastRecordID()
	if err != nil {
		t.Fatalf("last record id: %v", err)
	}
	if last != 3 {
		t.Fatalf("expected record cursor healed to 3, got %d", last)
	}
	aggSeq, err := s.AggSeq()
	if err != nil {
		t.Fatalf("agg seq: %v", err)
	}
	if aggSeq != 2 {
		t.Fatalf("expected category cursor healed to 2, got %d", aggSeq)
	}

	// the next allocation must not collide with an existing record
	id, err := s.AppendRecord(models.CipherBundle{Category: []byte("c"), Minutes: []byte("m"), Listener: []byte("l")}, 2000)
	if err != nil {
		t.Fatalf("append after heal: %v", err)
	}
	if id != 4 {
		t.Fatalf("expected id 4 after heal, got %d", id)
	}

	v, err := s.GetKey("meta:version")
	if err != nil {
		t.Fatalf("read version: %v", err)
	}
	if string(v) != "1.0.0" {
		t.Fatalf("expected stored version 1.0.0, got %q", v)
	}
	if _, err := s.GetKey("meta:upkeep"); err == nil {
		t.Fatal("expected in-progress marker to be removed after a successful run")
	}
}

func TestRunNoopWhenVersionUnchanged(t *testing.T) {
	s := openStore(t)

	invoked, err := upkeep.Run(context.Background(), s, "2.1.0")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !invoked {
		t.Fatal("expected first run to invoke the reconcile pass")
	}

	invoked, err = upkeep.Run(context.Background(), s, "2.1.0")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if invoked {
		t.Fatal("expected second run at the same version to be a noop")
	}
}

func TestRunLeavesAheadCursorAlone(t *testing.T) {
	s := openStore(t)
	seedRecords(t, s, 2)

	// a cursor ahead of the rows only produces id gaps, never collisions
	if err := s.SetRecordCursor(10); err != nil {
		t.Fatalf("advance record cursor: %v", err)
	}

	if _, err := upkeep.Run(context.Background(), s, "1.0.0"); err != nil {
		t.Fatalf("run: %v", err)
	}

	last, err := s.LastRecordID()
	if err != nil {
		t.Fatalf("last record id: %v", err)
	}
	if last != 10 {
		t.Fatalf("expected ahead cursor left at 10, got %d", last)
	}
}
