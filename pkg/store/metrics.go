package store

import (
	"io/fs"
	"path/filepath"
)

// PebbleMetrics is a compact view of storage internals for the admin status
// endpoint and the health surface.
type PebbleMetrics struct {
	DiskBytes    uint64 `json:"disk_bytes"`
	WALBytes     uint64 `json:"wal_bytes"`
	MemTableSize uint64 `json:"memtable_size"`
	Compactions  int64  `json:"compactions"`
	Flushes      int64  `json:"flushes"`
}

// GetPebbleMetrics returns best-effort metrics about the pebble DB. DiskBytes
// is computed by walking the DB directory so it stays meaningful even when
// pebble's own accounting lags behind a compaction.
func (s *Store) GetPebbleMetrics() PebbleMetrics {
	var m PebbleMetrics
	if s == nil || s.db == nil {
		return m
	}
	if s.path != "" {
		var total uint64
		_ = filepath.WalkDir(s.path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			total += uint64(fi.Size())
			return nil
		})
		m.DiskBytes = total
	}
	if pm := s.db.Metrics(); pm != nil {
		m.WALBytes = pm.WAL.Size
		m.MemTableSize = pm.MemTable.Size
		m.Compactions = pm.Compact.Count
		m.Flushes = pm.Flush.Count
	}
	return m
}
