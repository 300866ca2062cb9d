package store

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/models"
)

// ErrClosed is returned for operations against a store that was never opened
// or was already closed.
var ErrClosed = errors.New("store not opened; call store.Open first")

// Store wraps the pebble instance holding the ledger: records, projections,
// pending oracle requests and the aggregate table. Mutating methods assume
// the caller serializes writes (the ledger funnels every mutation through a
// single writer lock); reads may run concurrently, and each scan uses one
// iterator so it observes a consistent view.
type Store struct {
	db   *pebble.DB
	path string
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	logger.Log.Info("opening_pebble_db", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	logger.Log.Info("pebble_opened", zap.String("path", path))
	return &Store{db: db, path: path}, nil
}

// Close closes the pebble DB if open. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Log.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func (s *Store) Ready() bool {
	return s != nil && s.db != nil
}

// Path returns the database directory.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) guard() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return nil
}

// get returns a detached copy of the value at key. Missing keys surface as
// pebble.ErrNotFound.
func (s *Store) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

func (s *Store) seq(key string) (uint64, error) {
	v, err := s.get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return decodeSeq(v), nil
}

// LastRecordID returns the most recently allocated record id, 0 when the
// ledger is empty.
func (s *Store) LastRecordID() (uint64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.seq(metaRecSeq)
}

// AppendRecord allocates the next record id, persists the ciphertext bundle
// and an empty unprocessed projection, and advances the id cursor, all in
// one synced batch. The first allocated id is 1; 0 stays reserved as "none".
func (s *Store) AppendRecord(bundle models.CipherBundle, ts int64) (uint64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	last, err := s.seq(metaRecSeq)
	if err != nil {
		return 0, err
	}
	id := last + 1

	rb, err := json.Marshal(models.Record{ID: id, Bundle: bundle, SubmittedTS: ts})
	if err != nil {
		return 0, err
	}
	pb, err := json.Marshal(models.Projection{})
	if err != nil {
		return 0, err
	}

	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Set([]byte(metaRecSeq), encodeSeq(id), nil)
	_ = b.Set(recordKey(id), rb, nil)
	_ = b.Set(projectionKey(id), pb, nil)
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return 0, err
	}
	logger.Log.Debug("record_appended", zap.Uint64("id", id))
	return id, nil
}

// GetRecord fetches a record by id. The bool is false when the id was never
// allocated.
func (s *Store) GetRecord(id uint64) (models.Record, bool, error) {
	var rec models.Record
	if err := s.guard(); err != nil {
		return rec, false, err
	}
	v, err := s.get(recordKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return rec, false, nil
		}
		return rec, false, err
	}
	if err := json.Unmarshal(v, &rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

// GetProjection fetches the projection for id. The bool is false when the id
// was never allocated.
func (s *Store) GetProjection(id uint64) (models.Projection, bool, error) {
	var p models.Projection
	if err := s.guard(); err != nil {
		return p, false, err
	}
	v, err := s.get(projectionKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return p, false, nil
		}
		return p, false, err
	}
	if err := json.Unmarshal(v, &p); err != nil {
		return p, false, err
	}
	return p, true, nil
}

// ProjectionRow pairs a record id with its projection in scan results.
type ProjectionRow struct {
	ID         uint64
	Projection models.Projection
}

// ListProjections returns every projection in ascending id order.
func (s *Store) ListProjections() ([]ProjectionRow, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()

	prefix := []byte(projPrefix)
	var out []ProjectionRow
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		id, ok := parseIDFromKey(key, projPrefix)
		if !ok {
			continue
		}
		var p models.Projection
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			logger.Log.Warn("projection_decode_failed", zap.ByteString("key", key), zap.Error(err))
			continue
		}
		out = append(out, ProjectionRow{ID: id, Projection: p})
	}
	return out, iter.Error()
}

// Batch starts a new write batch for a multi-key atomic mutation.
func (s *Store) Batch() (*pebble.Batch, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.db.NewBatch(), nil
}

// Apply commits a batch with fsync.
func (s *Store) Apply(b *pebble.Batch) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.Apply(b, pebble.Sync)
}

// BatchSetProjection stages a projection write into b.
func (s *Store) BatchSetProjection(b *pebble.Batch, id uint64, p models.Projection) error {
	v, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.Set(projectionKey(id), v, nil)
}

// ListKeys returns all raw keys with the given prefix (all keys when prefix
// is empty). Admin inspection only.
func (s *Store) ListKeys(prefix string) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()

	p := []byte(prefix)
	var out []string
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(p) > 0 && !bytes.HasPrefix(key, p) {
			break
		}
		out = append(out, string(key))
	}
	return out, iter.Error()
}

// GetKey returns the raw value stored at key. Admin inspection only.
func (s *Store) GetKey(key string) ([]byte, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.get([]byte(key))
}

// SetKey stores an arbitrary key/value pair with fsync. Callers must pick a
// safe namespace (meta: markers); writing into a ledger family corrupts it.
func (s *Store) SetKey(key string, value []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		logger.Log.Error("set_key_failed", zap.String("key", key), zap.Error(err))
		return err
	}
	logger.Log.Debug("set_key_ok", zap.String("key", key), zap.Int("len", len(value)))
	return nil
}

// DeleteKey removes a raw key with fsync. Meta markers only; ledger rows are
// append-only.
func (s *Store) DeleteKey(key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.Delete([]byte(key), pebble.Sync)
}

// MaxRecordID returns the highest record id present in the record family
// itself, scanning the rows rather than trusting the meta:recseq cursor.
func (s *Store) MaxRecordID() (uint64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = iter.Close() }()

	prefix := []byte(recPrefix)
	var max uint64
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		id, ok := parseIDFromKey(key, recPrefix)
		if !ok {
			continue
		}
		if id > max {
			max = id
		}
	}
	return max, iter.Error()
}

// SetRecordCursor overwrites the meta:recseq allocation cursor. Repair only;
// normal allocation advances the cursor inside AppendRecord's batch.
func (s *Store) SetRecordCursor(n uint64) error {
	return s.SetKey(metaRecSeq, encodeSeq(n))
}
