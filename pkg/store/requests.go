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

// SaveRequest persists a pending request entry with fsync. Used for the
// initial Created write; resolution goes through BatchSetRequest so it
// commits atomically with the projection and aggregate writes.
func (s *Store) SaveRequest(pr models.PendingRequest) error {
	if err := s.guard(); err != nil {
		return err
	}
	v, err := json.Marshal(pr)
	if err != nil {
		return err
	}
	if err := s.db.Set(requestKey(pr.ID), v, pebble.Sync); err != nil {
		return err
	}
	logger.Log.Debug("request_saved", zap.String("id", pr.ID), zap.String("kind", string(pr.Kind)))
	return nil
}

// GetRequest fetches a request entry by id. The bool is false when the id is
// unknown.
func (s *Store) GetRequest(id string) (models.PendingRequest, bool, error) {
	var pr models.PendingRequest
	if err := s.guard(); err != nil {
		return pr, false, err
	}
	v, err := s.get(requestKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return pr, false, nil
		}
		return pr, false, err
	}
	if err := json.Unmarshal(v, &pr); err != nil {
		return pr, false, err
	}
	return pr, true, nil
}

// BatchSetRequest stages a request entry write into b.
func (s *Store) BatchSetRequest(b *pebble.Batch, pr models.PendingRequest) error {
	v, err := json.Marshal(pr)
	if err != nil {
		return err
	}
	return b.Set(requestKey(pr.ID), v, nil)
}

// ListRequests returns every request entry. Order follows the opaque request
// ids and carries no meaning.
func (s *Store) ListRequests() ([]models.PendingRequest, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()

	prefix := []byte(reqPrefix)
	var out []models.PendingRequest
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		var pr models.PendingRequest
		if err := json.Unmarshal(iter.Value(), &pr); err != nil {
			logger.Log.Warn("request_decode_failed", zap.ByteString("key", key), zap.Error(err))
			continue
		}
		out = append(out, pr)
	}
	return out, iter.Error()
}
