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

// GetAggregate fetches the aggregate entry for a category. The bool is false
// when the category was never observed.
func (s *Store) GetAggregate(category string) (models.AggregateEntry, bool, error) {
	var e models.AggregateEntry
	if err := s.guard(); err != nil {
		return e, false, err
	}
	v, err := s.get(aggregateKey(category))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return e, false, nil
		}
		return e, false, err
	}
	if err := json.Unmarshal(v, &e); err != nil {
		return e, false, err
	}
	return e, true, nil
}

// AggSeq returns the number of categories appended to the enumeration index.
func (s *Store) AggSeq() (uint64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.seq(metaAggSeq)
}

// MaxCategorySeq returns the highest enumeration-index slot present in the
// agg:idx: family, scanning the slots rather than trusting meta:aggseq.
func (s *Store) MaxCategorySeq() (uint64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = iter.Close() }()

	prefix := []byte(aggIdxPrefix)
	var max uint64
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		seq, ok := parseIDFromKey(key, aggIdxPrefix)
		if !ok {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return max, iter.Error()
}

// SetCategoryCursor overwrites the meta:aggseq cursor. Repair only.
func (s *Store) SetCategoryCursor(n uint64) error {
	return s.SetKey(metaAggSeq, encodeSeq(n))
}

// BatchSetAggregate stages an aggregate entry write into b.
func (s *Store) BatchSetAggregate(b *pebble.Batch, e models.AggregateEntry) error {
	v, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.Set(aggregateKey(e.Category), v, nil)
}

// BatchAppendCategory stages the enumeration-index append for a first-seen
// category: the index slot and the advanced cursor.
func (s *Store) BatchAppendCategory(b *pebble.Batch, seq uint64, category string) error {
	if err := b.Set(aggregateIndexKey(seq), []byte(category), nil); err != nil {
		return err
	}
	return b.Set([]byte(metaAggSeq), encodeSeq(seq), nil)
}

// ListCategories returns all observed categories in first-observation order.
func (s *Store) ListCategories() ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()

	prefix := []byte(aggIdxPrefix)
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

// ListAggregates returns every aggregate entry in first-observation order.
func (s *Store) ListAggregates() ([]models.AggregateEntry, error) {
	cats, err := s.ListCategories()
	if err != nil {
		return nil, err
	}
	out := make([]models.AggregateEntry, 0, len(cats))
	for _, c := range cats {
		e, ok, err := s.GetAggregate(c)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Log.Warn("aggregate_index_dangling", zap.String("category", c))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
