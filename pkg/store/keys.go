package store

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Key layout. Numeric ids are zero-padded so lexicographic prefix scans
// iterate in ascending numeric order. Ledger rows are never deleted; only
// transient meta markers are.
const (
	recPrefix    = "rec:"
	projPrefix   = "proj:"
	reqPrefix    = "req:"
	aggCntPrefix = "agg:cnt:"
	aggIdxPrefix = "agg:idx:"
	metaRecSeq   = "meta:recseq"
	metaAggSeq   = "meta:aggseq"
)

func recordKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", recPrefix, id))
}

func projectionKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", projPrefix, id))
}

func requestKey(id string) []byte {
	return []byte(reqPrefix + id)
}

func aggregateKey(category string) []byte {
	return []byte(aggCntPrefix + category)
}

func aggregateIndexKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%06d", aggIdxPrefix, seq))
}

func encodeSeq(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

func decodeSeq(v []byte) uint64 {
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// parseIDFromKey extracts the numeric suffix of a rec:/proj: key.
func parseIDFromKey(key []byte, prefix string) (uint64, bool) {
	s := string(key)
	if !strings.HasPrefix(s, prefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(s[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
