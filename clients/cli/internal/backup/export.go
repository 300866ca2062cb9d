package backup

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// Export writes every key of the database at dbPath as one JSONL line to
// outPath. Run it against a stopped server; pebble takes the directory lock
// even when opened read-only.
func Export(dbPath, outPath string, verbose bool) (*Stats, error) {
	fmt.Printf("🚀 Exporting ledger database\n")
	fmt.Printf("📁 Source: %s\n", dbPath)
	fmt.Printf("📄 Output: %s\n", outPath)

	db, err := pebble.Open(dbPath, &pebble.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}
	defer db.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	iter, err := db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	stats := &Stats{}
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		// iter.Value is only valid until Next; copy before encoding
		value := append([]byte(nil), iter.Value()...)

		kind := classify(key)
		line := Line{Key: key, Kind: kind}
		if jsonFamily(kind) && json.Valid(value) {
			line.Value = value
		} else {
			line.Raw = value
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("failed to encode key %s: %w", key, err)
		}

		stats.bump(kind)
		if verbose && stats.Total()%1000 == 0 {
			fmt.Printf("  exported %d keys...\n", stats.Total())
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iteration failed: %w", err)
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush output: %w", err)
	}
	return stats, nil
}
