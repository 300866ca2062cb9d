package backup

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// importBatchSize bounds how many keys go into one pebble batch.
const importBatchSize = 1000

// maxLineBytes caps a single snapshot line. Ledger values are small; a line
// larger than this means a corrupt or foreign file.
const maxLineBytes = 4 << 20

// Import replays a JSONL snapshot into a fresh database at dbPath. The
// target must not exist yet: import restores, it never merges.
func Import(inPath, dbPath string, verbose bool) (*Stats, error) {
	fmt.Printf("🚀 Importing ledger snapshot\n")
	fmt.Printf("📄 Source: %s\n", inPath)
	fmt.Printf("📁 Target: %s\n", dbPath)

	if _, err := os.Stat(dbPath); err == nil {
		return nil, fmt.Errorf("target database already exists: %s", dbPath)
	}

	in, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer in.Close()

	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to create target database: %w", err)
	}
	defer db.Close()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	stats := &Stats{}
	batch := db.NewBatch()
	defer func() { _ = batch.Close() }()

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line Line
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("line %d: failed to parse: %w", lineNo, err)
		}
		if line.Key == "" {
			return nil, fmt.Errorf("line %d: missing key", lineNo)
		}

		value := []byte(line.Value)
		if line.Value == nil {
			value = line.Raw
		}
		if err := batch.Set([]byte(line.Key), value, nil); err != nil {
			return nil, fmt.Errorf("line %d: failed to stage %s: %w", lineNo, line.Key, err)
		}

		stats.bump(classify(line.Key))
		// Commit periodically to avoid one giant batch
		if stats.Total()%importBatchSize == 0 {
			if err := batch.Commit(nil); err != nil {
				return nil, fmt.Errorf("failed to commit batch at line %d: %w", lineNo, err)
			}
			_ = batch.Close()
			batch = db.NewBatch()
			if verbose {
				fmt.Printf("  imported %d keys...\n", stats.Total())
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	// Final commit is synced so the restored database survives a crash
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit final batch: %w", err)
	}
	return stats, nil
}
