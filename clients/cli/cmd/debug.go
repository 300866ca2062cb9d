package cmd

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/spf13/cobra"
)

var (
	debugPrefix string
	debugLimit  int
)

func init() {
	rootCmd.AddCommand(debugCmd)

	debugCmd.Flags().StringVar(&debugPrefix, "prefix", "", "only show keys with this prefix (rec:, proj:, req:, agg:, meta:)")
	debugCmd.Flags().IntVar(&debugLimit, "limit", 10, "number of keys to show")
}

var debugCmd = &cobra.Command{
	Use:   "debug [database-path]",
	Short: "Debug database content with actual values",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dbPath := args[0]
		debugDatabase(dbPath)
	},
}

func debugDatabase(dbPath string) {
	db, err := pebble.Open(dbPath, &pebble.Options{ReadOnly: true})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	iter, err := db.NewIter(nil)
	if err != nil {
		log.Fatal(err)
	}
	defer iter.Close()

	count := 0
	shown := 0
	fmt.Println("🔍 Debugging database content:")
	fmt.Println("=====================================")

	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		if debugPrefix != "" && !strings.HasPrefix(key, debugPrefix) {
			continue
		}
		value := iter.Value()
		count++

		if shown < debugLimit {
			shown++
			fmt.Printf("\nKey %d: %s\n", shown, key)
			printDebugValue(key, value)
		}
	}

	fmt.Printf("\nTotal matching keys: %d (showing %d)\n", count, shown)
}

// printDebugValue renders a value by family: JSON rows pretty-printed, meta
// sequences decoded, everything else raw.
func printDebugValue(key string, value []byte) {
	if strings.HasPrefix(key, "meta:") && len(value) == 8 {
		fmt.Printf("Value: %d\n", binary.BigEndian.Uint64(value))
		return
	}

	var jsonData interface{}
	if err := json.Unmarshal(value, &jsonData); err == nil {
		prettyJSON, _ := json.MarshalIndent(jsonData, "", "  ")
		fmt.Printf("Value: %s\n", string(prettyJSON))
	} else {
		fmt.Printf("Value (raw): %q\n", string(value))
	}
}
