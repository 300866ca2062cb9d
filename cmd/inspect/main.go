// inspect is an offline maintenance tool: it opens a ledger database
// directly and summarizes the key families, optionally dumping raw keys.
// Run it against a stopped server; pebble holds an exclusive lock.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/cockroachdb/pebble"
)

func main() {
	var (
		path   string
		prefix string
		limit  int
	)
	flag.StringVar(&path, "db", "./.database", "ledger database path")
	flag.StringVar(&prefix, "prefix", "", "dump keys matching this prefix")
	flag.IntVar(&limit, "limit", 20, "max keys to print")
	flag.Parse()

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()

	iter, err := db.NewIter(nil)
	if err != nil {
		log.Fatalf("iterator: %v", err)
	}
	defer iter.Close()

	var (
		total       int
		records     int
		projections int
		requests    int
		counters    int
		catIndex    int
		meta        int
		printed     int
	)

	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		total++

		switch {
		case strings.HasPrefix(key, "rec:"):
			records++
		case strings.HasPrefix(key, "proj:"):
			projections++
		case strings.HasPrefix(key, "req:"):
			requests++
		case strings.HasPrefix(key, "agg:cnt:"):
			counters++
		case strings.HasPrefix(key, "agg:idx:"):
			catIndex++
		case strings.HasPrefix(key, "meta:"):
			meta++
		}

		if prefix != "" && strings.HasPrefix(key, prefix) && printed < limit {
			printed++
			fmt.Printf("Key %d: %s (%d bytes)\n", printed, key, len(iter.Value()))
		}
	}

	fmt.Printf("\nSummary for %s:\n", path)
	fmt.Printf("Total keys: %d\n", total)
	fmt.Printf("rec:*     (records):          %d\n", records)
	fmt.Printf("proj:*    (projections):      %d\n", projections)
	fmt.Printf("req:*     (oracle requests):  %d\n", requests)
	fmt.Printf("agg:cnt:* (sealed counters):  %d\n", counters)
	fmt.Printf("agg:idx:* (category order):   %d\n", catIndex)
	fmt.Printf("meta:*    (sequences):        %d\n", meta)
}
