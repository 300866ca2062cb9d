package cmd

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

// verifyCmd checks the structural invariants of a ledger database: every
// record paired with a projection, ids contiguous from 1, request states
// consistent, aggregate counts matching the processed projections. Run it
// against a stopped server; pebble holds an exclusive lock.
var verifyCmd = &cobra.Command{
	Use:   "verify [database-path]",
	Short: "Verify ledger database invariants",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dbPath := args[0]
		verifyLedgerDB(dbPath)
	},
}

type verifyState struct {
	records       map[uint64]bool
	projections   map[uint64]bool
	processed     int
	projListeners map[string]int

	reqCreated  int
	reqResolved int
	reqExpired  int
	reqBroken   []string

	aggCounts  map[string]uint64
	idxCats    []string
	maxRecID   uint64
	recSeqMeta uint64
	aggSeqMeta uint64
	totalKeys  int
	parseFails []string
}

func verifyLedgerDB(dbPath string) {
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

	st := &verifyState{
		records:       map[uint64]bool{},
		projections:   map[uint64]bool{},
		projListeners: map[string]int{},
		aggCounts:     map[string]uint64{},
	}

	fmt.Println("🔍 Verifying ledger database:")
	fmt.Println("=====================================")

	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		st.totalKeys++
		scanVerifyKey(st, key, iter.Value())
	}
	if err := iter.Error(); err != nil {
		log.Fatal(err)
	}

	failures := runVerifyChecks(st)

	fmt.Println("\n📊 Summary:")
	fmt.Printf("  Total keys: %d\n", st.totalKeys)
	fmt.Printf("  Records: %d\n", len(st.records))
	fmt.Printf("  Projections: %d (%d processed)\n", len(st.projections), st.processed)
	fmt.Printf("  Requests: %d created / %d resolved / %d expired\n", st.reqCreated, st.reqResolved, st.reqExpired)
	fmt.Printf("  Categories: %d\n", len(st.idxCats))
	fmt.Printf("  Listeners with processed records: %d\n", len(st.projListeners))

	if failures == 0 {
		fmt.Println("\n✅ All invariants hold")
	} else {
		fmt.Printf("\n❌ %d invariant(s) violated\n", failures)
		os.Exit(1)
	}
}

func scanVerifyKey(st *verifyState, key string, value []byte) {
	switch {
	case strings.HasPrefix(key, "rec:"):
		id, err := strconv.ParseUint(key[len("rec:"):], 10, 64)
		if err != nil {
			st.parseFails = append(st.parseFails, key)
			return
		}
		st.records[id] = true
		if id > st.maxRecID {
			st.maxRecID = id
		}
	case strings.HasPrefix(key, "proj:"):
		id, err := strconv.ParseUint(key[len("proj:"):], 10, 64)
		if err != nil {
			st.parseFails = append(st.parseFails, key)
			return
		}
		var proj struct {
			Listener  string `json:"listener"`
			Processed bool   `json:"processed"`
		}
		if err := json.Unmarshal(value, &proj); err != nil {
			st.parseFails = append(st.parseFails, key)
			return
		}
		st.projections[id] = proj.Processed
		if proj.Processed {
			st.processed++
			st.projListeners[proj.Listener]++
		}
	case strings.HasPrefix(key, "req:"):
		var req struct {
			State      string `json:"state"`
			ResolvedTS int64  `json:"resolved_ts"`
		}
		if err := json.Unmarshal(value, &req); err != nil {
			st.parseFails = append(st.parseFails, key)
			return
		}
		switch req.State {
		case "created":
			st.reqCreated++
			if req.ResolvedTS != 0 {
				st.reqBroken = append(st.reqBroken, key+" (created with resolved_ts)")
			}
		case "resolved":
			st.reqResolved++
			if req.ResolvedTS == 0 {
				st.reqBroken = append(st.reqBroken, key+" (resolved without resolved_ts)")
			}
		case "expired":
			st.reqExpired++
		default:
			st.reqBroken = append(st.reqBroken, key+" (unknown state "+req.State+")")
		}
	case strings.HasPrefix(key, "agg:cnt:"):
		var entry struct {
			Category string `json:"category"`
			Count    uint64 `json:"count"`
		}
		if err := json.Unmarshal(value, &entry); err != nil {
			st.parseFails = append(st.parseFails, key)
			return
		}
		st.aggCounts[entry.Category] = entry.Count
	case strings.HasPrefix(key, "agg:idx:"):
		st.idxCats = append(st.idxCats, string(value))
	case key == "meta:recseq":
		if len(value) == 8 {
			st.recSeqMeta = binary.BigEndian.Uint64(value)
		}
	case key == "meta:aggseq":
		if len(value) == 8 {
			st.aggSeqMeta = binary.BigEndian.Uint64(value)
		}
	}
}

func runVerifyChecks(st *verifyState) int {
	failures := 0
	check := func(ok bool, msg string) {
		if ok {
			fmt.Printf("✅ %s\n", msg)
		} else {
			fmt.Printf("❌ %s\n", msg)
			failures++
		}
	}

	// Record/projection pairing and contiguity
	paired := true
	for id := range st.records {
		if _, ok := st.projections[id]; !ok {
			paired = false
			break
		}
	}
	for id := range st.projections {
		if !st.records[id] {
			paired = false
			break
		}
	}
	check(paired, "every record has a projection and vice versa")

	contiguous := st.maxRecID == uint64(len(st.records))
	for id := uint64(1); id <= uint64(len(st.records)); id++ {
		if !st.records[id] {
			contiguous = false
			break
		}
	}
	check(contiguous, "record ids are contiguous from 1")
	check(st.recSeqMeta == uint64(len(st.records)),
		fmt.Sprintf("meta:recseq (%d) matches the record count (%d)", st.recSeqMeta, len(st.records)))

	// Request lifecycle
	check(len(st.reqBroken) == 0, "request states are internally consistent")
	for _, b := range st.reqBroken {
		fmt.Printf("   ⚠️  %s\n", b)
	}

	// Aggregate table vs enumeration index
	check(st.aggSeqMeta == uint64(len(st.idxCats)),
		fmt.Sprintf("meta:aggseq (%d) matches the index size (%d)", st.aggSeqMeta, len(st.idxCats)))

	indexed := true
	seen := map[string]bool{}
	for _, c := range st.idxCats {
		if seen[c] {
			indexed = false
			break
		}
		seen[c] = true
		if _, ok := st.aggCounts[c]; !ok {
			indexed = false
			break
		}
	}
	check(indexed && len(seen) == len(st.aggCounts), "every indexed category has exactly one aggregate entry")

	var aggTotal uint64
	for _, n := range st.aggCounts {
		aggTotal += n
	}
	check(aggTotal == uint64(st.processed),
		fmt.Sprintf("aggregate counts (%d) sum to the processed projections (%d)", aggTotal, st.processed))

	check(len(st.parseFails) == 0, "all values decode cleanly")
	for _, k := range st.parseFails {
		fmt.Printf("   ⚠️  undecodable: %s\n", k)
	}

	return failures
}
