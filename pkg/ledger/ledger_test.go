package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"cipherfeed/pkg/ledger"
	"cipherfeed/pkg/models"
	"cipherfeed/pkg/notify"
	"cipherfeed/pkg/oracle"
	"cipherfeed/pkg/store"
)

var (
	testMasterHex = strings.Repeat("ab", 32)
	testProofHex  = strings.Repeat("cd", 32)
)

// newFixture opens a store in a temp dir and builds a ledger over an
// embedded oracle. When started is true the oracle workers run and feed
// callbacks straight into the ledger; otherwise jobs queue up and the
// test drives HandleCallback by hand.
func newFixture(t *testing.T, started bool) (*ledger.Ledger, *oracle.Embedded, *notify.Bus) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	orc, err := oracle.NewEmbedded(oracle.EmbeddedConfig{
		MasterKeyHex: testMasterHex,
		ProofKeyHex:  testProofHex,
		Workers:      2,
		Queue:        32,
	})
	if err != nil {
		t.Fatalf("new embedded oracle: %v", err)
	}
	t.Cleanup(func() { orc.Close() })

	bus := notify.NewBus(32)
	t.Cleanup(bus.Close)

	led, err := ledger.New(st, orc, bus)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if started {
		orc.Start(func(cb oracle.Callback) {
			_ = led.HandleCallback(cb)
		})
	}
	return led, orc, bus
}

func sealBundle(t *testing.T, orc oracle.Oracle, category string, minutes int64, listener string) models.CipherBundle {
	t.Helper()
	var b models.CipherBundle
	var err error
	if b.Category, err = orc.Seal([]byte(category)); err != nil {
		t.Fatalf("seal category: %v", err)
	}
	if b.Minutes, err = orc.Seal([]byte(strconv.FormatInt(minutes, 10))); err != nil {
		t.Fatalf("seal minutes: %v", err)
	}
	if b.Listener, err = orc.Seal([]byte(listener)); err != nil {
		t.Fatalf("seal listener: %v", err)
	}
	return b
}

// craftRecordCallback builds a verifiable callback for a record request.
func craftRecordCallback(t *testing.T, reqID, category string, minutes int64, listener string) oracle.Callback {
	t.Helper()
	pt, err := json.Marshal(oracle.RecordPlain{Category: category, Minutes: minutes, Listener: listener})
	if err != nil {
		t.Fatalf("marshal plaintext: %v", err)
	}
	ks, err := oracle.NewProofKeyset(testProofHex)
	if err != nil {
		t.Fatalf("proof keyset: %v", err)
	}
	return oracle.Callback{RequestID: reqID, Plaintext: pt, Proof: ks.Proof(reqID, pt)}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubmitAssignsSequentialIDs(t *testing.T) {
	led, orc, _ := newFixture(t, false)

	for want := uint64(1); want <= 3; want++ {
		rec, err := led.Submit(sealBundle(t, orc, "news", 10, "alice"))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if rec.ID != want {
			t.Fatalf("id = %d, want %d", rec.ID, want)
		}
		if rec.SubmittedTS == 0 {
			t.Fatal("submitted ts not set")
		}
	}

	p, err := led.Projection(1)
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	if p.Processed || p.Category != "" || p.Minutes != 0 || p.Listener != "" {
		t.Fatalf("fresh projection not zero: %+v", p)
	}
	// probing beyond the allocated range is not an error
	p, err = led.Projection(999)
	if err != nil {
		t.Fatalf("out-of-range projection: %v", err)
	}
	if p.Processed {
		t.Fatal("out-of-range projection reads processed")
	}
}

func TestFullRecordCycle(t *testing.T) {
	led, orc, _ := newFixture(t, true)

	rec, err := led.Submit(sealBundle(t, orc, "news", 30, "alice"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := rec.ID
	reqID, err := led.RequestRecordDecryption(context.Background(), id)
	if err != nil {
		t.Fatalf("request decryption: %v", err)
	}
	if reqID == "" {
		t.Fatal("empty request id")
	}

	waitFor(t, "projection processed", func() bool {
		p, err := led.Projection(id)
		return err == nil && p.Processed
	})

	p, err := led.Projection(id)
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	if p.Category != "news" || p.Minutes != 30 || p.Listener != "alice" {
		t.Fatalf("projection = %+v", p)
	}

	agg, err := led.Aggregate("news")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 1 {
		t.Fatalf("aggregate count = %d, want 1", agg.Count)
	}
	cats, err := led.Categories()
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 1 || cats[0] != "news" {
		t.Fatalf("categories = %v", cats)
	}

	pr, err := led.Request(reqID)
	if err != nil {
		t.Fatalf("request lookup: %v", err)
	}
	if pr.State != models.StateResolved || pr.Kind != models.KindRecord || pr.RecordID != id {
		t.Fatalf("resolved request = %+v", pr)
	}
	if led.PendingCount() != 0 {
		t.Fatalf("pending count = %d", led.PendingCount())
	}
}

func TestCategoryOrderAndCounts(t *testing.T) {
	led, orc, _ := newFixture(t, true)

	// tech, news, tech, comedy: first-observation order is tech, news, comedy
	for _, c := range []string{"tech", "news", "tech", "comedy"} {
		rec, err := led.Submit(sealBundle(t, orc, c, 5, "bob"))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		id := rec.ID
		if _, err := led.RequestRecordDecryption(context.Background(), id); err != nil {
			t.Fatalf("request: %v", err)
		}
		waitFor(t, "record processed", func() bool {
			p, err := led.Projection(id)
			return err == nil && p.Processed
		})
	}

	cats, err := led.Categories()
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	want := []string{"tech", "news", "comedy"}
	if len(cats) != len(want) {
		t.Fatalf("categories = %v, want %v", cats, want)
	}
	for i := range want {
		if cats[i] != want[i] {
			t.Fatalf("categories = %v, want %v", cats, want)
		}
	}

	agg, err := led.Aggregate("tech")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 2 {
		t.Fatalf("tech count = %d, want 2", agg.Count)
	}
}

func TestRequestRecordDecryptionErrors(t *testing.T) {
	led, orc, _ := newFixture(t, false)

	if _, err := led.RequestRecordDecryption(context.Background(), 42); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("unknown record: err = %v, want ErrNotFound", err)
	}

	rec, err := led.Submit(sealBundle(t, orc, "news", 30, "alice"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := rec.ID
	reqID, err := led.RequestRecordDecryption(context.Background(), id)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := led.HandleCallback(craftRecordCallback(t, reqID, "news", 30, "alice")); err != nil {
		t.Fatalf("callback: %v", err)
	}

	if _, err := led.RequestRecordDecryption(context.Background(), id); !errors.Is(err, ledger.ErrAlreadyProcessed) {
		t.Fatalf("processed record: err = %v, want ErrAlreadyProcessed", err)
	}
}

func TestCallbackRejections(t *testing.T) {
	led, orc, _ := newFixture(t, false)

	// unknown request id
	err := led.HandleCallback(craftRecordCallback(t, "no-such-request", "news", 1, "x"))
	if !errors.Is(err, ledger.ErrInvalidRequest) {
		t.Fatalf("unknown id: err = %v, want ErrInvalidRequest", err)
	}

	rec, err := led.Submit(sealBundle(t, orc, "news", 30, "alice"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := rec.ID
	reqID, err := led.RequestRecordDecryption(context.Background(), id)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// wrong proof leaves the request pending
	bad := craftRecordCallback(t, reqID, "news", 30, "alice")
	bad.Proof = "deadbeef"
	if err := led.HandleCallback(bad); !errors.Is(err, ledger.ErrProofInvalid) {
		t.Fatalf("bad proof: err = %v, want ErrProofInvalid", err)
	}
	if led.PendingCount() != 1 {
		t.Fatalf("pending count after bad proof = %d, want 1", led.PendingCount())
	}
	p, _ := led.Projection(id)
	if p.Processed {
		t.Fatal("bad proof mutated the projection")
	}

	// the genuine callback still works afterwards
	if err := led.HandleCallback(craftRecordCallback(t, reqID, "news", 30, "alice")); err != nil {
		t.Fatalf("good callback: %v", err)
	}

	// a replay of the same request id is invalid and mutates nothing
	err = led.HandleCallback(craftRecordCallback(t, reqID, "other", 99, "mallory"))
	if !errors.Is(err, ledger.ErrInvalidRequest) {
		t.Fatalf("replay: err = %v, want ErrInvalidRequest", err)
	}
	p, err = led.Projection(id)
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	if p.Category != "news" || p.Minutes != 30 {
		t.Fatalf("replay mutated projection: %+v", p)
	}
	agg, err := led.Aggregate("news")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 1 {
		t.Fatalf("replay bumped counter: %d", agg.Count)
	}
}

func TestRacingRequestsForOneRecord(t *testing.T) {
	led, orc, _ := newFixture(t, false)

	rec, err := led.Submit(sealBundle(t, orc, "news", 30, "alice"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := rec.ID
	req1, err := led.RequestRecordDecryption(context.Background(), id)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	req2, err := led.RequestRecordDecryption(context.Background(), id)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if req1 == req2 {
		t.Fatal("duplicate request ids")
	}

	if err := led.HandleCallback(craftRecordCallback(t, req1, "news", 30, "alice")); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	// the loser bounces off the processed flag and stays pending
	err = led.HandleCallback(craftRecordCallback(t, req2, "news", 30, "alice"))
	if !errors.Is(err, ledger.ErrAlreadyProcessed) {
		t.Fatalf("second callback: err = %v, want ErrAlreadyProcessed", err)
	}
	pr, err := led.Request(req2)
	if err != nil {
		t.Fatalf("request lookup: %v", err)
	}
	if pr.State != models.StateCreated {
		t.Fatalf("loser state = %q, want created", pr.State)
	}
	agg, err := led.Aggregate("news")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 1 {
		t.Fatalf("counter double-counted: %d", agg.Count)
	}
}

func TestAggregateCycle(t *testing.T) {
	led, orc, _ := newFixture(t, true)

	rec, err := led.Submit(sealBundle(t, orc, "news", 30, "alice"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := rec.ID
	if _, err := led.RequestRecordDecryption(context.Background(), id); err != nil {
		t.Fatalf("request: %v", err)
	}
	waitFor(t, "record processed", func() bool {
		p, err := led.Projection(id)
		return err == nil && p.Processed
	})

	reqID, err := led.RequestAggregateDecryption(context.Background(), "news")
	if err != nil {
		t.Fatalf("aggregate request: %v", err)
	}
	waitFor(t, "aggregate resolved", func() bool {
		pr, err := led.Request(reqID)
		return err == nil && pr.State == models.StateResolved
	})

	pr, err := led.Request(reqID)
	if err != nil {
		t.Fatalf("request lookup: %v", err)
	}
	if pr.Kind != models.KindAggregate || pr.Category != "news" || pr.Value != "1" {
		t.Fatalf("resolved aggregate request = %+v", pr)
	}

	// resolving never mutates the table itself
	agg, err := led.Aggregate("news")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 1 {
		t.Fatalf("count = %d, want 1", agg.Count)
	}

	if _, err := led.RequestAggregateDecryption(context.Background(), "ghost"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("unknown category: err = %v, want ErrNotFound", err)
	}
}

func TestSealedCounterRoundTrips(t *testing.T) {
	led, orc, _ := newFixture(t, true)

	rec, err := led.Submit(sealBundle(t, orc, "tech", 12, "carol"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := rec.ID
	if _, err := led.RequestRecordDecryption(context.Background(), id); err != nil {
		t.Fatalf("request: %v", err)
	}
	waitFor(t, "record processed", func() bool {
		p, err := led.Projection(id)
		return err == nil && p.Processed
	})

	handle, err := led.SealedCounter("tech")
	if err != nil {
		t.Fatalf("sealed counter: %v", err)
	}
	ks, err := oracle.NewKeyset(testMasterHex, testProofHex)
	if err != nil {
		t.Fatalf("keyset: %v", err)
	}
	pt, err := ks.Open(handle)
	if err != nil {
		t.Fatalf("open handle: %v", err)
	}
	if string(pt) != "1" {
		t.Fatalf("counter plaintext = %q, want 1", pt)
	}
}

func TestExpireStale(t *testing.T) {
	led, orc, _ := newFixture(t, false)

	rec, err := led.Submit(sealBundle(t, orc, "news", 30, "alice"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := rec.ID
	reqID, err := led.RequestRecordDecryption(context.Background(), id)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// zero threshold means expiry is off
	if n, err := led.ExpireStale(0); err != nil || n != 0 {
		t.Fatalf("ExpireStale(0) = %d, %v", n, err)
	}
	if len(led.StalePending(time.Nanosecond)) != 1 {
		t.Fatal("request missing from stale report")
	}

	n, err := led.ExpireStale(time.Nanosecond)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	pr, err := led.Request(reqID)
	if err != nil {
		t.Fatalf("request lookup: %v", err)
	}
	if pr.State != models.StateExpired {
		t.Fatalf("state = %q, want expired", pr.State)
	}

	// a late callback is now indistinguishable from an unknown id
	err = led.HandleCallback(craftRecordCallback(t, reqID, "news", 30, "alice"))
	if !errors.Is(err, ledger.ErrInvalidRequest) {
		t.Fatalf("late callback: err = %v, want ErrInvalidRequest", err)
	}
}

func TestRestartRecoversPending(t *testing.T) {
	dir := t.TempDir()

	orc, err := oracle.NewEmbedded(oracle.EmbeddedConfig{
		MasterKeyHex: testMasterHex,
		ProofKeyHex:  testProofHex,
		Workers:      1,
		Queue:        8,
	})
	if err != nil {
		t.Fatalf("new embedded oracle: %v", err)
	}
	defer orc.Close()

	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	led, err := ledger.New(st, orc, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	rec, err := led.Submit(sealBundle(t, orc, "news", 30, "alice"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := rec.ID
	reqID, err := led.RequestRecordDecryption(context.Background(), id)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	st2, err := store.Open(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st2.Close()
	led2, err := ledger.New(st2, orc, nil)
	if err != nil {
		t.Fatalf("new ledger after restart: %v", err)
	}
	if led2.PendingCount() != 1 {
		t.Fatalf("pending after restart = %d, want 1", led2.PendingCount())
	}
	if err := led2.HandleCallback(craftRecordCallback(t, reqID, "news", 30, "alice")); err != nil {
		t.Fatalf("callback after restart: %v", err)
	}
	p, err := led2.Projection(id)
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	if !p.Processed || p.Category != "news" {
		t.Fatalf("projection after restart = %+v", p)
	}
}

func TestLifecycleEvents(t *testing.T) {
	led, orc, bus := newFixture(t, true)

	ch, cancel := bus.Subscribe()
	defer cancel()

	rec, err := led.Submit(sealBundle(t, orc, "news", 30, "alice"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := rec.ID
	if _, err := led.RequestRecordDecryption(context.Background(), id); err != nil {
		t.Fatalf("request: %v", err)
	}

	var types []string
	for len(types) < 3 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out; events so far: %v", types)
		}
	}
	want := []string{models.EventSubmitted, models.EventDiscoveryRequested, models.EventProcessed}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
}
