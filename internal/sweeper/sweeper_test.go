package sweeper_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"cipherfeed/internal/sweeper"
	"cipherfeed/pkg/ledger"
	"cipherfeed/pkg/models"
	"cipherfeed/pkg/oracle"
	"cipherfeed/pkg/store"
)

var (
	testMasterHex = strings.Repeat("ab", 32)
	testProofHex  = strings.Repeat("cd", 32)
)

// newFixture builds a ledger with a stopped oracle so decryption
// requests stay pending and the sweeper has something to act on.
func newFixture(t *testing.T) (*ledger.Ledger, *oracle.Embedded) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	orc, err := oracle.NewEmbedded(oracle.EmbeddedConfig{
		MasterKeyHex: testMasterHex,
		ProofKeyHex:  testProofHex,
		Workers:      1,
		Queue:        8,
	})
	if err != nil {
		t.Fatalf("NewEmbedded: %v", err)
	}
	t.Cleanup(func() { _ = orc.Close() })

	led, err := ledger.New(st, orc, nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	return led, orc
}

func pendingRequest(t *testing.T, led *ledger.Ledger, orc *oracle.Embedded) string {
	t.Helper()
	cat, _ := orc.Seal([]byte("tech"))
	min, _ := orc.Seal([]byte("30"))
	lis, _ := orc.Seal([]byte("alice"))
	rec, err := led.Submit(models.CipherBundle{Category: cat, Minutes: min, Listener: lis})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	reqID, err := led.RequestRecordDecryption(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return reqID
}

func TestRunOnceReportOnlyLeavesRequestsPending(t *testing.T) {
	led, orc := newFixture(t)
	reqID := pendingRequest(t, led, orc)

	s := sweeper.New(led, sweeper.Config{ExpireAfter: 0})
	s.RunOnce()

	pr, err := led.Request(reqID)
	if err != nil {
		t.Fatalf("request lookup: %v", err)
	}
	if pr.State != models.StateCreated {
		t.Fatalf("state = %s, want created", pr.State)
	}
	if led.PendingCount() != 1 {
		t.Fatalf("pending count = %d, want 1", led.PendingCount())
	}
}

func TestRunOnceExpiresWhenConfigured(t *testing.T) {
	led, orc := newFixture(t)
	reqID := pendingRequest(t, led, orc)

	s := sweeper.New(led, sweeper.Config{ExpireAfter: time.Nanosecond})
	s.RunOnce()

	pr, err := led.Request(reqID)
	if err != nil {
		t.Fatalf("request lookup: %v", err)
	}
	if pr.State != models.StateExpired {
		t.Fatalf("state = %s, want expired", pr.State)
	}
	if led.PendingCount() != 0 {
		t.Fatalf("pending count = %d, want 0", led.PendingCount())
	}
}

func TestStartStop(t *testing.T) {
	led, _ := newFixture(t)

	s := sweeper.New(led, sweeper.Config{Cron: "* * * * *", ExpireAfter: time.Hour})
	s.Start()
	// Stop must return promptly even though the first tick is up to a
	// minute away.
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
