package oracle_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cipherfeed/pkg/oracle"
)

func newEmbedded(t *testing.T, queue int) *oracle.Embedded {
	t.Helper()
	e, err := oracle.NewEmbedded(oracle.EmbeddedConfig{Workers: 2, Queue: queue})
	if err != nil {
		t.Fatalf("new embedded: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func seal(t *testing.T, e *oracle.Embedded, s string) []byte {
	t.Helper()
	h, err := e.Seal([]byte(s))
	if err != nil {
		t.Fatalf("seal %q: %v", s, err)
	}
	return h
}

func waitCallback(t *testing.T, ch <-chan oracle.Callback) oracle.Callback {
	t.Helper()
	select {
	case cb := <-ch:
		return cb
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for oracle callback")
		return oracle.Callback{}
	}
}

func TestEmbeddedRecordJob(t *testing.T) {
	e := newEmbedded(t, 0)
	ch := make(chan oracle.Callback, 1)
	e.Start(func(cb oracle.Callback) { ch <- cb })

	handles := [][]byte{seal(t, e, "news"), seal(t, e, "30"), seal(t, e, "alice")}
	id, err := e.Submit(context.Background(), handles)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id == "" {
		t.Fatal("empty request id")
	}

	cb := waitCallback(t, ch)
	if cb.RequestID != id {
		t.Fatalf("callback for %q, want %q", cb.RequestID, id)
	}
	if !e.VerifyProof(cb.RequestID, cb.Plaintext, cb.Proof) {
		t.Fatal("embedded oracle produced an unverifiable proof")
	}
	var plain oracle.RecordPlain
	if err := json.Unmarshal(cb.Plaintext, &plain); err != nil {
		t.Fatalf("plaintext not RecordPlain JSON: %v", err)
	}
	if plain.Category != "news" || plain.Minutes != 30 || plain.Listener != "alice" {
		t.Fatalf("unexpected plaintext: %+v", plain)
	}
}

func TestEmbeddedAggregateJob(t *testing.T) {
	e := newEmbedded(t, 0)
	ch := make(chan oracle.Callback, 1)
	e.Start(func(cb oracle.Callback) { ch <- cb })

	id, err := e.Submit(context.Background(), [][]byte{seal(t, e, "17")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cb := waitCallback(t, ch)
	if cb.RequestID != id {
		t.Fatalf("callback for %q, want %q", cb.RequestID, id)
	}
	if string(cb.Plaintext) != "17" {
		t.Fatalf("aggregate plaintext = %q, want 17", cb.Plaintext)
	}
	if !e.VerifyProof(id, cb.Plaintext, cb.Proof) {
		t.Fatal("proof rejected")
	}
}

func TestEmbeddedDropsUndecryptableJob(t *testing.T) {
	e := newEmbedded(t, 0)
	ch := make(chan oracle.Callback, 1)
	e.Start(func(cb oracle.Callback) { ch <- cb })

	// Garbage handles must not produce a callback.
	if _, err := e.Submit(context.Background(), [][]byte{[]byte("junk"), []byte("junk"), []byte("junk")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case cb := <-ch:
		t.Fatalf("unexpected callback: %+v", cb)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubmitQueueFull(t *testing.T) {
	// Workers never started, so jobs pile up; capacity 1 rejects the second.
	e := newEmbedded(t, 1)
	if _, err := e.Submit(context.Background(), [][]byte{seal(t, e, "1")}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := e.Submit(context.Background(), [][]byte{seal(t, e, "2")}); !errors.Is(err, oracle.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	depth, capacity, dropped := e.Stats()
	if depth != 1 || capacity != 1 || dropped != 1 {
		t.Fatalf("stats = (%d,%d,%d), want (1,1,1)", depth, capacity, dropped)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	e := newEmbedded(t, 0)
	e.Start(func(oracle.Callback) {})
	if !e.Available() {
		t.Fatal("expected available after start")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if e.Available() {
		t.Fatal("available after close")
	}
	if _, err := e.Submit(context.Background(), [][]byte{[]byte("x")}); !errors.Is(err, oracle.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSubmitHonorsContext(t *testing.T) {
	e := newEmbedded(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Submit(ctx, [][]byte{[]byte("x")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
