// Package oracle defines the decryption oracle contract and its two
// implementations: an in-process embedded oracle (dev and tests) and a
// client for the oracled sidecar (production). The core never inspects
// ciphertext handles; it only moves them across this boundary.
package oracle

import (
	"context"
	"errors"
)

var (
	// ErrBusy means the job queue rejected a submission; callers may retry.
	ErrBusy = errors.New("oracle busy: job queue full")
	// ErrClosed means the oracle was shut down.
	ErrClosed = errors.New("oracle closed")
	// ErrNoMasterKey means a seal/open was attempted without key material
	// (the remote client verifies proofs but never holds the master key).
	ErrNoMasterKey = errors.New("no master key loaded")
)

// Callback carries one finished decryption job back into the core. For
// record jobs Plaintext is the RecordPlain JSON document; for aggregate jobs
// it is the decimal string of the counter.
type Callback struct {
	RequestID string `json:"request_id"`
	Plaintext []byte `json:"plaintext"`
	Proof     string `json:"proof"`
}

// CallbackFunc receives finished jobs. Implementations must tolerate
// concurrent invocation from worker goroutines and must never call back into
// Submit synchronously.
type CallbackFunc func(Callback)

// RecordPlain is the canonical plaintext payload for record jobs: the three
// decrypted fields of a listen record.
type RecordPlain struct {
	Category string `json:"category"`
	Minutes  int64  `json:"minutes"`
	Listener string `json:"listener"`
}

// Oracle is the confidential-compute service the ledger correlates against.
// Submit is fire-and-forget: the request id returns immediately and the
// result arrives later through the callback path with a verifiable proof.
type Oracle interface {
	Submit(ctx context.Context, handles [][]byte) (string, error)
	Seal(plaintext []byte) ([]byte, error)
	VerifyProof(requestID string, plaintext []byte, proof string) bool
	Available() bool
	Close() error
}
