package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
)

// EmbeddedConfig tunes the in-process oracle. Empty key hexes generate
// ephemeral keys (handles do not survive a restart in that mode).
type EmbeddedConfig struct {
	MasterKeyHex string
	ProofKeyHex  string
	Workers      int
	Queue        int
}

// Embedded runs the oracle in-process: an AES-GCM keyset, a bounded job
// queue and a pool of workers that decrypt handles and deliver callbacks.
// Delivery always happens on worker goroutines; Submit never invokes the
// callback synchronously, so callers may hold their own locks across Submit.
type Embedded struct {
	keys    *Keyset
	q       *jobQueue
	workers int

	mu sync.RWMutex
	cb CallbackFunc

	stop    chan struct{}
	wg      sync.WaitGroup
	started int32
	closed  int32
}

// NewEmbedded builds the embedded oracle but does not start workers; call
// Start once the callback sink exists.
func NewEmbedded(cfg EmbeddedConfig) (*Embedded, error) {
	ks, err := NewKeyset(cfg.MasterKeyHex, cfg.ProofKeyHex)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Embedded{
		keys:    ks,
		q:       newJobQueue(cfg.Queue),
		workers: workers,
		stop:    make(chan struct{}),
	}, nil
}

// Start registers the callback sink and launches the worker pool. Calling it
// again only swaps the sink.
func (e *Embedded) Start(cb CallbackFunc) {
	e.mu.Lock()
	e.cb = cb
	e.mu.Unlock()
	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		return
	}
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.q.RunWorker(e.stop, e.process)
		}()
	}
	logger.Log.Info("oracle_workers_started",
		zap.Int("workers", e.workers),
		zap.Int("queue", e.q.Cap()),
		zap.String("proof_key", e.keys.Fingerprint()),
	)
}

func (e *Embedded) process(j *Job) {
	handles := j.Handles()
	pts := make([][]byte, 0, len(handles))
	for i, h := range handles {
		pt, err := e.keys.Open(h)
		if err != nil {
			logger.Log.Warn("oracle_decrypt_failed", zap.String("request", j.ID), zap.Int("handle", i), zap.Error(err))
			return
		}
		pts = append(pts, pt)
	}

	var plaintext []byte
	switch len(pts) {
	case 3:
		// Record job: category / minutes / listener handles.
		minutes, err := strconv.ParseInt(string(pts[1]), 10, 64)
		if err != nil {
			logger.Log.Warn("oracle_bad_minutes", zap.String("request", j.ID), zap.Error(err))
			return
		}
		plaintext, err = json.Marshal(RecordPlain{Category: string(pts[0]), Minutes: minutes, Listener: string(pts[2])})
		if err != nil {
			return
		}
	case 1:
		// Aggregate job: single sealed counter.
		plaintext = pts[0]
	default:
		logger.Log.Warn("oracle_unexpected_handle_count", zap.String("request", j.ID), zap.Int("handles", len(pts)))
		return
	}

	proof := e.keys.Proof(j.ID, plaintext)

	e.mu.RLock()
	cb := e.cb
	e.mu.RUnlock()
	if cb == nil {
		logger.Log.Warn("oracle_callback_unset", zap.String("request", j.ID))
		return
	}
	cb(Callback{RequestID: j.ID, Plaintext: plaintext, Proof: proof})
}

// Submit queues a decryption job and returns its request id immediately.
func (e *Embedded) Submit(ctx context.Context, handles [][]byte) (string, error) {
	if atomic.LoadInt32(&e.closed) == 1 {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(handles) == 0 {
		return "", fmt.Errorf("submit: no handles")
	}
	id := uuid.NewString()
	if err := e.q.TryEnqueue(id, handles); err != nil {
		switch err {
		case ErrQueueFull:
			return "", ErrBusy
		case ErrQueueClosed:
			return "", ErrClosed
		}
		return "", err
	}
	logger.Log.Debug("oracle_job_queued", zap.String("request", id), zap.Int("handles", len(handles)))
	return id, nil
}

// Seal moves plaintext into the confidential domain.
func (e *Embedded) Seal(plaintext []byte) ([]byte, error) {
	return e.keys.Seal(plaintext)
}

// VerifyProof checks a callback attestation.
func (e *Embedded) VerifyProof(requestID string, plaintext []byte, proof string) bool {
	return e.keys.VerifyProof(requestID, plaintext, proof)
}

// Available reports liveness: started and not closed.
func (e *Embedded) Available() bool {
	return atomic.LoadInt32(&e.started) == 1 && atomic.LoadInt32(&e.closed) == 0
}

// Stats reports queue depth for the admin surface.
func (e *Embedded) Stats() (depth, capacity int, dropped uint64) {
	return e.q.Len(), e.q.Cap(), e.q.Dropped()
}

// Close stops the workers, drains the queue and wipes key material.
func (e *Embedded) Close() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}
	close(e.stop)
	e.q.CloseAndDrain()
	e.wg.Wait()
	e.keys.Zero()
	logger.Log.Info("oracle_closed")
	return nil
}
