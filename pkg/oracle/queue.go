package oracle

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

const fallbackQueueCapacity = 1024

// maxPooledBuffer controls the largest handle buffer that will be returned
// to the pool. Larger buffers are dropped so resident memory stays bounded.
const maxPooledBuffer = 256 * 1024 // 256 KiB

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("oracle job queue full")

// ErrQueueClosed is returned when enqueue is attempted after Close.
var ErrQueueClosed = errors.New("oracle job queue closed")

// Counters for instrumentation.
var (
	enqueueTotal     uint64
	enqueueFailTotal uint64
	enqSeq           uint64
)

// Job is one decryption work item. Handle payloads are backed by pooled
// buffers; consumers must call Done() exactly once after processing.
type Job struct {
	ID string
	// EnqSeq is a monotonic enqueue sequence assigned on acceptance, used
	// for deterministic ordering in logs.
	EnqSeq uint64

	handles []*bytebufferpool.ByteBuffer
	once    sync.Once
	q       *jobQueue
}

// Handles returns the sealed payloads. Valid until Done is called.
func (j *Job) Handles() [][]byte {
	out := make([][]byte, len(j.handles))
	for i, b := range j.handles {
		out[i] = b.B
	}
	return out
}

// Done releases the pooled handle buffers. Safe to call more than once.
func (j *Job) Done() {
	j.once.Do(func() {
		if j.q != nil {
			atomic.AddInt64(&j.q.inFlight, -1)
			j.q = nil
		}
		for _, b := range j.handles {
			// avoid retaining huge buffers in the pool
			if cap(b.B) <= maxPooledBuffer {
				bytebufferpool.Put(b)
			}
		}
		j.handles = nil
	})
}

// jobQueue is a threadsafe, fixed-size in-memory queue of decryption jobs.
type jobQueue struct {
	ch       chan *Job
	capacity int
	dropped  uint64
	closed   int32
	inFlight int64

	enqWg     sync.WaitGroup
	closeOnce sync.Once
}

// newJobQueue creates a bounded queue of the given capacity (>0).
func newJobQueue(capacity int) *jobQueue {
	if capacity <= 0 {
		capacity = fallbackQueueCapacity
	}
	return &jobQueue{ch: make(chan *Job, capacity), capacity: capacity}
}

// TryEnqueue copies handles into pooled buffers and enqueues a job without
// blocking; returns ErrQueueFull if full.
func (q *jobQueue) TryEnqueue(id string, handles [][]byte) error {
	atomic.AddUint64(&enqueueTotal, 1)

	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}

	q.enqWg.Add(1)
	defer q.enqWg.Done()

	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}

	bufs := make([]*bytebufferpool.ByteBuffer, len(handles))
	for i, h := range handles {
		bb := bytebufferpool.Get()
		bb.B = append(bb.B[:0], h...)
		bufs[i] = bb
	}
	j := &Job{ID: id, EnqSeq: atomic.AddUint64(&enqSeq, 1), handles: bufs, q: q}

	select {
	case q.ch <- j:
		atomic.AddInt64(&q.inFlight, 1)
		return nil
	default:
		// Clean up pooled resources on failure.
		for _, bb := range bufs {
			bytebufferpool.Put(bb)
		}
		atomic.AddUint64(&q.dropped, 1)
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueFull
	}
}

// RunWorker dequeues jobs and calls handler for each, calling Job.Done()
// always. Exits when stop fires or the queue closes.
func (q *jobQueue) RunWorker(stop <-chan struct{}, handler func(*Job)) {
	for {
		select {
		case j, ok := <-q.ch:
			if !ok {
				return
			}
			func(j *Job) {
				defer j.Done()
				handler(j)
			}(j)
		case <-stop:
			return
		}
	}
}

// CloseAndDrain rejects further enqueues, waits for in-progress enqueues,
// then closes the channel and drains remaining jobs so their buffers return
// to the pool.
func (q *jobQueue) CloseAndDrain() {
	q.closeOnce.Do(func() {
		atomic.StoreInt32(&q.closed, 1)
		q.enqWg.Wait()
		close(q.ch)
		for j := range q.ch {
			j.Done()
		}
	})
}

// Len returns the current number of queued jobs.
func (q *jobQueue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *jobQueue) Cap() int { return q.capacity }

// Dropped returns the number of jobs rejected because the queue was full.
func (q *jobQueue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
