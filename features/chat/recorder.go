package chat

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const appendTimeout = 5 * time.Second

// Recorder appends turns asynchronously. Turns are sharded by user id onto
// bounded queues, each drained by one goroutine, so a user's turns are
// written in the order they were recorded.
type Recorder struct {
	store  Store
	limit  int
	shards []chan Turn
	errs   chan error
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewRecorder(store Store, limit, workers, queueSize int) *Recorder {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	r := &Recorder{
		store:  store,
		limit:  limit,
		shards: make([]chan Turn, workers),
		errs:   make(chan error, 64),
	}
	for i := range r.shards {
		r.shards[i] = make(chan Turn, queueSize)
		r.wg.Add(1)
		go r.drain(r.shards[i])
	}
	return r
}

func (r *Recorder) shard(userID string) chan Turn {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Record queues t without blocking. It returns false when the recorder is
// closed or the user's queue is full; the turn is then dropped.
func (r *Recorder) Record(t Turn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.shard(t.UserID) <- t:
		return true
	default:
		r.report(fmt.Errorf("conversation queue full, dropping turn for user %s", t.UserID))
		return false
	}
}

func (r *Recorder) drain(queue chan Turn) {
	defer r.wg.Done()
	for t := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		if err := r.store.Append(ctx, t, r.limit); err != nil {
			r.report(fmt.Errorf("append turn for user %s: %w", t.UserID, err))
		}
		cancel()
	}
}

func (r *Recorder) report(err error) {
	slog.Error("conversation log write failed", "error", err)
	select {
	case r.errs <- err:
	default:
	}
}

// Errors surfaces write failures. The channel is closed by Close.
func (r *Recorder) Errors() <-chan error {
	return r.errs
}

// Close stops accepting turns and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, q := range r.shards {
		close(q)
	}
	r.mu.Unlock()

	r.wg.Wait()
	close(r.errs)
}
