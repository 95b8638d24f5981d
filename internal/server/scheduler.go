package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dkoess/semdex/pkg/core/hnsw"
	"github.com/dkoess/semdex/pkg/embeddings"
	"github.com/dkoess/semdex/pkg/metrics"
)

// ErrSchedulerClosed is returned by Submit after Stop.
var ErrSchedulerClosed = errors.New("scheduler: closed")

// Result is the outcome of one predict request. Latencies are batch-level:
// every request in a batch shares the one embedding call and the one index
// search that served it.
type Result struct {
	Indices       [][]uint32
	ModelLatency  time.Duration
	SearchLatency time.Duration
}

type request struct {
	texts []string
	k     int

	done   chan struct{}
	result Result
	err    error
}

func (r *request) complete(res Result, err error) {
	r.result = res
	r.err = err
	close(r.done)
}

// Scheduler coalesces concurrent predict requests into batches. A batch
// closes when it has collected maxBatch queries or maxWait has elapsed
// since its first query arrived, whichever comes first. On close the batch
// makes a single call to the embedding backend and a single batched index
// search, then results are split back to the owning requests by position.
//
// The dispatch loop is a single goroutine: the embedding backend serializes
// on its compute resource anyway, so batches queue instead of racing it.
type Scheduler struct {
	embedder embeddings.Embedder
	index    *hnsw.Index
	efSearch int
	maxBatch int
	maxWait  time.Duration

	submit chan *request
	quit   chan struct{}
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}

// NewScheduler wires a scheduler to a built index and an embedding backend.
// maxWait zero disables coalescing: every request dispatches immediately.
func NewScheduler(idx *hnsw.Index, emb embeddings.Embedder, efSearch, maxBatch int, maxWait time.Duration) *Scheduler {
	s := &Scheduler{
		embedder: emb,
		index:    idx,
		efSearch: efSearch,
		maxBatch: maxBatch,
		maxWait:  maxWait,
		submit:   make(chan *request, 256),
		quit:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Submit blocks until the request's batch completes or ctx is done. Once
// the batch has dispatched the request cannot be cancelled individually: on
// early ctx expiry the batch still completes and the result is dropped.
func (s *Scheduler) Submit(ctx context.Context, texts []string, k int) (Result, error) {
	req := &request{texts: texts, k: k, done: make(chan struct{})}

	// The read lock is held across the send so Stop cannot observe an
	// empty queue while a request is still on its way in.
	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return Result{}, ErrSchedulerClosed
	}
	select {
	case s.submit <- req:
		s.closeMu.RUnlock()
	case <-ctx.Done():
		s.closeMu.RUnlock()
		return Result{}, ctx.Err()
	}

	select {
	case <-req.done:
		return req.result, req.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stop closes the scheduler. In-flight batches complete; requests that
// never made it into a batch fail with ErrSchedulerClosed.
func (s *Scheduler) Stop() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	s.closeMu.Unlock()

	close(s.quit)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.submit:
			s.dispatch(s.collect(req))
		case <-s.quit:
			s.drain()
			return
		}
	}
}

// collect grows a batch around its first request until the size or deadline
// bound is hit.
func (s *Scheduler) collect(first *request) []*request {
	batch := []*request{first}
	n := len(first.texts)
	if n >= s.maxBatch || s.maxWait <= 0 {
		return batch
	}

	timer := time.NewTimer(s.maxWait)
	defer timer.Stop()
	for n < s.maxBatch {
		select {
		case req := <-s.submit:
			batch = append(batch, req)
			n += len(req.texts)
		case <-timer.C:
			return batch
		case <-s.quit:
			return batch
		}
	}
	return batch
}

// drain fails every request still queued after Stop.
func (s *Scheduler) drain() {
	for {
		select {
		case req := <-s.submit:
			req.complete(Result{}, ErrSchedulerClosed)
		default:
			return
		}
	}
}

// dispatch runs the two batch stages and splits results back per request.
// An embedding failure is shared fate: every request in the batch sees it.
func (s *Scheduler) dispatch(batch []*request) {
	texts := make([]string, 0, len(batch))
	kmax := 0
	for _, req := range batch {
		texts = append(texts, req.texts...)
		if req.k > kmax {
			kmax = req.k
		}
	}
	metrics.BatchSize.Observe(float64(len(texts)))

	embedStart := time.Now()
	vectors, err := s.embedder.EmbedBatch(context.Background(), texts)
	modelLatency := time.Since(embedStart)
	if err != nil {
		slog.Error("embedding batch failed", "queries", len(texts), "error", err)
		for _, req := range batch {
			req.complete(Result{}, err)
		}
		return
	}
	metrics.EmbedDuration.Observe(modelLatency.Seconds())

	searchStart := time.Now()
	found, err := s.index.SearchBatch(context.Background(), vectors, kmax, s.efSearch)
	searchLatency := time.Since(searchStart)
	if err != nil {
		slog.Error("batch search failed", "queries", len(texts), "error", err)
		for _, req := range batch {
			req.complete(Result{}, err)
		}
		return
	}
	metrics.SearchDuration.Observe(searchLatency.Seconds())

	offset := 0
	for _, req := range batch {
		indices := make([][]uint32, len(req.texts))
		for i := range req.texts {
			results := found[offset+i]
			if len(results) > req.k {
				results = results[:req.k]
			}
			ids := make([]uint32, len(results))
			for j, r := range results {
				ids[j] = r.ID
			}
			indices[i] = ids
		}
		offset += len(req.texts)
		req.complete(Result{
			Indices:       indices,
			ModelLatency:  modelLatency,
			SearchLatency: searchLatency,
		}, nil)
	}
}
