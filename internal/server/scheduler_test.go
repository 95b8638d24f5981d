package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkoess/semdex/pkg/core/distance"
	"github.com/dkoess/semdex/pkg/core/hnsw"
	"github.com/dkoess/semdex/pkg/embeddings"
)

// stubEmbedder maps "doc<i>" to the i-th one-hot vector, so a query for
// "doc<i>" has vector i as its exact nearest neighbor. It records each
// batch it receives.
type stubEmbedder struct {
	dim  int
	fail string // texts containing this substring fail the batch

	mu      sync.Mutex
	batches [][]string
}

func (e *stubEmbedder) Dimension() int { return e.dim }

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches = append(e.batches, append([]string(nil), texts...))
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if e.fail != "" && strings.Contains(text, e.fail) {
			return nil, &embeddings.BackendError{Backend: "stub", Err: errors.New("boom")}
		}
		n, err := strconv.Atoi(strings.TrimPrefix(text, "doc"))
		if err != nil || n < 0 || n >= e.dim {
			return nil, &embeddings.BackendError{Backend: "stub", Err: fmt.Errorf("unknown text %q", text)}
		}
		v := make([]float32, e.dim)
		v[n] = 1
		out[i] = v
	}
	return out, nil
}

func (e *stubEmbedder) batchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

// oneHotIndex builds an index of dim one-hot vectors, where vector i is the
// embedding of "doc<i>".
func oneHotIndex(t *testing.T, dim int) *hnsw.Index {
	t.Helper()
	vectors := make([][]float32, dim)
	for i := range vectors {
		v := make([]float32, dim)
		v[i] = 1
		vectors[i] = v
	}
	idx, err := hnsw.Build(context.Background(), vectors, hnsw.Config{
		Dim:    dim,
		Metric: distance.L2Squared,
		Seed:   1,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func TestSchedulerCoalescesConcurrentRequests(t *testing.T) {
	const dim = 8
	emb := &stubEmbedder{dim: dim}
	s := NewScheduler(oneHotIndex(t, dim), emb, 50, dim, 200*time.Millisecond)
	defer s.Stop()

	var wg sync.WaitGroup
	results := make([]Result, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.Submit(context.Background(), []string{fmt.Sprintf("doc%d", i)}, 1)
		}()
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if len(results[i].Indices) != 1 || len(results[i].Indices[0]) != 1 {
			t.Fatalf("request %d: unexpected shape %v", i, results[i].Indices)
		}
		if got := results[i].Indices[0][0]; got != uint32(i) {
			t.Errorf("request %d got id %d from another request's query", i, got)
		}
	}
	// All four submissions arrived well inside max_wait, so they must
	// share one embedding call.
	if n := emb.batchCount(); n > 2 {
		t.Errorf("expected coalesced batches, embedder saw %d calls", n)
	}
}

func TestSchedulerSplitBackKeepsRequestOrder(t *testing.T) {
	const dim = 8
	emb := &stubEmbedder{dim: dim}
	s := NewScheduler(oneHotIndex(t, dim), emb, 50, dim, 100*time.Millisecond)
	defer s.Stop()

	res, err := s.Submit(context.Background(), []string{"doc5", "doc2", "doc7"}, 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	want := []uint32{5, 2, 7}
	for i, w := range want {
		if res.Indices[i][0] != w {
			t.Errorf("query %d got id %d, want %d", i, res.Indices[i][0], w)
		}
	}
}

func TestSchedulerImmediateDispatch(t *testing.T) {
	const dim = 4
	emb := &stubEmbedder{dim: dim}
	s := NewScheduler(oneHotIndex(t, dim), emb, 50, 1, 0)
	defer s.Stop()

	for i := 0; i < 3; i++ {
		res, err := s.Submit(context.Background(), []string{fmt.Sprintf("doc%d", i)}, 1)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if res.Indices[0][0] != uint32(i) {
			t.Errorf("got id %d, want %d", res.Indices[0][0], i)
		}
	}
	if n := emb.batchCount(); n != 3 {
		t.Errorf("immediate dispatch made %d embed calls, want 3", n)
	}
}

func TestSchedulerSharedFateOnEmbedFailure(t *testing.T) {
	const dim = 4
	emb := &stubEmbedder{dim: dim, fail: "poison"}
	s := NewScheduler(oneHotIndex(t, dim), emb, 50, 2, time.Second)
	defer s.Stop()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	texts := []string{"doc0", "poison"}
	for i := range texts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Submit(context.Background(), []string{texts[i]}, 1)
		}()
	}
	wg.Wait()

	var backendErr *embeddings.BackendError
	for i, err := range errs {
		if !errors.As(err, &backendErr) {
			t.Errorf("request %d: got %v, want BackendError for the whole batch", i, err)
		}
	}
}

func TestSchedulerTrimsPerRequestK(t *testing.T) {
	const dim = 8
	emb := &stubEmbedder{dim: dim}
	s := NewScheduler(oneHotIndex(t, dim), emb, 50, 8, 100*time.Millisecond)
	defer s.Stop()

	var wg sync.WaitGroup
	var small, large Result
	var errSmall, errLarge error
	wg.Add(2)
	go func() {
		defer wg.Done()
		small, errSmall = s.Submit(context.Background(), []string{"doc1"}, 2)
	}()
	go func() {
		defer wg.Done()
		large, errLarge = s.Submit(context.Background(), []string{"doc2"}, 5)
	}()
	wg.Wait()

	if errSmall != nil || errLarge != nil {
		t.Fatalf("Submit: %v / %v", errSmall, errLarge)
	}
	if len(small.Indices[0]) != 2 {
		t.Errorf("k=2 request got %d ids", len(small.Indices[0]))
	}
	if len(large.Indices[0]) != 5 {
		t.Errorf("k=5 request got %d ids", len(large.Indices[0]))
	}
}

func TestSchedulerKBeyondIndexSize(t *testing.T) {
	const dim = 4
	emb := &stubEmbedder{dim: dim}
	s := NewScheduler(oneHotIndex(t, dim), emb, 50, 1, 0)
	defer s.Stop()

	res, err := s.Submit(context.Background(), []string{"doc0"}, 100)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(res.Indices[0]) != dim {
		t.Errorf("got %d ids for k=100 on a %d vector index", len(res.Indices[0]), dim)
	}
}

func TestSchedulerReportsStageLatencies(t *testing.T) {
	const dim = 4
	emb := &stubEmbedder{dim: dim}
	s := NewScheduler(oneHotIndex(t, dim), emb, 50, 1, 0)
	defer s.Stop()

	res, err := s.Submit(context.Background(), []string{"doc1"}, 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.ModelLatency <= 0 || res.SearchLatency <= 0 {
		t.Errorf("expected positive stage latencies, got model=%v search=%v",
			res.ModelLatency, res.SearchLatency)
	}
}

func TestSchedulerSubmitAfterStop(t *testing.T) {
	const dim = 4
	s := NewScheduler(oneHotIndex(t, dim), &stubEmbedder{dim: dim}, 50, 4, time.Millisecond)
	s.Stop()

	if _, err := s.Submit(context.Background(), []string{"doc0"}, 1); !errors.Is(err, ErrSchedulerClosed) {
		t.Errorf("got %v, want ErrSchedulerClosed", err)
	}
}
