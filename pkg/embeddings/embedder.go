// Package embeddings converts text into dense vectors by calling a remote
// embedding backend. Backends take whole batches: the model serializes
// compute anyway, so one request per batch beats one request per text.
package embeddings

import (
	"context"
	"fmt"
)

// Embedder converts batches of texts into vectors. Implementations return
// one vector per input text, in input order, each of Dimension components.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// BackendError reports a failed call to the embedding backend. The whole
// batch shares the failure since backends embed batches atomically.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("embedding backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// checkBatch validates a backend response against the request that produced
// it.
func checkBatch(backend string, vectors [][]float32, texts []string, dim int) error {
	if len(vectors) != len(texts) {
		return &BackendError{
			Backend: backend,
			Err:     fmt.Errorf("returned %d embeddings for %d inputs", len(vectors), len(texts)),
		}
	}
	for i, v := range vectors {
		if len(v) != dim {
			return &BackendError{
				Backend: backend,
				Err:     fmt.Errorf("embedding %d has %d components, expected %d", i, len(v), dim),
			}
		}
	}
	return nil
}
