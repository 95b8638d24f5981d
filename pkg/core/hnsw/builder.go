package hnsw

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dkoess/semdex/pkg/core/distance"
)

// Build constructs a frozen index over the given vectors. Vector i is
// stored under id i. For quantized configurations the scalar quantizer is
// fitted on the corpus before any vector is inserted.
//
// The first vector is inserted alone to seed the graph; the remainder are
// inserted by a worker pool bounded by GOMAXPROCS. Build returns the first
// insert error, or the context error if the build is cancelled.
func Build(ctx context.Context, vectors [][]float32, cfg Config) (*Index, error) {
	cfg = cfg.withDefaults()

	var scale distance.Scale
	if cfg.Quantized {
		scale = fitScale(vectors, cfg)
	}

	x, err := New(cfg, len(vectors), scale)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		x.Freeze()
		return x, nil
	}

	if err := x.Insert(0, vectors[0]); err != nil {
		return nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 1; i < len(vectors); i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return x.Insert(uint32(i), vectors[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	x.Freeze()
	return x, nil
}

// fitScale trains the quantizer on the corpus. Cosine indexes quantize unit
// vectors, so the fit runs on normalized copies to keep the scale honest.
func fitScale(vectors [][]float32, cfg Config) distance.Scale {
	sample := vectors
	if cfg.Metric == distance.Cosine {
		sample = make([][]float32, len(vectors))
		for i, v := range vectors {
			nv := append([]float32(nil), v...)
			distance.Normalize(nv)
			sample[i] = nv
		}
	}
	return distance.Fit(sample, distance.FitOptions{})
}
