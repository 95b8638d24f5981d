package hnsw

import (
	"fmt"

	"github.com/dkoess/semdex/pkg/core/distance"
)

const (
	// DefaultM is the default maximum out-degree per layer above 0.
	DefaultM = 16
	// DefaultEfConstruction is the default beam breadth during insertion.
	DefaultEfConstruction = 200
	// DefaultEfSearch is the default beam breadth at query time.
	DefaultEfSearch = 30
)

// Config holds the build-time parameters of an index. The dimension and
// metric are fixed for the index lifetime; search never re-validates them
// against stored vectors.
type Config struct {
	// Dim is the vector dimension. Every inserted vector and every query
	// must have exactly Dim components.
	Dim int
	// M is the maximum out-degree per node on layers above 0.
	M int
	// M0 is the maximum out-degree on layer 0. Zero means 2*M.
	M0 int
	// EfConstruction is the beam breadth used while inserting.
	EfConstruction int
	// Metric selects the distance function.
	Metric distance.Metric
	// Quantized stores vectors as int8 with a corpus-derived scale instead
	// of float32.
	Quantized bool
	// Seed seeds the layer-assignment RNG so small-graph tests can assert
	// exact topology. Builds with the same seed and insertion order draw
	// the same levels.
	Seed int64
}

// withDefaults returns cfg with zero fields replaced by defaults.
func (cfg Config) withDefaults() Config {
	if cfg.M <= 0 {
		cfg.M = DefaultM
	}
	if cfg.M0 <= 0 {
		cfg.M0 = 2 * cfg.M
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = DefaultEfConstruction
	}
	if cfg.Metric == "" {
		cfg.Metric = distance.L2Squared
	}
	return cfg
}

// validate reports configuration errors that would make the index unusable.
func (cfg Config) validate() error {
	if cfg.Dim <= 0 {
		return fmt.Errorf("hnsw: dimension must be positive, got %d", cfg.Dim)
	}
	if !cfg.Metric.Valid() {
		return fmt.Errorf("hnsw: unknown metric %q", cfg.Metric)
	}
	if cfg.M < 2 {
		return fmt.Errorf("hnsw: M must be at least 2, got %d", cfg.M)
	}
	return nil
}

// maxConns returns the out-degree bound for a layer.
func (cfg Config) maxConns(layer int) int {
	if layer == 0 {
		return cfg.M0
	}
	return cfg.M
}
