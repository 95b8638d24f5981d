// Package distance provides the scalar and batched distance kernels used by
// the HNSW index. It supports the squared Euclidean and cosine metrics over
// float32 and int8 (quantized) vectors.
//
// The package selects the fastest available implementation at init time via
// runtime CPU detection: a Gonum BLAS path for float32 dot products, an
// 8-lane unrolled path on CPUs with wide vector units, and a portable pure-Go
// fallback. Every accelerated path is required to agree with the pure-Go
// reference within a small relative tolerance; vectorization is a performance
// optimization, never a semantic change.
//
// Kernels assume both inputs have the same length. The index fixes the
// dimension at build time, so the invariant holds by construction and is not
// re-checked per call.
package distance

import (
	"fmt"
	"log"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/blas/gonum"
)

// Metric identifies the distance metric of an index.
type Metric string

const (
	// L2Squared is the squared Euclidean distance.
	L2Squared Metric = "l2_squared"
	// Cosine is the cosine distance (1 - cosine similarity) on unit-length
	// vectors, in [0, 2].
	Cosine Metric = "cosine"
)

// Valid reports whether m names a known metric.
func (m Metric) Valid() bool {
	return m == L2Squared || m == Cosine
}

// FuncF32 computes the distance between two float32 vectors of equal length.
type FuncF32 func(a, b []float32) float32

// FuncI8 computes the raw accumulated distance between two int8 vectors of
// equal length. The accumulator is int32 so that the quantization scale can
// be applied once, after accumulation.
type FuncI8 func(a, b []int8) int32

var (
	// Implementation slots. Defaults are the pure-Go reference kernels;
	// init() upgrades them based on CPU capabilities.
	squaredL2Impl = squaredL2Ref
	dotImpl       = dotRef

	float32Funcs = map[Metric]FuncF32{
		L2Squared: SquaredL2,
		Cosine:    CosineDistance,
	}

	int8Funcs = map[Metric]FuncI8{
		L2Squared: SquaredL2Int8,
		Cosine:    DotInt8,
	}
)

var gonumEngine = gonum.Implementation{}

func init() {
	if cpuid.CPU.Has(cpuid.AVX2) {
		squaredL2Impl = squaredL2Unrolled
		dotImpl = dotGonum
		log.Println("semdex compute engine: AVX2 detected, using unrolled/Gonum kernels")
	} else {
		log.Println("semdex compute engine: using pure Go kernels")
	}
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float32 {
	return squaredL2Impl(a, b)
}

// Dot returns the dot product of a and b.
func Dot(a, b []float32) float32 {
	return dotImpl(a, b)
}

// CosineDistance returns 1 - dot(a, b). Both vectors must be unit length;
// the index normalizes vectors at insert and query time for cosine indexes.
func CosineDistance(a, b []float32) float32 {
	return 1 - dotImpl(a, b)
}

// dotGonum delegates to Gonum's BLAS Sdot, which dispatches to SIMD
// internally.
func dotGonum(a, b []float32) float32 {
	return gonumEngine.Sdot(len(a), a, 1, b, 1)
}

// Float32Func returns the float32 kernel for the given metric.
func Float32Func(metric Metric) (FuncF32, error) {
	fn, ok := float32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric %q not supported for float32 vectors", metric)
	}
	return fn, nil
}

// Int8Func returns the int8 kernel for the given metric. The caller applies
// the quantization scale to the returned accumulator (see ApplyScale).
func Int8Func(metric Metric) (FuncI8, error) {
	fn, ok := int8Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric %q not supported for int8 vectors", metric)
	}
	return fn, nil
}

// ApplyScale converts a raw int8 accumulator into a distance in the original
// float space. With symmetric quantization q = round(v/scale) both the
// squared L2 sum and the dot product scale by scale².
func ApplyScale(metric Metric, acc int32, scale float32) float32 {
	switch metric {
	case L2Squared:
		return float32(acc) * scale * scale
	case Cosine:
		sim := float32(acc) * scale * scale
		if sim > 1 {
			sim = 1
		} else if sim < -1 {
			sim = -1
		}
		return 1 - sim
	default:
		return 0
	}
}
