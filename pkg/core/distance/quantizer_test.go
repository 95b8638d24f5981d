package distance

import (
	"math/rand"
	"sort"
	"testing"
)

func TestFitIgnoresOutliers(t *testing.T) {
	// 1000 values in [-1, 1] plus one extreme outlier. The 99.9th quantile
	// scale must stay near 1, not near the outlier.
	rng := rand.New(rand.NewSource(7))
	vectors := make([][]float32, 100)
	for i := range vectors {
		vectors[i] = randVec(rng, 10)
	}
	vectors[0][0] = 1000

	s := Fit(vectors, FitOptions{})
	if s.AbsMax > 2 {
		t.Fatalf("AbsMax = %v, outlier leaked into the scale", s.AbsMax)
	}
	if s.AbsMax == 0 {
		t.Fatal("AbsMax = 0 on non-empty corpus")
	}
}

func TestQuantizeClampsAndIsTotal(t *testing.T) {
	s := Scale{AbsMax: 1}

	v := []float32{0, 0.5, 1, 2, -2, -1}
	dst := make([]int8, len(v))
	Quantize(dst, v, s)

	want := []int8{0, 64, 127, 127, -127, -127}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("Quantize[%d] = %d, want %d", i, dst[i], want[i])
		}
	}

	// Zero scale never panics and produces the zero code.
	Quantize(dst, v, Scale{})
	for i, c := range dst {
		if c != 0 {
			t.Errorf("zero-scale Quantize[%d] = %d, want 0", i, c)
		}
	}
}

func TestFitSampleStride(t *testing.T) {
	vectors := [][]float32{{1}, {100}, {1}, {100}}

	// Stride 2 starting at index 0 sees only the small values.
	s := Fit(vectors, FitOptions{SampleStride: 2, Quantile: 1})
	if s.AbsMax != 1 {
		t.Fatalf("strided fit AbsMax = %v, want 1", s.AbsMax)
	}
}

// TestQuantizedOrderingPreserved checks that int8 distances rank neighbors
// close to how the float32 distances rank them: the true nearest 10 of a
// query must overlap the quantized nearest 10 at recall >= 0.9 on average.
func TestQuantizedOrderingPreserved(t *testing.T) {
	const (
		dim        = 64
		n          = 500
		queries    = 20
		k          = 10
		wantRecall = 0.9
	)

	rng := rand.New(rand.NewSource(11))
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = randVec(rng, dim)
	}

	s := Fit(vectors, FitOptions{})
	codes := make([][]int8, n)
	for i, v := range vectors {
		codes[i] = make([]int8, dim)
		Quantize(codes[i], v, s)
	}

	topK := func(dists []float32) map[int]struct{} {
		idx := make([]int, len(dists))
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool {
			if dists[idx[a]] != dists[idx[b]] {
				return dists[idx[a]] < dists[idx[b]]
			}
			return idx[a] < idx[b]
		})
		set := make(map[int]struct{}, k)
		for _, i := range idx[:k] {
			set[i] = struct{}{}
		}
		return set
	}

	var hits, total int
	for q := 0; q < queries; q++ {
		query := randVec(rng, dim)
		qCode := make([]int8, dim)
		Quantize(qCode, query, s)

		exact := make([]float32, n)
		approx := make([]float32, n)
		factor := s.Factor()
		for i := 0; i < n; i++ {
			exact[i] = SquaredL2(query, vectors[i])
			approx[i] = ApplyScale(L2Squared, SquaredL2Int8(qCode, codes[i]), factor)
		}

		exactSet := topK(exact)
		for id := range topK(approx) {
			if _, ok := exactSet[id]; ok {
				hits++
			}
		}
		total += k
	}

	recall := float64(hits) / float64(total)
	if recall < wantRecall {
		t.Fatalf("quantized recall@%d = %.3f, want >= %.2f", k, recall, wantRecall)
	}
}
