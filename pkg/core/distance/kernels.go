package distance

import "math"

// Reference kernels. These are the semantic ground truth: the accelerated
// implementations must agree with them within a small relative tolerance
// (see distance_test.go). They double as the portable fallback.

func squaredL2Ref(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func dotRef(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// squaredL2Unrolled processes 8 lanes per iteration with 4 independent
// accumulators so the compiler can keep the loop in vector registers. The
// tail falls back to the scalar loop.
func squaredL2Unrolled(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	i, n := 0, len(a)
	for ; i+8 <= n; i += 8 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		d4 := a[i+4] - b[i+4]
		d5 := a[i+5] - b[i+5]
		d6 := a[i+6] - b[i+6]
		d7 := a[i+7] - b[i+7]
		s0 += d0*d0 + d4*d4
		s1 += d1*d1 + d5*d5
		s2 += d2*d2 + d6*d6
		s3 += d3*d3 + d7*d7
	}
	sum := s0 + s1 + s2 + s3
	for ; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// SquaredL2Batch computes the squared L2 distance between query and each of
// the len(out) vectors stored back to back in targets with stride dim.
func SquaredL2Batch(query []float32, targets []float32, dim int, out []float32) {
	for i := range out {
		out[i] = squaredL2Impl(query, targets[i*dim:(i+1)*dim])
	}
}

// DotBatch computes the dot product between query and each of the len(out)
// vectors stored back to back in targets with stride dim.
func DotBatch(query []float32, targets []float32, dim int, out []float32) {
	for i := range out {
		out[i] = dotImpl(query, targets[i*dim:(i+1)*dim])
	}
}

// SquaredL2Int8 accumulates the squared differences of two int8 vectors in
// int32. Per-lane differences fit in int16 and their squares in int32; with
// D=384 the running sum stays far below the int32 limit.
func SquaredL2Int8(a, b []int8) int32 {
	var sum int32
	for i := range a {
		d := int32(a[i]) - int32(b[i])
		sum += d * d
	}
	return sum
}

// DotInt8 accumulates the dot product of two int8 vectors in int32.
func DotInt8(a, b []int8) int32 {
	var sum int32
	for i := range a {
		sum += int32(a[i]) * int32(b[i])
	}
	return sum
}

// SquaredL2Int8Batch is the batched form of SquaredL2Int8 over a flattened
// target block with stride dim.
func SquaredL2Int8Batch(query []int8, targets []int8, dim int, out []int32) {
	for i := range out {
		out[i] = SquaredL2Int8(query, targets[i*dim:(i+1)*dim])
	}
}

// DotInt8Batch is the batched form of DotInt8 over a flattened target block
// with stride dim.
func DotInt8Batch(query []int8, targets []int8, dim int, out []int32) {
	for i := range out {
		out[i] = DotInt8(query, targets[i*dim:(i+1)*dim])
	}
}

// Normalize scales v to unit L2 length in place. Zero vectors are left
// unchanged.
func Normalize(v []float32) {
	var normSq float32
	for _, x := range v {
		normSq += x * x
	}
	if normSq == 0 {
		return
	}
	inv := 1 / float32(math.Sqrt(float64(normSq)))
	for i := range v {
		v[i] *= inv
	}
}
