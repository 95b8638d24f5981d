package distance

import (
	"math"
	"sort"
)

// Scale holds the parameters of the symmetric scalar quantizer. A single
// scale derived from the build corpus is shared by every quantized vector in
// an index; the zero point is implicitly 0 (symmetric quantization).
//
// Quantization approximately preserves distance ordering: nearby vectors in
// float space stay nearby in int8 space, but ties and near-ties can reorder.
// The resulting recall degradation is an accepted trade-off for the 4x
// memory reduction and faster integer kernels.
type Scale struct {
	// AbsMax is the magnitude mapped to ±127. Values beyond it clamp.
	AbsMax float32
}

// Factor returns the float value represented by one quantization step.
func (s Scale) Factor() float32 {
	if s.AbsMax == 0 {
		return 0
	}
	return s.AbsMax / 127
}

// FitOptions controls Fit.
type FitOptions struct {
	// Quantile of the absolute-value distribution mapped to 127. Using a
	// high quantile instead of the true maximum keeps a handful of outlier
	// components from stretching the range and crushing everything else
	// into a few buckets. Defaults to 0.999.
	Quantile float64
	// SampleStride, when > 1, fits on every SampleStride-th vector only.
	// Sampling is strided rather than random so a fit is reproducible.
	SampleStride int
}

// Fit derives the quantization scale from a corpus of vectors.
func Fit(vectors [][]float32, opts FitOptions) Scale {
	if opts.Quantile <= 0 || opts.Quantile > 1 {
		opts.Quantile = 0.999
	}
	if opts.SampleStride < 1 {
		opts.SampleStride = 1
	}
	if len(vectors) == 0 {
		return Scale{}
	}

	var abs []float32
	for i := 0; i < len(vectors); i += opts.SampleStride {
		for _, v := range vectors[i] {
			abs = append(abs, float32(math.Abs(float64(v))))
		}
	}
	if len(abs) == 0 {
		return Scale{}
	}

	sort.Slice(abs, func(i, j int) bool { return abs[i] < abs[j] })

	idx := int(float64(len(abs)) * opts.Quantile)
	if idx >= len(abs) {
		idx = len(abs) - 1
	}
	return Scale{AbsMax: abs[idx]}
}

// Quantize writes the int8 representation of v into dst. It is total: out of
// range values clamp to ±127 and a zero scale produces a zero vector. dst
// must have len(v) elements.
func Quantize(dst []int8, v []float32, s Scale) {
	if s.AbsMax == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	for i, x := range v {
		scaled := (x / s.AbsMax) * 127
		if scaled > 127 {
			scaled = 127
		} else if scaled < -127 {
			scaled = -127
		}
		dst[i] = int8(math.Round(float64(scaled)))
	}
}

// Dequantize returns the approximate float32 vector for an int8 code. Useful
// for diagnostics; the index never round-trips vectors through it.
func Dequantize(code []int8, s Scale) []float32 {
	out := make([]float32, len(code))
	f := s.Factor()
	for i, c := range code {
		out[i] = float32(c) * f
	}
	return out
}
