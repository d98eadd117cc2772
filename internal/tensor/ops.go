package tensor

import (
	"math"
	"math/rand"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// LayerNorm normalises src to zero mean and unit variance, then applies the
// affine weight and bias. dst and src may alias.
func LayerNorm(dst, src, weight, bias []float32, eps float32) {
	n := len(src)
	if n == 0 {
		return
	}
	var mean float64
	for _, v := range src {
		mean += float64(v)
	}
	mean /= float64(n)
	var variance float64
	for _, v := range src {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(n)
	inv := 1.0 / math.Sqrt(variance+float64(eps))
	for i := range src {
		dst[i] = float32((float64(src[i])-mean)*inv)*weight[i] + bias[i]
	}
}

// Softmax applies the softmax function to x.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// GELU is the exact (erf based) Gaussian Error Linear Unit.
func GELU(x float32) float32 {
	return float32(0.5 * float64(x) * (1 + math.Erf(float64(x)/math.Sqrt2)))
}

// ReLU returns max(x, 0).
func ReLU(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// Apply runs fn over x in place.
func Apply(x []float32, fn func(float32) float32) {
	for i, v := range x {
		x[i] = fn(v)
	}
}

// Dropout zeroes each element with probability p and scales survivors by
// 1/(1-p). A nil rng or p <= 0 leaves x untouched (inference mode).
func Dropout(x []float32, p float32, rng *rand.Rand) {
	if rng == nil || p <= 0 {
		return
	}
	if p >= 1 {
		for i := range x {
			x[i] = 0
		}
		return
	}
	scale := 1 / (1 - p)
	for i := range x {
		if rng.Float32() < p {
			x[i] = 0
		} else {
			x[i] *= scale
		}
	}
}
