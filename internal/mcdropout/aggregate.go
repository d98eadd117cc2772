package mcdropout

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ClassStats summarises the predictive distribution of one text.
type ClassStats struct {
	PredictedClass int
	Confidence     float64
	// Entropy is the predictive entropy H(mean p) in nats.
	Entropy         float64
	ExpectedEntropy float64
	// MutualInformation is Entropy - ExpectedEntropy (BALD), clamped at 0.
	MutualInformation float64
	VariationRatio    float64
	Margin            float64
	// StdDev is the sample standard deviation of the predicted class
	// probability across passes. It is 0 for a single pass.
	StdDev    float64
	MeanProbs []float64
	Passes    int
}

// RegressionStats summarises repeated scalar outputs for one text.
type RegressionStats struct {
	Mean     float64
	StdDev   float64
	Variance float64
	Passes   int
}

// Entropy returns the Shannon entropy of p in nats. Zero entries contribute
// nothing and rounding below zero is clamped. NaN input yields NaN.
func Entropy(p []float64) float64 {
	h := stat.Entropy(p)
	if h < 0 {
		return 0
	}
	return h
}

// Aggregate reduces the probability vectors of a SampleSet to ClassStats.
func Aggregate(set SampleSet) (ClassStats, error) {
	if err := set.checkShape(); err != nil {
		return ClassStats{}, err
	}
	n := len(set.Probs)
	c := len(set.Probs[0])

	mean := make([]float64, c)
	votes := make([]int, c)
	var expected float64
	for _, row := range set.Probs {
		floats.Add(mean, row)
		votes[floats.MaxIdx(row)]++
		expected += Entropy(row)
	}
	floats.Scale(1/float64(n), mean)
	expected /= float64(n)

	pred := floats.MaxIdx(mean)
	entropy := Entropy(mean)

	modal := 0
	for _, v := range votes {
		modal = max(modal, v)
	}

	margin := mean[pred]
	if c > 1 {
		second := math.Inf(-1)
		for j, v := range mean {
			if j != pred && v > second {
				second = v
			}
		}
		margin -= second
	}

	var sd float64
	if n > 1 {
		col := make([]float64, n)
		for i, row := range set.Probs {
			col[i] = row[pred]
		}
		sd = stat.StdDev(col, nil)
	}

	return ClassStats{
		PredictedClass:    pred,
		Confidence:        mean[pred],
		Entropy:           entropy,
		ExpectedEntropy:   expected,
		MutualInformation: math.Max(0, entropy-expected),
		VariationRatio:    1 - float64(modal)/float64(n),
		Margin:            margin,
		StdDev:            sd,
		MeanProbs:         mean,
		Passes:            n,
	}, nil
}

// AggregateRegression reduces single-value passes to their mean and spread.
func AggregateRegression(set SampleSet) (RegressionStats, error) {
	if err := set.checkShape(); err != nil {
		return RegressionStats{}, err
	}
	if w := len(set.Probs[0]); w != 1 {
		return RegressionStats{}, fmt.Errorf("%w: regression expects 1 output, got %d", ErrShapeMismatch, w)
	}
	n := len(set.Probs)
	vals := make([]float64, n)
	for i, row := range set.Probs {
		vals[i] = row[0]
	}

	var variance float64
	if n > 1 {
		variance = stat.Variance(vals, nil)
	}
	return RegressionStats{
		Mean:     stat.Mean(vals, nil),
		StdDev:   math.Sqrt(variance),
		Variance: variance,
		Passes:   n,
	}, nil
}
