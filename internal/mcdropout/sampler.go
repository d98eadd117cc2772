package mcdropout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

var (
	ErrShapeMismatch = errors.New("mcdropout: probability vectors differ in length")
	ErrNoPasses      = errors.New("mcdropout: number of passes must be at least 1")
	ErrNonFinite     = errors.New("mcdropout: runner returned a non-finite value")
)

// Runner produces one raw output vector (logits) for a single text.
// A nil rng requests a deterministic pass with dropout disabled.
// Implementations must be safe for concurrent use.
type Runner interface {
	Infer(ctx context.Context, text string, rng *rand.Rand) ([]float32, error)
}

// RunnerFunc adapts an ordinary function to the Runner interface.
type RunnerFunc func(ctx context.Context, text string, rng *rand.Rand) ([]float32, error)

func (f RunnerFunc) Infer(ctx context.Context, text string, rng *rand.Rand) ([]float32, error) {
	return f(ctx, text, rng)
}

// SampleSet holds the per-pass vectors for one input text. Probs has one row
// per pass, in pass order.
type SampleSet struct {
	Text  string
	Probs [][]float64
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	Passes  int
	Seed    int64
	Workers int
	// Softmax converts raw logits to probabilities. Disable it for
	// regression heads, whose single output is used as-is.
	Softmax bool
}

// Sampler runs Monte Carlo dropout passes through a Runner.
type Sampler struct {
	runner Runner
	cfg    SamplerConfig
}

func NewSampler(runner Runner, cfg SamplerConfig) (*Sampler, error) {
	if runner == nil {
		return nil, errors.New("mcdropout: nil runner")
	}
	if cfg.Passes < 1 {
		return nil, ErrNoPasses
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Sampler{runner: runner, cfg: cfg}, nil
}

// Passes returns the number of stochastic passes per text.
func (s *Sampler) Passes() int { return s.cfg.Passes }

// Sample runs Passes stochastic passes for every text and returns one
// SampleSet per text in input order. Each pass draws from its own RNG seeded
// by PassSeed, so results do not depend on scheduling. The first failing
// pass cancels the remaining ones.
func (s *Sampler) Sample(ctx context.Context, texts []string) ([]SampleSet, error) {
	sets := make([]SampleSet, len(texts))
	for i, text := range texts {
		sets[i] = SampleSet{Text: text, Probs: make([][]float64, s.cfg.Passes)}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

schedule:
	for i := range texts {
		for p := 0; p < s.cfg.Passes; p++ {
			if gctx.Err() != nil {
				break schedule
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				rng := rand.New(rand.NewSource(PassSeed(s.cfg.Seed, i, p)))
				out, err := s.runner.Infer(gctx, texts[i], rng)
				if err != nil {
					return fmt.Errorf("text %d pass %d: %w", i, p, err)
				}
				if len(out) == 0 {
					return fmt.Errorf("text %d pass %d: %w: empty output", i, p, ErrShapeMismatch)
				}
				for j, v := range out {
					if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
						return fmt.Errorf("text %d pass %d output %d: %w (%v)", i, p, j, ErrNonFinite, v)
					}
				}
				sets[i].Probs[p] = toProbs(out, s.cfg.Softmax)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range sets {
		if err := sets[i].checkShape(); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	return sets, nil
}

func (s SampleSet) checkShape() error {
	if len(s.Probs) == 0 {
		return ErrNoPasses
	}
	width := len(s.Probs[0])
	if width == 0 {
		return fmt.Errorf("%w: empty vector", ErrShapeMismatch)
	}
	for p, row := range s.Probs[1:] {
		if len(row) != width {
			return fmt.Errorf("%w: pass %d has %d values, pass 0 has %d", ErrShapeMismatch, p+1, len(row), width)
		}
	}
	return nil
}

func toProbs(logits []float32, softmax bool) []float64 {
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = float64(v)
	}
	if !softmax {
		return out
	}
	lse := floats.LogSumExp(out)
	for i := range out {
		out[i] = math.Exp(out[i] - lse)
	}
	return out
}

// PassSeed derives the RNG seed for one pass from the run seed and the
// (text, pass) coordinates using splitmix64 finalisation.
func PassSeed(seed int64, textIdx, passIdx int) int64 {
	z := mix64(uint64(seed) + 0x9e3779b97f4a7c15*uint64(textIdx+1))
	z = mix64(z + 0xbf58476d1ce4e5b9*uint64(passIdx+1))
	return int64(z)
}

func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
