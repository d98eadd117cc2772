package uncertainty

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/samcharles93/dropwise/internal/logger"
	"github.com/samcharles93/dropwise/internal/mcdropout"
)

const DefaultNumPasses = 10

// Options configures a predictive entropy metric.
type Options struct {
	TaskType TaskType
	// NumPasses is the number of stochastic passes per text. Zero selects
	// DefaultNumPasses.
	NumPasses int
	// Seed fixes the dropout masks. A negative seed draws a fresh seed from
	// the clock on every Compute.
	Seed    int64
	Workers int
	// Labels maps class indices to names. When nil and the runner reports
	// labels, those are used.
	Labels map[int]string
}

// LabelProvider is implemented by runners that know their class names.
type LabelProvider interface {
	Labels() map[int]string
}

// Metric estimates predictive uncertainty with Monte Carlo dropout.
// Update stages a batch and Compute evaluates it; both are safe for
// concurrent use.
type Metric struct {
	runner mcdropout.Runner
	opts   Options

	mu      sync.Mutex
	pending []string
	ready   bool
}

// NewPredictiveEntropy builds a Metric that runs opts.NumPasses dropout
// passes through runner per text.
func NewPredictiveEntropy(runner mcdropout.Runner, opts Options) (*Metric, error) {
	if runner == nil {
		return nil, errors.New("uncertainty: nil runner")
	}
	task, err := ParseTaskType(string(opts.TaskType))
	if err != nil {
		return nil, err
	}
	opts.TaskType = task
	if opts.NumPasses == 0 {
		opts.NumPasses = DefaultNumPasses
	}
	if opts.NumPasses < 1 {
		return nil, InvalidInputError{Reason: fmt.Sprintf("num_passes must be >= 1, got %d", opts.NumPasses)}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Labels == nil {
		if lp, ok := runner.(LabelProvider); ok {
			opts.Labels = lp.Labels()
		}
	}
	return &Metric{runner: runner, opts: opts}, nil
}

func (m *Metric) Name() string { return "predictive_entropy" }

// Options returns the effective options after defaults were applied.
func (m *Metric) Options() Options { return m.opts }

// Update replaces the pending batch. The batch is copied, so the caller may
// reuse the slice.
func (m *Metric) Update(batch []string) error {
	if len(batch) == 0 {
		return InvalidInputError{Reason: "batch must contain at least one text"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending[:0:0], batch...)
	m.ready = true
	return nil
}

// Reset drops the pending batch; Compute fails with ErrNotReady until the
// next Update.
func (m *Metric) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	m.ready = false
}

// Compute runs the dropout passes for the pending batch and returns one
// Record per text in batch order. The batch stays staged, so Compute may be
// called again.
func (m *Metric) Compute(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return nil, ErrNotReady
	}
	batch := append([]string(nil), m.pending...)
	m.mu.Unlock()

	seed := m.opts.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	log := logger.FromContext(ctx).With("metric", m.Name())
	log.Debug("computing", "texts", len(batch), "passes", m.opts.NumPasses, "seed", seed, "task", m.opts.TaskType)

	sampler, err := mcdropout.NewSampler(m.runner, mcdropout.SamplerConfig{
		Passes:  m.opts.NumPasses,
		Seed:    seed,
		Workers: m.opts.Workers,
		Softmax: m.opts.TaskType == SequenceClassification,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	sets, err := sampler.Sample(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}

	records := make([]Record, len(sets))
	for i, set := range sets {
		switch m.opts.TaskType {
		case Regression:
			st, err := mcdropout.AggregateRegression(set)
			if err != nil {
				return nil, fmt.Errorf("aggregate text %d: %w", i, err)
			}
			records[i] = regressionRecord(set.Text, st)
		default:
			st, err := mcdropout.Aggregate(set)
			if err != nil {
				return nil, fmt.Errorf("aggregate text %d: %w", i, err)
			}
			records[i] = classRecord(set.Text, st, m.opts.Labels)
		}
	}
	log.Debug("computed", "records", len(records), "elapsed", time.Since(start))
	return records, nil
}
