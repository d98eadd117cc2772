package gemini

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"google.golang.org/genai"
)

type fakeGenerator struct {
	reply   string
	err     error
	lastCfg *genai.GenerateContentConfig
	calls   int
}

func (f *fakeGenerator) GenerateContent(_ context.Context, _ string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.lastCfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.reply}}},
		}},
	}, nil
}

func softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v))
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func TestInferReturnsLogProbs(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: `{"NEGATIVE": 0.25, "POSITIVE": 0.75}`}
	r, err := newRunner(gen, "", []string{"NEGATIVE", "POSITIVE"})
	if err != nil {
		t.Fatalf("newRunner: %v", err)
	}
	logits, err := r.Infer(context.Background(), "The movie was amazing!", rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	p := softmax(logits)
	if math.Abs(p[0]-0.25) > 1e-6 || math.Abs(p[1]-0.75) > 1e-6 {
		t.Fatalf("softmax(logits) = %v", p)
	}
	if gen.lastCfg.Seed == nil || gen.lastCfg.Temperature == nil || *gen.lastCfg.Temperature != DefaultTemperature {
		t.Fatalf("stochastic pass not configured: %+v", gen.lastCfg)
	}
	if gen.lastCfg.ResponseSchema == nil || len(gen.lastCfg.ResponseSchema.Required) != 2 {
		t.Fatalf("missing response schema")
	}
}

func TestInferDeterministicPass(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: "```json\n{\"a\": 1, \"b\": 0}\n```"}
	r, _ := newRunner(gen, "gemini-test", []string{"a", "b"})
	logits, err := r.Infer(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if gen.lastCfg.Seed != nil || *gen.lastCfg.Temperature != 0 {
		t.Fatalf("deterministic pass should use temperature 0 and no seed")
	}
	if math.IsInf(float64(logits[1]), 0) || logits[0] <= logits[1] {
		t.Fatalf("unexpected logits %v", logits)
	}
}

func TestSeedFollowsRNG(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: `{"a": 0.5, "b": 0.5}`}
	r, _ := newRunner(gen, "", []string{"a", "b"})
	_, _ = r.Infer(context.Background(), "x", rand.New(rand.NewSource(9)))
	first := *gen.lastCfg.Seed
	_, _ = r.Infer(context.Background(), "x", rand.New(rand.NewSource(9)))
	if *gen.lastCfg.Seed != first {
		t.Fatalf("same rng seed produced request seeds %d and %d", first, *gen.lastCfg.Seed)
	}
}

func TestParseScoresErrors(t *testing.T) {
	t.Parallel()
	labels := []string{"a", "b"}
	for _, raw := range []string{
		`not json`,
		`{"a": 0, "b": 0}`,
		`{"a": -1, "b": 2}`,
		`{}`,
	} {
		if _, err := parseScores(raw, labels); !errors.Is(err, ErrBadResponse) {
			t.Errorf("parseScores(%q) err = %v", raw, err)
		}
	}
	out, err := parseScores(`{"a": 2, "b": 6}`, labels)
	if err != nil {
		t.Fatalf("parseScores: %v", err)
	}
	if math.Abs(math.Exp(float64(out[1]))-0.75) > 1e-6 {
		t.Fatalf("scores were not renormalised: %v", out)
	}
}

func TestInferPropagatesErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("quota")
	r, _ := newRunner(&fakeGenerator{err: boom}, "", []string{"a", "b"})
	if _, err := r.Infer(context.Background(), "x", nil); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	r, _ = newRunner(generatorFunc(func() (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	}), "", []string{"a", "b"})
	if _, err := r.Infer(context.Background(), "x", nil); !errors.Is(err, ErrBadResponse) {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
}

type generatorFunc func() (*genai.GenerateContentResponse, error)

func (f generatorFunc) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return f()
}

func TestNewRunnerValidatesLabels(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{}
	for _, labels := range [][]string{nil, {"only"}, {"a", "a"}, {"a", " "}} {
		if _, err := newRunner(gen, "", labels); err == nil {
			t.Errorf("labels %q: expected error", labels)
		}
	}
	if _, err := NewRunner(nil, "", []string{"a", "b"}); err == nil {
		t.Error("expected nil client error")
	}
	r, err := newRunner(gen, "", []string{"neg", "pos"})
	if err != nil {
		t.Fatal(err)
	}
	if r.modelName != DefaultModel || r.Labels()[1] != "pos" {
		t.Fatalf("unexpected runner %+v", r)
	}
}

func TestSetTemperatureAppliesToStochasticPasses(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: `{"a": 0.5, "b": 0.5}`}
	r, _ := newRunner(gen, "", []string{"a", "b"})
	r.SetTemperature(0.4)
	r.SetTemperature(-1)

	if _, err := r.Infer(context.Background(), "x", rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if got := *gen.lastCfg.Temperature; got != 0.4 {
		t.Fatalf("stochastic pass temperature %v, want 0.4", got)
	}
	if _, err := r.Infer(context.Background(), "x", nil); err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if got := *gen.lastCfg.Temperature; got != 0 {
		t.Fatalf("deterministic pass temperature %v, want 0", got)
	}
}
