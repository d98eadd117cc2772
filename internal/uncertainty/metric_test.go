package uncertainty

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/dropwise/internal/mcdropout"
)

// sentimentRunner scores texts by keyword and perturbs the logits when a
// dropout rng is supplied.
type sentimentRunner struct{}

func (sentimentRunner) Infer(_ context.Context, text string, rng *rand.Rand) ([]float32, error) {
	logits := []float32{0, 0}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "amazing"):
		logits[1] = 4
	case strings.Contains(lower, "terrible"):
		logits[0] = 4
	}
	if rng != nil {
		for i := range logits {
			logits[i] += float32(rng.NormFloat64())
		}
	}
	return logits, nil
}

func (sentimentRunner) Labels() map[int]string {
	return map[int]string{0: "NEGATIVE", 1: "POSITIVE"}
}

func newMetric(t *testing.T, opts Options) *Metric {
	t.Helper()
	m, err := NewPredictiveEntropy(sentimentRunner{}, opts)
	if err != nil {
		t.Fatalf("NewPredictiveEntropy: %v", err)
	}
	return m
}

func TestTwoSentenceScenario(t *testing.T) {
	t.Parallel()
	m := newMetric(t, Options{TaskType: SequenceClassification, NumPasses: 10, Seed: 42})
	batch := []string{"The movie was amazing!", "Terrible acting."}
	if err := m.Update(batch); err != nil {
		t.Fatalf("Update: %v", err)
	}
	records, err := m.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	wantLabels := []string{"POSITIVE", "NEGATIVE"}
	for i, r := range records {
		if in, _ := r.Get("input"); in != batch[i] {
			t.Fatalf("record %d input %v, want %q", i, in, batch[i])
		}
		if label, _ := r.Get("label"); label != wantLabels[i] {
			t.Fatalf("record %d label %v, want %s", i, label, wantLabels[i])
		}
		for _, key := range []string{"entropy", "expected_entropy", "mutual_information", "variation_ratio", "std_dev", "confidence", "margin"} {
			v, ok := r.Float(key)
			if !ok {
				t.Fatalf("record %d missing %s", i, key)
			}
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("record %d %s = %v", i, key, v)
			}
		}
		if passes, _ := r.Get("passes"); passes != 10 {
			t.Fatalf("record %d passes %v", i, passes)
		}
	}
}

func TestFieldOrder(t *testing.T) {
	t.Parallel()
	m := newMetric(t, Options{NumPasses: 3, Seed: 1})
	if err := m.Update([]string{"amazing"}); err != nil {
		t.Fatal(err)
	}
	records, err := m.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	var keys []string
	for _, f := range records[0].Fields() {
		keys = append(keys, f.Key)
	}
	want := "input,predicted_class,label,confidence,entropy,expected_entropy,mutual_information,variation_ratio,margin,std_dev,passes"
	if got := strings.Join(keys, ","); got != want {
		t.Fatalf("field order\n got %s\nwant %s", got, want)
	}

	raw, err := json.Marshal(records[0])
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.HasPrefix(string(raw), `{"input":"amazing","predicted_class":1,"label":"POSITIVE",`) {
		t.Fatalf("unexpected json %s", raw)
	}
}

func TestComputeBeforeUpdate(t *testing.T) {
	t.Parallel()
	m := newMetric(t, Options{})
	if _, err := m.Compute(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := m.Update([]string{"x"}); err != nil {
		t.Fatal(err)
	}
	m.Reset()
	if _, err := m.Compute(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after Reset, got %v", err)
	}
}

func TestUpdateRejectsEmptyBatch(t *testing.T) {
	t.Parallel()
	m := newMetric(t, Options{})
	err := m.Update(nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	var iie InvalidInputError
	if !errors.As(err, &iie) || iie.Reason == "" {
		t.Fatalf("expected InvalidInputError with reason, got %#v", err)
	}
}

func TestFixedSeedIsRepeatable(t *testing.T) {
	t.Parallel()
	m := newMetric(t, Options{NumPasses: 20, Seed: 7})
	if err := m.Update([]string{"neutral text", "amazing"}); err != nil {
		t.Fatal(err)
	}
	a, err := m.Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Fatalf("fixed seed not repeatable:\n%s\n%s", ja, jb)
	}
}

func TestUpdateCopiesBatch(t *testing.T) {
	t.Parallel()
	m := newMetric(t, Options{NumPasses: 2, Seed: 1})
	batch := []string{"amazing"}
	if err := m.Update(batch); err != nil {
		t.Fatal(err)
	}
	batch[0] = "terrible"
	records, err := m.Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if in, _ := records[0].Get("input"); in != "amazing" {
		t.Fatalf("batch was not copied: %v", in)
	}
}

func TestRegressionTask(t *testing.T) {
	t.Parallel()
	runner := mcdropout.RunnerFunc(func(_ context.Context, _ string, rng *rand.Rand) ([]float32, error) {
		return []float32{3 + float32(rng.NormFloat64())*0.1}, nil
	})
	m, err := NewPredictiveEntropy(runner, Options{TaskType: Regression, NumPasses: 50, Seed: 3})
	if err != nil {
		t.Fatalf("NewPredictiveEntropy: %v", err)
	}
	if err := m.Update([]string{"x"}); err != nil {
		t.Fatal(err)
	}
	records, err := m.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	mean, _ := records[0].Float("mean")
	sd, _ := records[0].Float("std_dev")
	if math.Abs(mean-3) > 0.1 || sd <= 0 || sd > 0.5 {
		t.Fatalf("unexpected regression stats mean=%v sd=%v", mean, sd)
	}
	if _, ok := records[0].Get("entropy"); ok {
		t.Fatal("regression record should not carry entropy")
	}
}

func TestOptionsValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewPredictiveEntropy(sentimentRunner{}, Options{TaskType: "token-classification"}); !errors.Is(err, ErrUnsupportedTask) {
		t.Fatalf("expected ErrUnsupportedTask, got %v", err)
	}
	if _, err := NewPredictiveEntropy(sentimentRunner{}, Options{NumPasses: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	m := newMetric(t, Options{TaskType: "sequence_classification"})
	if m.Options().TaskType != SequenceClassification || m.Options().NumPasses != DefaultNumPasses {
		t.Fatalf("defaults not applied: %+v", m.Options())
	}
	if m.Name() != "predictive_entropy" {
		t.Fatalf("name = %q", m.Name())
	}
}

func TestConcurrentUpdateCompute(t *testing.T) {
	t.Parallel()
	m := newMetric(t, Options{NumPasses: 2, Seed: 1, Workers: 2})
	if err := m.Update([]string{"a"}); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Update([]string{"amazing", "terrible"})
			if _, err := m.Compute(context.Background()); err != nil {
				t.Errorf("Compute: %v", err)
			}
		}()
	}
	wg.Wait()
}
