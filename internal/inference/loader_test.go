package inference

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/dropwise/internal/toy"
	"github.com/samcharles93/dropwise/internal/uncertainty"
)

func writeToy(t *testing.T, opts toy.Options) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "toy-sst2")
	if err := toy.Write(dir, opts); err != nil {
		t.Fatalf("toy.Write: %v", err)
	}
	return dir
}

func TestLoadAndInfer(t *testing.T) {
	t.Parallel()
	dir := writeToy(t, toy.Options{Seed: 11})

	res, err := Loader{}.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer res.Engine.Close()

	info := res.Engine.Info()
	if info.Arch != "distilbert" || info.Layers != 2 || info.Tokenizer != "vocab.txt" {
		t.Fatalf("unexpected info %+v", info)
	}
	if res.Engine.TaskType() != uncertainty.SequenceClassification {
		t.Fatalf("task = %s", res.Engine.TaskType())
	}
	if res.Engine.Labels()[1] != "POSITIVE" {
		t.Fatalf("labels = %v", res.Engine.Labels())
	}

	a, err := res.Engine.Infer(context.Background(), "The movie was amazing!", nil)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	b, err := res.Engine.Infer(context.Background(), "The movie was amazing!", nil)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(a) != 2 || a[0] != b[0] || a[1] != b[1] {
		t.Fatalf("deterministic pass differs: %v vs %v", a, b)
	}
}

func TestLoadAcceptsWeightsPath(t *testing.T) {
	t.Parallel()
	dir := writeToy(t, toy.Options{TokenizerJSON: true})
	res, err := Loader{MaxLength: 8}.Load(filepath.Join(dir, "model.safetensors"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer res.Engine.Close()
	if res.TokenizerConfig.MaxLength != 8 {
		t.Fatalf("max length = %d", res.TokenizerConfig.MaxLength)
	}
	if res.Engine.Info().Tokenizer != "tokenizer.json" {
		t.Fatalf("tokenizer = %s", res.Engine.Info().Tokenizer)
	}
	// Longer than MaxLength once tokenized; truncation keeps it valid.
	long := strings.Repeat("the movie was very very good and ", 8)
	if _, err := res.Engine.Infer(context.Background(), long, nil); err != nil {
		t.Fatalf("Infer long input: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	if _, err := (Loader{}).Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := (Loader{}).Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing dir")
	}

	dir := writeToy(t, toy.Options{})
	if err := os.Remove(filepath.Join(dir, "vocab.txt")); err != nil {
		t.Fatal(err)
	}
	_, err := Loader{}.Load(dir)
	if err == nil || !strings.Contains(err.Error(), "no tokenizer.json or vocab.txt") {
		t.Fatalf("expected missing tokenizer error, got %v", err)
	}

	dir = writeToy(t, toy.Options{})
	if err := os.Remove(filepath.Join(dir, "model.safetensors")); err != nil {
		t.Fatal(err)
	}
	if _, err := (Loader{}).Load(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestPredictiveEntropyEndToEnd(t *testing.T) {
	t.Parallel()
	dir := writeToy(t, toy.Options{Seed: 5})
	res, err := Loader{}.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer res.Engine.Close()

	metric, err := uncertainty.NewPredictiveEntropy(res.Engine, uncertainty.Options{
		TaskType:  res.Engine.TaskType(),
		NumPasses: 10,
		Seed:      42,
		Workers:   4,
	})
	if err != nil {
		t.Fatalf("NewPredictiveEntropy: %v", err)
	}
	batch := []string{"The movie was amazing!", "Terrible acting."}
	if err := metric.Update(batch); err != nil {
		t.Fatalf("Update: %v", err)
	}
	records, err := metric.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(records) != len(batch) {
		t.Fatalf("got %d records", len(records))
	}
	for i, r := range records {
		if in, _ := r.Get("input"); in != batch[i] {
			t.Fatalf("record %d out of order: %v", i, in)
		}
		if _, ok := r.Get("label"); !ok {
			t.Fatalf("record %d has no label", i)
		}
		h, _ := r.Float("entropy")
		if h < 0 || h > math.Ln2+1e-9 || math.IsNaN(h) {
			t.Fatalf("record %d entropy %v outside [0, ln 2]", i, h)
		}
	}
}

func TestRegressionModel(t *testing.T) {
	t.Parallel()
	dir := writeToy(t, toy.Options{Regression: true})
	res, err := Loader{}.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer res.Engine.Close()
	if res.Engine.TaskType() != uncertainty.Regression || len(res.Engine.Labels()) != 0 {
		t.Fatalf("unexpected task/labels %s %v", res.Engine.TaskType(), res.Engine.Labels())
	}
	out, err := res.Engine.Infer(context.Background(), "good", nil)
	if err != nil || len(out) != 1 {
		t.Fatalf("Infer = %v, %v", out, err)
	}
}
