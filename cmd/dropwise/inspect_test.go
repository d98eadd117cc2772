package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/dropwise/internal/inference"
)

func writeToyModel(t *testing.T, dir string, extra ...string) {
	t.Helper()
	args := append([]string{"dropwise", "--log-level", "error", "toy", "--out", dir}, extra...)
	if _, err := captureStdout(t, func() error {
		return testApp().Run(context.Background(), args)
	}); err != nil {
		t.Fatalf("toy %v: %v", extra, err)
	}
}

func TestToyThenInspect(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := filepath.Join(t.TempDir(), "toy-sst2")
	writeToyModel(t, dir)

	out, err := captureStdout(t, func() error {
		return testApp().Run(context.Background(), []string{
			"dropwise", "--log-level", "error", "inspect",
			"--model", dir, "--tensors", "--tensor-filter", "classifier", "--tensors-limit", "0",
		})
	})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{
		"Model: " + dir,
		"--- Parameters ---",
		"distilbert",
		"--- Labels ---",
		"POSITIVE",
		"--- Tokenizer ---",
		"[CLS] (id=",
		"--- Tensors ---",
		"dtype F32",
		"--- Tensor Index ---",
		"pre_classifier.weight",
		"classifier.bias",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "word_embeddings") {
		t.Fatalf("tensor filter not applied:\n%s", out)
	}

	out, err = captureStdout(t, func() error {
		return testApp().Run(context.Background(), []string{"dropwise", "--log-level", "error", "inspect", "--model", dir, "--json"})
	})
	if err != nil {
		t.Fatalf("inspect --json: %v", err)
	}
	var info inference.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("inspect --json output: %v\n%s", err, out)
	}
	if info.Arch != "distilbert" || len(info.Labels) != 2 || info.Layers != 2 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestListModels(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := t.TempDir()
	writeToyModel(t, filepath.Join(root, "sentiment"))
	writeToyModel(t, filepath.Join(root, "scorer"), "--regression")
	if err := os.MkdirAll(filepath.Join(root, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}

	out, err := captureStdout(t, func() error {
		return testApp().Run(context.Background(), []string{"dropwise", "--log-level", "error", "list-models", "--models-path", root})
	})
	if err != nil {
		t.Fatalf("list-models: %v", err)
	}
	if !strings.Contains(out, "2 model(s) found") {
		t.Fatalf("expected two models:\n%s", out)
	}
	if strings.Contains(out, "notes") {
		t.Fatalf("non-model directory listed:\n%s", out)
	}
	for _, want := range []string{"sentiment", "(distilbert, 2 labels)", "scorer", "(distilbert, regression)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list-models output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "scorer") > strings.Index(out, "sentiment") {
		t.Fatalf("models not listed in directory order:\n%s", out)
	}
}

func TestListModelsRequiresPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(envModelsDir, "")
	modelsPath = ""
	err := testApp().Run(context.Background(), []string{"dropwise", "--log-level", "error", "list-models"})
	if err == nil || !strings.Contains(err.Error(), "--models-path is required") {
		t.Fatalf("expected models-path error, got %v", err)
	}
}
