package main

import (
	"bytes"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/samcharles93/dropwise/internal/toy"
)

func writeModels(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := toy.Write(filepath.Join(dir, name), toy.Options{Seed: 1}); err != nil {
			t.Fatalf("toy.Write %s: %v", name, err)
		}
	}
	return dir
}

func withTTY(t *testing.T, tty bool) {
	t.Helper()
	prev := stdinIsTTY
	stdinIsTTY = func() bool { return tty }
	t.Cleanup(func() { stdinIsTTY = prev })
}

func TestResolveModelPath(t *testing.T) {
	t.Run("model flag bypasses env", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		got, err := resolveModelPath("/tmp/models/sst2/", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if got != filepath.Clean("/tmp/models/sst2") {
			t.Fatalf("unexpected model path: got %q", got)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		if _, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatal("expected error without --model or models path")
		}
	})

	t.Run("single model selects automatically", func(t *testing.T) {
		dir := writeModels(t, "only")
		t.Setenv(envModelsDir, dir)
		withTTY(t, false)

		got, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if want := filepath.Join(dir, "only"); got != want {
			t.Fatalf("unexpected model path: got %q want %q", got, want)
		}
	})

	t.Run("multiple models requires tty", func(t *testing.T) {
		dir := writeModels(t, "a", "b")
		withTTY(t, false)

		if _, err := resolveModelPath("", dir, bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatal("expected error when multiple models and stdin is not a tty")
		}
	})

	t.Run("interactive selection chooses sorted index", func(t *testing.T) {
		dir := writeModels(t, "b", "a")
		withTTY(t, true)

		got, err := resolveModelPath("", dir, bytes.NewBufferString("x\n2\n"), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if want := filepath.Join(dir, "b"); got != want {
			t.Fatalf("unexpected model selection: got %q want %q", got, want)
		}
	})

	t.Run("selection on closed stdin fails", func(t *testing.T) {
		dir := writeModels(t, "a", "b")
		withTTY(t, true)

		if _, err := resolveModelPath("", dir, bytes.NewBufferString("9"), io.Discard); err == nil {
			t.Fatal("expected error for out of range selection at EOF")
		}
	})
}

func TestReadTexts(t *testing.T) {
	t.Run("args win", func(t *testing.T) {
		got, err := readTexts([]string{"a", "b"}, strings.NewReader("c\n"))
		if err != nil || !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Fatalf("readTexts = %v, %v", got, err)
		}
	})

	t.Run("stdin lines", func(t *testing.T) {
		withTTY(t, false)
		got, err := readTexts(nil, strings.NewReader("The movie was amazing!\r\n\n  \nTerrible acting.\n"))
		if err != nil {
			t.Fatalf("readTexts: %v", err)
		}
		want := []string{"The movie was amazing!", "Terrible acting."}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("readTexts = %q, want %q", got, want)
		}
	})

	t.Run("empty stdin", func(t *testing.T) {
		withTTY(t, false)
		if _, err := readTexts(nil, strings.NewReader("\n\n")); err == nil {
			t.Fatal("expected error for empty stdin")
		}
	})

	t.Run("terminal without args", func(t *testing.T) {
		withTTY(t, true)
		if _, err := readTexts(nil, strings.NewReader("")); err == nil {
			t.Fatal("expected error when stdin is a terminal")
		}
	})
}
