package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"ready"`},
		{"JSON", `"msg":"ready"`},
		{"text", "msg=ready"},
		{"pretty", "ready"},
		{"", "ready"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		Setup(tc.format, slog.LevelInfo, &buf).Info("ready", "passes", 10)
		out := buf.String()
		if !strings.Contains(out, tc.want) || !strings.Contains(out, "passes") {
			t.Errorf("Setup(%q) output %q, want substring %q", tc.format, out, tc.want)
		}
	}
}

func TestSetupLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Setup("text", slog.LevelWarn, &buf)
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %s", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn output, got %s", buf.String())
	}
}

func TestContextCarriesChildLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))

	FromContext(ctx).With("metric", "predictive_entropy").Info("computed")
	out := buf.String()
	if !strings.Contains(out, `"metric":"predictive_entropy"`) || !strings.Contains(out, "computed") {
		t.Fatalf("expected child attrs via context logger, got: %s", out)
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
}

func TestSourceIsCaller(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Pretty(&buf, slog.LevelInfo).Info("where")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("expected caller location, got: %s", buf.String())
	}

	buf.Reset()
	JSON(&buf, slog.LevelInfo).With("k", 1).Warn("where")
	if !strings.Contains(buf.String(), "logger_test.go") {
		t.Fatalf("expected caller file in json source, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info+2", slog.LevelInfo + 2},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestPrettyQuoting(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Info("scored",
		"input", "The movie was amazing!",
		"label", "POSITIVE",
		"expr", "a=b",
	)

	out := buf.String()
	for _, want := range []string{`input="The movie was amazing!"`, "label=POSITIVE", `expr="a=b"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output, got: %s", want, out)
		}
	}
}

func TestPrettyShortensFloats(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Info("stats", "entropy", 0.6931471805599453)

	if !strings.Contains(buf.String(), "entropy=0.6931") {
		t.Fatalf("expected shortened float, got: %s", buf.String())
	}
}

func TestPrettyAttrsKeepTheirGroup(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	var h slog.Handler = NewPrettyHandler(&buf, nil)
	h = h.WithAttrs([]slog.Attr{slog.String("model", "sst2")})
	h = h.WithGroup("pass").WithGroup("mc")
	slog.New(h).Info("done", "idx", 3)

	out := buf.String()
	if !strings.Contains(out, "model=sst2") || strings.Contains(out, "pass.model") {
		t.Fatalf("attrs added before the group must stay unqualified, got: %s", out)
	}
	if !strings.Contains(out, "pass.mc.idx=3") {
		t.Fatalf("expected pass.mc.idx=3, got: %s", out)
	}
}

func TestPrettyGroupValue(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Info("req", slog.Group("http", "status", 200))

	if !strings.Contains(buf.String(), "http.status=200") {
		t.Fatalf("expected flattened group, got: %s", buf.String())
	}
}
