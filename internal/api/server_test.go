package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/dropwise/internal/mcdropout"
	"github.com/samcharles93/dropwise/internal/uncertainty"
)

func testRunner() mcdropout.Runner {
	return mcdropout.RunnerFunc(func(_ context.Context, text string, rng *rand.Rand) ([]float32, error) {
		out := []float32{0, 0}
		if strings.Contains(strings.ToLower(text), "amazing") {
			out[1] = 3
		} else {
			out[0] = 3
		}
		if rng != nil {
			out[0] += float32(rng.NormFloat64())
			out[1] += float32(rng.NormFloat64())
		}
		return out, nil
	})
}

func newTestEcho(provider RunnerProvider) *echo.Echo {
	if provider == nil {
		provider = StaticRunnerProvider{Handle: ModelHandle{
			ID:       "toy-sst2",
			Runner:   testRunner(),
			TaskType: uncertainty.SequenceClassification,
			Labels:   map[int]string{0: "NEGATIVE", 1: "POSITIVE"},
		}}
	}
	server := NewServer(provider, ServerConfig{DefaultSeed: 42, MaxPasses: 50, MaxInputs: 4}, nil)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type decodedResponse struct {
	ID        string           `json:"id"`
	Object    string           `json:"object"`
	Model     string           `json:"model"`
	TaskType  string           `json:"task_type"`
	NumPasses int              `json:"num_passes"`
	Seed      *int64           `json:"seed"`
	Results   []map[string]any `json:"results"`
}

func TestUncertaintyEndpoint(t *testing.T) {
	t.Parallel()

	e := newTestEcho(nil)
	rec := doJSON(t, e, http.MethodPost, "/v1/uncertainty",
		`{"model":"toy-sst2","inputs":["The movie was amazing!","Terrible acting."],"num_passes":10,"seed":7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}

	var resp decodedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "unc_") || resp.Object != "uncertainty" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	if resp.Model != "toy-sst2" || resp.TaskType != "sequence-classification" || resp.NumPasses != 10 {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	if resp.Seed == nil || *resp.Seed != 7 {
		t.Fatalf("seed not echoed: %v", resp.Seed)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0]["label"] != "POSITIVE" || resp.Results[1]["label"] != "NEGATIVE" {
		t.Fatalf("unexpected labels: %v", resp.Results)
	}
	if resp.Results[0]["input"] != "The movie was amazing!" {
		t.Fatalf("results out of order: %v", resp.Results[0])
	}
	if !strings.Contains(rec.Body.String(), `{"input":"The movie was amazing!","predicted_class":1`) {
		t.Fatalf("record fields not in order: %s", rec.Body.String())
	}
}

func TestUncertaintyAcceptsSingleString(t *testing.T) {
	t.Parallel()

	e := newTestEcho(nil)
	rec := doJSON(t, e, http.MethodPost, "/v1/uncertainty", `{"inputs":"amazing"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	var resp decodedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 || resp.NumPasses != uncertainty.DefaultNumPasses {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestUncertaintyValidationErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(nil)
	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{"empty", `{"inputs":[]}`, http.StatusBadRequest, "at least one text"},
		{"missing", `{}`, http.StatusBadRequest, "at least one text"},
		{"passes", `{"inputs":["x"],"num_passes":0}`, http.StatusBadRequest, "num_passes"},
		{"too many passes", `{"inputs":["x"],"num_passes":51}`, http.StatusBadRequest, "num_passes"},
		{"too many inputs", `{"inputs":["a","b","c","d","e"]}`, http.StatusBadRequest, "at most 4"},
		{"task", `{"inputs":["x"],"task_type":"ner"}`, http.StatusBadRequest, "unsupported task"},
		{"bad json", `{"inputs":`, http.StatusBadRequest, ""},
		{"bad inputs", `{"inputs":42}`, http.StatusBadRequest, ""},
		{"unknown field", `{"inputs":["x"],"temperature":1}`, http.StatusBadRequest, ""},
		{"unknown model", `{"model":"other","inputs":["x"]}`, http.StatusNotFound, "not served"},
	}
	for _, tc := range tests {
		rec := doJSON(t, e, http.MethodPost, "/v1/uncertainty", tc.body)
		if rec.Code != tc.status {
			t.Errorf("%s: status %d body=%s", tc.name, rec.Code, rec.Body.String())
			continue
		}
		if !strings.Contains(rec.Body.String(), `"error"`) || !strings.Contains(rec.Body.String(), tc.want) {
			t.Errorf("%s: unexpected body %s", tc.name, rec.Body.String())
		}
	}
}

type failingProvider struct{ err error }

func (p failingProvider) WithRunner(context.Context, string, func(ModelHandle) error) error {
	return p.err
}

func TestUncertaintyRunnerFailure(t *testing.T) {
	t.Parallel()

	e := newTestEcho(failingProvider{err: errors.New("disk on fire")})
	rec := doJSON(t, e, http.MethodPost, "/v1/uncertainty", `{"inputs":["x"]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "disk on fire") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestListModelsAndHealth(t *testing.T) {
	t.Parallel()

	e := newTestEcho(nil)
	rec := doJSON(t, e, http.MethodGet, "/v1/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("models status %d", rec.Code)
	}
	var list ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 1 || list.Data[0].ID != "toy-sst2" {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
}
