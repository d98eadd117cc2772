// Package gemini implements a Monte Carlo runner backed by a Gemini model.
// Each pass samples the model at a non-zero temperature and asks for a
// probability per label, so repeated passes play the role of dropout masks.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	json "github.com/goccy/go-json"
	"google.golang.org/genai"

	"github.com/samcharles93/dropwise/internal/mcdropout"
)

const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = 1.0

	// minProb keeps log-probabilities finite for labels scored as zero.
	minProb = 1e-6
)

var ErrBadResponse = errors.New("gemini: malformed classification response")

// contentGenerator is the subset of *genai.Models used by the runner.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Runner classifies text by prompting a Gemini model.
type Runner struct {
	gen         contentGenerator
	modelName   string
	labels      []string
	temperature float32
}

// NewClient creates a Gemini API client. An empty apiKey lets the SDK read
// GEMINI_API_KEY or GOOGLE_API_KEY from the environment.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// NewRunner returns a runner that scores texts against labels with
// modelName (e.g. "gemini-2.5-flash").
func NewRunner(client *genai.Client, modelName string, labels []string) (*Runner, error) {
	if client == nil {
		return nil, errors.New("gemini: nil client")
	}
	return newRunner(client.Models, modelName, labels)
}

func newRunner(gen contentGenerator, modelName string, labels []string) (*Runner, error) {
	if len(labels) < 2 {
		return nil, fmt.Errorf("gemini: need at least 2 labels, got %d", len(labels))
	}
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if strings.TrimSpace(l) == "" || seen[l] {
			return nil, fmt.Errorf("gemini: labels must be unique and non-empty: %q", labels)
		}
		seen[l] = true
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Runner{
		gen:         gen,
		modelName:   modelName,
		labels:      append([]string(nil), labels...),
		temperature: DefaultTemperature,
	}, nil
}

// SetTemperature changes the sampling temperature of stochastic passes.
func (r *Runner) SetTemperature(t float32) {
	if t > 0 {
		r.temperature = t
	}
}

// Infer asks the model for label probabilities and returns them as
// log-probabilities, which a softmax maps back to the normalised scores.
// A nil rng requests a greedy (temperature 0) pass; otherwise the rng seeds
// the request.
func (r *Runner) Infer(ctx context.Context, text string, rng *rand.Rand) ([]float32, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: r.instruction()}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    r.schema(),
		Temperature:       genai.Ptr[float32](0),
	}
	if rng != nil {
		cfg.Temperature = genai.Ptr(r.temperature)
		cfg.Seed = genai.Ptr(rng.Int31())
	}

	content := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: text}},
	}
	resp, err := r.gen.GenerateContent(ctx, r.modelName, []*genai.Content{content}, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates returned", ErrBadResponse)
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no parts in response", ErrBadResponse)
	}
	return parseScores(cand.Content.Parts[0].Text, r.labels)
}

// Labels returns the class names in index order.
func (r *Runner) Labels() map[int]string {
	out := make(map[int]string, len(r.labels))
	for i, l := range r.labels {
		out[i] = l
	}
	return out
}

func (r *Runner) instruction() string {
	return "You are a text classifier. Assign a probability to each label " +
		"for the user's text: " + strings.Join(r.labels, ", ") +
		". Probabilities must be between 0 and 1 and sum to 1. " +
		"Reply with a JSON object mapping every label to its probability."
}

func (r *Runner) schema() *genai.Schema {
	props := make(map[string]*genai.Schema, len(r.labels))
	for _, l := range r.labels {
		props[l] = &genai.Schema{Type: genai.TypeNumber}
	}
	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       props,
		Required:         append([]string(nil), r.labels...),
		PropertyOrdering: append([]string(nil), r.labels...),
	}
}

// parseScores decodes {"label": p, ...} into log-probabilities in label
// order. Scores are renormalised; missing labels count as zero.
func parseScores(raw string, labels []string) ([]float32, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var scores map[string]float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &scores); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	probs := make([]float64, len(labels))
	var sum float64
	for i, l := range labels {
		p := scores[l]
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("%w: score %v for %q", ErrBadResponse, p, l)
		}
		probs[i] = p
		sum += p
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: all scores are zero", ErrBadResponse)
	}
	out := make([]float32, len(labels))
	for i, p := range probs {
		out[i] = float32(math.Log(math.Max(p/sum, minProb)))
	}
	return out, nil
}

var _ mcdropout.Runner = (*Runner)(nil)
