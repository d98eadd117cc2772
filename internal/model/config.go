package model

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	ProblemSingleLabel = "single_label_classification"
	ProblemRegression  = "regression"
)

var ErrUnsupportedModel = errors.New("unsupported model")

// Config holds the DistilBERT hyperparameters needed to run a forward pass.
type Config struct {
	ModelType         string
	Dim               int
	NLayers           int
	NHeads            int
	HiddenDim         int
	VocabSize         int
	MaxPositions      int
	Dropout           float32
	AttentionDropout  float32
	SeqClassifDropout float32
	Activation        string
	LayerNormEps      float32
	NumLabels         int
	ID2Label          map[int]string
	ProblemType       string
	PadTokenID        int
}

type hfConfig struct {
	Architectures         []string          `json:"architectures,omitempty"`
	ModelType             string            `json:"model_type"`
	Dim                   int               `json:"dim"`
	NLayers               int               `json:"n_layers"`
	NHeads                int               `json:"n_heads"`
	HiddenDim             int               `json:"hidden_dim"`
	VocabSize             int               `json:"vocab_size"`
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
	Dropout               *float32          `json:"dropout,omitempty"`
	AttentionDropout      *float32          `json:"attention_dropout,omitempty"`
	SeqClassifDropout     *float32          `json:"seq_classif_dropout,omitempty"`
	Activation            string            `json:"activation,omitempty"`
	NumLabels             int               `json:"num_labels,omitempty"`
	ID2Label              map[string]string `json:"id2label,omitempty"`
	Label2ID              map[string]int    `json:"label2id,omitempty"`
	ProblemType           string            `json:"problem_type,omitempty"`
	PadTokenID            int               `json:"pad_token_id"`
	// Sinusoidal tables are materialised in the checkpoint, so the flag
	// only round-trips.
	SinusoidalPosEmbds bool `json:"sinusoidal_pos_embds"`
}

// LoadConfig reads a Hugging Face config.json.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(raw)
}

// ParseConfig decodes and validates a DistilBERT config.json payload.
// Missing dropout rates fall back to the transformers defaults.
func ParseConfig(raw []byte) (Config, error) {
	var hf hfConfig
	if err := json.Unmarshal(raw, &hf); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if hf.ModelType != "" && hf.ModelType != "distilbert" {
		return Config{}, fmt.Errorf("%w: model_type %q", ErrUnsupportedModel, hf.ModelType)
	}
	cfg := Config{
		ModelType:         "distilbert",
		Dim:               hf.Dim,
		NLayers:           hf.NLayers,
		NHeads:            hf.NHeads,
		HiddenDim:         hf.HiddenDim,
		VocabSize:         hf.VocabSize,
		MaxPositions:      hf.MaxPositionEmbeddings,
		Dropout:           orDefault(hf.Dropout, 0.1),
		AttentionDropout:  orDefault(hf.AttentionDropout, 0.1),
		SeqClassifDropout: orDefault(hf.SeqClassifDropout, 0.2),
		Activation:        strings.ToLower(hf.Activation),
		LayerNormEps:      1e-12,
		NumLabels:         hf.NumLabels,
		ProblemType:       hf.ProblemType,
		PadTokenID:        hf.PadTokenID,
	}
	if cfg.Activation == "" {
		cfg.Activation = "gelu"
	}
	if len(hf.ID2Label) > 0 {
		cfg.ID2Label = make(map[int]string, len(hf.ID2Label))
		for k, v := range hf.ID2Label {
			id, err := strconv.Atoi(k)
			if err != nil {
				return Config{}, fmt.Errorf("parse config: id2label key %q: %w", k, err)
			}
			cfg.ID2Label[id] = v
		}
		if cfg.NumLabels == 0 {
			cfg.NumLabels = len(cfg.ID2Label)
		}
	}
	if cfg.NumLabels == 0 {
		cfg.NumLabels = 2
	}
	if cfg.ProblemType == "" {
		if cfg.NumLabels == 1 {
			cfg.ProblemType = ProblemRegression
		} else {
			cfg.ProblemType = ProblemSingleLabel
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func orDefault(v *float32, def float32) float32 {
	if v == nil {
		return def
	}
	return *v
}

// Validate checks that the dimensions describe a runnable model.
func (c Config) Validate() error {
	switch {
	case c.Dim <= 0:
		return fmt.Errorf("invalid config: dim must be > 0")
	case c.NLayers <= 0:
		return fmt.Errorf("invalid config: n_layers must be > 0")
	case c.NHeads <= 0 || c.Dim%c.NHeads != 0:
		return fmt.Errorf("invalid config: dim %d not divisible by n_heads %d", c.Dim, c.NHeads)
	case c.HiddenDim <= 0:
		return fmt.Errorf("invalid config: hidden_dim must be > 0")
	case c.VocabSize <= 0:
		return fmt.Errorf("invalid config: vocab_size must be > 0")
	case c.MaxPositions <= 0:
		return fmt.Errorf("invalid config: max_position_embeddings must be > 0")
	case c.NumLabels <= 0:
		return fmt.Errorf("invalid config: num_labels must be > 0")
	}
	for name, p := range map[string]float32{
		"dropout":             c.Dropout,
		"attention_dropout":   c.AttentionDropout,
		"seq_classif_dropout": c.SeqClassifDropout,
	} {
		if p < 0 || p >= 1 {
			return fmt.Errorf("invalid config: %s %.3f out of range [0,1)", name, p)
		}
	}
	switch c.Activation {
	case "gelu", "relu":
	default:
		return fmt.Errorf("%w: activation %q", ErrUnsupportedModel, c.Activation)
	}
	// Multi-label heads need a per-class sigmoid, not the softmax the
	// sampler applies.
	switch c.ProblemType {
	case ProblemSingleLabel, ProblemRegression:
	default:
		return fmt.Errorf("%w: problem_type %q", ErrUnsupportedModel, c.ProblemType)
	}
	return nil
}

// Label returns the display name for class id, falling back to LABEL_<id>.
func (c Config) Label(id int) string {
	if name, ok := c.ID2Label[id]; ok && name != "" {
		return name
	}
	return "LABEL_" + strconv.Itoa(id)
}

// Labels returns the label names in class-index order.
func (c Config) Labels() []string {
	out := make([]string, c.NumLabels)
	for i := range out {
		out[i] = c.Label(i)
	}
	return out
}

// IsRegression reports whether the head emits a scalar regression output.
func (c Config) IsRegression() bool {
	return c.ProblemType == ProblemRegression
}

// MarshalHF renders the config in the Hugging Face config.json layout.
func (c Config) MarshalHF() ([]byte, error) {
	hf := hfConfig{
		Architectures:         []string{"DistilBertForSequenceClassification"},
		ModelType:             "distilbert",
		Dim:                   c.Dim,
		NLayers:               c.NLayers,
		NHeads:                c.NHeads,
		HiddenDim:             c.HiddenDim,
		VocabSize:             c.VocabSize,
		MaxPositionEmbeddings: c.MaxPositions,
		Dropout:               &c.Dropout,
		AttentionDropout:      &c.AttentionDropout,
		SeqClassifDropout:     &c.SeqClassifDropout,
		Activation:            c.Activation,
		NumLabels:             c.NumLabels,
		ProblemType:           c.ProblemType,
		PadTokenID:            c.PadTokenID,
	}
	hf.ID2Label = make(map[string]string, c.NumLabels)
	hf.Label2ID = make(map[string]int, c.NumLabels)
	for id := 0; id < c.NumLabels; id++ {
		name := c.Label(id)
		hf.ID2Label[strconv.Itoa(id)] = name
		hf.Label2ID[name] = id
	}
	return json.MarshalIndent(hf, "", "  ")
}
