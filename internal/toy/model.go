// Package toy writes small random DistilBERT checkpoints in the Hugging Face
// directory layout. They exercise the full load and inference path without
// real weights.
package toy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/dropwise/internal/model"
	"github.com/samcharles93/dropwise/internal/safetensors"
)

// Vocab is the vocabulary of generated checkpoints, in id order.
var Vocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
	"the", "a", "movie", "film", "was", "is", "acting", "plot", "story",
	"amazing", "great", "good", "terrible", "bad", "boring", "not", "very",
	"and", "but", "i", "it", "loved", "hated", "act", "##ing", "##s", "##ed",
	".", ",", "!", "?",
}

// Options controls the shape of a generated checkpoint. Zero values pick
// small defaults.
type Options struct {
	Seed         int64
	Labels       []string
	Layers       int
	Dim          int
	Heads        int
	Hidden       int
	MaxPositions int
	Dropout      float32
	Regression   bool
	// TokenizerJSON writes tokenizer.json instead of vocab.txt.
	TokenizerJSON bool
}

func (o Options) withDefaults() Options {
	if len(o.Labels) == 0 && !o.Regression {
		o.Labels = []string{"NEGATIVE", "POSITIVE"}
	}
	if o.Layers <= 0 {
		o.Layers = 2
	}
	if o.Dim <= 0 {
		o.Dim = 16
	}
	if o.Heads <= 0 {
		o.Heads = 2
	}
	if o.Hidden <= 0 {
		o.Hidden = 4 * o.Dim
	}
	if o.MaxPositions <= 0 {
		o.MaxPositions = 64
	}
	if o.Dropout <= 0 {
		o.Dropout = 0.1
	}
	return o
}

// Config returns the model config a checkpoint with opts would carry.
func Config(opts Options) model.Config {
	opts = opts.withDefaults()
	cfg := model.Config{
		ModelType:         "distilbert",
		Dim:               opts.Dim,
		NLayers:           opts.Layers,
		NHeads:            opts.Heads,
		HiddenDim:         opts.Hidden,
		VocabSize:         len(Vocab),
		MaxPositions:      opts.MaxPositions,
		Dropout:           opts.Dropout,
		AttentionDropout:  opts.Dropout,
		SeqClassifDropout: 2 * opts.Dropout,
		Activation:        "gelu",
		LayerNormEps:      1e-12,
		ProblemType:       model.ProblemSingleLabel,
	}
	if opts.Regression {
		cfg.NumLabels = 1
		cfg.ProblemType = model.ProblemRegression
		return cfg
	}
	cfg.NumLabels = len(opts.Labels)
	cfg.ID2Label = make(map[int]string, len(opts.Labels))
	for i, l := range opts.Labels {
		cfg.ID2Label[i] = l
	}
	return cfg
}

// Write creates dir (if needed) and fills it with config.json,
// model.safetensors, a tokenizer and tokenizer_config.json.
func Write(dir string, opts Options) error {
	opts = opts.withDefaults()
	cfg := Config(opts)
	if cfg.SeqClassifDropout >= 1 {
		return fmt.Errorf("toy: dropout %.2f too large", opts.Dropout)
	}
	m, err := model.NewRandom(cfg, opts.Seed)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	cfgJSON, err := cfg.MarshalHF()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), cfgJSON, 0o644); err != nil {
		return err
	}
	meta := map[string]string{"format": "pt", "generator": "dropwise-toy"}
	if err := safetensors.WriteF32(filepath.Join(dir, "model.safetensors"), m.Tensors(), meta); err != nil {
		return err
	}

	tokCfg, err := json.MarshalIndent(map[string]any{
		"do_lower_case":    true,
		"model_max_length": opts.MaxPositions,
		"cls_token":        "[CLS]",
		"sep_token":        "[SEP]",
		"pad_token":        "[PAD]",
		"unk_token":        "[UNK]",
		"tokenizer_class":  "DistilBertTokenizer",
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "tokenizer_config.json"), tokCfg, 0o644); err != nil {
		return err
	}

	if opts.TokenizerJSON {
		return writeTokenizerJSON(filepath.Join(dir, "tokenizer.json"))
	}
	return os.WriteFile(filepath.Join(dir, "vocab.txt"), []byte(strings.Join(Vocab, "\n")+"\n"), 0o644)
}

func writeTokenizerJSON(path string) error {
	vocab := make(map[string]int, len(Vocab))
	var added []map[string]any
	for id, tok := range Vocab {
		vocab[tok] = id
		if strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]") {
			added = append(added, map[string]any{"id": id, "content": tok, "special": true})
		}
	}
	doc := map[string]any{
		"version":      "1.0",
		"added_tokens": added,
		"normalizer": map[string]any{
			"type":          "BertNormalizer",
			"lowercase":     true,
			"strip_accents": nil,
		},
		"model": map[string]any{
			"type":                      "WordPiece",
			"unk_token":                 "[UNK]",
			"continuing_subword_prefix": "##",
			"max_input_chars_per_word":  100,
			"vocab":                     vocab,
		},
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
