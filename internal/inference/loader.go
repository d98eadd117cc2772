package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/samcharles93/dropwise/internal/model"
	"github.com/samcharles93/dropwise/internal/safetensors"
	"github.com/samcharles93/dropwise/internal/tokenizer"
	"github.com/samcharles93/dropwise/internal/uncertainty"
)

const weightsFile = "model.safetensors"

// Loader reads a Hugging Face model directory. The path fields override the
// files found in the directory.
type Loader struct {
	// MaxLength caps the tokenized length, including [CLS] and [SEP].
	// Zero uses the smaller of the tokenizer and position limits.
	MaxLength           int
	TokenizerJSONPath   string
	TokenizerConfigPath string
	HFConfigPath        string
}

type LoadResult struct {
	Engine          Engine
	Model           *model.DistilBERT
	Tokenizer       *tokenizer.WordPiece
	TokenizerConfig tokenizer.TokenizerConfig
	Config          model.Config
	Arch            string
}

// Load reads config.json, model.safetensors and the tokenizer from
// modelPath, which may be the directory or the safetensors file inside it.
func (l Loader) Load(modelPath string) (*LoadResult, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, fmt.Errorf("model path is required")
	}
	dir := modelPath
	if fi, err := os.Stat(modelPath); err != nil {
		return nil, err
	} else if !fi.IsDir() {
		dir = filepath.Dir(modelPath)
	}

	cfgPath := filepath.Join(dir, "config.json")
	if l.HFConfigPath != "" {
		cfgPath = l.HFConfigPath
	}
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load hf config: %w", err)
	}

	weightsPath := filepath.Join(dir, weightsFile)
	if _, err := os.Stat(weightsPath); err != nil {
		if _, binErr := os.Stat(filepath.Join(dir, "pytorch_model.bin")); binErr == nil {
			return nil, fmt.Errorf("%s: only safetensors weights are supported; convert pytorch_model.bin first", dir)
		}
		return nil, fmt.Errorf("load weights: %w", err)
	}
	st, err := safetensors.Open(weightsPath)
	if err != nil {
		return nil, err
	}
	cleanup := func(err error) (*LoadResult, error) {
		_ = st.Close()
		return nil, err
	}

	m, err := model.LoadDistilBERT(st, cfg)
	if err != nil {
		return cleanup(err)
	}

	tok, tokName, err := l.loadTokenizer(dir)
	if err != nil {
		return cleanup(err)
	}
	maxLen := min(cfg.MaxPositions, tok.Config().MaxLength)
	if l.MaxLength > 0 {
		maxLen = min(maxLen, l.MaxLength)
	}
	tok.SetMaxLength(maxLen)
	tokCfg := tok.Config()
	if tokCfg.VocabSize > cfg.VocabSize {
		return cleanup(fmt.Errorf("tokenizer vocab %d exceeds model vocab %d", tokCfg.VocabSize, cfg.VocabSize))
	}

	task := uncertainty.SequenceClassification
	if cfg.IsRegression() {
		task = uncertainty.Regression
	}
	labels := make(map[int]string, cfg.NumLabels)
	if !cfg.IsRegression() {
		for i := 0; i < cfg.NumLabels; i++ {
			labels[i] = cfg.Label(i)
		}
	}

	encoded, err := lru.New[string, []int](encodeCacheSize)
	if err != nil {
		return cleanup(err)
	}
	engine := &EngineImpl{
		st:        st,
		model:     m,
		tokenizer: tok,
		encoded:   encoded,
		labels:    labels,
		task:      task,
		info: Info{
			Path:              dir,
			Arch:              cfg.ModelType,
			Layers:            cfg.NLayers,
			Dim:               cfg.Dim,
			Heads:             cfg.NHeads,
			HiddenDim:         cfg.HiddenDim,
			VocabSize:         cfg.VocabSize,
			MaxLength:         tokCfg.MaxLength,
			Labels:            cfg.Labels(),
			TaskType:          string(task),
			Dropout:           cfg.Dropout,
			AttentionDropout:  cfg.AttentionDropout,
			SeqClassifDropout: cfg.SeqClassifDropout,
			Tensors:           len(st.Tensors),
			Tokenizer:         tokName,
		},
	}

	return &LoadResult{
		Engine:          engine,
		Model:           m,
		Tokenizer:       tok,
		TokenizerConfig: tokCfg,
		Config:          cfg,
		Arch:            cfg.ModelType,
	}, nil
}

func (l Loader) loadTokenizer(dir string) (*tokenizer.WordPiece, string, error) {
	tokCfg := l.TokenizerConfigPath
	if tokCfg == "" {
		tokCfg = filepath.Join(dir, "tokenizer_config.json")
	}

	tokJSON := l.TokenizerJSONPath
	if tokJSON == "" {
		tokJSON = filepath.Join(dir, "tokenizer.json")
	}
	if _, err := os.Stat(tokJSON); err == nil {
		tok, err := tokenizer.LoadWordPiece(tokJSON, tokCfg)
		if err != nil {
			return nil, "", fmt.Errorf("load tokenizer.json: %w", err)
		}
		return tok, filepath.Base(tokJSON), nil
	} else if l.TokenizerJSONPath != "" {
		return nil, "", fmt.Errorf("load tokenizer.json: %w", err)
	}

	vocab := filepath.Join(dir, "vocab.txt")
	tok, err := tokenizer.LoadVocabFile(vocab, tokCfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%s: no tokenizer.json or vocab.txt found", dir)
		}
		return nil, "", fmt.Errorf("load vocab.txt: %w", err)
	}
	return tok, "vocab.txt", nil
}
