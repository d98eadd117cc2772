package inference

import (
	"github.com/samcharles93/dropwise/internal/mcdropout"
	"github.com/samcharles93/dropwise/internal/uncertainty"
)

// Engine is a loaded classifier that can run Monte Carlo dropout passes.
type Engine interface {
	mcdropout.Runner
	Labels() map[int]string
	TaskType() uncertainty.TaskType
	Info() Info
	Close() error
}

// Info describes a loaded model for display.
type Info struct {
	Path              string   `json:"path"`
	Arch              string   `json:"arch"`
	Layers            int      `json:"layers"`
	Dim               int      `json:"dim"`
	Heads             int      `json:"heads"`
	HiddenDim         int      `json:"hidden_dim"`
	VocabSize         int      `json:"vocab_size"`
	MaxLength         int      `json:"max_length"`
	Labels            []string `json:"labels"`
	TaskType          string   `json:"task_type"`
	Dropout           float32  `json:"dropout"`
	AttentionDropout  float32  `json:"attention_dropout"`
	SeqClassifDropout float32  `json:"seq_classif_dropout"`
	Tensors           int      `json:"tensors"`
	Tokenizer         string   `json:"tokenizer"`
}
