package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/dropwise/internal/tensor"
)

var (
	ErrEmptyInput    = errors.New("empty token sequence")
	ErrInputTooLong  = errors.New("token sequence exceeds max positions")
	ErrTokenOutRange = errors.New("token id out of range")
)

// Block is one transformer layer: self-attention followed by the FFN, each
// with a residual connection and post-LayerNorm.
type Block struct {
	Q, K, V, Out       *tensor.Mat
	QB, KB, VB, OutB   []float32
	SANormW, SANormB   []float32
	Lin1, Lin2         *tensor.Mat
	Lin1B, Lin2B       []float32
	OutNormW, OutNormB []float32
}

// DistilBERT is a sequence-classification DistilBERT. Weights are read-only
// after construction so Forward may be called from many goroutines at once.
type DistilBERT struct {
	Config Config

	WordEmb  *tensor.Mat // [vocab x dim]
	PosEmb   *tensor.Mat // [max_positions x dim]
	EmbNormW []float32
	EmbNormB []float32

	Layers []Block

	PreClassifier  *tensor.Mat // [dim x dim]
	PreClassifierB []float32
	Classifier     *tensor.Mat // [num_labels x dim]
	ClassifierB    []float32
}

// Forward runs the encoder over ids and returns the classification logits.
//
// With a nil rng every dropout layer is an identity and the output is
// deterministic. With a non-nil rng dropout is active at the rates from the
// config, which is one Monte Carlo dropout pass.
func (m *DistilBERT) Forward(ids []int, rng *rand.Rand) ([]float32, error) {
	cfg := m.Config
	n := len(ids)
	if n == 0 {
		return nil, ErrEmptyInput
	}
	if n > cfg.MaxPositions {
		return nil, fmt.Errorf("%w: %d > %d", ErrInputTooLong, n, cfg.MaxPositions)
	}
	for _, id := range ids {
		if id < 0 || id >= cfg.VocabSize {
			return nil, fmt.Errorf("%w: %d", ErrTokenOutRange, id)
		}
	}

	d := cfg.Dim
	h := tensor.NewMat(n, d)
	for t, id := range ids {
		row := h.Row(t)
		copy(row, m.WordEmb.Row(id))
		tensor.Add(row, m.PosEmb.Row(t))
		tensor.LayerNorm(row, row, m.EmbNormW, m.EmbNormB, cfg.LayerNormEps)
		tensor.Dropout(row, cfg.Dropout, rng)
	}

	s := newScratch(n, cfg)
	for i := range m.Layers {
		m.block(&m.Layers[i], &h, s, rng)
	}

	// Classification head on the [CLS] position.
	pooled := make([]float32, d)
	tensor.Linear(pooled, m.PreClassifier, m.PreClassifierB, h.Row(0))
	tensor.Apply(pooled, tensor.ReLU)
	tensor.Dropout(pooled, cfg.SeqClassifDropout, rng)

	logits := make([]float32, m.Classifier.R)
	tensor.Linear(logits, m.Classifier, m.ClassifierB, pooled)
	return logits, nil
}

type scratch struct {
	q, k, v, ctx tensor.Mat
	scores       []float32
	tmp          []float32
	ffn          []float32
}

func newScratch(n int, cfg Config) *scratch {
	return &scratch{
		q:      tensor.NewMat(n, cfg.Dim),
		k:      tensor.NewMat(n, cfg.Dim),
		v:      tensor.NewMat(n, cfg.Dim),
		ctx:    tensor.NewMat(n, cfg.Dim),
		scores: make([]float32, n),
		tmp:    make([]float32, cfg.Dim),
		ffn:    make([]float32, cfg.HiddenDim),
	}
}

func (m *DistilBERT) block(b *Block, h *tensor.Mat, s *scratch, rng *rand.Rand) {
	cfg := m.Config
	n := h.R
	nh := cfg.NHeads
	hd := cfg.Dim / nh
	scale := float32(1 / math.Sqrt(float64(hd)))

	for t := 0; t < n; t++ {
		x := h.Row(t)
		tensor.Linear(s.q.Row(t), b.Q, b.QB, x)
		tensor.Linear(s.k.Row(t), b.K, b.KB, x)
		tensor.Linear(s.v.Row(t), b.V, b.VB, x)
	}

	for t := 0; t < n; t++ {
		ctx := s.ctx.Row(t)
		for i := range ctx {
			ctx[i] = 0
		}
		for head := 0; head < nh; head++ {
			lo, hi := head*hd, (head+1)*hd
			q := s.q.Row(t)[lo:hi]
			for j := 0; j < n; j++ {
				s.scores[j] = tensor.Dot(q, s.k.Row(j)[lo:hi]) * scale
			}
			tensor.Softmax(s.scores[:n])
			tensor.Dropout(s.scores[:n], cfg.AttentionDropout, rng)
			out := ctx[lo:hi]
			for j := 0; j < n; j++ {
				w := s.scores[j]
				if w == 0 {
					continue
				}
				v := s.v.Row(j)[lo:hi]
				for i := range out {
					out[i] += w * v[i]
				}
			}
		}
	}

	act := tensor.GELU
	if cfg.Activation == "relu" {
		act = tensor.ReLU
	}
	for t := 0; t < n; t++ {
		x := h.Row(t)

		tensor.Linear(s.tmp, b.Out, b.OutB, s.ctx.Row(t))
		tensor.Add(x, s.tmp)
		tensor.LayerNorm(x, x, b.SANormW, b.SANormB, cfg.LayerNormEps)

		tensor.Linear(s.ffn, b.Lin1, b.Lin1B, x)
		tensor.Apply(s.ffn, act)
		tensor.Linear(s.tmp, b.Lin2, b.Lin2B, s.ffn)
		tensor.Dropout(s.tmp, cfg.Dropout, rng)
		tensor.Add(x, s.tmp)
		tensor.LayerNorm(x, x, b.OutNormW, b.OutNormB, cfg.LayerNormEps)
	}
}
