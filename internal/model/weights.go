package model

import (
	"fmt"

	"github.com/samcharles93/dropwise/internal/safetensors"
	"github.com/samcharles93/dropwise/internal/tensor"
)

const basePrefix = "distilbert."

// weightNames builds tensor names in the transformers
// DistilBertForSequenceClassification layout.
type weightNames struct {
	prefix string
}

func (w weightNames) emb(part string) string {
	return w.prefix + "embeddings." + part
}

func (w weightNames) layer(i int, part string) string {
	return fmt.Sprintf("%stransformer.layer.%d.%s", w.prefix, i, part)
}

// LoadDistilBERT binds the tensors in st to a model described by cfg.
// Checkpoints saved from the bare encoder (without the "distilbert." prefix)
// are accepted as long as the classifier head is present.
func LoadDistilBERT(st *safetensors.File, cfg Config) (*DistilBERT, error) {
	if st == nil {
		return nil, fmt.Errorf("load distilbert: nil safetensors file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	names := weightNames{prefix: basePrefix}
	if _, ok := st.Tensor(names.emb("word_embeddings.weight")); !ok {
		names.prefix = ""
	}

	var firstErr error
	mat := func(name string, rows, cols int) *tensor.Mat {
		if firstErr != nil {
			return nil
		}
		m, err := tensor.LoadSafetensorsMat(st, name)
		if err != nil {
			firstErr = err
			return nil
		}
		if m.R != rows || m.C != cols {
			firstErr = fmt.Errorf("%s: shape [%d %d], want [%d %d]", name, m.R, m.C, rows, cols)
			return nil
		}
		return m
	}
	vec := func(name string, n int) []float32 {
		if firstErr != nil {
			return nil
		}
		v, err := tensor.LoadSafetensorsVec(st, name)
		if err != nil {
			firstErr = err
			return nil
		}
		if len(v) != n {
			firstErr = fmt.Errorf("%s: length %d, want %d", name, len(v), n)
			return nil
		}
		return v
	}

	d, hid := cfg.Dim, cfg.HiddenDim
	m := &DistilBERT{Config: cfg}
	m.WordEmb = mat(names.emb("word_embeddings.weight"), cfg.VocabSize, d)
	m.PosEmb = mat(names.emb("position_embeddings.weight"), cfg.MaxPositions, d)
	m.EmbNormW = vec(names.emb("LayerNorm.weight"), d)
	m.EmbNormB = vec(names.emb("LayerNorm.bias"), d)

	m.Layers = make([]Block, cfg.NLayers)
	for i := range m.Layers {
		b := &m.Layers[i]
		b.Q = mat(names.layer(i, "attention.q_lin.weight"), d, d)
		b.QB = vec(names.layer(i, "attention.q_lin.bias"), d)
		b.K = mat(names.layer(i, "attention.k_lin.weight"), d, d)
		b.KB = vec(names.layer(i, "attention.k_lin.bias"), d)
		b.V = mat(names.layer(i, "attention.v_lin.weight"), d, d)
		b.VB = vec(names.layer(i, "attention.v_lin.bias"), d)
		b.Out = mat(names.layer(i, "attention.out_lin.weight"), d, d)
		b.OutB = vec(names.layer(i, "attention.out_lin.bias"), d)
		b.SANormW = vec(names.layer(i, "sa_layer_norm.weight"), d)
		b.SANormB = vec(names.layer(i, "sa_layer_norm.bias"), d)
		b.Lin1 = mat(names.layer(i, "ffn.lin1.weight"), hid, d)
		b.Lin1B = vec(names.layer(i, "ffn.lin1.bias"), hid)
		b.Lin2 = mat(names.layer(i, "ffn.lin2.weight"), d, hid)
		b.Lin2B = vec(names.layer(i, "ffn.lin2.bias"), d)
		b.OutNormW = vec(names.layer(i, "output_layer_norm.weight"), d)
		b.OutNormB = vec(names.layer(i, "output_layer_norm.bias"), d)
	}

	m.PreClassifier = mat("pre_classifier.weight", d, d)
	m.PreClassifierB = vec("pre_classifier.bias", d)
	m.Classifier = mat("classifier.weight", cfg.NumLabels, d)
	m.ClassifierB = vec("classifier.bias", cfg.NumLabels)

	if firstErr != nil {
		return nil, fmt.Errorf("load distilbert: %w", firstErr)
	}
	return m, nil
}

// NewRandom builds a model with small reproducible random weights and unit
// LayerNorm scales. It is used for fixtures and smoke tests.
func NewRandom(cfg Config, seed int64) (*DistilBERT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	next := seed
	mat := func(r, c int) *tensor.Mat {
		m := tensor.NewMat(r, c)
		next++
		tensor.FillRand(&m, next)
		return &m
	}
	ones := func(n int) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = 1
		}
		return v
	}

	d, hid := cfg.Dim, cfg.HiddenDim
	m := &DistilBERT{
		Config:   cfg,
		WordEmb:  mat(cfg.VocabSize, d),
		PosEmb:   mat(cfg.MaxPositions, d),
		EmbNormW: ones(d),
		EmbNormB: make([]float32, d),
		Layers:   make([]Block, cfg.NLayers),
	}
	for i := range m.Layers {
		m.Layers[i] = Block{
			Q: mat(d, d), QB: make([]float32, d),
			K: mat(d, d), KB: make([]float32, d),
			V: mat(d, d), VB: make([]float32, d),
			Out: mat(d, d), OutB: make([]float32, d),
			SANormW: ones(d), SANormB: make([]float32, d),
			Lin1: mat(hid, d), Lin1B: make([]float32, hid),
			Lin2: mat(d, hid), Lin2B: make([]float32, d),
			OutNormW: ones(d), OutNormB: make([]float32, d),
		}
	}
	m.PreClassifier = mat(d, d)
	m.PreClassifierB = make([]float32, d)
	m.Classifier = mat(cfg.NumLabels, d)
	m.ClassifierB = make([]float32, cfg.NumLabels)
	return m, nil
}

// Tensors returns the weights keyed by their checkpoint names, ready for
// safetensors.WriteF32.
func (m *DistilBERT) Tensors() map[string]safetensors.F32Tensor {
	names := weightNames{prefix: basePrefix}
	out := make(map[string]safetensors.F32Tensor, 8+16*len(m.Layers))
	putMat := func(name string, w *tensor.Mat) {
		out[name] = safetensors.F32Tensor{Shape: []int{w.R, w.C}, Data: w.Data}
	}
	putVec := func(name string, v []float32) {
		out[name] = safetensors.F32Tensor{Shape: []int{len(v)}, Data: v}
	}

	putMat(names.emb("word_embeddings.weight"), m.WordEmb)
	putMat(names.emb("position_embeddings.weight"), m.PosEmb)
	putVec(names.emb("LayerNorm.weight"), m.EmbNormW)
	putVec(names.emb("LayerNorm.bias"), m.EmbNormB)
	for i := range m.Layers {
		b := &m.Layers[i]
		putMat(names.layer(i, "attention.q_lin.weight"), b.Q)
		putVec(names.layer(i, "attention.q_lin.bias"), b.QB)
		putMat(names.layer(i, "attention.k_lin.weight"), b.K)
		putVec(names.layer(i, "attention.k_lin.bias"), b.KB)
		putMat(names.layer(i, "attention.v_lin.weight"), b.V)
		putVec(names.layer(i, "attention.v_lin.bias"), b.VB)
		putMat(names.layer(i, "attention.out_lin.weight"), b.Out)
		putVec(names.layer(i, "attention.out_lin.bias"), b.OutB)
		putVec(names.layer(i, "sa_layer_norm.weight"), b.SANormW)
		putVec(names.layer(i, "sa_layer_norm.bias"), b.SANormB)
		putMat(names.layer(i, "ffn.lin1.weight"), b.Lin1)
		putVec(names.layer(i, "ffn.lin1.bias"), b.Lin1B)
		putMat(names.layer(i, "ffn.lin2.weight"), b.Lin2)
		putVec(names.layer(i, "ffn.lin2.bias"), b.Lin2B)
		putVec(names.layer(i, "output_layer_norm.weight"), b.OutNormW)
		putVec(names.layer(i, "output_layer_norm.bias"), b.OutNormB)
	}
	putMat("pre_classifier.weight", m.PreClassifier)
	putVec("pre_classifier.bias", m.PreClassifierB)
	putMat("classifier.weight", m.Classifier)
	putVec("classifier.bias", m.ClassifierB)
	return out
}
