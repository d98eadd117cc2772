package inference

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/samcharles93/dropwise/internal/safetensors"
	"github.com/samcharles93/dropwise/internal/tokenizer"
	"github.com/samcharles93/dropwise/internal/uncertainty"
)

// encodeCacheSize bounds the number of texts whose token ids are kept
// between passes.
const encodeCacheSize = 1024

type classifier interface {
	Forward(ids []int, rng *rand.Rand) ([]float32, error)
}

// EngineImpl runs a DistilBERT classifier over WordPiece tokens.
type EngineImpl struct {
	st        *safetensors.File
	model     classifier
	tokenizer tokenizer.Tokenizer
	// encoded holds token ids per text so the passes over one text share a
	// single Encode. Nil disables caching. Cached slices are read-only.
	encoded *lru.Cache[string, []int]
	labels  map[int]string
	task    uncertainty.TaskType
	info    Info

	closeOnce sync.Once
	closeErr  error
}

// Infer tokenizes text and runs one forward pass. A non-nil rng enables
// dropout for a Monte Carlo pass.
func (e *EngineImpl) Infer(ctx context.Context, text string, rng *rand.Rand) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := e.encode(text)
	if err != nil {
		return nil, err
	}
	return safeForward(e.model, ids, rng)
}

func (e *EngineImpl) encode(text string) ([]int, error) {
	if e.encoded != nil {
		if ids, ok := e.encoded.Get(text); ok {
			return ids, nil
		}
	}
	ids, err := safeEncode(e.tokenizer, text)
	if err != nil {
		return nil, err
	}
	if e.encoded != nil {
		e.encoded.Add(text, ids)
	}
	return ids, nil
}

func (e *EngineImpl) Labels() map[int]string {
	out := make(map[int]string, len(e.labels))
	for k, v := range e.labels {
		out[k] = v
	}
	return out
}

func (e *EngineImpl) TaskType() uncertainty.TaskType { return e.task }

func (e *EngineImpl) Info() Info { return e.info }

// Close releases the weight mapping. The engine must not be used afterwards.
func (e *EngineImpl) Close() error {
	e.closeOnce.Do(func() {
		if e.st != nil {
			e.closeErr = e.st.Close()
		}
	})
	return e.closeErr
}

func safeEncode(tok tokenizer.Tokenizer, text string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(text)
}

func safeForward(m classifier, ids []int, rng *rand.Rand) (logits []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Forward: %v", rec)
		}
	}()
	return m.Forward(ids, rng)
}
