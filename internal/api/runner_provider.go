package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/dropwise/internal/inference"
	"github.com/samcharles93/dropwise/internal/logger"
	"github.com/samcharles93/dropwise/internal/mcdropout"
	"github.com/samcharles93/dropwise/internal/uncertainty"
)

// ModelHandle is what a provider hands to request handlers.
type ModelHandle struct {
	ID       string
	Runner   mcdropout.Runner
	TaskType uncertainty.TaskType
	Labels   map[int]string
}

type RunnerProvider interface {
	WithRunner(ctx context.Context, modelID string, fn func(h ModelHandle) error) error
}

type RunnerProviderConfig struct {
	DefaultModelPath string
	ModelsPath       string
	Loader           inference.Loader
}

// CachedRunnerProvider loads model directories on first use and keeps them
// open. Engines are safe for concurrent use, so requests share them.
type CachedRunnerProvider struct {
	cfg   RunnerProviderConfig
	mu    sync.Mutex
	cache map[string]inference.Engine
	group singleflight.Group
}

const envModelsDir = "DROPWISE_MODELS_DIR"

func NewCachedRunnerProvider(cfg RunnerProviderConfig) *CachedRunnerProvider {
	return &CachedRunnerProvider{
		cfg:   cfg,
		cache: make(map[string]inference.Engine),
	}
}

func (p *CachedRunnerProvider) WithRunner(ctx context.Context, modelID string, fn func(h ModelHandle) error) error {
	path, err := p.resolveModelPath(modelID)
	if err != nil {
		return err
	}
	engine, err := p.getOrLoad(ctx, path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ModelHandle{
		ID:       modelName(path),
		Runner:   engine,
		TaskType: engine.TaskType(),
		Labels:   engine.Labels(),
	})
}

func (p *CachedRunnerProvider) getOrLoad(ctx context.Context, path string) (inference.Engine, error) {
	p.mu.Lock()
	engine, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return engine, nil
	}

	v, err, _ := p.group.Do(path, func() (any, error) {
		p.mu.Lock()
		if existing, ok := p.cache[path]; ok {
			p.mu.Unlock()
			return existing, nil
		}
		p.mu.Unlock()

		logger.FromContext(ctx).Info("loading model", "path", path)
		result, err := p.cfg.Loader.Load(path)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[path] = result.Engine
		p.mu.Unlock()
		return result.Engine, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(inference.Engine), nil
}

// Close releases every cached engine.
func (p *CachedRunnerProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for path, engine := range p.cache {
		if err := engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
		delete(p.cache, path)
	}
	return errors.Join(errs...)
}

// ListModels returns the ids of the models the provider can serve.
func (p *CachedRunnerProvider) ListModels() ([]string, error) {
	seen := make(map[string]struct{})
	models := make([]string, 0, 8)

	if p.cfg.DefaultModelPath != "" {
		id := modelName(p.cfg.DefaultModelPath)
		seen[id] = struct{}{}
		models = append(models, id)
	}

	if dir := p.modelsDir(); dir != "" {
		paths, err := DiscoverModels(dir)
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			id := modelName(path)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			models = append(models, id)
		}
	}
	sort.Strings(models)
	return models, nil
}

func (p *CachedRunnerProvider) resolveModelPath(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if looksLikePath(modelID) {
			return filepath.Clean(modelID), nil
		}
		if p.cfg.DefaultModelPath != "" && modelName(p.cfg.DefaultModelPath) == modelID {
			return filepath.Clean(p.cfg.DefaultModelPath), nil
		}
		modelsDir := p.modelsDir()
		if modelsDir == "" {
			return "", fmt.Errorf("%w: models-path is required to resolve model %q", ErrModelNotFound, modelID)
		}
		if resolved := resolveInDir(modelsDir, modelID); resolved != "" {
			return resolved, nil
		}
		return "", fmt.Errorf("%w: model %q not found in %s", ErrModelNotFound, modelID, modelsDir)
	}

	if p.cfg.DefaultModelPath != "" {
		return filepath.Clean(p.cfg.DefaultModelPath), nil
	}
	modelsDir := p.modelsDir()
	if modelsDir == "" {
		return "", newInvalidRequest("model is required")
	}
	models, err := DiscoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return models[0], nil
	case 0:
		return "", fmt.Errorf("%w: no models found in %s", ErrModelNotFound, modelsDir)
	default:
		return "", newInvalidRequest(fmt.Sprintf("multiple models found in %s; specify model", modelsDir))
	}
}

func (p *CachedRunnerProvider) modelsDir() string {
	if strings.TrimSpace(p.cfg.ModelsPath) != "" {
		return strings.TrimSpace(p.cfg.ModelsPath)
	}
	return strings.TrimSpace(os.Getenv(envModelsDir))
}

func modelName(path string) string {
	path = filepath.Clean(path)
	if strings.EqualFold(filepath.Ext(path), ".safetensors") {
		path = filepath.Dir(path)
	}
	return filepath.Base(path)
}

func looksLikePath(v string) bool {
	return strings.ContainsRune(v, filepath.Separator) || strings.HasPrefix(v, ".")
}

func resolveInDir(dir, name string) string {
	if dir == "" {
		return ""
	}
	cand := filepath.Join(dir, name)
	if IsModelDir(cand) {
		return cand
	}
	return ""
}

// IsModelDir reports whether dir holds a config.json and safetensors weights.
func IsModelDir(dir string) bool {
	return fileExists(filepath.Join(dir, "config.json")) &&
		fileExists(filepath.Join(dir, "model.safetensors"))
}

// DiscoverModels returns the model directories directly under dir.
func DiscoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if IsModelDir(path) {
			models = append(models, path)
		}
	}
	return models, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// StaticRunnerProvider serves a single runner under a fixed id, for
// backends that are not loaded from disk.
type StaticRunnerProvider struct {
	Handle ModelHandle
}

func (p StaticRunnerProvider) WithRunner(ctx context.Context, modelID string, fn func(h ModelHandle) error) error {
	if modelID = strings.TrimSpace(modelID); modelID != "" && modelID != p.Handle.ID {
		return fmt.Errorf("%w: model %q not served (have %q)", ErrModelNotFound, modelID, p.Handle.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(p.Handle)
}

func (p StaticRunnerProvider) ListModels() ([]string, error) {
	return []string{p.Handle.ID}, nil
}
