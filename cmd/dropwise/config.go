package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the dropwise configuration file
// (~/.config/dropwise/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`
	Model     string `yaml:"model"`

	Passes    *int   `yaml:"passes"`
	Seed      *int64 `yaml:"seed"`
	Workers   *int   `yaml:"workers"`
	MaxLength *int   `yaml:"max_length"`
	TaskType  string `yaml:"task_type"`

	Provider    string   `yaml:"provider"`
	GeminiModel string   `yaml:"gemini_model"`
	GeminiTemp  *float64 `yaml:"gemini_temperature"`
	Labels      []string `yaml:"labels"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dropwise", "config.yaml")
}

// loadConfig reads path, or the default location when path is empty. A
// missing default file yields a zero Config.
func loadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyModelConfig applies config file defaults to the model flags when
// the corresponding flag was not explicitly set.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.Model != "" && !c.IsSet("model") {
		modelPath = cfg.Model
	}
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.MaxLength != nil && !c.IsSet("max-length") {
		maxLength = *cfg.MaxLength
	}
}

// applySamplingConfig applies config file defaults to sampling and
// provider flags.
func applySamplingConfig(c *cli.Command, cfg Config) {
	if cfg.Passes != nil && !c.IsSet("passes") {
		passes = *cfg.Passes
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
	if cfg.TaskType != "" && !c.IsSet("task-type") {
		taskType = cfg.TaskType
	}
	if cfg.Provider != "" && !c.IsSet("provider") {
		provider = cfg.Provider
	}
	if cfg.GeminiModel != "" && !c.IsSet("gemini-model") {
		geminiModel = cfg.GeminiModel
	}
	if cfg.GeminiTemp != nil && !c.IsSet("gemini-temperature") {
		geminiTemp = *cfg.GeminiTemp
	}
	if len(cfg.Labels) > 0 && !c.IsSet("labels") {
		labels = cfg.Labels
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyModelConfig(c, cfg)
	applySamplingConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
