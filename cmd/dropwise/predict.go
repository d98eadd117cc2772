package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dropwise/internal/gemini"
	"github.com/samcharles93/dropwise/internal/inference"
	"github.com/samcharles93/dropwise/internal/logger"
	"github.com/samcharles93/dropwise/internal/mcdropout"
	"github.com/samcharles93/dropwise/internal/uncertainty"
)

func predictCmd() *cli.Command {
	var (
		asJSON      bool
		interactive bool
	)

	flags := append(commonModelFlags(), samplingFlags()...)
	flags = append(flags, providerFlags()...)
	flags = append(flags,
		&cli.BoolFlag{Name: "json", Usage: "print records as JSON", Destination: &asJSON},
		&cli.BoolFlag{Name: "interactive", Aliases: []string{"i"}, Usage: "score texts typed at a prompt", Destination: &interactive},
	)

	return &cli.Command{
		Name:      "predict",
		Usage:     "Estimate predictive uncertainty for texts",
		ArgsUsage: "[texts...]",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			applySamplingConfig(cmd, fileConfig)

			h, err := openRunner(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = h.close() }()

			task := h.task
			if taskType != "" {
				if task, err = uncertainty.ParseTaskType(taskType); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			metric, err := uncertainty.NewPredictiveEntropy(h.runner, uncertainty.Options{
				TaskType:  task,
				NumPasses: passes,
				Seed:      seed,
				Workers:   workers,
				Labels:    h.labels,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			if interactive {
				return predictInteractive(ctx, metric, os.Stdout, asJSON)
			}

			texts, err := readTexts(cmd.Args().Slice(), os.Stdin)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			records, err := score(ctx, metric, texts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return printRecords(os.Stdout, records, asJSON)
		},
	}
}

// runnerHandle is the runner chosen by --provider plus what the metric
// needs to know about it.
type runnerHandle struct {
	runner mcdropout.Runner
	labels map[int]string
	task   uncertainty.TaskType
	close  func() error
}

func openRunner(ctx context.Context) (*runnerHandle, error) {
	log := logger.FromContext(ctx)

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "local":
		path, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
		if err != nil {
			return nil, err
		}
		res, err := modelLoader().Load(path)
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}
		info := res.Engine.Info()
		log.Info("loaded model", "path", info.Path, "arch", info.Arch, "layers", info.Layers,
			"labels", len(info.Labels), "max_length", info.MaxLength, "tokenizer", info.Tokenizer)
		return &runnerHandle{
			runner: res.Engine,
			labels: res.Engine.Labels(),
			task:   res.Engine.TaskType(),
			close:  res.Engine.Close,
		}, nil

	case "gemini":
		r, err := newGeminiRunner(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("using gemini runner", "model", geminiModel, "labels", labels, "temperature", geminiTemp)
		return &runnerHandle{
			runner: r,
			labels: r.Labels(),
			task:   uncertainty.SequenceClassification,
			close:  func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unknown provider %q (want local or gemini)", provider)
	}
}

func newGeminiRunner(ctx context.Context) (*gemini.Runner, error) {
	if geminiTemp <= 0 || geminiTemp > 2 {
		return nil, fmt.Errorf("gemini-temperature must be in (0, 2], got %v", geminiTemp)
	}
	client, err := gemini.NewClient(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	r, err := gemini.NewRunner(client, geminiModel, labels)
	if err != nil {
		return nil, err
	}
	r.SetTemperature(float32(geminiTemp))
	return r, nil
}

func modelLoader() inference.Loader {
	return inference.Loader{
		MaxLength:           maxLength,
		TokenizerJSONPath:   tokenizerJSONPath,
		TokenizerConfigPath: tokenizerConfig,
	}
}

func score(ctx context.Context, metric *uncertainty.Metric, texts []string) ([]uncertainty.Record, error) {
	if err := metric.Update(texts); err != nil {
		return nil, err
	}
	return metric.Compute(ctx)
}

func predictInteractive(ctx context.Context, metric *uncertainty.Metric, w io.Writer, asJSON bool) error {
	_, _ = fmt.Fprintln(os.Stderr, "Enter a text to score (Ctrl+D to exit).")
	for {
		line, err := readInteractiveLine("> ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return cli.Exit(fmt.Sprintf("error: %v", err), 1)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		records, err := score(ctx, metric, []string{line})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if err := printRecords(w, records, asJSON); err != nil {
			return err
		}
	}
}

// printRecords writes each record as a blank line followed by one
// right-aligned "key: value" line per field, or as a JSON array.
func printRecords(w io.Writer, records []uncertainty.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	for _, r := range records {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		for _, f := range r.Fields() {
			if _, err := fmt.Fprintf(w, "%20s: %v\n", f.Key, f.Value); err != nil {
				return err
			}
		}
	}
	return nil
}
