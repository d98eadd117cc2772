package main

import "github.com/urfave/cli/v3"

var (
	modelPath         string
	modelsPath        string
	maxLength         int
	tokenizerJSONPath string
	tokenizerConfig   string

	passes      int
	seed        int64
	workers     int
	taskType    string
	provider    string
	geminiModel string
	geminiTemp  float64
	labels      []string

	logLevel   string
	logFormat  string
	debug      bool
	configFile string

	// fileConfig is populated by the root Before hook.
	fileConfig Config
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "model directory (config.json, model.safetensors, vocab.txt)",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing model directories",
			Destination: &modelsPath,
		},
		&cli.IntFlag{
			Name:        "max-length",
			Usage:       "max tokens per text including [CLS] and [SEP] (0 = model limit)",
			Destination: &maxLength,
		},
		&cli.StringFlag{
			Name:        "tokenizer-json",
			Usage:       "override path to tokenizer.json",
			Destination: &tokenizerJSONPath,
		},
		&cli.StringFlag{
			Name:        "tokenizer-config",
			Usage:       "override path to tokenizer_config.json",
			Destination: &tokenizerConfig,
		},
	}
}

func samplingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "passes",
			Aliases:     []string{"n", "num-passes"},
			Usage:       "stochastic forward passes per text",
			Value:       10,
			Destination: &passes,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "dropout seed (-1 = fresh seed per run)",
			Value:       -1,
			Destination: &seed,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "concurrent passes (0 = number of CPUs)",
			Destination: &workers,
		},
		&cli.StringFlag{
			Name:        "task-type",
			Usage:       "sequence-classification or regression (default from model)",
			Destination: &taskType,
		},
	}
}

func providerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "runner backend (local, gemini)",
			Value:       "local",
			Destination: &provider,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model used by --provider=gemini",
			Value:       "gemini-2.5-flash",
			Destination: &geminiModel,
		},
		&cli.Float64Flag{
			Name:        "gemini-temperature",
			Usage:       "sampling temperature of stochastic Gemini passes",
			Value:       1.0,
			Destination: &geminiTemp,
		},
		&cli.StringSliceFlag{
			Name:        "labels",
			Usage:       "class labels for --provider=gemini",
			Value:       []string{"NEGATIVE", "POSITIVE"},
			Destination: &labels,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
