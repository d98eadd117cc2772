package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dropwise/internal/logger"
	"github.com/samcharles93/dropwise/internal/toy"
)

func toyCmd() *cli.Command {
	var (
		out           string
		toySeed       int64
		toyLabels     []string
		layers        int
		dim           int
		dropout       float64
		regression    bool
		tokenizerJSON bool
	)

	return &cli.Command{
		Name:  "toy",
		Usage: "Write a small random DistilBERT checkpoint for trying the pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output model directory", Required: true, Destination: &out},
			&cli.Int64Flag{Name: "seed", Usage: "weight initialisation seed", Value: 1, Destination: &toySeed},
			&cli.StringSliceFlag{Name: "labels", Usage: "class labels", Destination: &toyLabels},
			&cli.IntFlag{Name: "layers", Usage: "transformer layers", Value: 2, Destination: &layers},
			&cli.IntFlag{Name: "dim", Usage: "hidden size", Value: 16, Destination: &dim},
			&cli.Float64Flag{Name: "dropout", Usage: "dropout probability", Value: 0.1, Destination: &dropout},
			&cli.BoolFlag{Name: "regression", Usage: "single-output regression head", Destination: &regression},
			&cli.BoolFlag{Name: "tokenizer-json", Usage: "write tokenizer.json instead of vocab.txt", Destination: &tokenizerJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts := toy.Options{
				Seed:          toySeed,
				Labels:        toyLabels,
				Layers:        layers,
				Dim:           dim,
				Dropout:       float32(dropout),
				Regression:    regression,
				TokenizerJSON: tokenizerJSON,
			}
			if err := toy.Write(out, opts); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			logger.FromContext(ctx).Info("wrote toy model", "path", out, "vocab", len(toy.Vocab))
			fmt.Printf("wrote %s (vocabulary: %s ...)\n", out, strings.Join(toy.Vocab[5:15], " "))
			return nil
		},
	}
}
