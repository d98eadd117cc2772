package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dropwise/internal/api"
	"github.com/samcharles93/dropwise/internal/logger"
	"github.com/samcharles93/dropwise/internal/model"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List model directories under the models path",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory containing model directories",
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if fileConfig.ModelsDir != "" && !cmd.IsSet("models-path") {
				modelsPath = fileConfig.ModelsDir
			}

			dir := modelsDirOrEnv(modelsPath)
			if dir == "" {
				return cli.Exit("error: --models-path is required unless "+envModelsDir+" is set", 1)
			}

			models, err := api.DiscoverModels(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(models) == 0 {
				log.Info("no models found", "path", dir)
				return nil
			}

			fmt.Printf("Models in %s:\n\n", dir)
			for _, m := range models {
				name := filepath.Base(m)
				size := ""
				if info, err := os.Stat(filepath.Join(m, "model.safetensors")); err == nil {
					size = formatBytes(uint64(info.Size()))
				}
				cfg, err := model.LoadConfig(filepath.Join(m, "config.json"))
				if err != nil {
					fmt.Printf("  %-40s %10s\n", name, size)
					continue
				}
				kind := fmt.Sprintf("%d labels", cfg.NumLabels)
				if cfg.IsRegression() {
					kind = "regression"
				}
				fmt.Printf("  %-40s %10s  (%s, %s)\n", name, size, cfg.ModelType, kind)
			}
			fmt.Printf("\n%d model(s) found\n", len(models))
			return nil
		},
	}
}
