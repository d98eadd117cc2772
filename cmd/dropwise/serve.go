package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dropwise/internal/api"
	"github.com/samcharles93/dropwise/internal/logger"
	"github.com/samcharles93/dropwise/internal/uncertainty"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxPasses   int
		maxInputs   int
	)

	flags := append(commonModelFlags(), samplingFlags()[:3]...)
	flags = append(flags, providerFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.IntFlag{
			Name:        "max-passes",
			Usage:       "largest num_passes a request may ask for",
			Value:       1000,
			Destination: &maxPasses,
		},
		&cli.IntFlag{
			Name:        "max-inputs",
			Usage:       "largest number of inputs per request",
			Value:       256,
			Destination: &maxInputs,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the uncertainty REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, fileConfig, &addr)
			log := logger.FromContext(ctx)

			runners, closeRunners, err := newRunnerProvider(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() {
				if err := closeRunners(); err != nil {
					log.Warn("closing models", "error", err)
				}
			}()

			server := api.NewServer(runners, api.ServerConfig{
				DefaultPasses: passes,
				DefaultSeed:   seed,
				MaxPasses:     maxPasses,
				MaxInputs:     maxInputs,
				Workers:       workers,
			}, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "provider", provider)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

func newRunnerProvider(ctx context.Context) (api.RunnerProvider, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "local":
		p := api.NewCachedRunnerProvider(api.RunnerProviderConfig{
			DefaultModelPath: modelPath,
			ModelsPath:       modelsPath,
			Loader:           modelLoader(),
		})
		return p, p.Close, nil

	case "gemini":
		r, err := newGeminiRunner(ctx)
		if err != nil {
			return nil, nil, err
		}
		p := api.StaticRunnerProvider{Handle: api.ModelHandle{
			ID:       geminiModel,
			Runner:   r,
			TaskType: uncertainty.SequenceClassification,
			Labels:   r.Labels(),
		}}
		return p, func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q (want local or gemini)", provider)
	}
}
