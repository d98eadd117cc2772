package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/dropwise/internal/logger"
	"github.com/samcharles93/dropwise/internal/uncertainty"
)

type ServerConfig struct {
	// DefaultPasses applies when a request omits num_passes.
	DefaultPasses int
	// DefaultSeed applies when a request omits seed. Negative means a fresh
	// seed per request.
	DefaultSeed int64
	MaxPasses   int
	MaxInputs   int
	Workers     int
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.DefaultPasses <= 0 {
		c.DefaultPasses = uncertainty.DefaultNumPasses
	}
	if c.MaxPasses <= 0 {
		c.MaxPasses = 1000
	}
	if c.MaxInputs <= 0 {
		c.MaxInputs = 256
	}
	return c
}

type Server struct {
	provider RunnerProvider
	cfg      ServerConfig
	log      logger.Logger
	clock    func() time.Time
}

func NewServer(provider RunnerProvider, cfg ServerConfig, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		provider: provider,
		cfg:      cfg.withDefaults(),
		log:      log,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/uncertainty", s.handleUncertainty)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c *echo.Context) error {
	var modelIDs []string
	if lister, ok := s.provider.(interface {
		ListModels() ([]string, error)
	}); ok {
		ids, err := lister.ListModels()
		if err != nil {
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
		}
		modelIDs = ids
	}

	now := s.clock().Unix()
	data := make([]ModelObject, 0, len(modelIDs))
	for _, id := range modelIDs {
		data = append(data, ModelObject{ID: id, Object: "model", Created: now, OwnedBy: "local"})
	}
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: data})
}

func (s *Server) handleUncertainty(c *echo.Context) error {
	if s.provider == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "runner provider not configured", "", "")
	}
	req, err := decodeJSON[UncertaintyRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	if err := s.validate(&req); err != nil {
		return writeBadRequest(c, err.Error(), paramOf(err))
	}

	ctx := logger.WithContext(c.Request().Context(), s.log)
	resp, err := s.compute(ctx, &req)
	if err != nil {
		return s.writeComputeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

type paramError struct {
	param string
	error
}

func (e paramError) Unwrap() error { return e.error }

func paramOf(err error) string {
	var pe paramError
	if errors.As(err, &pe) {
		return pe.param
	}
	return ""
}

func (s *Server) validate(req *UncertaintyRequest) error {
	if len(req.Inputs) == 0 {
		return paramError{"inputs", newInvalidRequest("inputs must contain at least one text")}
	}
	if len(req.Inputs) > s.cfg.MaxInputs {
		return paramError{"inputs", newInvalidRequest(fmt.Sprintf("at most %d inputs per request", s.cfg.MaxInputs))}
	}
	if req.NumPasses != nil && (*req.NumPasses < 1 || *req.NumPasses > s.cfg.MaxPasses) {
		return paramError{"num_passes", newInvalidRequest(fmt.Sprintf("num_passes must be between 1 and %d", s.cfg.MaxPasses))}
	}
	if req.TaskType != "" {
		if _, err := uncertainty.ParseTaskType(req.TaskType); err != nil {
			return paramError{"task_type", err}
		}
	}
	return nil
}

func (s *Server) compute(ctx context.Context, req *UncertaintyRequest) (*UncertaintyResponse, error) {
	passes := s.cfg.DefaultPasses
	if req.NumPasses != nil {
		passes = *req.NumPasses
	}
	seed := s.cfg.DefaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}

	var resp *UncertaintyResponse
	err := s.provider.WithRunner(ctx, req.Model, func(h ModelHandle) error {
		task := h.TaskType
		if req.TaskType != "" {
			task, _ = uncertainty.ParseTaskType(req.TaskType)
		}
		metric, err := uncertainty.NewPredictiveEntropy(h.Runner, uncertainty.Options{
			TaskType:  task,
			NumPasses: passes,
			Seed:      seed,
			Workers:   s.cfg.Workers,
			Labels:    h.Labels,
		})
		if err != nil {
			return err
		}
		if err := metric.Update(req.Inputs); err != nil {
			return err
		}
		records, err := metric.Compute(ctx)
		if err != nil {
			return err
		}
		resp = &UncertaintyResponse{
			ID:        newUncertaintyID(),
			Object:    "uncertainty",
			CreatedAt: s.clock().Unix(),
			Model:     h.ID,
			TaskType:  string(task),
			Metric:    metric.Name(),
			NumPasses: passes,
			Results:   records,
		}
		if seed >= 0 {
			resp.Seed = &seed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Server) writeComputeError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, uncertainty.ErrInvalidInput),
		errors.Is(err, uncertainty.ErrUnsupportedTask):
		return writeBadRequest(c, err.Error(), "")
	case errors.Is(err, ErrModelNotFound):
		return writeNotFound(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusGatewayTimeout, "timeout_error", err.Error(), "", "")
	case errors.Is(err, context.Canceled):
		return writeError(c, http.StatusServiceUnavailable, "cancelled", err.Error(), "", "")
	default:
		s.log.Error("uncertainty request failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
}
