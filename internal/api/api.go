// Package api exposes the meeting workflow over HTTP.
package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/workflow"
)

// Engine is the subset of the workflow engine the API drives.
type Engine interface {
	Start(ctx context.Context, input string) (string, error)
	Status(ctx context.Context, id string) (*workflow.Instance, error)
	Cancel(ctx context.Context, id string) error
}

type StartRequest struct {
	BlobName string `json:"blobName" query:"blobName" validate:"omitempty,max=1024,excludes=.."`
}

type StartResponse struct {
	ID        string `json:"id"`
	StatusURL string `json:"statusUrl"`
}

type Server struct {
	engine   Engine
	validate *validator.Validate
	log      *logger.Logger
}

func New(engine Engine, log *logger.Logger) *Server {
	return &Server{
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.Component("api"),
	}
}

func (s *Server) App() *fiber.App {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(s.requestLog)

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.SendString("ok")
	})

	m := app.Group("/api/meetings")
	m.Post("/start", s.StartMeeting)
	m.Get("/start", s.StartMeeting)
	m.Get("/:id", s.GetMeeting)
	m.Post("/:id/cancel", s.CancelMeeting)

	return app
}

// Listen serves on port until ctx is done, then shuts the server down.
func (s *Server) Listen(ctx context.Context, port int) error {
	app := s.App()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()
	s.log.WithField("port", port).Info("listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) StartMeeting(c fiber.Ctx) error {
	var req StartRequest
	if c.Method() == fiber.MethodPost && len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}
	if req.BlobName == "" {
		req.BlobName = c.Query("blobName")
	}

	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	id, err := s.engine.Start(c.Context(), req.BlobName)
	if err != nil {
		return s.engineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartResponse{
		ID:        id,
		StatusURL: c.BaseURL() + "/api/meetings/" + id,
	})
}

func (s *Server) GetMeeting(c fiber.Ctx) error {
	inst, err := s.engine.Status(c.Context(), c.Params("id"))
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(inst)
}

func (s *Server) CancelMeeting(c fiber.Ctx) error {
	id := c.Params("id")
	if err := s.engine.Cancel(c.Context(), id); err != nil {
		return s.engineError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":     id,
		"status": "cancellation requested",
	})
}

func (s *Server) requestLog(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	s.log.WithRequestID(c.Get(fiber.HeaderXRequestID)).
		WithField("method", c.Method()).
		WithField("path", c.Path()).
		WithField("status", c.Response().StatusCode()).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("request handled")
	return err
}
