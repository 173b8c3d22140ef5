package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/workflow"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// engineError maps workflow errors onto problem responses.
func (s *Server) engineError(c fiber.Ctx, err error) error {
	status, kind, detail := fiber.StatusInternalServerError, "internal_error", "internal error"

	switch {
	case errors.Is(err, workflow.ErrNotFound):
		status, kind, detail = fiber.StatusNotFound, "meeting_not_found", "meeting instance not found"
	case errors.Is(err, workflow.ErrTerminal):
		status, kind, detail = fiber.StatusConflict, "meeting_finished", err.Error()
	case errors.Is(err, failure.ErrInvalidInput):
		status, kind, detail = fiber.StatusBadRequest, "validation_error", failure.ReasonOf(err)
	default:
		s.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}
