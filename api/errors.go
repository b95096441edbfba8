package api

import (
	"errors"

	"github.com/dshills/invoicegraph/graph"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine errors onto problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	var (
		notFoundErr *graph.NotFoundError
		stateErr    *graph.InvalidStateError
		handlerErr  *graph.HandlerError
		engineErr   *graph.EngineError
	)

	switch {
	case errors.As(err, &notFoundErr):
		return notFound(c, "instance "+notFoundErr.InstanceID+" not found")

	case errors.As(err, &stateErr):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("invalid_state").
			WithDetail(stateErr.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.As(err, &handlerErr):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("handler_failed").
			WithDetail(handlerErr.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.As(err, &engineErr) && engineErr.Code == graph.CodeInvalidDecision:
		return badRequest(c, engineErr.Error())

	default:
		return internalError(c, err)
	}
}
