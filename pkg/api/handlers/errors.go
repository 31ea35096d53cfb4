package handlers

import (
	"errors"

	"github.com/ethpandaops/resthub/pkg/converter"
	"github.com/ethpandaops/resthub/pkg/query"
	"github.com/gofiber/fiber/v3"
)

// ErrTableNotFound is returned when a table is not found
var ErrTableNotFound = fiber.NewError(fiber.StatusNotFound, "table not found")

// ErrInvalidPage is returned when the page window is not numeric
var ErrInvalidPage = fiber.NewError(fiber.StatusBadRequest, "invalid page window, expected /page/{size}/{number}")

// ErrInvalidRow is returned when a LOB row is not a positive number
var ErrInvalidRow = fiber.NewError(fiber.StatusBadRequest, "invalid row, expected a 1-based row number")

// ErrNotAcceptable is returned when no converter matches the Accept header
var ErrNotAcceptable = fiber.NewError(fiber.StatusNotAcceptable, "no supported media type is acceptable")

// httpError maps registry failures onto response statuses. Unknown ids map
// to 404, which clients rely on to re-submit a stale query.
func httpError(err error) error {
	switch {
	case errors.Is(err, query.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, query.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, converter.ErrUnsupportedMediaType):
		return fiber.NewError(fiber.StatusNotAcceptable, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
