package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"lobbydocs/internal/http/middleware"
	"lobbydocs/internal/service"
)

const (
	msgNotFound = "Not found."
	msgInternal = "internal server error"
)

// errorPayload is the body of every error response.
type errorPayload struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func writeError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(errorPayload{Error: message})
}

// writeServiceError maps service errors to status codes. Internal causes are logged,
// never echoed to the client.
func writeServiceError(c *fiber.Ctx, log logrus.FieldLogger, err error) error {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		return c.Status(fiber.StatusBadRequest).JSON(errorPayload{Error: vErr.Message, Field: vErr.Field})
	case errors.Is(err, service.ErrFileRequired):
		return writeError(c, fiber.StatusBadRequest, service.ErrFileRequired.Error())
	case errors.Is(err, service.ErrInvalidInput):
		return writeError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, msgNotFound)
	}

	log.WithFields(logrus.Fields{
		"request_id": requestIDFromCtx(c),
		"method":     c.Method(),
		"path":       c.Path(),
	}).WithError(err).Error("request failed")
	return writeError(c, fiber.StatusInternalServerError, msgInternal)
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if !errors.As(err, &fe) {
			return writeServiceError(c, log, err)
		}

		switch fe.Code {
		case fiber.StatusNotFound:
			return writeError(c, fe.Code, msgNotFound)
		case fiber.StatusMethodNotAllowed:
			return writeError(c, fe.Code, "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, fe.Code, "request body too large")
		}
		if fe.Code >= fiber.StatusInternalServerError {
			log.WithError(err).Error("request failed")
			return writeError(c, fe.Code, msgInternal)
		}
		return writeError(c, fe.Code, fe.Message)
	}
}
