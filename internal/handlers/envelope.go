package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meeting-minutes/internal/apperr"
	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
)

// httpStatus maps client-visible error codes to HTTP status codes.
var httpStatus = map[string]int{
	apperr.CodeInvalidRequest:  fiber.StatusBadRequest,
	apperr.CodeEmptyFile:       fiber.StatusBadRequest,
	apperr.CodeCorruptFile:     fiber.StatusBadRequest,
	apperr.CodeFileTooLarge:    fiber.StatusRequestEntityTooLarge,
	apperr.CodeInvalidFormat:   fiber.StatusUnsupportedMediaType,
	apperr.CodeJobNotFound:     fiber.StatusNotFound,
	apperr.CodeJobNotCompleted: fiber.StatusConflict,
}

// respond writes the common success envelope.
func respond(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC(),
	})
}

// respondError writes the common error envelope. Internal errors are
// logged but never surfaced raw.
func respondError(c *fiber.Ctx, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		err = apperr.New(apperr.CodeJobNotFound, "job not found")
	}

	code := apperr.CodeOf(err)
	status, ok := httpStatus[code]
	if !ok {
		log.Printf("Internal error on %s %s: %v", c.Method(), c.Path(), err)
		status = fiber.StatusInternalServerError
		code = apperr.CodeInternal
	}

	message := "internal server error"
	var e *apperr.Error
	if errors.As(err, &e) && status != fiber.StatusInternalServerError {
		message = e.Message
	}

	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
		"timestamp": time.Now().UTC(),
	})
}
