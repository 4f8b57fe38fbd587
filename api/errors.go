package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/query"
	"taskboard-api/storage"
)

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAnchor),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, query.ErrInvalidQuery),
		errors.Is(err, errInvalidBody):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, storage.ErrBatchTooLarge):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError sends err as a {"message"} body. Unexpected errors are logged
// and hidden from the client.
func writeError(c echo.Context, logger *log.Logger, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"route":  c.Path(),
		}).Error("request failed")
		msg = "internal error"
	}
	return c.JSON(status, messageResponse{Message: msg})
}
