package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban/domain"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const (
	msgUnknownAction   = "Unknown action"
	msgSignInRequired  = "You must be signed in"
	msgEmailRequired   = "Email is required"
	msgMagicLinkFailed = "Failed to send magic link. Please try again."
	msgUnexpected      = "Something went wrong. Please try again."
)

func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindValidation, domain.KindDuplicateName:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindStorage:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// writeError renders an access-layer failure as {error} with the status its
// kind maps to. Storage causes are logged, never returned to the client.
func writeError(c echo.Context, logger *log.Logger, err error) error {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = &domain.Error{Kind: domain.KindStorage, Message: msgUnexpected, Err: err}
	}
	status := statusForKind(de.Kind)
	if m := metricsFrom(c); m != nil {
		m.SetErrorStage(de.Kind.String())
		if de.Kind == domain.KindStorage {
			m.SetCause(err)
		}
	}
	if de.Kind == domain.KindStorage {
		logger.WithFields(log.Fields{
			"path":  c.Request().URL.Path,
			"error": err.Error(),
		}).Error(de.Message)
	}
	return c.JSON(status, errorResponse{Error: de.Message})
}

func writeFailure(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}
