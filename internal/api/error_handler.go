package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/flitterhq/auth-service/internal/service"
)

// ErrorHandler maps internal error kinds to the external taxonomy: the
// collapsed unauthorized sentinel becomes a generic 401 with no detail about
// which check failed, echo HTTP errors keep their status, and everything else
// (storage failures included) is a 500 that never echoes internal error text.
func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		if errors.Is(err, service.ErrUnauthorized) {
			writeJSON(log, c, http.StatusUnauthorized, "unauthorized")
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			if he.Code >= http.StatusInternalServerError {
				log.Errorw("HTTP error", "error", err, "uri", c.Request().RequestURI)
			}
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			writeJSON(log, c, he.Code, msg)
			return
		}

		log.Errorw("unhandled error", "error", err, "uri", c.Request().RequestURI)
		writeJSON(log, c, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(log *zap.SugaredLogger, c echo.Context, status int, reason string) {
	if err := c.JSON(status, map[string]string{"reason": reason}); err != nil {
		log.Errorw("failed to write json response", "error", err)
	}
}
