package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/logging"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}

	var (
		validationErr *coachErrors.ValidationError
		providerErr   *coachErrors.ProviderError
		networkErr    *coachErrors.NetworkError
		timeoutErr    *coachErrors.TimeoutError
	)
	switch {
	case coachErrors.As(err, &validationErr):
		return http.StatusBadRequest
	case coachErrors.Is(err, coachErrors.ErrConversationNotFound):
		return http.StatusNotFound
	case coachErrors.Is(err, coachErrors.ErrConversationBusy):
		return http.StatusConflict
	case coachErrors.As(err, &providerErr),
		coachErrors.As(err, &networkErr),
		coachErrors.As(err, &timeoutErr),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every error as JSON {error, code}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	body := ErrorResponse{}

	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		body.Error = http.StatusText(httpErr.Code)
		if msg, ok := httpErr.Message.(string); ok && msg != "" {
			body.Error = msg
		}
		if httpErr.Code == http.StatusTooManyRequests {
			body.Code = "RATE_LIMITED"
		}
	case errors.Is(err, context.DeadlineExceeded):
		body.Error = coachErrors.PublicMessageTransport
		body.Code = "TIMEOUT"
	default:
		public := coachErrors.Public(err)
		body.Error = public.Error()
		body.Code = public.Code()
	}

	log := logging.For(c.Request().Context(), s.logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, body)
	}
	if writeErr != nil {
		log.Warn("write error response", zap.Error(writeErr))
	}
}
