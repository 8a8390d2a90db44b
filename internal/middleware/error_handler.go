package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"schoolfees_app/internal/apperrors"
)

// errorBody is the stable JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Fields  []apperrors.FieldError `json:"fields,omitempty"`
}

// CustomErrorHandler maps the error taxonomy onto HTTP status codes.
// Validation and not-found errors carry enough detail for the caller
// to correct the request; internal errors hide their cause.
func CustomErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := errorBody{Error: errorDetail{
		Code:    string(apperrors.KindInternal),
		Message: "something went wrong",
	}}

	var appErr *apperrors.Error
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &appErr):
		body.Error.Code = string(appErr.Kind)
		body.Error.Message = appErr.Message
		body.Error.Fields = appErr.Fields
		switch appErr.Kind {
		case apperrors.KindValidation:
			code = http.StatusBadRequest
		case apperrors.KindNotFound:
			code = http.StatusNotFound
		case apperrors.KindConflict:
			code = http.StatusConflict
		case apperrors.KindExternal:
			code = http.StatusBadGateway
		default:
			code = http.StatusInternalServerError
		}

	case errors.As(err, &httpErr):
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok && msg != "" {
			body.Error.Message = msg
		} else {
			body.Error.Message = http.StatusText(code)
		}
		switch code {
		case http.StatusBadRequest:
			body.Error.Code = string(apperrors.KindValidation)
		case http.StatusNotFound:
			body.Error.Code = string(apperrors.KindNotFound)
		default:
			body.Error.Code = string(apperrors.KindInternal)
		}
	}

	if code >= http.StatusInternalServerError {
		log.Error().Str("path", c.Request().URL.Path).Err(err).Msg("request failed")
	} else {
		log.Info().Str("path", c.Request().URL.Path).Int("status", code).Err(err).Msg("request rejected")
	}

	if jsonErr := c.JSON(code, body); jsonErr != nil {
		log.Error().Err(jsonErr).Msg("failed to write error response")
	}
}
