package util

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hbomb79/Medialink/pkg/logger"
	"github.com/labstack/echo/v4"
)

var log = logger.Get("API")

type (
	APIError struct {
		// Human readable error display message
		Message string

		// A machine readable and stable identifier for the error case being represented
		Code string

		// Used to alter the HTTP response status in accordance with the error
		Status int

		// Additional message for internal logging only. Will not be included in the message
		// sent to the user.
		InternalMessage string
	}

	successEnvelope struct {
		Success bool `json:"success"`
		Data    any  `json:"data"`
	}

	errorEnvelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
)

// Error satisifies the Go error interface and simply exposes the
// message contained by this APIError.
func (err APIError) Error() string {
	return fmt.Sprintf("api error: %s", err.Message)
}

// Success writes the data provided to the response, wrapped in
// the standard success envelope.
func Success(ec echo.Context, status int, data any) error {
	return ec.JSON(status, successEnvelope{Success: true, Data: data})
}

// GetHTTPErrorHandler returns an echo HTTP error handler which renders every
// error using the standard failure envelope. APIErrors are rendered as-is,
// echo HTTPErrors (e.g. unknown routes) are converted, and any other error is
// logged and hidden behind a generic 500 response.
func GetHTTPErrorHandler() echo.HTTPErrorHandler {
	return func(err error, ec echo.Context) {
		if ec.Response().Committed {
			return
		}

		apiErr := toAPIError(err)
		if apiErr.Status == 0 {
			apiErr.Status = http.StatusInternalServerError
		}
		if len(apiErr.Message) == 0 {
			apiErr.Message = http.StatusText(apiErr.Status)
		}
		if len(apiErr.Code) == 0 {
			apiErr.Code = codeForStatus(apiErr.Status)
		}
		if len(apiErr.InternalMessage) > 0 {
			log.Errorf("%s request to %s failed, internal error: %s\n", ec.Request().Method, ec.Request().RequestURI, apiErr.InternalMessage)
		}

		body := errorEnvelope{Success: false, Error: apiErr.Message, Code: apiErr.Code}
		if ec.Request().Method == http.MethodHead {
			err = ec.NoContent(apiErr.Status)
		} else {
			err = ec.JSON(apiErr.Status, body)
		}
		if err != nil {
			log.Warnf("Failed to write error response: %v\n", err)
		}
	}
}

func toAPIError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message := http.StatusText(httpErr.Code)
		if m, ok := httpErr.Message.(string); ok {
			message = m
		}

		out := APIError{Status: httpErr.Code, Message: message}
		if httpErr.Internal != nil {
			out.InternalMessage = httpErr.Internal.Error()
		}
		return out
	}

	return APIError{Status: http.StatusInternalServerError, InternalMessage: err.Error()}
}

// codeForStatus derives a stable machine readable code from the status,
// e.g. 404 becomes 'NOT_FOUND'.
func codeForStatus(status int) string {
	if status == http.StatusInternalServerError {
		return "INTERNAL_ERROR"
	}

	text := http.StatusText(status)
	if text == "" {
		return "ERROR"
	}

	return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
}
