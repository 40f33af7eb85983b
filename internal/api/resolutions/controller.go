package resolutions

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Medialink/internal/api/util"
	"github.com/hbomb79/Medialink/internal/extract"
	"github.com/hbomb79/Medialink/internal/resolve"
	"github.com/labstack/echo/v4"
)

type (
	// Request may be supplied as query parameters, a JSON body, or a mix
	// of both (query parameters take precedence).
	Request struct {
		URL     string `json:"url" query:"url" validate:"required,max=4096"`
		Format  string `json:"format" query:"format" validate:"omitempty,alphanum,max=10"`
		Quality string `json:"quality" query:"quality" validate:"omitempty,alphanum,max=10"`
	}

	SupportedDto struct {
		Sites []string `json:"sites"`
		Note  string   `json:"note"`
	}

	Resolver interface {
		Resolve(ctx context.Context, url string, prefs resolve.Preferences) (*resolve.MediaInfo, error)
		Info(ctx context.Context, url string) (*resolve.MediaInfo, error)
	}

	Controller struct {
		resolver Resolver
		validate *validator.Validate
	}
)

func New(validate *validator.Validate, resolver Resolver) *Controller {
	return &Controller{resolver: resolver, validate: validate}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/resolve", controller.resolve)
	eg.GET("/info", controller.info)
	eg.GET("/supported", controller.supported)
}

// resolve extracts the media at the requested URL, returning its metadata
// and a signed download URL for each format.
func (controller *Controller) resolve(ec echo.Context) error {
	request, err := controller.bindRequest(ec)
	if err != nil {
		return err
	}

	info, err := controller.resolver.Resolve(
		ec.Request().Context(),
		request.URL,
		resolve.Preferences{Format: request.Format, Quality: request.Quality},
	)
	if err != nil {
		return translateResolveError(err)
	}

	return util.Success(ec, http.StatusOK, info)
}

// info extracts only the metadata of the media at the requested URL.
func (controller *Controller) info(ec echo.Context) error {
	request, err := controller.bindRequest(ec)
	if err != nil {
		return err
	}

	info, err := controller.resolver.Info(ec.Request().Context(), request.URL)
	if err != nil {
		return translateResolveError(err)
	}

	return util.Success(ec, http.StatusOK, info)
}

func (controller *Controller) supported(ec echo.Context) error {
	return util.Success(ec, http.StatusOK, SupportedDto{
		Sites: extract.SupportedSites(),
		Note:  "Many more sites are supported; this list is not exhaustive",
	})
}

func (controller *Controller) bindRequest(ec echo.Context) (*Request, error) {
	var request Request
	binder := &echo.DefaultBinder{}
	if ec.Request().Method != http.MethodGet {
		if err := binder.BindBody(ec, &request); err != nil {
			return nil, util.APIError{Status: http.StatusBadRequest, Code: "INVALID_REQUEST", Message: fmt.Sprintf("Invalid body: %s", bindMessage(err))}
		}
	}
	if err := binder.BindQueryParams(ec, &request); err != nil {
		return nil, util.APIError{Status: http.StatusBadRequest, Code: "INVALID_REQUEST", Message: fmt.Sprintf("Invalid query: %s", bindMessage(err))}
	}

	if err := controller.validate.Struct(request); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 && validationErrs[0].Field() == "URL" {
			return nil, util.APIError{Status: http.StatusBadRequest, Code: "INVALID_URL", Message: "A valid 'url' must be provided"}
		}

		return nil, util.APIError{Status: http.StatusBadRequest, Code: "INVALID_REQUEST", Message: fmt.Sprintf("Invalid request: %s", err.Error())}
	}

	return &request, nil
}

func bindMessage(err error) string {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprint(httpErr.Message)
	}

	return err.Error()
}

// translateResolveError converts an error returned by the resolver in to an
// APIError describing the failure to the client.
func translateResolveError(err error) error {
	var extractionErr *resolve.ExtractionFailedError
	switch {
	case errors.Is(err, resolve.ErrInvalidURL):
		return util.APIError{Status: http.StatusBadRequest, Code: "INVALID_URL", Message: err.Error()}
	case errors.As(err, &extractionErr):
		if extractionErr.IsTimeout() {
			return util.APIError{Status: http.StatusGatewayTimeout, Code: "EXTRACTION_TIMEOUT", Message: "Extraction timed out, please try again later"}
		}
		if errors.Is(err, extract.ErrExtractorMissing) {
			return util.APIError{
				Status:          http.StatusServiceUnavailable,
				Code:            "EXTRACTOR_UNAVAILABLE",
				Message:         "Media extraction is currently unavailable",
				InternalMessage: err.Error(),
			}
		}

		return util.APIError{Status: http.StatusUnprocessableEntity, Code: "EXTRACTION_FAILED", Message: extractionErr.Error()}
	case errors.Is(err, context.Canceled):
		return util.APIError{Status: http.StatusRequestTimeout, Code: "REQUEST_CANCELLED", Message: "Request was cancelled"}
	default:
		return util.APIError{Status: http.StatusInternalServerError, InternalMessage: err.Error()}
	}
}
