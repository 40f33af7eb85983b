package downloads

import (
	"errors"
	"net/http"
	"time"

	"github.com/hbomb79/Medialink/internal/api/util"
	"github.com/hbomb79/Medialink/internal/token"
	"github.com/labstack/echo/v4"
)

type (
	Redeemer interface {
		Redeem(raw string, now time.Time) (string, error)
	}

	// Controller redeems download tokens by redirecting the client to the
	// upstream media. Media bytes never pass through this server.
	Controller struct {
		redeemer Redeemer
		now      func() time.Time
	}
)

func New(redeemer Redeemer) *Controller {
	return &Controller{redeemer: redeemer, now: time.Now}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/:token", controller.download)
	eg.HEAD("/:token", controller.download)
}

func (controller *Controller) download(ec echo.Context) error {
	upstream, err := controller.redeemer.Redeem(ec.Param("token"), controller.now())
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return util.APIError{Status: http.StatusGone, Code: "TOKEN_EXPIRED", Message: "Download link has expired, please resolve the URL again"}
		case errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrBadSignature):
			return util.APIError{Status: http.StatusForbidden, Code: "TOKEN_INVALID", Message: "Download link is invalid"}
		default:
			return util.APIError{Status: http.StatusInternalServerError, InternalMessage: err.Error()}
		}
	}

	// The redirect target is specific to this token, and the upstream URL
	// must not leak back to it via the Referer header
	ec.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	ec.Response().Header().Set("Referrer-Policy", "no-referrer")
	return ec.Redirect(http.StatusFound, upstream)
}
