package health

import (
	"errors"
	"net/http"
	"time"

	"github.com/hbomb79/Medialink/internal/api/util"
	"github.com/hbomb79/Medialink/pkg/logger"
	"github.com/labstack/echo/v4"
)

var log = logger.Get("Health")

const selfCheckRef = "medialink:health-check"

var errSelfCheckMismatch = errors.New("redeemed token reference does not match the issued reference")

type (
	Issuer interface {
		Issue(ref string, ttl time.Duration) (string, error)
	}

	Redeemer interface {
		Redeem(raw string, now time.Time) (string, error)
	}

	StatusDto struct {
		Status        string    `json:"status"`
		Timestamp     time.Time `json:"timestamp"`
		UptimeSeconds int64     `json:"uptime_seconds"`
		Version       string    `json:"version"`
		Error         string    `json:"error,omitempty"`
	}

	ServiceDto struct {
		Name      string            `json:"name"`
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}

	// Controller reports the liveness of the service. The service is only
	// considered healthy while it can issue and redeem tokens.
	Controller struct {
		issuer   Issuer
		redeemer Redeemer
		version  string
		started  time.Time
	}
)

func New(version string, issuer Issuer, redeemer Redeemer) *Controller {
	return &Controller{issuer: issuer, redeemer: redeemer, version: version, started: time.Now()}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/health", controller.health)
	eg.GET("/", controller.describe)
}

func (controller *Controller) health(ec echo.Context) error {
	now := time.Now()
	status := StatusDto{
		Status:        "healthy",
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(controller.started).Seconds()),
		Version:       controller.version,
	}

	if err := controller.selfCheck(now); err != nil {
		log.Errorf("Health self-check failed: %v\n", err)
		status.Status = "unhealthy"
		status.Error = "token self-check failed"
		return ec.JSON(http.StatusServiceUnavailable, status)
	}

	return ec.JSON(http.StatusOK, status)
}

// selfCheck ensures a token can make the full round trip through
// issuance and redemption.
func (controller *Controller) selfCheck(now time.Time) error {
	raw, err := controller.issuer.Issue(selfCheckRef, time.Minute)
	if err != nil {
		return err
	}

	ref, err := controller.redeemer.Redeem(raw, now)
	if err != nil {
		return err
	}
	if ref != selfCheckRef {
		return errSelfCheckMismatch
	}

	return nil
}

func (controller *Controller) describe(ec echo.Context) error {
	return util.Success(ec, http.StatusOK, ServiceDto{
		Name:    "Medialink",
		Version: controller.version,
		Endpoints: map[string]string{
			"resolve":   "POST /resolve?url=<media page URL>[&format=<ext>][&quality=<best|worst|audio|video|720p>]",
			"info":      "GET /info?url=<media page URL>",
			"download":  "GET /download/{token}",
			"supported": "GET /supported",
			"health":    "GET /health",
		},
	})
}
