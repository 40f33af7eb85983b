package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Medialink/internal/api/downloads"
	"github.com/hbomb79/Medialink/internal/api/health"
	"github.com/hbomb79/Medialink/internal/api/resolutions"
	"github.com/hbomb79/Medialink/internal/api/util"
	"github.com/hbomb79/Medialink/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

var log = logger.Get("API")

const shutdownTimeout = 10 * time.Second

type (
	RestConfig struct {
		HostAddr           string   `yaml:"host_address" env:"HOST_ADDR" env-default:"0.0.0.0:8000"`
		CORSOrigins        []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"*" env-separator:","`
		RateLimitPerMinute int      `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE" env-default:"60"`

		// TrustedProxies lists the CIDR ranges of reverse proxies whose
		// X-Forwarded-For header identifies the client. When empty, the
		// client is always the direct peer.
		TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" env-separator:","`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsbility
	// is to create the routes Medialink exposes and to apply the cross-cutting middleware
	// (logging, panic recovery, CORS and rate limiting).
	RestGateway struct {
		config               *RestConfig
		ec                   *echo.Echo
		resolutionController controller
		downloadController   controller
		healthController     controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	version string,
	resolver resolutions.Resolver,
	issuer health.Issuer,
	redeemer downloads.Redeemer,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.HTTPErrorHandler = util.GetHTTPErrorHandler()
	ec.IPExtractor = newIPExtractor(config.TrustedProxies)

	validate := validator.New()
	gateway := &RestGateway{
		config:               config,
		ec:                   ec,
		resolutionController: resolutions.New(validate, resolver),
		downloadController:   downloads.New(redeemer),
		healthController:     health.New(version, issuer, redeemer),
	}

	ec.Pre(middleware.RemoveTrailingSlash())
	ec.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	ec.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${id} ${remote_ip} ${method} ${uri} -> ${status} (${latency_human})\n",
	}))
	ec.Use(middleware.Recover())
	ec.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: config.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
	}))
	if config.RateLimitPerMinute > 0 {
		ec.Use(newRateLimiter(config.RateLimitPerMinute))
	}

	gateway.resolutionController.SetRoutes(ec.Group(""))
	gateway.downloadController.SetRoutes(ec.Group("/download"))
	gateway.healthController.SetRoutes(ec.Group(""))

	return gateway
}

// newIPExtractor returns the strategy used to identify the client of a
// request. Forwarding headers are only honoured when they were set by
// one of the trusted proxies, otherwise any client could choose its own
// identity (and with it, its own rate limit).
func newIPExtractor(trustedProxies []string) echo.IPExtractor {
	var ranges []echo.TrustOption
	for _, cidr := range trustedProxies {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}

		_, ipRange, err := net.ParseCIDR(cidr)
		if err != nil {
			log.Warnf("Ignoring invalid trusted proxy range %q: %v\n", cidr, err)
			continue
		}
		ranges = append(ranges, echo.TrustIPRange(ipRange))
	}

	if len(ranges) == 0 {
		return echo.ExtractIPDirect()
	}

	options := append([]echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}, ranges...)
	return echo.ExtractIPFromXFFHeader(options...)
}

// newRateLimiter limits each client (by IP) to the number of requests per
// minute provided, allowing bursts up to the same amount. Health checks and
// token redemption are not limited.
func newRateLimiter(perMinute int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(perMinute) / time.Minute.Seconds()),
		Burst:     perMinute,
		ExpiresIn: 3 * time.Minute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(ec echo.Context) bool {
			path := ec.Request().URL.Path
			return path == "/health" || strings.HasPrefix(path, "/download/")
		},
		Store: store,
		DenyHandler: func(ec echo.Context, identifier string, err error) error {
			log.Debugf("Rate limit exceeded for %s\n", identifier)
			return util.APIError{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: "Too many requests, please slow down"}
		},
	})
}

// ServeHTTP allows the gateway to be used directly as an http.Handler.
func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

// Run starts the HTTP server, blocking until the context provided is
// cancelled (at which point the server is gracefully shutdown), or until
// the server fails.
func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	defer ctxCancel(nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Emit(logger.INFO, "Listening on %s\n", gateway.config.HostAddr)
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gateway.ec.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Graceful shutdown failed, closing: %v\n", err)
		gateway.ec.Close()
	}
	<-done

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
