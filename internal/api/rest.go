package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/priyankadasarigt/ytdown/internal/api/auth"
	"github.com/priyankadasarigt/ytdown/internal/api/downloads"
	"github.com/priyankadasarigt/ytdown/internal/api/formats"
	"github.com/priyankadasarigt/ytdown/internal/api/health"
	"github.com/priyankadasarigt/ytdown/internal/api/tokens"
	"github.com/priyankadasarigt/ytdown/internal/http/websocket"
	"github.com/priyankadasarigt/ytdown/internal/job"
	"github.com/priyankadasarigt/ytdown/internal/token"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
	"golang.org/x/time/rate"
)

var log = logger.Get("API")

const (
	rateLimitedMessage  = "Rate limit exceeded. Try again later."
	limiterExpiry       = 3 * time.Minute
	shutdownGracePeriod = 15 * time.Second
)

type (
	RestConfig struct {
		HostAddr     string  `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:5000"`
		FrontendURL  string  `yaml:"frontend_url" env:"FRONTEND_URL" env-default:"https://theyt.pages.dev"`
		RequestRate  float64 `yaml:"request_rate" env:"API_REQUEST_RATE" env-default:"10"`
		RequestBurst int     `yaml:"request_burst" env:"API_REQUEST_BURST" env-default:"30"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	TokenService interface {
		Issue(clientID string) (token.Token, error)
		Validate(value string) bool
		TTL() time.Duration
	}

	JobService interface {
		Submit(tokenValue string, params job.Params) (uuid.UUID, error)
		Lookup(id uuid.UUID) (job.Job, error)
		Sweep()
	}

	Metrics interface {
		TokenIssued()
		TokenRateLimited()
		JobSubmitted()
		Handler() http.Handler
	}

	Activity interface {
		Touch()
		IdleMinutes() float64
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsbility
	// is to create the routes exposed, manage ongoing web socket connections, and to enforce
	// token possession on the privileged routes.
	RestGateway struct {
		*WsGateway
		config             *RestConfig
		ec                 *echo.Echo
		socket             *websocket.SocketHub
		healthController   controller
		tokensController   controller
		formatsController  controller
		downloadController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	tokenService TokenService,
	jobService JobService,
	fetcher formats.Fetcher,
	metrics Metrics,
	activity Activity,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.HTTPErrorHandler = jsonErrorHandler

	validate := validator.New()
	socket := websocket.New(config.FrontendURL)
	gateway := &RestGateway{
		WsGateway:          NewWsGateway(jobService, metrics, activity),
		config:             config,
		ec:                 ec,
		socket:             socket,
		healthController:   health.New(activity),
		tokensController:   tokens.New(tokenService, jobService, metrics, activity),
		formatsController:  formats.New(validate, fetcher, activity),
		downloadController: downloads.New(jobService),
	}

	socket.WithConnectionCallback(func() map[string]interface{} {
		activity.Touch()
		return nil
	})
	socket.BindCommand(COMMAND_DOWNLOAD_VIDEO, gateway.WsDownloadVideo)

	ec.Pre(middleware.RemoveTrailingSlash())
	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{config.FrontendURL},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, auth.TokenHeader},
	}))
	ec.Use(newRateLimiter(config))

	ec.GET("/ws", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})
	ec.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	gateway.healthController.SetRoutes(ec.Group(""))
	gateway.tokensController.SetRoutes(ec.Group("/api"))

	privileged := ec.Group("/api", auth.GetTokenVerifierMiddleware(tokenService))
	gateway.formatsController.SetRoutes(privileged)
	gateway.downloadController.SetRoutes(privileged)

	return gateway
}

// Socket returns the socket hub which the gateway upgrades connections on to.
func (gateway *RestGateway) Socket() *websocket.SocketHub { return gateway.socket }

func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Emit(logger.NEW, "Listening on %s\n", gateway.config.HostAddr)
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()

		if err := ec.Shutdown(shutdownCtx); err != nil {
			log.Emit(logger.WARNING, "Graceful shutdown failed, closing: %v\n", err)
			ec.Close()
		}
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// newRateLimiter limits each client IP to a steady request rate, rejecting
// requests beyond the burst allowance.
func newRateLimiter(config *RestConfig) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(ec echo.Context) bool { return ec.Path() == "/ws" },
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(config.RequestRate),
			Burst:     config.RequestBurst,
			ExpiresIn: limiterExpiry,
		}),
		IdentifierExtractor: func(ec echo.Context) (string, error) {
			return ec.RealIP(), nil
		},
		DenyHandler: func(ec echo.Context, identifier string, err error) error {
			log.Emit(logger.WARNING, "Request rate exceeded by %s\n", identifier)
			return echo.NewHTTPError(http.StatusTooManyRequests, rateLimitedMessage)
		},
	})
}

// jsonErrorHandler renders every error returned by a handler as {"error": message}.
func jsonErrorHandler(err error, ec echo.Context) {
	if ec.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := err.Error()

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		message = fmt.Sprint(httpErr.Message)
	}

	if code >= http.StatusInternalServerError {
		log.Emit(logger.ERROR, "%s %s failed: %v\n", ec.Request().Method, ec.Request().URL.Path, err)
	}

	if ec.Request().Method == http.MethodHead {
		err = ec.NoContent(code)
	} else {
		err = ec.JSON(code, map[string]string{"error": message})
	}
	if err != nil {
		log.Emit(logger.ERROR, "Failed to write error response: %v\n", err)
	}
}
