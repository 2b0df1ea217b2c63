package tokens

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/priyankadasarigt/ytdown/internal/token"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

const rateLimitedMessage = "Rate limit exceeded. Try again later."

var controllerLogger = logger.Get("TokensController")

type (
	TokenResponse struct {
		Success   bool   `json:"success"`
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}

	Ledger interface {
		Issue(clientID string) (token.Token, error)
		TTL() time.Duration
	}

	// Sweeper reclaims expired job metadata whenever a token is issued.
	Sweeper interface {
		Sweep()
	}

	Metrics interface {
		TokenIssued()
		TokenRateLimited()
	}

	Activity interface {
		Touch()
	}

	Controller struct {
		ledger   Ledger
		sweeper  Sweeper
		metrics  Metrics
		activity Activity
	}
)

func New(ledger Ledger, sweeper Sweeper, metrics Metrics, activity Activity) *Controller {
	return &Controller{ledger: ledger, sweeper: sweeper, metrics: metrics, activity: activity}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/request_token", controller.requestToken)
}

// requestToken issues a new single-use token to the client. Clients are
// identified by the first X-Forwarded-For entry, or the remote IP otherwise.
func (controller *Controller) requestToken(ec echo.Context) error {
	controller.activity.Touch()
	controller.sweeper.Sweep()

	tok, err := controller.ledger.Issue(ec.RealIP())
	if err != nil {
		if errors.Is(err, token.ErrRateLimited) {
			controller.metrics.TokenRateLimited()
			return echo.NewHTTPError(http.StatusTooManyRequests, rateLimitedMessage)
		}

		controllerLogger.Emit(logger.ERROR, "Failed to issue token: %v\n", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	controller.metrics.TokenIssued()
	return ec.JSON(http.StatusOK, TokenResponse{
		Success:   true,
		Token:     tok.Value,
		ExpiresIn: int(controller.ledger.TTL().Seconds()),
	})
}
