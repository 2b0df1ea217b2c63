package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

const (
	TokenHeader = "X-Token"

	InvalidTokenMessage = "Invalid or expired token"
)

var (
	log = logger.Get("Auth")

	ErrUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, InvalidTokenMessage)
)

type TokenValidator interface {
	Validate(value string) bool
}

// GetTokenVerifierMiddleware returns a middleware which rejects requests that
// do not carry a valid token in the X-Token header. Validation does not consume
// the token.
func GetTokenVerifierMiddleware(validator TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			if ec.Request().Method == http.MethodOptions {
				return next(ec)
			}

			if !validator.Validate(ec.Request().Header.Get(TokenHeader)) {
				log.Emit(logger.DEBUG, "Rejected request to %s from %s: invalid token\n", ec.Path(), ec.RealIP())
				return ErrUnauthorized
			}

			return next(ec)
		}
	}
}
