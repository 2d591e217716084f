package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/rl1809/vending/internal/core/service"
)

const (
	claimsContextKey = "claims"
	requestIDHeader  = "X-Request-ID"
)

// Logger attaches a request-scoped zerolog logger to the request context and
// logs one line per request.
func Logger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		requestID := c.Request().Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Response().Header().Set(requestIDHeader, requestID)

		logger := log.With().Str("request_id", requestID).Logger()
		ctx := logger.WithContext(c.Request().Context())
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req := c.Request()
		res := c.Response()
		log.Ctx(req.Context()).Info().
			Str("method", req.Method).
			Str("endpoint", req.URL.Path).
			Int("status", res.Status).
			Int64("latency", time.Since(start).Milliseconds()).
			Msg("Request processed")

		return nil
	}
}

func Tracing(tracer trace.Tracer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracer.Start(c.Request().Context(), fmt.Sprintf("[%s] %s", c.Request().Method, c.Path()))
			defer span.End()

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

type requestValidator struct {
	validate *validator.Validate
}

func NewValidator() echo.Validator {
	return &requestValidator{validate: validator.New()}
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

// Authenticate accepts "Authorization: Bearer <jwt>" and stores the parsed
// claims on the echo context.
func Authenticate(auth *service.AuthService) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey: claimsContextKey,
		ParseTokenFunc: func(c echo.Context, token string) (any, error) {
			return auth.ParseToken(token)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return writeFailure(c, http.StatusUnauthorized, "authentication credentials were not provided or are invalid", nil)
		},
	})
}

func RequireStaff(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims := claimsFrom(c)
		if claims == nil || !claims.IsStaff {
			return writeFailure(c, http.StatusForbidden, "staff permission required", nil)
		}
		return next(c)
	}
}

// Throttle limits each authenticated user (or client IP) to perHour requests.
func Throttle(perHour int) echo.MiddlewareFunc {
	if perHour <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(perHour) / time.Hour.Seconds()),
		Burst:     perHour,
		ExpiresIn: time.Hour,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if claims := claimsFrom(c); claims != nil {
				return "user:" + strconv.FormatInt(claims.UserID, 10), nil
			}
			return "ip:" + c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return writeFailure(c, http.StatusForbidden, "unable to identify client", nil)
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return writeFailure(c, http.StatusTooManyRequests, "request was throttled", nil)
		},
	})
}

func claimsFrom(c echo.Context) *service.Claims {
	claims, _ := c.Get(claimsContextKey).(*service.Claims)
	return claims
}

// actorID is 0 when the request carries no identity.
func actorID(c echo.Context) int64 {
	if claims := claimsFrom(c); claims != nil {
		return claims.UserID
	}
	return 0
}
