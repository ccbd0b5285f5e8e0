// Package webserver hosts the admin HTTP API. Handlers register themselves
// through the Api* helpers before the server starts.
package webserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/pkg/metrics"
	"go.uber.org/zap"
)

// AppContextKey is the echo context key holding the app.AppContext.
const AppContextKey = "appctx"

type AdminServer struct {
	root   *echo.Echo
	api    *echo.Group
	legacy *echo.Group
	appCtx app.AppContext
}

var server *AdminServer

// Init builds the global admin server that the Api* helpers register on.
func Init(appCtx app.AppContext) *AdminServer {
	server = NewAdminServer(appCtx)
	return server
}

func NewAdminServer(appCtx app.AppContext) *AdminServer {
	cfg := appCtx.Config()
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.WARN)
	if cfg.System.Debug {
		e.Logger.SetLevel(log.DEBUG)
	}
	e.JSONSerializer = jsonSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(zapRequestLogger())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(AppContextKey, appCtx)
			return next(c)
		}
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(),
	)
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "wagate",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))

	legacy := e.Group("/api")
	if cfg.Web.JwtSecret != "" {
		legacy.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey:  []byte(cfg.Web.JwtSecret),
			TokenLookup: "header:Authorization:Bearer ,query:token",
		}))
	} else {
		zap.L().Warn("webserver: web.jwt_secret is empty, admin api is unauthenticated")
	}
	return &AdminServer{
		root:   e,
		api:    legacy.Group("/v1"),
		legacy: legacy,
		appCtx: appCtx,
	}
}

func (s *AdminServer) Echo() *echo.Echo {
	return s.root
}

// Start listens until the server is shut down.
func (s *AdminServer) Start() error {
	addr := s.appCtx.Config().WebAddr()
	zap.L().Info("webserver: admin api listening", zap.String("addr", addr))
	err := s.root.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.root.Shutdown(ctx)
}

func zapRequestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				zap.L().Warn("webserver: request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			zap.L().Debug("webserver: request", fields...)
			return nil
		},
	})
}

// IssueToken signs an HS256 bearer token accepted by the admin api.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "wagate",
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func mustServer() *AdminServer {
	if server == nil {
		panic("webserver: Init must be called before registering routes")
	}
	return server
}

func ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().api.GET(path, h, m...)
}

func ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().api.POST(path, h, m...)
}

func ApiDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().api.DELETE(path, h, m...)
}

// LegacyGET registers under /api, next to the versioned routes.
func LegacyGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().legacy.GET(path, h, m...)
}

func LegacyPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().legacy.POST(path, h, m...)
}

// PublicGET registers an absolute path outside bearer authentication.
func PublicGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().root.GET(path, h, m...)
}

func PublicPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().root.POST(path, h, m...)
}
