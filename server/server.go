// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/limiter"
	"github.com/hrygo/intentgate/internal/profile"
	"github.com/hrygo/intentgate/store"
)

// Classifier runs one message through the gateway.
type Classifier interface {
	Classify(ctx context.Context, msg *ai.IncomingMessage, tz string) (*ai.Result, error)
	Backends() []string
}

// UsageReader reads the current usage windows without consuming.
type UsageReader interface {
	Snapshot(ctx context.Context, callerID string) (*limiter.Usage, error)
}

// Deps are the components the server routes to.
type Deps struct {
	Classifier Classifier
	Usage      UsageReader
	// Metrics serves /metrics; nil disables the route.
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	deps       Deps
	logger     *slog.Logger
	listener   net.Listener
	janitor    *janitor
}

// NewServer wires the routes. It does not start listening.
func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store, deps Deps) (*Server, error) {
	if deps.Classifier == nil {
		return nil, errors.New("server: classifier is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Profile: profile,
		Store:   store,
		deps:    deps,
		logger:  logger,
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.BodyLimit("256K"))
	s.echoServer = echoServer

	s.registerRoutes(ctx)

	if profile.SweepInterval > 0 && profile.Driver != "dynamodb" {
		s.janitor = newJanitor(store, profile.SweepInterval, logger)
	}
	return s, nil
}

func (s *Server) registerRoutes(_ context.Context) {
	e := s.echoServer
	e.GET("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	apiGroup := e.Group("/api/v1", middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	if secret := s.Profile.APIJWTSecret; secret != "" {
		apiGroup.Use(bearerAuth([]byte(secret)))
	}
	apiGroup.POST("/classify", s.handleClassify)

	e.POST("/webhook/telegram", s.handleTelegram)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.listener = listener

	if s.janitor != nil {
		s.janitor.start(ctx)
	}

	go func() {
		if err := s.echoServer.Server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the janitor, drains HTTP connections and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s.logger.Info("server shutting down")

	if s.janitor != nil {
		s.janitor.stop()
	}
	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		s.logger.Error("failed to close database", "error", err)
	}

	s.logger.Info("server stopped properly")
}
