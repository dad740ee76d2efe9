// Package server exposes the coach service over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/ZaguanLabs/coach/internal/coach"
	"github.com/ZaguanLabs/coach/internal/config"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/logging"
	"github.com/ZaguanLabs/coach/internal/security"
)

const shutdownTimeout = 10 * time.Second

// Coach is the service the handlers call.
type Coach interface {
	coach.Backend
	ProviderName() string
}

// Server provides the HTTP API.
type Server struct {
	echo    *echo.Echo
	coach   Coach
	logger  *zap.Logger
	metrics *Metrics
	limiter *security.RateLimiter
	config  config.ServerConfig
}

// NewServer creates the server and registers its routes. metrics may be nil.
func NewServer(svc Coach, logger *zap.Logger, cfg config.ServerConfig, metrics *Metrics) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("coach service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if cfg.Port == 0 {
		cfg.Host, cfg.Port = "localhost", 8787
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		coach:   svc,
		logger:  logger.Named("http"),
		metrics: metrics,
		config:  cfg,
	}
	e.HTTPErrorHandler = s.errorHandler

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.contextMiddleware())
	e.Use(s.logMiddleware())
	e.Use(metrics.Middleware())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if cfg.RateLimit > 0 {
		s.limiter = security.NewRateLimiter(security.RateLimitConfig{
			MaxRequests: cfg.RateLimit,
			WindowSize:  time.Minute,
		})
		if err := metrics.TrackRateLimiter(s.limiter); err != nil {
			s.limiter.Stop()
			return nil, fmt.Errorf("register rate limit metrics: %w", err)
		}
		e.Use(s.rateLimitMiddleware())
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", s.metrics.Handler())

	api := s.echo.Group("/api")
	api.POST("/coach", s.handleCoach)

	convs := api.Group("/conversations")
	convs.GET("", s.handleListConversations)
	convs.POST("", s.handleCreateConversation)
	convs.GET("/:id", s.handleGetConversation)
	convs.PATCH("/:id", s.handleRenameConversation)
	convs.DELETE("/:id", s.handleDeleteConversation)
	convs.POST("/:id/messages", s.handleSendMessage)
	convs.POST("/:id/reset", s.handleResetConversation)
	convs.GET("/:id/insights", s.handlePreviewInsights)
	convs.POST("/:id/insights", s.handleApplyInsights)
}

// contextMiddleware copies the request ID onto the request context and
// applies the request timeout.
func (s *Server) contextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := logging.WithRequestID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			if s.config.RequestTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
				defer cancel()
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func (s *Server) logMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = statusFor(err)
			}
			s.logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

func (s *Server) rateLimitMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/health" || c.Path() == "/metrics" {
				return next(c)
			}
			key := c.RealIP()
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.Limit()))
			if !s.limiter.Allow(key) {
				s.metrics.RateLimited.Inc()
				wait := s.limiter.RetryAfter(key)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
				return echo.NewHTTPError(http.StatusTooManyRequests, coachErrors.PublicMessageRateLimited)
			}
			return next(c)
		}
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", addr), zap.String("provider", s.coach.ProviderName()))
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	defer s.close()
	return s.echo.Shutdown(ctx)
}

func (s *Server) close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
