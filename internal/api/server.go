// Package api exposes the drive service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"drive-go/internal/drive"
)

// Options configures a Server.
type Options struct {
	OwnerHeader string
	RoleHeader  string
	UserRoles   []string
	AdminRoles  []string
	CORSOrigins []string

	// IconSize is the edge length of the built-in default icon.
	IconSize int
}

// Server routes HTTP requests to a DriveService.
type Server struct {
	echo     *echo.Echo
	drive    *drive.DriveService
	journal  drive.OperationLog
	resolver *drive.PathResolver
	logger   drive.Logger

	users  RoleGate
	admins RoleGate
	opts   Options
}

// NewServer builds the router. metrics may be nil to omit /metrics.
func NewServer(svc *drive.DriveService, journal drive.OperationLog, resolver *drive.PathResolver, metrics http.Handler, logger drive.Logger, opts Options) *Server {
	if logger == nil {
		logger = drive.NewNopLogger()
	}
	if opts.OwnerHeader == "" {
		opts.OwnerHeader = "X-Drive-Owner"
	}
	if opts.RoleHeader == "" {
		opts.RoleHeader = "X-Drive-Role"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		drive:    svc,
		journal:  journal,
		resolver: resolver,
		logger:   logger,
		users:    AllowRoles(opts.UserRoles...),
		admins:   AllowRoles(opts.AdminRoles...),
		opts:     opts,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "request_id", v.RequestID}
			if v.Error != nil {
				args = append(args, "error", v.Error)
			}
			logger.Debug("request", args...)
			return nil
		},
	}))
	if len(opts.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: opts.CORSOrigins,
			AllowHeaders: []string{echo.HeaderContentType, opts.OwnerHeader, opts.RoleHeader},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		}))
	}
	e.Use(IdentityMiddleware(opts.OwnerHeader, opts.RoleHeader))

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	g := e.Group("/api")
	registerFolderRoutes(g, s)
	registerFileRoutes(g, s)
	registerNodeRoutes(g, s)
	registerThumbnailRoutes(g, s)
	registerOperationRoutes(g, s)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting http server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// httpError maps service errors onto status codes.
func (s *Server) httpError(c *AuthContext, err error) error {
	switch {
	case errors.Is(err, drive.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, drive.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, drive.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, drive.ErrStorageInconsistency):
		s.logger.Error("storage inconsistency", "owner", c.Identity.OwnerID, "uri", c.Request().RequestURI, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "storage inconsistency")
	default:
		s.logger.Error("request failed", "owner", c.Identity.OwnerID, "uri", c.Request().RequestURI, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
