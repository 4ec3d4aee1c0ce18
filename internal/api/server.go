// Package api is the HTTP surface: field and photo upload, analysis dispatch,
// job polling, results and cross-field reports.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/menta2k/paddy-monitor/internal/config"
	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/metrics"
	"github.com/menta2k/paddy-monitor/internal/queue"
	"github.com/menta2k/paddy-monitor/internal/store"
)

// OwnerHeader carries the caller identity; authentication happens upstream
const OwnerHeader = "X-Owner-ID"

const ownerKey = "owner"

// Server wires handlers to the store and queue
type Server struct {
	echo    *echo.Echo
	store   *store.Store
	queue   *queue.Queue
	storage config.StorageConfig
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewServer builds the echo instance with all routes registered. m may be nil.
func NewServer(s *store.Store, q *queue.Queue, storage config.StorageConfig, m *metrics.Metrics, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	srv := &Server{
		echo:    echo.New(),
		store:   s,
		queue:   q,
		storage: storage,
		metrics: m,
		log:     log.WithField("component", "api"),
	}
	srv.echo.HideBanner = true
	srv.echo.HidePort = true
	srv.routes()
	return srv
}

func (s *Server) routes() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLog)
	if s.storage.MaxUploadMB > 0 {
		// four photos plus form fields
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", 4*s.storage.MaxUploadMB+1)))
	}

	e.GET("/health", s.health)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := e.Group("/api/v1", requireOwner)

	v1.POST("/fields", s.createField)
	v1.GET("/fields", s.listFields)
	v1.GET("/fields/:id", s.getField)
	v1.PUT("/fields/:id", s.updateField)
	v1.DELETE("/fields/:id", s.deleteField)
	v1.GET("/fields/:id/results", s.fieldResults)
	v1.POST("/fields/:id/photo-groups", s.uploadPhotoGroup)

	v1.POST("/photo-groups/:id/analyze", s.analyzePhotoGroup)
	v1.GET("/photo-groups/:id/result", s.photoGroupResult)
	v1.GET("/jobs/:id", s.getJob)

	v1.GET("/analysis/inter-field-comparison", s.interFieldComparison)
	v1.GET("/analysis/heatmap", s.heatmap)
	v1.GET("/analysis/regional-stats", s.regionalStats)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.log.Info("HTTP server listening", logging.Fields{"addr": addr})
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func requireOwner(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := c.Request().Header.Get(OwnerHeader)
		if owner == "" {
			return c.JSON(http.StatusUnauthorized, errorBody("missing " + OwnerHeader + " header"))
		}
		c.Set(ownerKey, owner)
		return next(c)
	}
}

func owner(c echo.Context) string {
	id, _ := c.Get(ownerKey).(string)
	return id
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req, res := c.Request(), c.Response()
		s.metrics.HTTPRequest(req.Method, c.Path(), res.Status)

		fields := logging.Fields{
			"method":      req.Method,
			"path":        req.URL.Path,
			"status":      res.Status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  res.Header().Get(echo.HeaderXRequestID),
		}
		if res.Status >= http.StatusInternalServerError {
			if err != nil {
				fields["error"] = err
			}
			s.log.Error("request failed", fields)
		} else {
			s.log.Debug("request", fields)
		}
		return nil
	}
}

func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 800*time.Millisecond)
	defer cancel()

	body := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	sqlDB, err := s.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		body["status"] = "degraded"
		body["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, body)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
