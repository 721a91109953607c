package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/chatsense/store"
)

const healthTimeout = 5 * time.Second

// queueView is the payload-agnostic slice of Service[T] the ops surface and
// the admin commands need.
type queueView interface {
	Name() string
	DashboardStats(ctx context.Context) (*store.QueueDashboardStats, error)
	Cleanup(ctx context.Context) (int64, error)
}

type queueStatus struct {
	Pending          int64   `json:"pending"`
	Processing       int64   `json:"processing"`
	CompletedToday   int64   `json:"completed_today"`
	Dead             int64   `json:"dead"`
	OldestPendingSec float64 `json:"oldest_pending_seconds"`
}

func (s *Server) registerOps(e *echo.Echo) {
	group := e.Group("")
	group.Use(middleware.CORS())

	group.GET("/healthz", s.handleHealthz)
	group.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	group.GET("/api/v1/queues", s.handleQueues)
	group.GET("/api/v1/indexer", s.handleIndexer)
}

func (s *Server) handleHealthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	if err := s.Store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleQueues(c echo.Context) error {
	out := make(map[string]queueStatus, len(s.queues))
	for _, q := range s.queues {
		stats, err := q.DashboardStats(c.Request().Context())
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to collect queue stats").SetInternal(err)
		}
		out[q.Name()] = queueStatus{
			Pending:          stats.Pending,
			Processing:       stats.Processing,
			CompletedToday:   stats.CompletedToday,
			Dead:             stats.Dead,
			OldestPendingSec: stats.OldestPendingAge.Seconds(),
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleIndexer(c echo.Context) error {
	if s.orchestrator == nil {
		return c.JSON(http.StatusOK, map[string]any{"enabled": false})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"enabled":  true,
		"handlers": s.orchestrator.Snapshot(c.Request().Context()),
	})
}
