package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/healthlink/healthlink/pkg/response"
)

const pingBudget = 5 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type statter interface {
	Stat() *pgxpool.Stat
}

// Health is the payload of /health/db.
type Health struct {
	Status  string     `json:"status"`
	PingMS  int64      `json:"ping_ms"`
	Pool    *PoolStats `json:"pool,omitempty"`
	Problem string     `json:"-"`
}

type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	WaitCount     int64  `json:"wait_count"`
	WaitDuration  string `json:"wait_duration"`
}

// Check pings p and, for a pgx pool, snapshots its counters.
func Check(ctx context.Context, p Pinger) Health {
	ctx, cancel := context.WithTimeout(ctx, pingBudget)
	defer cancel()

	h := Health{Status: "healthy"}
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		h.Status, h.Problem = "unhealthy", err.Error()
	}
	h.PingMS = time.Since(start).Milliseconds()

	if s, ok := p.(statter); ok {
		st := s.Stat()
		h.Pool = &PoolStats{
			TotalConns:    st.TotalConns(),
			IdleConns:     st.IdleConns(),
			AcquiredConns: st.AcquiredConns(),
			MaxConns:      st.MaxConns(),
			WaitCount:     st.EmptyAcquireCount(),
			WaitDuration:  st.AcquireDuration().String(),
		}
	}
	return h
}

// HealthHandler serves Check as 200 or 503.
func HealthHandler(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := Check(c.Request().Context(), p)
		if h.Problem != "" {
			return c.JSON(http.StatusServiceUnavailable, response.Envelope{Message: h.Problem, Data: h})
		}
		return response.OK(c, http.StatusOK, "database reachable", h)
	}
}
