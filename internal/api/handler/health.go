package handler

import (
	"context"
	"net/http"

	"github.com/adscope/adscope/internal/api/response"
)

// Pinger is anything whose liveness the health check reports on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /api/v1/health. It reports
// 503 when either backing store is unreachable.
func NewHealthHandler(db, redis Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"postgres": "up", "redis": "up"}
		healthy := true

		if err := db.Ping(r.Context()); err != nil {
			status["postgres"] = "down"
			healthy = false
		}
		if err := redis.Ping(r.Context()); err != nil {
			status["redis"] = "down"
			healthy = false
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY",
				"One or more dependencies are unavailable", status)
			return
		}
		response.JSON(w, status)
	}
}
