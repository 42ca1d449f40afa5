package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cryptodash/autopilot/internal/database"
	"github.com/cryptodash/autopilot/internal/services"
)

// HealthResponse is the /health payload. Optional backends report "disabled"
// when not configured.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Automaton string            `json:"automation_state"`
	Services  map[string]string `json:"services"`
}

// HealthHandler reports liveness of the process and its optional backends.
type HealthHandler struct {
	version    string
	db         *database.PostgresDB
	redis      *database.RedisClient
	supervisor *services.Supervisor
}

func NewHealthHandler(version string, db *database.PostgresDB, redis *database.RedisClient, supervisor *services.Supervisor) *HealthHandler {
	return &HealthHandler{version: version, db: db, redis: redis, supervisor: supervisor}
}

// Check returns 200 while healthy and 503 when a configured backend fails.
func (h *HealthHandler) Check(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Automaton: string(h.supervisor.State()),
		Services:  map[string]string{"database": "disabled", "redis": "disabled"},
	}

	if h.db != nil {
		response.Services["database"] = "ok"
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			response.Services["database"] = "error"
			response.Status = "degraded"
		}
	}
	if h.redis != nil {
		response.Services["redis"] = "ok"
		if err := h.redis.HealthCheck(c.Request.Context()); err != nil {
			response.Services["redis"] = "error"
			response.Status = "degraded"
		}
	}

	code := http.StatusOK
	if response.Status == "degraded" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}
