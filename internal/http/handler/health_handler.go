package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/draftpulse/contest-payments/internal/http/response"
)

type HealthHandler struct {
	db    *gorm.DB
	redis redis.UniversalClient
}

func NewHealthHandler(db *gorm.DB, redisClient redis.UniversalClient) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient}
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether the datastore dependencies answer. Redis is only
// checked when configured; it is an optional dependency.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "database unreachable", nil)
			return
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "redis unreachable", nil)
			return
		}
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}
