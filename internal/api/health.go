package api

import (
	"net/http"
	"time"

	"github.com/snarg/musicbot/internal/pipeline"
	"github.com/snarg/musicbot/internal/storage"
)

type HealthResponse struct {
	Status        string               `json:"status"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Checks        map[string]string    `json:"checks"`
	Queue         *pipeline.QueueStats `json:"queue,omitempty"`
}

type HealthHandler struct {
	pool      Submitter
	store     storage.ArtifactStore
	version   string
	startTime time.Time
}

func NewHealthHandler(pool Submitter, store storage.ArtifactStore, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		pool:      pool,
		store:     store,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"

	var queue *pipeline.QueueStats
	if h.pool != nil {
		stats := h.pool.Stats()
		queue = &stats
		if stats.Capacity > 0 && stats.Pending >= stats.Capacity {
			checks["queue"] = "full"
			status = "degraded"
		} else {
			checks["queue"] = "ok"
		}
	} else {
		checks["queue"] = "not_configured"
	}

	if h.store != nil {
		checks["storage"] = h.store.Type()
	} else {
		checks["storage"] = "not_configured"
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Queue:         queue,
	})
}
