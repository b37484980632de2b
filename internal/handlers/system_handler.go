package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"thermowatch/internal/repository"
	"thermowatch/internal/service"
	"thermowatch/internal/worker"
	redisx "thermowatch/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type TaskLister interface {
	Status() []worker.TaskStatus
}

type SystemDeps struct {
	Readings  service.ReadingService
	Archive   repository.ReadingRepository
	PollLogs  repository.PollLogRepository
	Redis     *redis.Client
	Tasks     TaskLister
	Version   string
	StartedAt time.Time
	Logger    *slog.Logger
}

type SystemHandler struct {
	deps SystemDeps
}

func NewSystemHandler(deps SystemDeps) *SystemHandler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	return &SystemHandler{deps: deps}
}

// HealthCheck reports "degraded" while the last poll failed or redis is
// unreachable; the process itself is still serving.
func (h *SystemHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	services := gin.H{"api": "running"}

	snap := h.deps.Readings.Snapshot()
	if snap.LastError != "" {
		status = "degraded"
		services["remote"] = snap.LastError
	} else {
		services["remote"] = "ok"
	}

	switch {
	case h.deps.Redis == nil:
		services["redis"] = "disabled"
	case h.deps.Redis.Ping(ctx).Err() != nil:
		status = "degraded"
		services["redis"] = "unreachable"
	default:
		services["redis"] = "connected"
	}

	if h.deps.Archive == nil {
		services["database"] = "disabled"
	} else if _, err := h.deps.Archive.Count(ctx); err != nil {
		status = "degraded"
		services["database"] = "unreachable"
	} else {
		services["database"] = "connected"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"version":        h.deps.Version,
		"uptime_seconds": int64(time.Since(h.deps.StartedAt).Seconds()),
		"services":       services,
	})
}

func (h *SystemHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	since := time.Now().UTC().Add(-24 * time.Hour)

	snap := h.deps.Readings.Snapshot()
	stats := gin.H{
		"loaded":      len(snap.Readings),
		"range":       snap.Range,
		"fetched_at":  snap.FetchedAt,
		"last_error":  snap.LastError,
		"last_update": snap.Clock,
	}
	if latest, ok := snap.Latest(); ok {
		stats["latest"] = latest
	}
	if counters, err := h.deps.Readings.Counters(ctx); err == nil {
		stats["counters"] = counters
	} else {
		h.deps.Logger.Warn("failed to read poll counters", "error", err)
	}

	if h.deps.Archive != nil {
		archive := gin.H{}
		if total, err := h.deps.Archive.Count(ctx); err == nil {
			archive["total"] = total
		} else {
			h.deps.Logger.Warn("failed to count archive", "error", err)
		}
		if day, err := h.deps.Archive.GetStats(ctx, since, time.Now().UTC()); err == nil {
			archive["last_24h"] = day
		} else {
			h.deps.Logger.Warn("failed to get archive stats", "error", err)
		}
		stats["archive"] = archive
	}

	if h.deps.PollLogs != nil {
		polls := gin.H{}
		if ok, err := h.deps.PollLogs.CountSince(ctx, since, true); err == nil {
			polls["succeeded_24h"] = ok
		}
		if failed, err := h.deps.PollLogs.CountSince(ctx, since, false); err == nil {
			polls["failed_24h"] = failed
		}
		if last, err := h.deps.PollLogs.GetLast(ctx); err == nil && last != nil {
			polls["last"] = gin.H{
				"fetched_at": last.FetchedAt,
				"success":    last.Success,
				"rows":       last.Rows,
				"error":      last.Error,
			}
		}
		stats["polls"] = polls
	}

	if h.deps.Redis != nil {
		if info, err := redisx.GetStats(ctx, h.deps.Redis); err == nil {
			stats["redis"] = gin.H{
				"info":     info,
				"hit_rate": redisx.HitRate(info),
			}
		} else {
			h.deps.Logger.Warn("failed to get redis stats", "error", err)
		}
	}

	if h.deps.Tasks != nil {
		stats["workers"] = h.deps.Tasks.Status()
	}

	c.JSON(http.StatusOK, stats)
}

// GetPolls lists the most recent poll attempts, newest first.
func (h *SystemHandler) GetPolls(c *gin.Context) {
	if h.deps.PollLogs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": service.ErrArchiveDisabled.Error(),
		})
		return
	}

	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	logs, err := h.deps.PollLogs.GetLastN(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to get poll logs",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, logs)
}
