package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"thermowatch/internal/service"

	"github.com/gin-gonic/gin"
)

type ReadingHandler struct {
	readings service.ReadingService
	reports  service.ReportService
	location *time.Location
}

func NewReadingHandler(readings service.ReadingService, reports service.ReportService, location *time.Location) *ReadingHandler {
	if location == nil {
		location = time.Local
	}
	return &ReadingHandler{readings: readings, reports: reports, location: location}
}

type rangeRequest struct {
	Start string `json:"start" form:"start"`
	End   string `json:"end" form:"end"`
}

func fetchResponse(res service.FetchResult) gin.H {
	body := gin.H{
		"success":     res.OK(),
		"count":       res.Count,
		"applied":     res.Applied,
		"fetched_at":  res.FetchedAt,
		"duration_ms": res.Duration.Milliseconds(),
		"query":       res.Query,
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	return body
}

// GetSnapshot returns everything the dashboard currently shows.
func (h *ReadingHandler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.readings.Snapshot())
}

func (h *ReadingHandler) GetLatest(c *gin.Context) {
	latest, ok := h.readings.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no readings loaded yet",
		})
		return
	}
	c.JSON(http.StatusOK, latest)
}

// Refresh polls the remote table now with the stored range.
func (h *ReadingHandler) Refresh(c *gin.Context) {
	res := h.readings.Refresh(c.Request.Context())
	if !res.OK() {
		c.JSON(http.StatusBadGateway, fetchResponse(res))
		return
	}
	c.JSON(http.StatusOK, fetchResponse(res))
}

// SetRange stores new range boundaries and fetches immediately.
func (h *ReadingHandler) SetRange(c *gin.Context) {
	var req rangeRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"message": err.Error(),
		})
		return
	}

	res, err := h.readings.SetRange(c.Request.Context(), req.Start, req.End)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidDate) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":   "failed to set range",
			"message": err.Error(),
		})
		return
	}
	if !res.OK() {
		c.JSON(http.StatusBadGateway, fetchResponse(res))
		return
	}
	c.JSON(http.StatusOK, fetchResponse(res))
}

// Export streams a report of the loaded readings that fall inside the
// requested days.
func (h *ReadingHandler) Export(c *gin.Context) {
	var req service.ExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid query",
			"message": err.Error(),
		})
		return
	}

	report, err := h.reports.Export(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidDate) || errors.Is(err, service.ErrUnsupportedFormat) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":   "failed to export readings",
			"message": err.Error(),
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.Filename))
	c.Header("X-Report-Rows", strconv.Itoa(report.Rows))
	c.Data(http.StatusOK, report.ContentType, report.Data)
}

// GetHistory queries the local archive. from/to accept the same values as
// the range pickers; the window defaults to the last 24 hours.
func (h *ReadingHandler) GetHistory(c *gin.Context) {
	from, _, err := service.ParseBoundary(c.Query("from"), h.location)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from", "message": err.Error()})
		return
	}
	to, _, err := service.ParseBoundary(c.Query("to"), h.location)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to", "message": err.Error()})
		return
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	readings, err := h.readings.History(c.Request.Context(), from, to, limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrArchiveDisabled) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error":   "failed to get reading history",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":    len(readings),
		"readings": readings,
	})
}
