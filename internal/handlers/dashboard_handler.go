package handlers

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"

	"thermowatch/internal/service"
	"thermowatch/internal/views"

	"github.com/gin-gonic/gin"
)

type DashboardHandler struct {
	readings service.ReadingService
	options  views.DashboardOptions
	logger   *slog.Logger
}

func NewDashboardHandler(readings service.ReadingService, options views.DashboardOptions, logger *slog.Logger) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{readings: readings, options: options, logger: logger}
}

// Index renders the dashboard page from the current snapshot.
func (h *DashboardHandler) Index(c *gin.Context) {
	h.render(c, http.StatusOK, views.NewDashboardData(h.readings.Snapshot(), h.options))
}

// Live returns the values the open page swaps in between polls.
func (h *DashboardHandler) Live(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, views.NewLiveData(h.readings.Snapshot(), h.options))
}

// SubmitRange handles the Fetch Data form. A valid range redirects back to
// the page; a malformed one re-renders it with the error.
func (h *DashboardHandler) SubmitRange(c *gin.Context) {
	_, err := h.readings.SetRange(c.Request.Context(), c.PostForm("start"), c.PostForm("end"))
	if err != nil {
		if !errors.Is(err, service.ErrInvalidDate) {
			h.logger.Error("failed to set range", "error", err)
		}
		snap := h.readings.Snapshot()
		snap.Range.Start, snap.Range.End = c.PostForm("start"), c.PostForm("end")
		data := views.NewDashboardData(snap, h.options)
		data.FormError = err.Error()
		h.render(c, http.StatusBadRequest, data)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *DashboardHandler) render(c *gin.Context, status int, data *views.DashboardData) {
	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, data); err != nil {
		h.logger.Error("failed to render dashboard", "error", err)
		c.String(http.StatusInternalServerError, "failed to render dashboard")
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}
