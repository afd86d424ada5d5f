package pipeline

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chart-analysis-backend/internal/analyses"
	"chart-analysis-backend/internal/filestore"
	"chart-analysis-backend/internal/llm"
	"chart-analysis-backend/internal/shared/config"
	"chart-analysis-backend/internal/shared/server/middleware"
	"chart-analysis-backend/internal/shared/server/respond"
)

const statusURL = "/download-status"

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches pipeline routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/download-status", h.status)
	r.POST("/download", h.trigger)
	r.POST("/download-file", h.downloadFile)
	r.POST("/analyze", h.analyze)
	r.GET("/analysis/latest", h.latest)
	r.GET("/analysis/:date", h.byDate)
	r.GET("/latest-chart", h.chart(filestore.OriginalChart))
	r.GET("/annotated-chart", h.chart(filestore.AnnotatedChart))
	r.GET("/charts", h.charts)
}

func (h *Handler) status(c *gin.Context) {
	st := h.Svc.Status()
	c.Set(middleware.JobStateKey, st.State())
	respond.OK(c, st)
}

func (h *Handler) trigger(c *gin.Context) {
	date, err := h.Svc.TriggerCapture(c.Request.Context())
	c.Set(middleware.AsOfDateKey, date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.JobStateKey, "running")
	respond.Accepted(c, gin.H{
		"success":   true,
		"date":      date,
		"status":    "processing",
		"statusUrl": statusURL,
	})
}

func (h *Handler) downloadFile(c *gin.Context) {
	date, path, err := h.Svc.CaptureNow(c.Request.Context())
	c.Set(middleware.AsOfDateKey, date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.FileAttachment(path, "chart-"+date+".png")
}

func (h *Handler) analyze(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	row, err := h.Svc.Analyze(c.Request.Context(), date)
	if date != "" {
		c.Set(middleware.AsOfDateKey, date)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.AsOfDateKey, row.AsOfDate)
	respond.OK(c, gin.H{"success": true, "data": row})
}

func (h *Handler) latest(c *gin.Context) {
	row, err := h.Svc.Latest(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.AsOfDateKey, row.AsOfDate)
	respond.OK(c, gin.H{"success": true, "data": row})
}

func (h *Handler) byDate(c *gin.Context) {
	date := strings.TrimSpace(c.Param("date"))
	c.Set(middleware.AsOfDateKey, date)
	row, err := h.Svc.ByDate(c.Request.Context(), date)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"success": true, "data": row})
}

func (h *Handler) chart(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, path, err := h.Svc.LatestChart(c.Request.Context(), name)
		if date != "" {
			c.Set(middleware.AsOfDateKey, date)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.File(path)
	}
}

func (h *Handler) charts(c *gin.Context) {
	parts, err := h.Svc.Charts()
	if err != nil {
		writeError(c, err)
		return
	}
	if parts == nil {
		parts = []filestore.Partition{}
	}
	respond.OK(c, gin.H{"success": true, "data": parts})
}

// writeError maps component errors onto status codes.
func writeError(c *gin.Context, err error) {
	var (
		cfgErr     *config.ConfigurationError
		remoteErr  *llm.RemoteServiceError
		storageErr *analyses.StorageError
	)
	switch {
	case errors.Is(err, ErrCaptureRunning):
		respond.Error(c, http.StatusConflict, "capture_running", "a capture is already running")
	case errors.Is(err, ErrChartNotFound), errors.Is(err, filestore.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, analyses.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "no analysis found")
	case errors.Is(err, ErrInvalidDate), errors.Is(err, filestore.ErrInvalidKey):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error())
	case errors.As(err, &cfgErr):
		respond.Error(c, http.StatusServiceUnavailable, "not_configured", err.Error())
	case errors.As(err, &remoteErr):
		respond.Error(c, http.StatusBadGateway, "remote_service_error", err.Error())
	case errors.As(err, &storageErr):
		respond.Error(c, http.StatusInternalServerError, "storage_error", err.Error())
	default:
		respond.Error(c, http.StatusInternalServerError, "internal", err.Error())
	}
}
