// Package health reports service status, the effective configuration and
// the current capture job.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chart-analysis-backend/internal/pipeline"
	"chart-analysis-backend/internal/shared/config"
	"chart-analysis-backend/internal/shared/server/respond"
	"chart-analysis-backend/internal/shared/storage/db"
)

// Storage modes reported under database.mode.
const (
	StoragePostgres    = "postgres"
	StorageMemory      = "memory"
	StorageUnavailable = "unavailable"
)

// JobSource exposes the capture job status.
type JobSource interface {
	Status() pipeline.JobStatus
}

// Service encapsulates health-related checks.
type Service struct {
	cfg         config.Config
	db          *sql.DB
	storage     string
	jobs        JobSource
	pingTimeout time.Duration
}

// NewService constructs a new health service. db may be nil when storage is
// not Postgres.
func NewService(cfg config.Config, sqlDB *sql.DB, storage string, jobs JobSource) *Service {
	return &Service{cfg: cfg, db: sqlDB, storage: storage, jobs: jobs, pingTimeout: 2 * time.Second}
}

// Report is the /health payload.
type Report struct {
	Status    string             `json:"status"`
	Timestamp string             `json:"timestamp"`
	Config    ConfigEcho         `json:"config"`
	Database  DatabaseStatus     `json:"database"`
	Job       pipeline.JobStatus `json:"captureJob"`
}

// ConfigEcho is the non-secret subset of configuration.
type ConfigEcho struct {
	Env                  string `json:"env"`
	ChartURL             string `json:"chartUrl"`
	DataDir              string `json:"dataDir"`
	Timezone             string `json:"timezone"`
	RetentionDays        int    `json:"retentionDays"`
	ArchiveStore         string `json:"archiveStore"`
	Schedule             string `json:"schedule"`
	CaptureConfigured    bool   `json:"captureConfigured"`
	AnalysisConfigured   bool   `json:"analysisConfigured"`
	AnnotationConfigured bool   `json:"annotationConfigured"`
}

// DatabaseStatus reports storage reachability.
type DatabaseStatus struct {
	Mode  string `json:"mode"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Status builds the health report. The service is "degraded" when Postgres
// is expected but unreachable; it never fails the request.
func (s *Service) Status(ctx context.Context) Report {
	report := Report{
		Status:    "ok",
		Timestamp: respond.Now(),
		Config: ConfigEcho{
			Env:                  s.cfg.Env,
			ChartURL:             s.cfg.ChartURL,
			DataDir:              s.cfg.DataDir,
			Timezone:             s.cfg.Timezone,
			RetentionDays:        s.cfg.RetentionDays,
			ArchiveStore:         s.cfg.ArchiveStore,
			Schedule:             s.cfg.ScheduleCron,
			CaptureConfigured:    s.cfg.RequireCapture() == nil,
			AnalysisConfigured:   s.cfg.RequireAnalysis() == nil,
			AnnotationConfigured: s.cfg.RequireAnnotation() == nil,
		},
		Database: DatabaseStatus{Mode: s.storage, OK: true},
	}
	if s.jobs != nil {
		report.Job = s.jobs.Status()
	}

	switch s.storage {
	case StoragePostgres:
		if err := db.Ping(ctx, s.db, s.pingTimeout); err != nil {
			report.Status = "degraded"
			report.Database.OK = false
			report.Database.Error = err.Error()
		}
	case StorageUnavailable:
		report.Status = "degraded"
		report.Database.OK = false
	}
	return report
}

// RegisterRoutes attaches GET /health.
func (s *Service) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, s.Status(c.Request.Context()))
	})
}
