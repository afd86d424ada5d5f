package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"chart-analysis-backend/internal/pipeline"
	"chart-analysis-backend/internal/shared/config"
)

type staticJobs struct{ st pipeline.JobStatus }

func (s staticJobs) Status() pipeline.JobStatus { return s.st }

func TestStatusEchoesConfigAndJob(t *testing.T) {
	cfg := config.Config{
		Env:           "dev",
		ChartURL:      "https://charts.example.com/spx",
		OpenAIAPIKey:  "sk-secret",
		RetentionDays: 30,
	}
	svc := NewService(cfg, nil, StorageMemory, staticJobs{pipeline.JobStatus{IsRunning: true}})

	report := svc.Status(context.Background())
	if report.Status != "ok" || !report.Database.OK || report.Database.Mode != StorageMemory {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !report.Config.CaptureConfigured || report.Config.AnalysisConfigured {
		t.Fatalf("configured flags wrong: %+v", report.Config)
	}
	if !report.Job.IsRunning {
		t.Fatalf("job status not echoed")
	}

	raw, _ := json.Marshal(report)
	if strings.Contains(string(raw), "sk-secret") {
		t.Fatalf("health payload leaks credentials: %s", raw)
	}
}

func TestStatusPingsPostgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	svc := NewService(config.Config{}, sqlDB, StoragePostgres, nil)
	if r := svc.Status(context.Background()); r.Status != "ok" || !r.Database.OK {
		t.Fatalf("expected healthy database: %+v", r.Database)
	}
	r := svc.Status(context.Background())
	if r.Status != "degraded" || r.Database.OK || r.Database.Error == "" {
		t.Fatalf("expected degraded database: %+v", r.Database)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHealthRouteAlwaysOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewService(config.Config{}, nil, StorageUnavailable, nil).RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" {
		t.Fatalf("unavailable storage should report degraded: %v", body)
	}
	if _, ok := body["captureJob"]; !ok {
		t.Fatalf("captureJob missing from payload")
	}
}
