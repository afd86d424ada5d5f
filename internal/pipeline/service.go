// Package pipeline sequences capture, analysis, annotation and persistence
// for one calendar date and tracks the single background capture job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chart-analysis-backend/internal/analyses"
	"chart-analysis-backend/internal/dateutil"
	"chart-analysis-backend/internal/filestore"
	"chart-analysis-backend/internal/llm"
	"chart-analysis-backend/internal/shared/metrics"
	"chart-analysis-backend/internal/shared/telemetry"
)

var (
	ErrCaptureRunning = errors.New("capture already running")
	ErrChartNotFound  = errors.New("chart not found")
	ErrInvalidDate    = errors.New("invalid date")
)

// Capturer produces the original chart for a date and returns its path.
type Capturer interface {
	CaptureWithRetry(ctx context.Context, date string, maxAttempts int) (string, error)
}

// Files is the partitioned artifact store.
type Files interface {
	Path(date, name string) (string, error)
	Exists(date, name string) bool
	Save(ctx context.Context, date, name string, data []byte) (string, error)
	List() ([]filestore.Partition, error)
	Prune(ctx context.Context, days int) (filestore.PruneResult, error)
}

// readiness is implemented by placeholders that can report a configuration
// problem before a job starts.
type readiness interface {
	Ready() error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Capturer      Capturer
	Files         Files
	Analyzer      llm.Analyzer
	Annotator     llm.Annotator
	Repo          analyses.Repo
	Location      *time.Location
	MaxAttempts   int
	RetentionDays int
	Now           func() time.Time
}

// Service is the orchestrator. It owns the capture job status.
type Service struct {
	capturer      Capturer
	files         Files
	analyzer      llm.Analyzer
	annotator     llm.Annotator
	repo          analyses.Repo
	loc           *time.Location
	maxAttempts   int
	retentionDays int
	now           func() time.Time

	tracker *Tracker
	wg      sync.WaitGroup
}

// NewService constructs a Service.
func NewService(d Deps) *Service {
	s := &Service{
		capturer:      d.Capturer,
		files:         d.Files,
		analyzer:      d.Analyzer,
		annotator:     d.Annotator,
		repo:          d.Repo,
		loc:           d.Location,
		maxAttempts:   d.MaxAttempts,
		retentionDays: d.RetentionDays,
		now:           d.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.annotator == nil {
		s.annotator = llm.UnconfiguredAnnotator{}
	}
	s.tracker = NewTracker(s.now)
	return s
}

// Today is the partition key for the current date in the configured zone.
func (s *Service) Today() string {
	return dateutil.Today(s.now(), s.loc)
}

// Status returns a snapshot of the capture job.
func (s *Service) Status() JobStatus {
	return s.tracker.Snapshot()
}

// Wait blocks until background captures have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// TriggerCapture starts a background capture for today and returns the
// date it targets. The job outlives ctx's cancellation.
func (s *Service) TriggerCapture(ctx context.Context) (string, error) {
	date := s.Today()
	if err := s.begin(date); err != nil {
		return date, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.capture(context.WithoutCancel(ctx), date)
	}()
	return date, nil
}

// CaptureNow runs a capture for today in the caller's goroutine.
func (s *Service) CaptureNow(ctx context.Context) (string, string, error) {
	date := s.Today()
	if err := s.begin(date); err != nil {
		return date, "", err
	}
	path, err := s.capture(ctx, date)
	return date, path, err
}

func (s *Service) begin(date string) error {
	if r, ok := s.capturer.(readiness); ok {
		if err := r.Ready(); err != nil {
			return err
		}
	}
	if !s.tracker.TryStart(date) {
		metrics.IncCaptureRejected()
		telemetry.Warn("capture.rejected", map[string]any{"date": date, "reason": "already running"})
		return ErrCaptureRunning
	}
	metrics.IncCaptureStarted()
	telemetry.Info("capture.status", map[string]any{"date": date, "status_transition": "idle->running"})
	return nil
}

// capture runs the retrying capture and records the outcome on the tracker.
// The caller must have won begin.
func (s *Service) capture(ctx context.Context, date string) (string, error) {
	start := s.now()
	path, err := s.capturer.CaptureWithRetry(ctx, date, s.maxAttempts)
	metrics.ObserveCapture(s.now().Sub(start))
	s.tracker.Finish(path, err)

	if err != nil {
		metrics.IncCaptureFailed()
		telemetry.Error("capture.status", map[string]any{
			"date":              date,
			"status_transition": "running->failed",
			"error":             err.Error(),
		})
		return "", err
	}
	metrics.IncCaptureSucceeded()
	telemetry.Info("capture.status", map[string]any{
		"date":              date,
		"status_transition": "running->succeeded",
		"path":              path,
	})
	return path, nil
}

// Analyze runs analyze -> annotate -> persist for an already captured chart.
// An empty date means today. Annotation failures are logged and leave the
// annotated chart reference null; any other failure aborts the sequence.
func (s *Service) Analyze(ctx context.Context, date string) (analyses.Row, error) {
	date, err := s.resolveDate(date)
	if err != nil {
		return analyses.Row{}, err
	}
	if !s.files.Exists(date, filestore.OriginalChart) {
		return analyses.Row{}, fmt.Errorf("%w for %s", ErrChartNotFound, date)
	}
	imagePath, err := s.files.Path(date, filestore.OriginalChart)
	if err != nil {
		return analyses.Row{}, err
	}

	start := s.now()
	telemetry.Info("analysis.status", map[string]any{"date": date, "status_transition": "idle->running"})
	row, err := s.analyze(ctx, date, imagePath)
	metrics.ObserveAnalysis(s.now().Sub(start))
	if err != nil {
		metrics.IncAnalysisFailed()
		telemetry.Error("analysis.status", map[string]any{
			"date":              date,
			"status_transition": "running->failed",
			"error":             err.Error(),
		})
		return analyses.Row{}, err
	}
	metrics.IncAnalysisCompleted()
	telemetry.Info("analysis.status", map[string]any{
		"date":              date,
		"status_transition": "running->succeeded",
		"annotated":         row.AnnotatedChartURL != nil,
	})
	return row, nil
}

func (s *Service) analyze(ctx context.Context, date, imagePath string) (analyses.Row, error) {
	layers, err := s.analyzer.Analyze(ctx, imagePath, date)
	if err != nil {
		return analyses.Row{}, err
	}

	if len(layers.Raw) > 0 {
		if _, err := s.files.Save(ctx, date, filestore.RawAnalysis, layers.Raw); err != nil {
			telemetry.Warn("analysis.raw_save_failed", map[string]any{"date": date, "error": err.Error()})
		}
	}

	rec := analyses.BuildRecord(date, layers)
	rec.OriginalChartURL = filestore.Ref(date, filestore.OriginalChart)
	rec.AnnotatedChartURL = s.annotate(ctx, date, imagePath, layers.Layer3)

	return s.repo.Save(ctx, rec)
}

// annotate returns the annotated chart reference, or nil when annotation
// failed.
func (s *Service) annotate(ctx context.Context, date, imagePath string, summary analyses.Layer3) *string {
	out, err := s.files.Path(date, filestore.AnnotatedChart)
	if err == nil {
		_, err = s.annotator.Annotate(ctx, imagePath, out, summary)
	}
	if err != nil {
		metrics.IncAnnotationFailed()
		telemetry.Warn("annotation.failed", map[string]any{"date": date, "error": err.Error()})
		return nil
	}
	ref := filestore.Ref(date, filestore.AnnotatedChart)
	return &ref
}

// Latest returns the most recent stored analysis.
func (s *Service) Latest(ctx context.Context) (analyses.Row, error) {
	return s.repo.GetLatest(ctx)
}

// ByDate returns the stored analysis for date.
func (s *Service) ByDate(ctx context.Context, date string) (analyses.Row, error) {
	date, err := s.resolveDate(date)
	if err != nil {
		return analyses.Row{}, err
	}
	return s.repo.GetByDate(ctx, date)
}

// LatestChart returns the path of an artifact in the latest record's
// partition.
func (s *Service) LatestChart(ctx context.Context, name string) (string, string, error) {
	row, err := s.repo.GetLatest(ctx)
	if err != nil {
		return "", "", err
	}
	date := row.AsOfDate
	if !s.files.Exists(date, name) {
		return date, "", fmt.Errorf("%w: %s", ErrChartNotFound, filestore.Ref(date, name))
	}
	path, err := s.files.Path(date, name)
	return date, path, err
}

// Charts lists stored partitions, newest first.
func (s *Service) Charts() ([]filestore.Partition, error) {
	return s.files.List()
}

// Prune applies the retention policy to the file store.
func (s *Service) Prune(ctx context.Context) (filestore.PruneResult, error) {
	res, err := s.files.Prune(ctx, s.retentionDays)
	metrics.AddPrunedPartitions(len(res.Removed))
	return res, err
}

// RunDaily captures today's chart, analyzes it and prunes old partitions.
// Capture and analysis errors are returned; prune errors are only logged.
func (s *Service) RunDaily(ctx context.Context) (analyses.Row, error) {
	date := s.Today()
	if err := s.begin(date); err != nil {
		return analyses.Row{}, err
	}
	if _, err := s.capture(ctx, date); err != nil {
		return analyses.Row{}, err
	}
	row, err := s.Analyze(ctx, date)
	if err != nil {
		return analyses.Row{}, err
	}
	if _, err := s.Prune(ctx); err != nil {
		telemetry.Warn("retention.prune_failed", map[string]any{"error": err.Error()})
	}
	return row, nil
}

func (s *Service) resolveDate(date string) (string, error) {
	if date == "" {
		return s.Today(), nil
	}
	if !dateutil.IsKey(date) {
		return "", fmt.Errorf("%w %q: expected YYYY-MM-DD", ErrInvalidDate, date)
	}
	return date, nil
}
