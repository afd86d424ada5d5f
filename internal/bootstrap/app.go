package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"chart-analysis-backend/internal/analyses"
	"chart-analysis-backend/internal/capture"
	"chart-analysis-backend/internal/filestore"
	"chart-analysis-backend/internal/llm"
	"chart-analysis-backend/internal/llm/gemini"
	openai "chart-analysis-backend/internal/llm/openai"
	"chart-analysis-backend/internal/pipeline"
	"chart-analysis-backend/internal/scheduler"
	"chart-analysis-backend/internal/services/health"
	"chart-analysis-backend/internal/shared/config"
	"chart-analysis-backend/internal/shared/server"
	"chart-analysis-backend/internal/shared/storage/db"
	"chart-analysis-backend/internal/shared/storage/object"
	localstore "chart-analysis-backend/internal/shared/storage/object/local"
	s3store "chart-analysis-backend/internal/shared/storage/object/s3"
	"chart-analysis-backend/internal/shared/telemetry"
)

// App holds shared dependencies.
type App struct {
	Config    config.Config
	Router    *gin.Engine
	DB        *sql.DB
	Storage   string
	Files     *filestore.Store
	Archive   object.ObjectStore
	Repo      analyses.Repo
	Capturer  pipeline.Capturer
	Analyzer  llm.Analyzer
	Annotator llm.Annotator
	Pipeline  *pipeline.Service
	Health    *health.Service
	Scheduler *scheduler.Scheduler
}

// Option overrides a component, mainly for tests and the CLI.
type Option func(*App)

// WithCapturer replaces the browser capture engine.
func WithCapturer(c pipeline.Capturer) Option { return func(a *App) { a.Capturer = c } }

// WithAnalyzer replaces the analysis client.
func WithAnalyzer(an llm.Analyzer) Option { return func(a *App) { a.Analyzer = an } }

// WithAnnotator replaces the annotation client.
func WithAnnotator(an llm.Annotator) Option { return func(a *App) { a.Annotator = an } }

// WithDB uses an existing database handle instead of connecting.
func WithDB(sqlDB *sql.DB) Option {
	return func(a *App) {
		a.DB = sqlDB
		a.Storage = health.StoragePostgres
	}
}

// Build wires every component. Missing credentials install placeholders
// that fail on first use, so the server always starts.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	app := &App{Config: cfg}
	for _, opt := range opts {
		opt(app)
	}
	loc := cfg.Location()

	if app.DB == nil {
		app.DB, app.Storage = buildDB(ctx, cfg)
	}
	app.Repo = buildRepo(app.DB, app.Storage)

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Archive = archive
	storeOpts := []filestore.Option{filestore.WithLocation(loc)}
	if archive != nil {
		storeOpts = append(storeOpts, filestore.WithArchive(archive))
	}
	app.Files = filestore.New(cfg.DataDir, storeOpts...)

	if app.Capturer == nil {
		if app.Capturer, err = buildCapturer(cfg, app.Files); err != nil {
			return nil, err
		}
	}
	if app.Analyzer == nil {
		if app.Analyzer, err = buildAnalyzer(cfg); err != nil {
			return nil, err
		}
	}
	if app.Annotator == nil {
		app.Annotator = buildAnnotator(ctx, cfg)
	}

	app.Pipeline = pipeline.NewService(pipeline.Deps{
		Capturer:      app.Capturer,
		Files:         app.Files,
		Analyzer:      app.Analyzer,
		Annotator:     app.Annotator,
		Repo:          app.Repo,
		Location:      loc,
		MaxAttempts:   cfg.CaptureMaxAttempts,
		RetentionDays: cfg.RetentionDays,
	})
	app.Health = health.NewService(cfg, app.DB, app.Storage, app.Pipeline)

	if cfg.ScheduleCron != "" {
		app.Scheduler, err = scheduler.New(ctx, app.Pipeline, cfg.ScheduleCron, loc, cfg.ScheduleTimeout)
		if err != nil {
			return nil, err
		}
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:   cfg,
		Health:   app.Health,
		Pipeline: pipeline.NewHandler(app.Pipeline),
	})
	return app, nil
}

// Close releases the database handle after background jobs have finished.
func (a *App) Close() {
	if a.Pipeline != nil {
		a.Pipeline.Wait()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			telemetry.Warn("bootstrap.db_close_failed", map[string]any{"error": err.Error()})
		}
	}
}

// buildDB never fails: outside dev a missing or unreachable database leaves
// storage unavailable so health and status stay reachable.
func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, string) {
	fallback := health.StorageUnavailable
	if config.IsDevLike(cfg.Env) {
		fallback = health.StorageMemory
	}

	if cfg.DatabaseURL == "" {
		telemetry.Warn("bootstrap.database_url_empty", map[string]any{"env": cfg.Env, "storage": fallback})
		return nil, fallback
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err != nil {
		telemetry.Error("bootstrap.database_connect_failed", map[string]any{"error": err.Error(), "storage": fallback})
		return nil, fallback
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		telemetry.Error("bootstrap.migrations_failed", map[string]any{"error": err.Error(), "storage": fallback})
		sqlDB.Close()
		return nil, fallback
	}
	return sqlDB, health.StoragePostgres
}

func buildRepo(sqlDB *sql.DB, storage string) analyses.Repo {
	switch {
	case sqlDB != nil:
		return &analyses.PGRepo{DB: sqlDB}
	case storage == health.StorageMemory:
		return analyses.NewMemoryRepo()
	default:
		return analyses.UnavailableRepo{Err: fmt.Errorf("database unavailable")}
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ArchiveStore {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, &config.ConfigurationError{Keys: []string{"S3_BUCKET"}}
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "local":
		dir := strings.TrimSpace(cfg.ArchiveDir)
		if dir == "" {
			dir = filepath.Join(cfg.DataDir, "..", "archive")
		}
		return localstore.New(dir), nil
	default:
		return nil, nil
	}
}

func buildCapturer(cfg config.Config, files *filestore.Store) (pipeline.Capturer, error) {
	if err := cfg.RequireCapture(); err != nil {
		telemetry.Warn("bootstrap.capture_unconfigured", map[string]any{"error": err.Error()})
		return capture.Unconfigured{Err: err}, nil
	}

	rules := capture.DefaultRules()
	if cfg.OverlaysFile != "" {
		loaded, err := capture.LoadRules(cfg.OverlaysFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	var crop *image.Rectangle
	x, y, w, h, ok, err := cfg.CropRect()
	if err != nil {
		return nil, err
	}
	if ok {
		r := image.Rect(x, y, x+w, y+h)
		crop = &r
	}

	launcher := capture.ChromeLauncher{NoSandbox: cfg.ChromeNoSandbox, UserAgent: cfg.ChromeUserAgent}
	return capture.NewEngine(launcher, files, capture.Options{
		URL:             cfg.ChartURL,
		Width:           cfg.ViewportWidth,
		Height:          cfg.ViewportHeight,
		RenderSelector:  cfg.RenderSelector,
		NavTimeout:      cfg.NavTimeout,
		RenderWait:      cfg.RenderWait,
		Settle:          cfg.RenderSettle,
		DismissAttempts: cfg.DismissAttempts,
		DismissInterval: cfg.DismissInterval,
		ClickTimeout:    cfg.ClickTimeout,
		Crop:            crop,
		Rules:           rules,
		MaxAttempts:     cfg.CaptureMaxAttempts,
		Backoff:         cfg.CaptureBackoff,
	}), nil
}

func buildAnalyzer(cfg config.Config) (llm.Analyzer, error) {
	if err := cfg.RequireAnalysis(); err != nil {
		telemetry.Warn("bootstrap.analysis_unconfigured", map[string]any{"error": err.Error()})
		return llm.UnconfiguredAnalyzer{Err: err}, nil
	}
	return openai.NewClient(openai.Config{
		APIKey:       cfg.OpenAIAPIKey,
		AssistantID:  cfg.OpenAIAssistantID,
		BaseURL:      cfg.OpenAIBaseURL,
		PollInterval: cfg.AnalysisPollInterval,
		Timeout:      cfg.AnalysisTimeout,
	})
}

func buildAnnotator(ctx context.Context, cfg config.Config) llm.Annotator {
	if err := cfg.RequireAnnotation(); err != nil {
		telemetry.Warn("bootstrap.annotation_unconfigured", map[string]any{"error": err.Error()})
		return llm.UnconfiguredAnnotator{Err: err}
	}
	annotator, err := gemini.NewAnnotator(ctx, cfg.GeminiAPIKey, cfg.GeminiImageModel)
	if err != nil {
		telemetry.Error("bootstrap.annotation_client_failed", map[string]any{"error": err.Error()})
		return llm.UnconfiguredAnnotator{Err: err}
	}
	return annotator
}
