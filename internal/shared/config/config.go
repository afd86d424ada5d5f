package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chart-analysis-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	DataDir         string
	Timezone        string
	LogLevel        string
	LogFormat       string

	ChartURL           string
	ViewportWidth      int
	ViewportHeight     int
	Crop               string
	RenderSelector     string
	NavTimeout         time.Duration
	RenderWait         time.Duration
	RenderSettle       time.Duration
	DismissAttempts    int
	DismissInterval    time.Duration
	ClickTimeout       time.Duration
	OverlaysFile       string
	ChromeNoSandbox    bool
	CaptureMaxAttempts int
	CaptureBackoff     time.Duration

	OpenAIAPIKey         string
	OpenAIAssistantID    string
	OpenAIBaseURL        string
	AnalysisPollInterval time.Duration
	AnalysisTimeout      time.Duration

	GeminiAPIKey     string
	GeminiImageModel string

	DatabaseURL   string
	RetentionDays int
	ArchiveStore  string
	ArchiveDir    string
	AWSRegion     string
	S3Bucket      string
	S3Prefix      string
	SSEKMSKeyID   string
	ScheduleCron  string

	ScheduleTimeout      time.Duration
	TriggerRatePerMinute int
	TriggerBurst         int
	ChromeUserAgent      string
}

var defaults = map[string]any{
	"PORT":                    "8080",
	"ENV":                     "dev",
	"CORS_ALLOW_ORIGINS":      "http://localhost:5173",
	"DATA_DIR":                "./data",
	"TIMEZONE":                "UTC",
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "json",
	"CHART_VIEWPORT_WIDTH":    1920,
	"CHART_VIEWPORT_HEIGHT":   1080,
	"CHART_RENDER_SELECTOR":   "canvas",
	"CHART_NAV_TIMEOUT":       "90s",
	"CHART_RENDER_WAIT":       "15s",
	"CHART_RENDER_SETTLE":     "8s",
	"CHART_DISMISS_ATTEMPTS":  3,
	"CHART_DISMISS_INTERVAL":  "1s",
	"CHART_CLICK_TIMEOUT":     "1500ms",
	"CHROME_NO_SANDBOX":       true,
	"CAPTURE_MAX_ATTEMPTS":    3,
	"CAPTURE_BACKOFF":         "5s",
	"OPENAI_BASE_URL":         "https://api.openai.com/v1",
	"ANALYSIS_POLL_INTERVAL":  "2s",
	"ANALYSIS_TIMEOUT":        "5m",
	"GEMINI_IMAGE_MODEL":      "gemini-2.5-flash-image",
	"RETENTION_DAYS":          30,
	"ARCHIVE_STORE":           "none",
	"SCHEDULE_TIMEOUT":        "30m",
	"TRIGGER_RATE_PER_MINUTE": 6,
	"TRIGGER_BURST":           3,
}

// Load reads configuration from a local .env file and environment variables.
// Environment variables win over .env values.
func Load() Config {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	loadEnvFiles(v, ".env", "cmd/.env")
	v.AutomaticEnv()

	cfg := Config{
		Port:            v.GetString("PORT"),
		Env:             normalizeEnv(v.GetString("ENV")),
		CORSAllowOrigin: splitAndTrim(v.GetString("CORS_ALLOW_ORIGINS")),
		DataDir:         v.GetString("DATA_DIR"),
		Timezone:        v.GetString("TIMEZONE"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),

		ChartURL:           strings.TrimSpace(v.GetString("CHART_URL")),
		ViewportWidth:      v.GetInt("CHART_VIEWPORT_WIDTH"),
		ViewportHeight:     v.GetInt("CHART_VIEWPORT_HEIGHT"),
		Crop:               strings.TrimSpace(v.GetString("CHART_CROP")),
		RenderSelector:     v.GetString("CHART_RENDER_SELECTOR"),
		NavTimeout:         v.GetDuration("CHART_NAV_TIMEOUT"),
		RenderWait:         v.GetDuration("CHART_RENDER_WAIT"),
		RenderSettle:       v.GetDuration("CHART_RENDER_SETTLE"),
		DismissAttempts:    v.GetInt("CHART_DISMISS_ATTEMPTS"),
		DismissInterval:    v.GetDuration("CHART_DISMISS_INTERVAL"),
		ClickTimeout:       v.GetDuration("CHART_CLICK_TIMEOUT"),
		OverlaysFile:       strings.TrimSpace(v.GetString("CHART_OVERLAYS_FILE")),
		ChromeNoSandbox:    v.GetBool("CHROME_NO_SANDBOX"),
		CaptureMaxAttempts: v.GetInt("CAPTURE_MAX_ATTEMPTS"),
		CaptureBackoff:     v.GetDuration("CAPTURE_BACKOFF"),

		OpenAIAPIKey:         strings.TrimSpace(v.GetString("OPENAI_API_KEY")),
		OpenAIAssistantID:    strings.TrimSpace(v.GetString("OPENAI_ASSISTANT_ID")),
		OpenAIBaseURL:        strings.TrimRight(v.GetString("OPENAI_BASE_URL"), "/"),
		AnalysisPollInterval: v.GetDuration("ANALYSIS_POLL_INTERVAL"),
		AnalysisTimeout:      v.GetDuration("ANALYSIS_TIMEOUT"),

		GeminiAPIKey:     strings.TrimSpace(v.GetString("GEMINI_API_KEY")),
		GeminiImageModel: v.GetString("GEMINI_IMAGE_MODEL"),

		DatabaseURL:   strings.TrimSpace(v.GetString("DATABASE_URL")),
		RetentionDays: v.GetInt("RETENTION_DAYS"),
		ArchiveStore:  normalizeArchiveStore(v.GetString("ARCHIVE_STORE")),
		ArchiveDir:    v.GetString("ARCHIVE_DIR"),
		AWSRegion:     v.GetString("AWS_REGION"),
		S3Bucket:      v.GetString("S3_BUCKET"),
		S3Prefix:      v.GetString("S3_PREFIX"),
		SSEKMSKeyID:   v.GetString("SSE_KMS_KEY_ID"),
		ScheduleCron:  strings.TrimSpace(v.GetString("SCHEDULE_CRON")),

		ScheduleTimeout:      v.GetDuration("SCHEDULE_TIMEOUT"),
		TriggerRatePerMinute: v.GetInt("TRIGGER_RATE_PER_MINUTE"),
		TriggerBurst:         v.GetInt("TRIGGER_BURST"),
		ChromeUserAgent:      strings.TrimSpace(v.GetString("CHROME_USER_AGENT")),
	}

	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": cfg.Env})
	}
	return cfg
}

// RequireCapture reports the settings needed to drive the chart browser.
func (c Config) RequireCapture() error {
	return requireKeys(map[string]string{"CHART_URL": c.ChartURL})
}

// RequireAnalysis reports the credentials needed by the analysis service.
func (c Config) RequireAnalysis() error {
	return requireKeys(map[string]string{
		"OPENAI_API_KEY":      c.OpenAIAPIKey,
		"OPENAI_ASSISTANT_ID": c.OpenAIAssistantID,
	})
}

// RequireAnnotation reports the credentials needed by the image service.
func (c Config) RequireAnnotation() error {
	return requireKeys(map[string]string{"GEMINI_API_KEY": c.GeminiAPIKey})
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		telemetry.Warn("config.timezone_invalid", map[string]any{"timezone": c.Timezone, "error": err.Error()})
		return time.UTC
	}
	return loc
}

// CropRect parses CHART_CROP ("x,y,w,h"). ok is false when cropping is disabled.
func (c Config) CropRect() (x, y, w, h int, ok bool, err error) {
	if c.Crop == "" {
		return 0, 0, 0, 0, false, nil
	}
	parts := splitAndTrim(c.Crop)
	if len(parts) != 4 {
		return 0, 0, 0, 0, false, fmt.Errorf("CHART_CROP must be x,y,w,h: %q", c.Crop)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, 0, false, fmt.Errorf("CHART_CROP %q: %w", c.Crop, err)
		}
		vals[i] = n
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return 0, 0, 0, 0, false, fmt.Errorf("CHART_CROP width and height must be positive: %q", c.Crop)
	}
	return vals[0], vals[1], vals[2], vals[3], true, nil
}

func requireKeys(values map[string]string) error {
	var missing []string
	for key, val := range values {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ConfigurationError{Keys: missing}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeArchiveStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "local":
		return "local"
	default:
		return "none"
	}
}

// IsDevLike reports whether env allows in-memory fallbacks.
func IsDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
