// Package capture drives a headless browser to screenshot the configured
// chart page.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"chart-analysis-backend/internal/filestore"
	"chart-analysis-backend/internal/shared/telemetry"
)

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitRender blocks until selector is visible.
	WaitRender(ctx context.Context, selector string) error
	// Apply runs rule against the current DOM and returns how many elements
	// it acted on. Each element interaction is bounded by timeout.
	Apply(ctx context.Context, rule Rule, timeout time.Duration) (int, error)
	// Screenshot captures the viewport, not the full page.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher starts an isolated browser with a fixed viewport.
type Launcher interface {
	Launch(ctx context.Context, width, height int) (Page, error)
}

// Saver persists the captured bytes under a date partition.
type Saver interface {
	Save(ctx context.Context, date, name string, data []byte) (string, error)
}

// Options configures a capture run.
type Options struct {
	URL             string
	Width           int
	Height          int
	RenderSelector  string
	NavTimeout      time.Duration
	RenderWait      time.Duration
	Settle          time.Duration
	DismissAttempts int
	DismissInterval time.Duration
	ClickTimeout    time.Duration
	Crop            *image.Rectangle
	Rules           []Rule
	MaxAttempts     int
	Backoff         time.Duration
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1920
	}
	if o.Height <= 0 {
		o.Height = 1080
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = 90 * time.Second
	}
	if o.RenderWait <= 0 {
		o.RenderWait = 15 * time.Second
	}
	if o.DismissAttempts <= 0 {
		o.DismissAttempts = 3
	}
	if o.DismissInterval <= 0 {
		o.DismissInterval = time.Second
	}
	if o.ClickTimeout <= 0 {
		o.ClickTimeout = 1500 * time.Millisecond
	}
	if o.Rules == nil {
		o.Rules = DefaultRules()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
	return o
}

// Engine captures the chart for a date and stores it as the partition's
// original chart.
type Engine struct {
	launcher Launcher
	store    Saver
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewEngine constructs an Engine.
func NewEngine(launcher Launcher, store Saver, opts Options) *Engine {
	return &Engine{
		launcher: launcher,
		store:    store,
		opts:     opts.withDefaults(),
		sleep:    sleepContext,
	}
}

// Capture runs one capture attempt and returns the stored file path.
func (e *Engine) Capture(ctx context.Context, date string) (string, error) {
	if e.opts.URL == "" {
		return "", &CaptureError{Stage: "configure", Err: errors.New("chart URL is empty")}
	}

	data, err := e.screenshot(ctx)
	if err != nil {
		return "", err
	}
	data = e.crop(data)

	path, err := e.store.Save(ctx, date, filestore.OriginalChart, data)
	if err != nil {
		return "", &CaptureError{Stage: "save", Err: err}
	}
	telemetry.Info("capture.saved", map[string]any{"date": date, "path": path, "bytes": len(data)})
	return path, nil
}

func (e *Engine) screenshot(ctx context.Context) ([]byte, error) {
	page, err := e.launcher.Launch(ctx, e.opts.Width, e.opts.Height)
	if err != nil {
		return nil, &CaptureError{Stage: "launch", Err: err}
	}
	defer func() {
		if err := page.Close(); err != nil {
			telemetry.Warn("capture.browser_close_failed", map[string]any{"error": err.Error()})
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, e.opts.NavTimeout)
	err = page.Navigate(navCtx, e.opts.URL)
	cancel()
	if err != nil {
		return nil, &CaptureError{Stage: "navigate", Err: err}
	}

	if e.opts.RenderSelector != "" {
		waitCtx, cancel := context.WithTimeout(ctx, e.opts.RenderWait)
		err := page.WaitRender(waitCtx, e.opts.RenderSelector)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, &CaptureError{Stage: "render", Err: ctx.Err()}
			}
			telemetry.Warn("capture.render_target_missing", map[string]any{
				"selector": e.opts.RenderSelector,
				"error":    err.Error(),
			})
		}
	}

	if err := e.dismissOverlays(ctx, page); err != nil {
		return nil, &CaptureError{Stage: "dismiss", Err: err}
	}

	if e.opts.Settle > 0 {
		if err := e.sleep(ctx, e.opts.Settle); err != nil {
			return nil, &CaptureError{Stage: "settle", Err: err}
		}
	}

	data, err := page.Screenshot(ctx)
	if err != nil {
		return nil, &CaptureError{Stage: "screenshot", Err: err}
	}
	if len(data) == 0 {
		return nil, &CaptureError{Stage: "screenshot", Err: errors.New("empty screenshot")}
	}
	return data, nil
}

// dismissOverlays applies every rule on each attempt. Rule errors are logged
// and skipped; only context cancellation aborts the loop.
func (e *Engine) dismissOverlays(ctx context.Context, page Page) error {
	for attempt := 1; attempt <= e.opts.DismissAttempts; attempt++ {
		total := 0
		for _, rule := range e.opts.Rules {
			n, err := page.Apply(ctx, rule, e.opts.ClickTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				telemetry.Debug("capture.dismiss_rule_failed", map[string]any{
					"rule":    rule.Name,
					"attempt": attempt,
					"error":   err.Error(),
				})
				continue
			}
			total += n
		}
		if total > 0 {
			telemetry.Info("capture.overlays_dismissed", map[string]any{"attempt": attempt, "count": total})
		}
		if attempt < e.opts.DismissAttempts {
			if err := e.sleep(ctx, e.opts.DismissInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

// crop returns the configured sub-rectangle, or data unchanged when no crop
// is set or the image cannot be cropped.
func (e *Engine) crop(data []byte) []byte {
	if e.opts.Crop == nil {
		return data
	}
	out, err := Crop(data, *e.opts.Crop)
	if err != nil {
		telemetry.Warn("capture.crop_failed", map[string]any{"error": err.Error()})
		return data
	}
	return out
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop cuts rect out of a PNG. rect is clipped to the image bounds; an empty
// intersection is an error.
func Crop(data []byte, rect image.Rectangle) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	r := rect.Intersect(img.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("crop %v outside image bounds %v", rect, img.Bounds())
	}
	si, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("image type %T cannot be cropped", img)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, si.SubImage(r)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// CaptureWithRetry retries Capture up to maxAttempts times, sleeping
// attempt*Backoff between tries. Intermediate failures are logged; only the
// last one is returned. maxAttempts <= 0 uses the configured bound.
func (e *Engine) CaptureWithRetry(ctx context.Context, date string, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = e.opts.MaxAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		path, err := e.Capture(ctx, date)
		if err == nil {
			if attempt > 1 {
				telemetry.Info("capture.recovered", map[string]any{"date": date, "attempt": attempt})
			}
			return path, nil
		}
		lastErr = err
		telemetry.Warn("capture.attempt_failed", map[string]any{
			"date":    date,
			"attempt": attempt,
			"max":     maxAttempts,
			"error":   err.Error(),
		})
		if attempt == maxAttempts {
			break
		}
		if err := e.sleep(ctx, time.Duration(attempt)*e.opts.Backoff); err != nil {
			lastErr = err
			break
		}
	}

	stage := "capture"
	var ce *CaptureError
	if errors.As(lastErr, &ce) {
		stage = ce.Stage
	}
	return "", &CaptureError{Stage: stage, Attempts: maxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
