package capture

import (
	"context"
	"fmt"
)

// CaptureError reports a failed capture attempt. Stage names the step that
// failed (launch, navigate, screenshot, save).
type CaptureError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *CaptureError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("capture %s failed after %d attempts: %v", e.Stage, e.Attempts, e.Err)
	}
	return fmt.Sprintf("capture %s: %v", e.Stage, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Unconfigured stands in for the Engine when the chart URL is missing.
// Err is typically a *config.ConfigurationError.
type Unconfigured struct {
	Err error
}

// Ready returns the configuration error so callers can refuse a trigger
// before starting a job.
func (u Unconfigured) Ready() error { return u.Err }

// CaptureWithRetry returns the configuration error.
func (u Unconfigured) CaptureWithRetry(ctx context.Context, date string, maxAttempts int) (string, error) {
	return "", u.Err
}
