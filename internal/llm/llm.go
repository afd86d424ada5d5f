package llm

import (
	"context"
	"errors"
	"fmt"

	"chart-analysis-backend/internal/analyses"
)

// Analyzer submits a chart image to the remote analysis service and returns
// the key-normalized three-layer result.
type Analyzer interface {
	Analyze(ctx context.Context, imagePath, date string) (analyses.Layers, error)
}

// Annotator overlays the layer-3 summary onto a chart image and writes the
// result to outputPath.
type Annotator interface {
	Annotate(ctx context.Context, inputPath, outputPath string, summary analyses.Layer3) (string, error)
}

// RemoteServiceError reports a failed call to an external model service.
// Status carries the remote run state or HTTP status when known.
type RemoteServiceError struct {
	Service string
	Status  string
	Err     error
}

func (e *RemoteServiceError) Error() string {
	msg := e.Service
	if e.Status != "" {
		msg += " " + e.Status
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// AnnotationError reports why an annotated image could not be produced.
type AnnotationError struct {
	Reason string
	Err    error
}

func (e *AnnotationError) Error() string {
	if e.Err == nil {
		return "annotation failed: " + e.Reason
	}
	return fmt.Sprintf("annotation failed: %s: %v", e.Reason, e.Err)
}

func (e *AnnotationError) Unwrap() error { return e.Err }

// ErrNotConfigured is returned by placeholders when credentials are absent.
var ErrNotConfigured = errors.New("model service not configured")

// UnconfiguredAnalyzer stands in for the analysis client until credentials
// are provided. Err is typically a *config.ConfigurationError.
type UnconfiguredAnalyzer struct {
	Err error
}

// Analyze returns the configuration error.
func (u UnconfiguredAnalyzer) Analyze(ctx context.Context, imagePath, date string) (analyses.Layers, error) {
	if u.Err != nil {
		return analyses.Layers{}, u.Err
	}
	return analyses.Layers{}, ErrNotConfigured
}

// UnconfiguredAnnotator stands in for the annotation client.
type UnconfiguredAnnotator struct {
	Err error
}

// Annotate returns the configuration error wrapped as an AnnotationError.
func (u UnconfiguredAnnotator) Annotate(ctx context.Context, inputPath, outputPath string, summary analyses.Layer3) (string, error) {
	err := u.Err
	if err == nil {
		err = ErrNotConfigured
	}
	return "", &AnnotationError{Reason: "not configured", Err: err}
}

var (
	_ Analyzer  = UnconfiguredAnalyzer{}
	_ Annotator = UnconfiguredAnnotator{}
)
