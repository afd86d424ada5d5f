package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"chart-analysis-backend/internal/analyses"
	"chart-analysis-backend/internal/llm"
	"chart-analysis-backend/internal/shared/telemetry"
)

const defaultImageModel = "gemini-2.5-flash-image"

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Annotator implements llm.Annotator with a Gemini image model.
type Annotator struct {
	models generator
	model  string
}

// NewAnnotator constructs a Gemini-backed annotator.
func NewAnnotator(ctx context.Context, apiKey, model string) (*Annotator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return newAnnotator(client.Models, model), nil
}

func newAnnotator(models generator, model string) *Annotator {
	if strings.TrimSpace(model) == "" {
		model = defaultImageModel
	}
	return &Annotator{models: models, model: model}
}

// Annotate sends the chart and the condensed summary in one request and
// writes the first returned image to outputPath.
func (a *Annotator) Annotate(ctx context.Context, inputPath, outputPath string, summary analyses.Layer3) (string, error) {
	src, err := os.ReadFile(inputPath)
	if err != nil {
		return "", &llm.AnnotationError{Reason: "input image unavailable", Err: err}
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromText(llm.AnnotationInstruction(summary)),
			genai.NewPartFromBytes(src, "image/png"),
		},
	}}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	resp, err := a.models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return "", &llm.AnnotationError{Reason: "generation failed", Err: &llm.RemoteServiceError{Service: "gemini", Err: err}}
	}

	img, text := firstImage(resp)
	if img == nil {
		reason := "no image in response"
		if text != "" {
			reason = "model returned text instead of an image"
			telemetry.Warn("gemini.annotation_text_only", map[string]any{"text": truncate(text, 300)})
			return "", &llm.AnnotationError{Reason: reason, Err: errors.New(truncate(text, 300))}
		}
		return "", &llm.AnnotationError{Reason: reason}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", &llm.AnnotationError{Reason: "create output dir", Err: err}
	}
	if err := os.WriteFile(outputPath, img, 0o644); err != nil {
		return "", &llm.AnnotationError{Reason: "write output", Err: err}
	}
	return outputPath, nil
}

func firstImage(resp *genai.GenerateContentResponse) ([]byte, string) {
	if resp == nil {
		return nil, ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, ""
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
	}
	return nil, strings.TrimSpace(text.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var _ llm.Annotator = (*Annotator)(nil)
