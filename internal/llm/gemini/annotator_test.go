package gemini

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"chart-analysis-backend/internal/analyses"
	"chart-analysis-backend/internal/llm"
)

type fakeModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func responseWith(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}}},
	}
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "original_chart.png")
	require.NoError(t, os.WriteFile(path, []byte("source-png"), 0o644))
	return path
}

func TestAnnotateWritesFirstImage(t *testing.T) {
	msg := "reduce exposure"
	fake := &fakeModels{resp: responseWith(
		genai.NewPartFromText("here you go"),
		genai.NewPartFromBytes([]byte("annotated-png"), "image/png"),
	)}
	a := newAnnotator(fake, "")

	out := filepath.Join(t.TempDir(), "nested", "annotated_chart.png")
	got, err := a.Annotate(context.Background(), writeInput(t), out, analyses.Layer3{
		ScenarioSummary: []string{"pullback likely"},
		PrimaryMessage:  &msg,
	})
	require.NoError(t, err)
	require.Equal(t, out, got)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "annotated-png", string(data))

	require.Equal(t, defaultImageModel, fake.model)
	require.Len(t, fake.contents, 1)
	parts := fake.contents[0].Parts
	require.Len(t, parts, 2)
	require.True(t, strings.Contains(parts[0].Text, "- pullback likely"))
	require.Equal(t, []byte("source-png"), parts[1].InlineData.Data)
	require.Contains(t, fake.config.ResponseModalities, "IMAGE")
}

func TestAnnotateTextOnlyResponse(t *testing.T) {
	fake := &fakeModels{resp: responseWith(genai.NewPartFromText("I cannot edit images"))}
	_, err := newAnnotator(fake, "m").Annotate(context.Background(), writeInput(t), filepath.Join(t.TempDir(), "out.png"), analyses.Layer3{})

	var ae *llm.AnnotationError
	require.True(t, errors.As(err, &ae))
	require.Contains(t, ae.Error(), "I cannot edit images")
}

func TestAnnotateEmptyResponse(t *testing.T) {
	fake := &fakeModels{resp: &genai.GenerateContentResponse{}}
	_, err := newAnnotator(fake, "m").Annotate(context.Background(), writeInput(t), filepath.Join(t.TempDir(), "out.png"), analyses.Layer3{})

	var ae *llm.AnnotationError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, "no image in response", ae.Reason)
}

func TestAnnotateMissingInput(t *testing.T) {
	fake := &fakeModels{}
	_, err := newAnnotator(fake, "m").Annotate(context.Background(), filepath.Join(t.TempDir(), "missing.png"), "out.png", analyses.Layer3{})

	var ae *llm.AnnotationError
	require.True(t, errors.As(err, &ae))
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Nil(t, fake.contents)
}

func TestAnnotateRemoteFailure(t *testing.T) {
	fake := &fakeModels{err: errors.New("quota exceeded")}
	_, err := newAnnotator(fake, "m").Annotate(context.Background(), writeInput(t), filepath.Join(t.TempDir(), "out.png"), analyses.Layer3{})

	var rse *llm.RemoteServiceError
	require.True(t, errors.As(err, &rse))
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	got := truncate("趋势向下突破", 3)
	require.Equal(t, "趋势向...", got)
	require.True(t, utf8.ValidString(got))
}
