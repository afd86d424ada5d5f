package pipeline

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"chart-analysis-backend/internal/llm"
	"chart-analysis-backend/internal/shared/config"
)

func newTestRouter(env *testEnv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(env.svc).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
	return body
}

func TestDownloadTriggerAndConflict(t *testing.T) {
	env := newTestEnv(t)
	env.capturer.started = make(chan struct{}, 1)
	env.capturer.release = make(chan struct{})
	r := newTestRouter(env)

	first := do(r, http.MethodPost, "/download")
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", first.Code, first.Body.String())
	}
	body := decode(t, first)
	if body["status"] != "processing" || body["date"] != "2025-11-30" || body["statusUrl"] != "/download-status" {
		t.Fatalf("unexpected trigger body: %v", body)
	}
	<-env.capturer.started

	second := do(r, http.MethodPost, "/download")
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.Code)
	}
	if b := decode(t, second); b["success"] != false || b["timestamp"] == "" {
		t.Fatalf("unexpected error body: %v", b)
	}

	status := decode(t, do(r, http.MethodGet, "/download-status"))
	if status["isRunning"] != true {
		t.Fatalf("status should report running: %v", status)
	}

	close(env.capturer.release)
	env.svc.Wait()

	status = decode(t, do(r, http.MethodGet, "/download-status"))
	if status["isRunning"] != false || status["lastSuccess"] != true {
		t.Fatalf("unexpected final status: %v", status)
	}
	if env.capturer.Calls() != 1 {
		t.Fatalf("expected one capture, got %d", env.capturer.Calls())
	}
}

func TestDownloadFileStreamsPNG(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env)

	resp := do(r, http.MethodPost, "/download-file")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "chart-2025-11-30.png") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if resp.Body.String() != string(fakePNG) {
		t.Fatalf("body does not match captured chart")
	}
}

func TestAnalyzeEndpointWithAnnotationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedChart(t, "2025-11-30")
	env.annotator.err = &llm.AnnotationError{Reason: "no image part"}
	r := newTestRouter(env)

	resp := do(r, http.MethodPost, "/analyze")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	data := decode(t, resp)["data"].(map[string]any)
	if v, ok := data["annotated_chart_url"]; !ok || v != nil {
		t.Fatalf("annotated_chart_url should be null, got %v", v)
	}
	if data["scenario1_probability"] != 0.5 {
		t.Fatalf("scenario1_probability = %v", data["scenario1_probability"])
	}

	latest := do(r, http.MethodGet, "/analysis/latest")
	if latest.Code != http.StatusOK {
		t.Fatalf("latest: expected 200, got %d", latest.Code)
	}
	if got := do(r, http.MethodGet, "/latest-chart"); got.Code != http.StatusOK || !strings.HasPrefix(got.Header().Get("Content-Type"), "image/png") {
		t.Fatalf("latest-chart: code=%d type=%q", got.Code, got.Header().Get("Content-Type"))
	}
	if got := do(r, http.MethodGet, "/annotated-chart"); got.Code != http.StatusNotFound {
		t.Fatalf("annotated-chart: expected 404, got %d", got.Code)
	}
}

func TestAnalyzeEndpointErrors(t *testing.T) {
	cases := []struct {
		name     string
		path     string
		seed     bool
		analyzer error
		want     int
	}{
		{name: "no chart", path: "/analyze", want: http.StatusNotFound},
		{name: "bad date", path: "/analyze?date=11/30/2025", want: http.StatusBadRequest},
		{name: "remote failure", path: "/analyze", seed: true, analyzer: &llm.RemoteServiceError{Service: "openai", Status: "failed"}, want: http.StatusBadGateway},
		{name: "not configured", path: "/analyze", seed: true, analyzer: &config.ConfigurationError{Keys: []string{"OPENAI_API_KEY"}}, want: http.StatusServiceUnavailable},
		{name: "unexpected", path: "/analyze", seed: true, analyzer: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tc.seed {
				env.seedChart(t, "2025-11-30")
			}
			env.analyzer.err = tc.analyzer
			resp := do(newTestRouter(env), http.MethodPost, tc.path)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
			if decode(t, resp)["success"] != false {
				t.Fatalf("error body must carry success=false")
			}
		})
	}
}

func TestAnalysisLookups(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env)

	if resp := do(r, http.MethodGet, "/analysis/latest"); resp.Code != http.StatusNotFound {
		t.Fatalf("empty store: expected 404, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/latest-chart"); resp.Code != http.StatusNotFound {
		t.Fatalf("latest-chart with empty store: expected 404, got %d", resp.Code)
	}

	env.seedChart(t, "2025-11-28")
	if resp := do(r, http.MethodPost, "/analyze?date=2025-11-28"); resp.Code != http.StatusOK {
		t.Fatalf("analyze: %d %s", resp.Code, resp.Body.String())
	}
	resp := do(r, http.MethodGet, "/analysis/2025-11-28")
	if resp.Code != http.StatusOK {
		t.Fatalf("by date: expected 200, got %d", resp.Code)
	}
	if data := decode(t, resp)["data"].(map[string]any); data["asof_date"] != "2025-11-28" {
		t.Fatalf("unexpected record: %v", data)
	}
	if resp := do(r, http.MethodGet, "/analysis/2025-11-27"); resp.Code != http.StatusNotFound {
		t.Fatalf("missing date: expected 404, got %d", resp.Code)
	}
}

func TestChartsListing(t *testing.T) {
	env := newTestEnv(t)
	env.seedChart(t, "2025-11-29")
	env.seedChart(t, "2025-11-30")

	body := decode(t, do(newTestRouter(env), http.MethodGet, "/charts"))
	parts := body["data"].([]any)
	if len(parts) != 2 || parts[0].(map[string]any)["date"] != "2025-11-30" {
		t.Fatalf("partitions should be newest first: %v", parts)
	}
}
