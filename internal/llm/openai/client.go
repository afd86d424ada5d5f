package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chart-analysis-backend/internal/analyses"
	"chart-analysis-backend/internal/llm"
	"chart-analysis-backend/internal/shared/telemetry"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultPollInterval = 2 * time.Second
	defaultRunTimeout   = 5 * time.Minute
	serviceName         = "openai"
)

// Config configures the assistant client.
type Config struct {
	APIKey       string
	AssistantID  string
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client implements llm.Analyzer against the OpenAI Assistants API:
// upload the image, open a thread, post the instruction, start a run, poll
// it to a terminal state and read the reply.
type Client struct {
	apiKey       string
	assistantID  string
	baseURL      string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewClient constructs a new OpenAI assistant client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.AssistantID) == "" {
		return nil, fmt.Errorf("OPENAI_ASSISTANT_ID is required")
	}
	c := &Client{
		apiKey:       cfg.APIKey,
		assistantID:  cfg.AssistantID,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		httpClient:   cfg.HTTPClient,
		sleep:        sleepContext,
		now:          time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.timeout <= 0 {
		c.timeout = defaultRunTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return c, nil
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type errorEnvelope struct {
	Error *apiError `json:"error"`
}

type fileObject struct {
	ID string `json:"id"`
}

type threadObject struct {
	ID string `json:"id"`
}

type runObject struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	LastError *apiError `json:"last_error"`
}

type messageContent struct {
	Type string `json:"type"`
	Text *struct {
		Value string `json:"value"`
	} `json:"text,omitempty"`
}

type messageList struct {
	Data []struct {
		Role    string           `json:"role"`
		Content []messageContent `json:"content"`
	} `json:"data"`
}

// Analyze runs one assistant conversation for the chart at imagePath. The
// uploaded file is deleted afterwards whatever the outcome.
func (c *Client) Analyze(ctx context.Context, imagePath, date string) (analyses.Layers, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return analyses.Layers{}, c.fail("upload", fmt.Errorf("read chart: %w", err))
	}

	fileID, err := c.uploadFile(ctx, filepath.Base(imagePath), data)
	if err != nil {
		return analyses.Layers{}, err
	}
	defer c.deleteFile(context.WithoutCancel(ctx), fileID)

	text, err := c.runThread(ctx, fileID, date)
	if err != nil {
		return analyses.Layers{}, err
	}

	layers, err := analyses.ParseLayers([]byte(text))
	if err != nil {
		return analyses.Layers{}, c.fail("malformed", err)
	}
	return layers, nil
}

func (c *Client) runThread(ctx context.Context, fileID, date string) (string, error) {
	var thread threadObject
	if err := c.doJSON(ctx, http.MethodPost, "/threads", map[string]any{}, &thread); err != nil {
		return "", err
	}

	message := map[string]any{
		"role": "user",
		"content": []map[string]any{
			{"type": "text", "text": llm.AnalysisInstruction(date)},
			{"type": "image_file", "image_file": map[string]any{"file_id": fileID, "detail": "high"}},
		},
	}
	if err := c.doJSON(ctx, http.MethodPost, "/threads/"+thread.ID+"/messages", message, nil); err != nil {
		return "", err
	}

	runReq := map[string]any{
		"assistant_id":    c.assistantID,
		"temperature":     0,
		"response_format": map[string]string{"type": "json_object"},
	}
	var run runObject
	if err := c.doJSON(ctx, http.MethodPost, "/threads/"+thread.ID+"/runs", runReq, &run); err != nil {
		return "", err
	}

	state, run, err := c.poll(ctx, thread.ID, run)
	if err != nil {
		return "", err
	}
	if state != StateSucceeded {
		var cause error
		if run.LastError != nil && run.LastError.Message != "" {
			cause = errors.New(run.LastError.Message)
		}
		return "", &llm.RemoteServiceError{Service: serviceName, Status: string(state), Err: cause}
	}

	return c.latestReply(ctx, thread.ID)
}

func (c *Client) poll(ctx context.Context, threadID string, run runObject) (RunState, runObject, error) {
	start := c.now()
	state := Next(run.Status, 0, c.timeout)
	for !state.Terminal() {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return "", run, c.fail(string(StateTimedOut), err)
		}
		if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+run.ID, nil, &run); err != nil {
			return "", run, err
		}
		state = Next(run.Status, c.now().Sub(start), c.timeout)
		telemetry.Debug("openai.run_poll", map[string]any{
			"thread_id": threadID,
			"run_id":    run.ID,
			"remote":    run.Status,
			"state":     string(state),
		})
	}
	return state, run, nil
}

func (c *Client) latestReply(ctx context.Context, threadID string) (string, error) {
	var list messageList
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/messages?order=desc&limit=1", nil, &list); err != nil {
		return "", err
	}
	for _, msg := range list.Data {
		if msg.Role != "assistant" {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text != nil && strings.TrimSpace(part.Text.Value) != "" {
				return part.Text.Value, nil
			}
		}
	}
	return "", c.fail("malformed", errors.New("response has no assistant text"))
}

func (c *Client) uploadFile(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "vision"); err != nil {
		return "", c.fail("upload", err)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", c.fail("upload", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", c.fail("upload", err)
	}
	if err := mw.Close(); err != nil {
		return "", c.fail("upload", err)
	}

	var file fileObject
	if err := c.do(ctx, http.MethodPost, "/files", &body, mw.FormDataContentType(), &file); err != nil {
		return "", err
	}
	if file.ID == "" {
		return "", c.fail("upload", errors.New("upload returned no file id"))
	}
	return file.ID, nil
}

// deleteFile is best effort; failures are logged only.
func (c *Client) deleteFile(ctx context.Context, fileID string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := c.do(ctx, http.MethodDelete, "/files/"+fileID, nil, "", nil); err != nil {
		telemetry.Warn("openai.file_delete_failed", map[string]any{"file_id": fileID, "error": err.Error()})
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	if in == nil {
		return c.do(ctx, method, path, nil, "", out)
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, bytes.NewReader(payload), "application/json", out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return c.fail("timeout", fmt.Errorf("openai request timeout: %w", err))
		}
		return c.fail("", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail("", err)
	}

	if resp.StatusCode >= 400 {
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil && env.Error != nil {
			return c.fail(fmt.Sprintf("http %d", resp.StatusCode), fmt.Errorf("%s (%s)", env.Error.Message, env.Error.Type))
		}
		return c.fail(fmt.Sprintf("http %d", resp.StatusCode), errors.New(strings.TrimSpace(string(raw))))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.fail("malformed", fmt.Errorf("openai response parse: %w", err))
	}
	return nil
}

func (c *Client) fail(status string, err error) error {
	return &llm.RemoteServiceError{Service: serviceName, Status: status, Err: err}
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

var _ llm.Analyzer = (*Client)(nil)
