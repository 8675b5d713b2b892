package runninghub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"mediaflow/internal/config"
	"mediaflow/internal/engine"
)

const (
	defaultBaseURL        = "https://www.runninghub.cn"
	defaultHTTPTimeout    = 300 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 5 * time.Second
	defaultRetryMaxDelay  = 60 * time.Second
	codeOK                = 0
	codeQueueFull         = 421
	maxErrorBody          = 512
)

// Config captures the settings needed to talk to RunningHub.
type Config struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
	RetryAttempts  int
	RetryDelay     time.Duration
}

// ConfigFrom maps the engine section of the application config.
func ConfigFrom(cfg config.Engine) Config {
	return Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		TimeoutSeconds: cfg.RequestTimeout,
		RetryAttempts:  cfg.MaxRetries,
		RetryDelay:     time.Duration(cfg.RetryDelay) * time.Second,
	}
}

// Client talks to the RunningHub OpenAPI.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sleeper    func(context.Context, time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		sleeper:    sleepContext,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

var _ engine.Engine = (*Client)(nil)

type apiError struct {
	Op      string
	Code    int64
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("runninghub %s: code %d: %s", e.Op, e.Code, e.Message)
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Upload sends a file and returns the name RunningHub assigned to it.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("runninghub upload %s: empty file", name)
	}
	body, err := c.doWithRetry(ctx, "upload", func() (*http.Request, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		if err := writer.WriteField("apiKey", c.cfg.APIKey); err != nil {
			return nil, err
		}
		part, err := writer.CreateFormFile("file", name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/task/openapi/upload", &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return "", err
	}
	result, err := checkCode("upload", body)
	if err != nil {
		return "", err
	}
	fileName := result.Get("data.fileName").String()
	if fileName == "" {
		return "", engine.Unavailable("upload", errors.New("response missing data.fileName"))
	}
	return fileName, nil
}

// Submit uploads attachments and creates a workflow task.
func (c *Client) Submit(ctx context.Context, job engine.Job) (string, error) {
	if strings.TrimSpace(job.WorkflowID) == "" {
		return "", errors.New("runninghub submit: workflow id required")
	}
	nodes := make([]nodeInfo, 0, len(job.Inputs)+len(job.Attachments))
	for _, att := range job.Attachments {
		fileName, err := c.Upload(ctx, att.Name, att.Data)
		if err != nil {
			return "", err
		}
		nodes = append(nodes, nodeInfo{NodeID: att.NodeID, FieldName: att.Field, FieldValue: fileName})
	}
	for _, in := range job.Inputs {
		nodes = append(nodes, nodeInfo{NodeID: in.NodeID, FieldName: in.Field, FieldValue: in.Value})
	}

	body, err := c.postJSON(ctx, "create", "/task/openapi/create", createRequest{
		APIKey:       c.cfg.APIKey,
		WorkflowID:   job.WorkflowID,
		NodeInfoList: nodes,
	})
	if err != nil {
		return "", err
	}
	result, err := checkCode("create", body)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == codeQueueFull {
			return "", engine.Unavailable("create", fmt.Errorf("%w: %s", engine.ErrQueueFull, apiErr.Message))
		}
		return "", err
	}
	taskID := firstString(result, "data.taskId", "data.task_id", "taskId", "task_id")
	if taskID == "" {
		return "", engine.Unavailable("create", errors.New("response missing task id"))
	}
	return taskID, nil
}

// Poll reports the state of a task. Succeeded tasks carry their output URLs.
func (c *Client) Poll(ctx context.Context, jobID string) (engine.Status, error) {
	body, err := c.postJSON(ctx, "status", "/task/openapi/status", taskRequest{APIKey: c.cfg.APIKey, TaskID: jobID})
	if err != nil {
		return engine.Status{}, err
	}
	result, err := checkCode("status", body)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && isUnknownTask(apiErr.Message) {
			return engine.Status{State: engine.StateUnknown, Message: apiErr.Message}, nil
		}
		return engine.Status{}, err
	}

	data := result.Get("data")
	raw := data.String()
	if data.IsObject() {
		raw = data.Get("status").String()
	}
	status := engine.Status{State: mapState(raw)}
	switch status.State {
	case engine.StateSucceeded:
		outputs, err := c.Outputs(ctx, jobID)
		if err != nil {
			return engine.Status{}, err
		}
		status.Artifacts = outputs
	case engine.StateFailed:
		status.Message = firstString(result, "data.failedReason", "data.message", "msg", "message")
		if status.Message == "" {
			status.Message = fmt.Sprintf("runninghub task %s failed", jobID)
		}
	case engine.StateRunning:
		if !knownState(raw) {
			status.Message = fmt.Sprintf("unrecognized task status %q; still waiting", raw)
		}
	}
	return status, nil
}

// Outputs lists the file URLs produced by a task.
func (c *Client) Outputs(ctx context.Context, jobID string) ([]string, error) {
	body, err := c.postJSON(ctx, "outputs", "/task/openapi/outputs", taskRequest{APIKey: c.cfg.APIKey, TaskID: jobID})
	if err != nil {
		return nil, err
	}
	result, err := checkCode("outputs", body)
	if err != nil {
		return nil, err
	}
	list := result.Get("data")
	if list.IsObject() {
		list = list.Get("outputs")
	}
	var urls []string
	list.ForEach(func(_, item gjson.Result) bool {
		switch {
		case item.Type == gjson.String:
			urls = append(urls, item.String())
		case item.IsObject():
			if u := firstString(item, "fileUrl", "url"); u != "" {
				urls = append(urls, u)
			}
		}
		return true
	})
	return urls, nil
}

// Fetch downloads an artifact by URL.
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	parsed, err := url.Parse(ref)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("runninghub fetch: invalid artifact url %q", ref)
	}
	return c.doWithRetry(ctx, "fetch", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	})
}

// Ping checks that the API answers and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	body, err := c.postJSON(ctx, "ping", "/task/openapi/status", taskRequest{APIKey: c.cfg.APIKey, TaskID: "0"})
	if err != nil {
		return err
	}
	_, err = checkCode("ping", body)
	var apiErr *apiError
	if errors.As(err, &apiErr) && isUnknownTask(apiErr.Message) {
		return nil
	}
	return err
}

type nodeInfo struct {
	NodeID     string `json:"nodeId"`
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
}

type createRequest struct {
	APIKey       string     `json:"apiKey"`
	WorkflowID   string     `json:"workflowId"`
	NodeInfoList []nodeInfo `json:"nodeInfoList"`
}

type taskRequest struct {
	APIKey string `json:"apiKey"`
	TaskID string `json:"taskId"`
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("runninghub %s: encode body: %w", op, err)
	}
	return c.doWithRetry(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// doWithRetry sends the request built by build, retrying transport errors
// and 5xx/429 responses with exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, op string, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("runninghub %s: build request: %w", op, err)
		}
		body, err := c.doOnce(req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) || attempt == c.cfg.RetryAttempts {
			break
		}
		if err := c.sleeper(ctx, c.backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, engine.Unavailable(op, lastErr)
}

func (c *Client) doOnce(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.RetryDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		if delay > defaultRetryMaxDelay/2 {
			return defaultRetryMaxDelay
		}
		delay *= 2
	}
	return delay
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

func checkCode(op string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, engine.Unavailable(op, errors.New("response is not JSON"))
	}
	result := gjson.ParseBytes(body)
	code := result.Get("code")
	if !code.Exists() {
		return gjson.Result{}, engine.Unavailable(op, errors.New("response missing code"))
	}
	if code.Int() != codeOK {
		msg := firstString(result, "msg", "message")
		if msg == "" {
			msg = "unknown error"
		}
		return gjson.Result{}, &apiError{Op: op, Code: code.Int(), Message: msg}
	}
	return result, nil
}

func mapState(raw string) engine.State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "QUEUED", "PENDING", "WAITING":
		return engine.StatePending
	case "RUNNING", "PROCESSING":
		return engine.StateRunning
	case "SUCCESS", "SUCCEEDED", "COMPLETED":
		return engine.StateSucceeded
	case "FAILED", "FAIL", "ERROR", "CANCELLED":
		return engine.StateFailed
	default:
		// A vanished task is reported through the error path; anything else
		// unrecognized keeps the job in flight until the poll deadline.
		return engine.StateRunning
	}
}

func knownState(raw string) bool {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "RUNNING", "PROCESSING":
		return true
	}
	return false
}

func isUnknownTask(msg string) bool {
	lower := strings.ToLower(msg)
	for _, hint := range []string{"not exist", "not found", "不存在", "invalid task"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func firstString(result gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(result.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
