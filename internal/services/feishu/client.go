package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"mediaflow/internal/config"
	"mediaflow/internal/services"
	"mediaflow/internal/sheet"
)

const (
	defaultBaseURL     = "https://open.feishu.cn/open-apis"
	defaultHTTPTimeout = 30 * time.Second
	defaultRange       = "A1:Z1000"
	tokenRefreshMargin = time.Minute
	maxErrorBody       = 512
)

// Token error codes returned when the tenant token is stale or revoked.
var tokenErrorCodes = map[int64]bool{99991661: true, 99991663: true, 99991668: true}

// Config captures the settings needed to talk to a Feishu spreadsheet.
type Config struct {
	BaseURL          string
	AppID            string
	AppSecret        string
	SpreadsheetToken string
	SheetName        string
	Range            string
	TimeoutSeconds   int
	Columns          config.Columns
	Vocabulary       sheet.Vocabulary
}

// ConfigFrom maps the sheet section of the application config.
func ConfigFrom(cfg config.Sheet) Config {
	return Config{
		BaseURL:          cfg.BaseURL,
		AppID:            cfg.AppID,
		AppSecret:        cfg.AppSecret,
		SpreadsheetToken: cfg.SpreadsheetToken,
		SheetName:        cfg.SheetName,
		Range:            cfg.Range,
		TimeoutSeconds:   cfg.RequestTimeout,
		Columns:          cfg.Columns,
		Vocabulary:       sheet.NewVocabulary(cfg.Markers),
	}
}

// Client implements sheet.Sheet against the Feishu open API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
	columns    *sheet.ColumnCache

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	sheetID     string
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

// WithClock overrides the clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
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
	cfg.Range = strings.TrimSpace(cfg.Range)
	if cfg.Range == "" {
		cfg.Range = defaultRange
	}
	if cfg.Vocabulary.IsZero() {
		cfg.Vocabulary = sheet.DefaultVocabulary()
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		columns:    sheet.NewColumnCache(cfg.Columns),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

var _ sheet.Sheet = (*Client)(nil)

// APIError is a non-zero code returned by the Feishu API.
type APIError struct {
	Op      string
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feishu %s: code %d: %s", e.Op, e.Code, e.Message)
}

// Unwrap tags API errors as external service failures.
func (e *APIError) Unwrap() error { return services.ErrUpstream }

// Ping verifies credentials and spreadsheet access.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.resolveSheetID(ctx)
	return err
}

// FetchRows reads the configured range and classifies every data row.
func (c *Client) FetchRows(ctx context.Context) ([]sheet.Row, error) {
	sheetID, err := c.resolveSheetID(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/sheets/v2/spreadsheets/%s/values/%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.SpreadsheetToken), url.PathEscape(sheetID+"!"+c.cfg.Range))
	result, err := c.callJSON(ctx, "read values", http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	grid := parseGrid(result.Get("data.valueRange.values"))
	cols, _ := c.columns.Resolve(sheet.HeaderText(grid))
	return sheet.ParseRows(grid, firstRow(c.cfg.Range), cols, c.cfg.Vocabulary), nil
}

// Download fetches an embedded media file by its file token.
func (c *Client) Download(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, services.Wrap(services.ErrValidation, "feishu", "download", "empty file token", nil)
	}
	endpoint := fmt.Sprintf("%s/drive/v1/medias/%s/download", c.cfg.BaseURL, url.PathEscape(ref))
	body, header, err := c.call(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrUpstream, "feishu", "download", ref, err)
	}
	if strings.HasPrefix(header.Get("Content-Type"), "application/json") {
		if _, err := checkCode("download", body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// WriteResult writes value into the role's column. For the composite column
// value is a local image path that is embedded into the cell.
func (c *Client) WriteResult(ctx context.Context, row int, role sheet.Role, value string) error {
	if role == sheet.RoleComposite {
		return c.writeImage(ctx, row, value)
	}
	return c.writeText(ctx, row, role, value)
}

// UpdateStatus writes the processing status cell.
func (c *Client) UpdateStatus(ctx context.Context, row int, text string) error {
	return c.writeText(ctx, row, sheet.RoleProcessed, text)
}

func (c *Client) writeText(ctx context.Context, row int, role sheet.Role, value string) error {
	cellRange, err := c.cellRange(ctx, row, role)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"valueRange": map[string]any{
			"range":  cellRange,
			"values": [][]string{{value}},
		},
	}
	endpoint := fmt.Sprintf("%s/sheets/v2/spreadsheets/%s/values", c.cfg.BaseURL, url.PathEscape(c.cfg.SpreadsheetToken))
	_, err = c.callJSON(ctx, "write "+string(role), http.MethodPut, endpoint, payload)
	return err
}

func (c *Client) writeImage(ctx context.Context, row int, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, "feishu", "write image", "read "+path, err)
	}
	cellRange, err := c.cellRange(ctx, row, sheet.RoleComposite)
	if err != nil {
		return err
	}
	// The API expects the image as a JSON array of byte values.
	image := make([]int, len(data))
	for i, b := range data {
		image[i] = int(b)
	}
	payload := map[string]any{
		"range": cellRange,
		"image": image,
		"name":  filepath.Base(path),
	}
	endpoint := fmt.Sprintf("%s/sheets/v2/spreadsheets/%s/values_image", c.cfg.BaseURL, url.PathEscape(c.cfg.SpreadsheetToken))
	_, err = c.callJSON(ctx, "write image", http.MethodPost, endpoint, payload)
	return err
}

func (c *Client) cellRange(ctx context.Context, row int, role sheet.Role) (string, error) {
	if row < 1 {
		return "", services.Wrap(services.ErrValidation, "feishu", "write", fmt.Sprintf("invalid row %d", row), nil)
	}
	column, ok := c.columns.Current().Column(role)
	if !ok {
		return "", services.Wrap(services.ErrConfiguration, "feishu", "write", "no column for "+string(role), nil)
	}
	sheetID, err := c.resolveSheetID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s!%s%d:%s%d", sheetID, column, row, column, row), nil
}

func (c *Client) resolveSheetID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.sheetID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	endpoint := fmt.Sprintf("%s/sheets/v3/spreadsheets/%s/sheets/query", c.cfg.BaseURL, url.PathEscape(c.cfg.SpreadsheetToken))
	result, err := c.callJSON(ctx, "query sheets", http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	sheets := result.Get("data.sheets").Array()
	if len(sheets) == 0 {
		return "", services.Wrap(services.ErrNotFound, "feishu", "query sheets", "spreadsheet has no sheets", nil)
	}
	id := sheets[0].Get("sheet_id").String()
	if name := strings.TrimSpace(c.cfg.SheetName); name != "" {
		id = ""
		for _, s := range sheets {
			if s.Get("title").String() == name {
				id = s.Get("sheet_id").String()
				break
			}
		}
		if id == "" {
			return "", services.Wrap(services.ErrNotFound, "feishu", "query sheets", "no sheet named "+name, nil)
		}
	}

	c.mu.Lock()
	c.sheetID = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	payload, err := json.Marshal(map[string]string{"app_id": c.cfg.AppID, "app_secret": c.cfg.AppSecret})
	if err != nil {
		return "", fmt.Errorf("feishu token: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/v3/tenant_access_token/internal", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("feishu token: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	body, _, err := c.do(req)
	if err != nil {
		return "", services.Wrap(services.ErrUpstream, "feishu", "token", "request tenant token", err)
	}
	result, err := checkCode("token", body)
	if err != nil {
		return "", err
	}
	token := result.Get("tenant_access_token").String()
	if token == "" {
		return "", services.Wrap(services.ErrUpstream, "feishu", "token", "response missing tenant_access_token", nil)
	}
	ttl := time.Duration(result.Get("expire").Int()) * time.Second
	if ttl <= tokenRefreshMargin {
		ttl = 2 * tokenRefreshMargin
	}

	c.mu.Lock()
	c.token = token
	c.tokenExpiry = c.now().Add(ttl - tokenRefreshMargin)
	c.mu.Unlock()
	return token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// callJSON performs an authenticated JSON call and checks the response code.
// A stale token is refreshed once.
func (c *Client) callJSON(ctx context.Context, op, method, endpoint string, payload any) (gjson.Result, error) {
	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return gjson.Result{}, fmt.Errorf("feishu %s: encode body: %w", op, err)
		}
	}
	for attempt := 0; ; attempt++ {
		body, _, err := c.call(ctx, method, endpoint, encoded)
		if err != nil {
			return gjson.Result{}, services.Wrap(services.ErrUpstream, "feishu", op, "", err)
		}
		result, err := checkCode(op, body)
		var apiErr *APIError
		if err != nil && attempt == 0 && errors.As(err, &apiErr) && tokenErrorCodes[apiErr.Code] {
			c.invalidateToken()
			continue
		}
		return result, err
	}
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload []byte) ([]byte, http.Header, error) {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return nil, nil, err
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		// Feishu reports most API failures as JSON with a code even on 4xx.
		if gjson.ValidBytes(body) && gjson.GetBytes(body, "code").Exists() {
			return body, resp.Header, nil
		}
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, nil, fmt.Errorf("http %d: %s", resp.StatusCode, snippet)
	}
	return body, resp.Header, nil
}

func checkCode(op string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, services.Wrap(services.ErrUpstream, "feishu", op, "response is not JSON", nil)
	}
	result := gjson.ParseBytes(body)
	if code := result.Get("code").Int(); code != 0 {
		msg := result.Get("msg").String()
		if msg == "" {
			msg = result.Get("message").String()
		}
		return gjson.Result{}, &APIError{Op: op, Code: code, Message: msg}
	}
	return result, nil
}

// parseGrid converts the values array into cells. A cell is plain text, a
// number, an embedded image object, or a list of rich text segments.
func parseGrid(values gjson.Result) [][]sheet.Cell {
	var grid [][]sheet.Cell
	values.ForEach(func(_, row gjson.Result) bool {
		var cells []sheet.Cell
		row.ForEach(func(_, value gjson.Result) bool {
			cells = append(cells, parseCell(value))
			return true
		})
		grid = append(grid, cells)
		return true
	})
	return grid
}

func parseCell(value gjson.Result) sheet.Cell {
	switch {
	case value.Type == gjson.Null:
		return sheet.Cell{}
	case value.IsObject():
		return sheet.Cell{
			Text:      value.Get("text").String(),
			FileToken: firstNonEmpty(value.Get("fileToken").String(), value.Get("file_token").String()),
		}
	case value.IsArray():
		var cell sheet.Cell
		var text strings.Builder
		value.ForEach(func(_, segment gjson.Result) bool {
			part := parseCell(segment)
			text.WriteString(part.Text)
			if cell.FileToken == "" {
				cell.FileToken = part.FileToken
			}
			return true
		})
		cell.Text = text.String()
		return cell
	default:
		return sheet.TextCell(value.String())
	}
}

// firstRow returns the sheet row number where the range starts.
func firstRow(cellRange string) int {
	start, _, _ := strings.Cut(cellRange, ":")
	digits := strings.TrimLeftFunc(start, func(r rune) bool { return r < '0' || r > '9' })
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
