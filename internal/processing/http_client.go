package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pickabook/pickabook-agent/internal/logging"
)

const (
	uploadPath = "/api/upload"
	resultPath = "/api/result/"

	maxErrorBody = 4096
	maxJSONBody  = 64 * 1024
)

var validate = validator.New()

// HTTPClient is the real processing service client.
type HTTPClient struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SetClientID tags every request with the install id.
func (c *HTTPClient) SetClientID(id string) {
	c.clientID = id
}

func (c *HTTPClient) ResolveURL(resultPath string) string {
	return ResolveURL(c.baseURL, resultPath)
}

func (c *HTTPClient) Upload(ctx context.Context, name, contentType string, data []byte) (*UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	endpoint := c.baseURL + uploadPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setHeaders(req)

	c.logger.Info("uploading image to processing service",
		"url", endpoint,
		"file_name", name,
		"content_type", contentType,
		"size", len(data),
	)

	var out UploadResponse
	if err := c.doJSON(req, "upload", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Result(ctx context.Context, taskID string) (*ResultResponse, error) {
	endpoint := c.baseURL + resultPath + url.PathEscape(taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.setHeaders(req)

	var out ResultResponse
	if err := c.doJSON(req, "result", &out); err != nil {
		return nil, err
	}

	c.logger.Debug("polled task result", "task_id", taskID, "status", out.Status)
	return &out, nil
}

func (c *HTTPClient) Fetch(ctx context.Context, resultURL string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	c.logger.Info("fetching result image", "url", logging.SanitizeURL(resultURL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Op: "fetch", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return &Download{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

func (c *HTTPClient) doJSON(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBody))
	if err != nil {
		return fmt.Errorf("read %s response: %w", op, err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid %s response: %w", op, err)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.clientID != "" {
		req.Header.Set("X-Pickabook-Client-Id", c.clientID)
	}
}
