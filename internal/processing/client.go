// Package processing talks to the external style-transfer service: it
// uploads images, polls task results and fetches the finished illustration.
package processing

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// UploadResponse is the body of a successful POST /api/upload.
type UploadResponse struct {
	TaskID string `json:"task_id" validate:"required"`
}

// ResultResponse is the body of GET /api/result/{task_id}. Any status other
// than completed or failed means the task is still running.
type ResultResponse struct {
	Status    string `json:"status" validate:"required"`
	ResultURL string `json:"result_url,omitempty" validate:"required_if=Status completed"`
}

func (r *ResultResponse) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Download is a streamed result image. Body must be closed.
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Client is the processing service as seen by the workflow.
type Client interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (*UploadResponse, error)
	Result(ctx context.Context, taskID string) (*ResultResponse, error)
	Fetch(ctx context.Context, resultURL string) (*Download, error)
	ResolveURL(resultPath string) string
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// ResolveURL joins a result path onto the service origin. Absolute URLs are
// returned unchanged.
func ResolveURL(base, resultPath string) string {
	if u, err := url.Parse(resultPath); err == nil && u.IsAbs() {
		return resultPath
	}
	if resultPath != "" && !strings.HasPrefix(resultPath, "/") {
		resultPath = "/" + resultPath
	}
	return strings.TrimRight(base, "/") + resultPath
}
