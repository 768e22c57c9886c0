package processing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const stubResultPrefix = "/results/"

// StubClient is an in-process stand-in for the processing service. Each task
// reports pending for a fixed number of polls and then completes, echoing the
// uploaded image back as the result.
// Only the latest upload is kept: a new upload drops every earlier task, as
// the workflow never has more than one live run.
type StubClient struct {
	baseURL      string
	pendingPolls int
	logger       *slog.Logger

	mu    sync.Mutex
	tasks map[string]*stubTask
}

// Len reports how many tasks the stub is holding.
func (s *StubClient) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

type stubTask struct {
	contentType string
	data        []byte
	polls       int
}

func NewStubClient(baseURL string, pendingPolls int, logger *slog.Logger) *StubClient {
	return &StubClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		pendingPolls: pendingPolls,
		logger:       logger,
		tasks:        make(map[string]*stubTask),
	}
}

func (s *StubClient) ResolveURL(resultPath string) string {
	return ResolveURL(s.baseURL, resultPath)
}

func (s *StubClient) Upload(ctx context.Context, name, contentType string, data []byte) (*UploadResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s.mu.Lock()
	clear(s.tasks)
	s.tasks[id] = &stubTask{contentType: contentType, data: bytes.Clone(data)}
	s.mu.Unlock()

	s.logger.Info("processing stub: upload accepted", "task_id", id, "file_name", name, "size", len(data))
	return &UploadResponse{TaskID: id}, nil
}

func (s *StubClient) Result(ctx context.Context, taskID string) (*ResultResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, &StatusError{Op: "result", StatusCode: 404, Body: "unknown task"}
	}

	task.polls++
	if task.polls <= s.pendingPolls {
		return &ResultResponse{Status: "pending"}, nil
	}
	return &ResultResponse{Status: StatusCompleted, ResultURL: stubResultPrefix + taskID}, nil
}

func (s *StubClient) Fetch(ctx context.Context, resultURL string) (*Download, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, taskID, ok := strings.Cut(resultURL, stubResultPrefix)
	if !ok {
		return nil, fmt.Errorf("processing stub: not a result url: %s", resultURL)
	}

	s.mu.Lock()
	task, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		return nil, &StatusError{Op: "fetch", StatusCode: 404, Body: "unknown task"}
	}

	return &Download{
		Body:          io.NopCloser(bytes.NewReader(task.data)),
		ContentType:   task.contentType,
		ContentLength: int64(len(task.data)),
	}, nil
}
