package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pickabook/pickabook-agent/internal/history"
	"github.com/pickabook/pickabook-agent/internal/preview"
	"github.com/pickabook/pickabook-agent/internal/processing"
	"github.com/pickabook/pickabook-agent/internal/stages"
	"github.com/pickabook/pickabook-agent/internal/upload"
	"github.com/pickabook/pickabook-agent/internal/workflow"
)

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	gifBytes = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00")
)

const testResultURL = "http://localhost:8000/results/task-1.png"

type fakeWorkflow struct {
	mu            sync.Mutex
	state         workflow.State
	submitted     []*upload.Image
	regenerated   int
	regenerateErr error
	resets        int
}

func newFakeWorkflow() *fakeWorkflow {
	return &fakeWorkflow{state: &workflow.Idle{}}
}

func (f *fakeWorkflow) Snapshot() workflow.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeWorkflow) Submit(img *upload.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, img)
	st := stages.Defaults()
	stages.Set(st, 0, stages.Processing)
	f.state = &workflow.Uploading{RunID: "run-1", Image: img, Stages: st}
	return nil
}

func (f *fakeWorkflow) Regenerate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regenerated++
	return f.regenerateErr
}

func (f *fakeWorkflow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.state = &workflow.Idle{}
}

func (f *fakeWorkflow) set(s workflow.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

type fakeFetcher struct {
	data []byte
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, resultURL string) (*processing.Download, error) {
	f.urls = append(f.urls, resultURL)
	if f.err != nil {
		return nil, f.err
	}
	return &processing.Download{
		Body:          io.NopCloser(bytes.NewReader(f.data)),
		ContentType:   "image/png",
		ContentLength: int64(len(f.data)),
	}, nil
}

type fakeRuns struct {
	runs      []*history.Run
	err       error
	lastLimit int
}

func (f *fakeRuns) ListRuns(_ context.Context, limit int) ([]*history.Run, error) {
	f.lastLimit = limit
	return f.runs, f.err
}

type testEnv struct {
	cfg      ServerConfig
	wf       *fakeWorkflow
	fetcher  *fakeFetcher
	runs     *fakeRuns
	previews *preview.Store
	widget   *upload.Widget
	toaster  *workflow.Toaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	previews := preview.NewStore(logger)
	widget := upload.NewWidget(upload.WidgetConfig{Previews: previews, Logger: logger})
	env := &testEnv{
		wf:       newFakeWorkflow(),
		fetcher:  &fakeFetcher{data: []byte("illustration")},
		runs:     &fakeRuns{},
		previews: previews,
		widget:   widget,
		toaster:  workflow.NewToaster(5),
	}
	env.cfg = ServerConfig{
		Version:   "1.2.3",
		InstallID: "install-1",
		StartTime: time.Now(),
		Workflow:  env.wf,
		Widget:    widget,
		Previews:  previews,
		Toaster:   env.toaster,
		History:   env.runs,
		Fetcher:   env.fetcher,
		Logger:    logger,
	}
	return env
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	NewRouter(e.cfg).ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) completed(t *testing.T) *workflow.Completed {
	t.Helper()
	img, err := e.widget.Accept([]upload.File{{Name: "me.png", ContentType: "image/png", Data: pngBytes}})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	st := stages.Defaults()
	stages.CompleteAll(st)
	done := &workflow.Completed{RunID: "run-1", Image: img, TaskID: "task-1", Stages: st, ResultURL: testResultURL}
	e.wf.set(done)
	return done
}

func newUploadRequest(t *testing.T, path, filename, contentType string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var resp SessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session: %v (body=%q)", err, rr.Body.String())
	}
	return resp
}

func TestHealthRoute(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:8790")
	rr := env.serve(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8790" {
		t.Errorf("ACAO = %q, want loopback origin echoed", got)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.InstallID != "install-1" {
		t.Errorf("health = %+v", resp)
	}
}

func TestSessionRoute_Idle(t *testing.T) {
	env := newTestEnv(t)

	rr := env.serve(httptest.NewRequest(http.MethodGet, "/api/session", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var raw map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &raw)
	if notes, ok := raw["notifications"].([]interface{}); !ok || len(notes) != 0 {
		t.Errorf("notifications = %v, want empty array", raw["notifications"])
	}

	resp := decodeSession(t, rr)
	if resp.Phase != "idle" || resp.Processing {
		t.Errorf("phase = %q processing = %v, want idle/false", resp.Phase, resp.Processing)
	}
	if resp.Image != nil || resp.ResultURL != "" || resp.Download != nil {
		t.Errorf("idle session carries image or result: %+v", resp)
	}
	if len(resp.Stages) != stages.Count {
		t.Fatalf("stages = %d, want %d", len(resp.Stages), stages.Count)
	}
	for _, st := range resp.Stages {
		if st.Status != string(stages.Pending) {
			t.Errorf("stage %s status = %s, want pending", st.ID, st.Status)
		}
	}
}

func TestSessionRoute_Completed(t *testing.T) {
	env := newTestEnv(t)
	env.completed(t)

	resp := decodeSession(t, env.serve(httptest.NewRequest(http.MethodGet, "/api/session", nil)))

	if resp.Phase != "completed" || resp.ResultURL != testResultURL {
		t.Fatalf("session = %+v", resp)
	}
	if resp.Download == nil || resp.Download.Filename != "pickabook-illustration.png" || resp.Download.Href != testResultURL {
		t.Errorf("download = %+v", resp.Download)
	}
	if resp.Image == nil || !strings.HasPrefix(resp.Image.PreviewURL, preview.PathPrefix) {
		t.Errorf("image = %+v, want preview url", resp.Image)
	}
	for _, st := range resp.Stages {
		if !st.Done {
			t.Errorf("stage %s not done", st.ID)
		}
	}
}

func TestUploadRoute_Accepted(t *testing.T) {
	env := newTestEnv(t)

	rr := env.serve(newUploadRequest(t, "/api/session/upload", "me.png", "image/png", pngBytes))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body=%s)", rr.Code, rr.Body.String())
	}

	var resp UploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Accepted {
		t.Fatal("accepted = false, want true")
	}
	if resp.Session.Phase != "uploading" || !resp.Session.Processing {
		t.Errorf("session phase = %q, want uploading", resp.Session.Phase)
	}
	if len(env.wf.submitted) != 1 {
		t.Fatalf("submitted = %d, want 1", len(env.wf.submitted))
	}
	img := env.wf.submitted[0]
	if img.ContentType != "image/png" || !bytes.Equal(img.Bytes(), pngBytes) {
		t.Errorf("submitted image = %s (%d bytes)", img.ContentType, img.Size())
	}
	if env.previews.Len() != 1 {
		t.Errorf("previews = %d, want 1", env.previews.Len())
	}
}

func TestUploadRoute_RejectedIsSilent(t *testing.T) {
	tests := []struct {
		name     string
		maxBytes int64
		file     string
		ct       string
		data     []byte
	}{
		{"gif", 0, "me.gif", "image/gif", gifBytes},
		{"gif content", 0, "me.png", "image/png", gifBytes},
		{"too large", 16, "me.png", "image/png", pngBytes},
		{"empty", 0, "me.png", "image/png", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.maxBytes > 0 {
				env.cfg.Widget = upload.NewWidget(upload.WidgetConfig{MaxBytes: tt.maxBytes, Previews: env.previews})
			}

			rr := env.serve(newUploadRequest(t, "/api/session/upload", tt.file, tt.ct, tt.data))

			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body=%s)", rr.Code, rr.Body.String())
			}
			var resp UploadResponse
			json.Unmarshal(rr.Body.Bytes(), &resp)
			if resp.Accepted {
				t.Error("accepted = true, want false")
			}
			if len(env.wf.submitted) != 0 {
				t.Error("rejected file reached the workflow")
			}
			if len(env.toaster.List()) != 0 {
				t.Error("rejection must not notify")
			}
			if resp.Session.Phase != "idle" {
				t.Errorf("phase = %q, want idle", resp.Session.Phase)
			}
		})
	}
}

func TestUploadRoute_NotMultipart(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session/upload", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := env.serve(req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestUploadRoute_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.UploadRate = 0.001
	env.cfg.UploadBurst = 1
	router := NewRouter(env.cfg)

	var codes []int
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newUploadRequest(t, "/api/session/upload", "me.png", "image/png", pngBytes))
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusAccepted || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [202 429]", codes)
	}
}

func TestFormUploadRoute_Redirects(t *testing.T) {
	env := newTestEnv(t)

	rr := env.serve(newUploadRequest(t, "/upload", "me.png", "image/png", pngBytes))

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
	if len(env.wf.submitted) != 1 {
		t.Errorf("submitted = %d, want 1", len(env.wf.submitted))
	}
}

func TestRegenerateRoute(t *testing.T) {
	env := newTestEnv(t)

	rr := env.serve(httptest.NewRequest(http.MethodPost, "/api/session/regenerate", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("idle regenerate status = %d, want 409", rr.Code)
	}
	if env.wf.regenerated != 0 {
		t.Fatal("regenerate reached the workflow outside Completed")
	}

	env.completed(t)
	rr = env.serve(httptest.NewRequest(http.MethodPost, "/api/session/regenerate", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("completed regenerate status = %d, want 202", rr.Code)
	}
	if env.wf.regenerated != 1 {
		t.Errorf("regenerated = %d, want 1", env.wf.regenerated)
	}
}

func TestRegenerateRoute_RaceWithReset(t *testing.T) {
	env := newTestEnv(t)
	env.completed(t)
	env.wf.regenerateErr = workflow.ErrNotCompleted

	rr := env.serve(httptest.NewRequest(http.MethodPost, "/api/session/regenerate", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestResetRoute(t *testing.T) {
	env := newTestEnv(t)
	env.completed(t)

	rr := env.serve(httptest.NewRequest(http.MethodPost, "/api/session/reset", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if resp := decodeSession(t, rr); resp.Phase != "idle" || resp.ResultURL != "" {
		t.Errorf("session after reset = %+v", resp)
	}
	if env.wf.resets != 1 {
		t.Errorf("resets = %d, want 1", env.wf.resets)
	}
}

func TestDownloadRoute(t *testing.T) {
	env := newTestEnv(t)

	loopback := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/session/download", nil)
		req.RemoteAddr = "127.0.0.1:50000"
		return req
	}

	if rr := env.serve(loopback()); rr.Code != http.StatusConflict {
		t.Fatalf("idle download status = %d, want 409", rr.Code)
	}

	env.completed(t)
	rr := env.serve(loopback())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="pickabook-illustration.png"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rr.Body.String() != "illustration" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if len(env.fetcher.urls) != 1 || env.fetcher.urls[0] != testResultURL {
		t.Errorf("fetched %v, want result url", env.fetcher.urls)
	}
}

func TestDownloadRoute_UpstreamError(t *testing.T) {
	env := newTestEnv(t)
	env.completed(t)
	env.fetcher.err = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodGet, "/api/session/download", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rr := env.serve(req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
}

func TestDownloadRoute_NonLoopbackRejected(t *testing.T) {
	env := newTestEnv(t)
	env.completed(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session/download", nil)
	req.RemoteAddr = "10.0.0.7:50000"
	rr := env.serve(req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if len(env.fetcher.urls) != 0 {
		t.Error("fetcher called for non-loopback peer")
	}
}

func TestDismissRoute(t *testing.T) {
	env := newTestEnv(t)
	env.toaster.Notify(workflow.Notification{ID: "n1", Title: "Success!"})

	rr := env.serve(httptest.NewRequest(http.MethodPost, "/api/notifications/n1/dismiss", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if len(env.toaster.List()) != 0 {
		t.Error("notification not dismissed")
	}

	rr = env.serve(httptest.NewRequest(http.MethodPost, "/api/notifications/n1/dismiss", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second dismiss status = %d, want 404", rr.Code)
	}
}

func TestListRunsRoute(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env.runs.runs = []*history.Run{
		{ID: "run-2", FileName: "me.png", Status: history.RunStatusCompleted, ResultURL: testResultURL, CreatedAt: now, UpdatedAt: now},
		{ID: "run-1", FileName: "me.png", Status: history.RunStatusFailed, Error: "upload: boom", CreatedAt: now, UpdatedAt: now},
	}

	rr := env.serve(httptest.NewRequest(http.MethodGet, "/api/runs?limit=10", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if env.runs.lastLimit != 10 {
		t.Errorf("limit = %d, want 10", env.runs.lastLimit)
	}

	var resp RunsResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Runs) != 2 || resp.Runs[0].ID != "run-2" || resp.Runs[0].CreatedAt != "2026-01-02T03:04:05Z" {
		t.Errorf("runs = %+v", resp.Runs)
	}

	env.serve(httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if env.runs.lastLimit != defaultRunsLimit {
		t.Errorf("default limit = %d, want %d", env.runs.lastLimit, defaultRunsLimit)
	}

	for _, bad := range []string{"0", "-1", "abc", "501"} {
		rr := env.serve(httptest.NewRequest(http.MethodGet, "/api/runs?limit="+bad, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", bad, rr.Code)
		}
	}
}

func TestListRunsRoute_Error(t *testing.T) {
	env := newTestEnv(t)
	env.runs.err = errors.New("disk full")

	rr := env.serve(httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

func TestPreviewRoute(t *testing.T) {
	env := newTestEnv(t)
	h := env.previews.Acquire([]byte("0123456789"), "image/png")

	req := httptest.NewRequest(http.MethodGet, h.Path, nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rr := env.serve(req)
	if rr.Code != http.StatusOK || rr.Body.String() != "0123456789" {
		t.Fatalf("GET status = %d body = %q", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, h.Path, nil)
	req.RemoteAddr = "127.0.0.1:50000"
	req.Header.Set("Range", "bytes=2-4")
	rr = env.serve(req)
	if rr.Code != http.StatusPartialContent || rr.Body.String() != "234" {
		t.Fatalf("range status = %d body = %q", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodHead, h.Path, nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rr = env.serve(req)
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Fatalf("HEAD status = %d body length = %d", rr.Code, rr.Body.Len())
	}

	h.Release()
	req = httptest.NewRequest(http.MethodGet, h.Path, nil)
	req.RemoteAddr = "127.0.0.1:50000"
	if rr := env.serve(req); rr.Code != http.StatusNotFound {
		t.Fatalf("released preview status = %d, want 404", rr.Code)
	}
}

func TestPreviewRoute_NonLoopbackRejected(t *testing.T) {
	env := newTestEnv(t)
	h := env.previews.Acquire(pngBytes, "image/png")

	req := httptest.NewRequest(http.MethodGet, h.Path, nil)
	req.RemoteAddr = "8.8.8.8:1234"
	if rr := env.serve(req); rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestPageRoute(t *testing.T) {
	env := newTestEnv(t)

	rr := env.serve(httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `action="/upload"`) || strings.Contains(body, `http-equiv="refresh"`) {
		t.Errorf("idle page missing upload form or refreshing:\n%s", body)
	}

	img, _ := env.widget.Accept([]upload.File{{Name: "me.png", Data: pngBytes}})
	env.wf.Submit(img)
	body = env.serve(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	if !strings.Contains(body, `http-equiv="refresh"`) || !strings.Contains(body, "Upload &amp; Analyze") {
		t.Errorf("processing page should refresh and show stages:\n%s", body)
	}
	if strings.Contains(body, `action="/upload"`) {
		t.Error("processing page should hide the upload form")
	}

	env.completed(t)
	body = env.serve(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	for _, want := range []string{testResultURL, `download="pickabook-illustration.png"`, "Create Another", `action="/regenerate"`} {
		if !strings.Contains(body, want) {
			t.Errorf("completed page missing %q", want)
		}
	}
}

func TestPageActions_Redirect(t *testing.T) {
	env := newTestEnv(t)
	env.completed(t)
	env.toaster.Notify(workflow.Notification{ID: "n1", Title: "Success!"})

	for _, path := range []string{"/notifications/n1/dismiss", "/regenerate", "/reset", "/regenerate"} {
		rr := env.serve(httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusSeeOther {
			t.Fatalf("%s status = %d, want 303", path, rr.Code)
		}
	}

	if env.wf.regenerated != 1 {
		t.Errorf("regenerated = %d, want 1 (second regenerate is after reset)", env.wf.regenerated)
	}
	if env.wf.resets != 1 || len(env.toaster.List()) != 0 {
		t.Errorf("resets = %d, toasts = %d", env.wf.resets, len(env.toaster.List()))
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t)

	rr := env.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "pickabook_runs_started_total") {
		t.Error("metrics output missing pickabook collectors")
	}
}

// End to end against the in-process processing stub.
func TestSessionFlow_WithStubService(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	previews := preview.NewStore(logger)
	widget := upload.NewWidget(upload.WidgetConfig{Previews: previews})
	toaster := workflow.NewToaster(5)
	stub := processing.NewStubClient("http://stub.invalid", 1, logger)

	ctrl := workflow.New(workflow.Config{
		Client:       stub,
		Acceptor:     widget,
		Notifier:     toaster,
		StageDelay:   time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Logger:       logger,
	})
	defer ctrl.Close()

	router := NewRouter(ServerConfig{
		StartTime: time.Now(),
		Workflow:  ctrl,
		Widget:    widget,
		Previews:  previews,
		Toaster:   toaster,
		History:   &fakeRuns{},
		Fetcher:   stub,
		Logger:    logger,
	})
	server := httptest.NewServer(router)
	defer server.Close()

	req := newUploadRequest(t, "/api/session/upload", "me.png", "image/png", pngBytes)
	resp, err := http.Post(server.URL+"/api/session/upload", req.Header.Get("Content-Type"), req.Body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload status = %d, want 202", resp.StatusCode)
	}

	var session SessionResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(server.URL + "/api/session")
		if err != nil {
			t.Fatalf("session: %v", err)
		}
		json.NewDecoder(resp.Body).Decode(&session)
		resp.Body.Close()
		if session.Phase == "completed" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if session.Phase != "completed" {
		t.Fatalf("phase = %q, want completed", session.Phase)
	}
	if len(session.Notifications) != 1 || session.Notifications[0].Title != "Success!" {
		t.Errorf("notifications = %+v", session.Notifications)
	}

	resp, err = http.Get(server.URL + "/api/session/download")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, pngBytes) {
		t.Fatalf("download status = %d, %d bytes", resp.StatusCode, len(body))
	}
}
