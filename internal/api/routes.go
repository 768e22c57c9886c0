package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/pickabook/pickabook-agent/internal/metrics"
	"github.com/pickabook/pickabook-agent/internal/upload"
	"github.com/pickabook/pickabook-agent/internal/viewer"
	"github.com/pickabook/pickabook-agent/internal/workflow"
)

const (
	// multipartOverhead is the allowance for multipart framing on top of the
	// file size limit.
	multipartOverhead = 1 << 20

	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

var (
	errBadUpload = errors.New("malformed upload")
	errUpstream  = errors.New("processing service unavailable")
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	uploads := RateLimit(newUploadLimiter(cfg.UploadRate, cfg.UploadBurst))

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", pageHandler(cfg))
	r.With(uploads).Post("/upload", formUploadHandler(cfg))
	r.With(uploads).Post("/regenerate", formActionHandler(cfg, regenerateAction))
	r.Post("/reset", formActionHandler(cfg, resetAction))
	r.Post("/notifications/{id}/dismiss", formActionHandler(cfg, dismissAction))

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", sessionHandler(cfg))
		r.With(uploads).Post("/session/upload", uploadHandler(cfg))
		r.With(uploads).Post("/session/regenerate", regenerateHandler(cfg))
		r.Post("/session/reset", resetHandler(cfg))
		r.With(LoopbackGuard()).Get("/session/download", downloadHandler(cfg))
		r.Post("/notifications/{id}/dismiss", dismissHandler(cfg))
		r.Get("/runs", listRunsHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/previews/{id}", previewHandler(cfg))
		r.Head("/previews/{id}", previewHandler(cfg))
	})

	return r
}

func newUploadLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Version:   cfg.Version,
			UptimeS:   uptime,
			InstallID: cfg.InstallID,
		})
	}
}

func currentSession(cfg ServerConfig) SessionResponse {
	var notes []workflow.Notification
	if cfg.Toaster != nil {
		notes = cfg.Toaster.List()
	}
	return SessionToResponse(cfg.Workflow.Snapshot(), notes)
}

func sessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, currentSession(cfg))
	}
}

// acceptUpload reads the multipart "file" field and starts a run. A rejected
// file is not an error: it reports false and nothing else happens.
func acceptUpload(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (bool, error) {
	limit := cfg.Widget.MaxBytes() + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.UploadsRejected.WithLabelValues("too_large").Inc()
			cfg.Logger.Debug("upload body over limit", "limit", limit)
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", errBadUpload, err)
	}
	defer r.MultipartForm.RemoveAll()

	img, err := cfg.Widget.AcceptMultipart(r.MultipartForm.File["file"])
	if errors.Is(err, upload.ErrRejected) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := cfg.Workflow.Submit(img); err != nil {
		return false, err
	}
	return true, nil
}

func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadUpload):
		WriteError(w, http.StatusBadRequest, "expected a multipart form with a file field", "BAD_REQUEST")
	case errors.Is(err, workflow.ErrClosed):
		WriteError(w, http.StatusServiceUnavailable, "agent is shutting down", "UNAVAILABLE")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accepted, err := acceptUpload(cfg, w, r)
		if err != nil {
			cfg.Logger.Warn("upload failed", "error", err)
			writeUploadError(w, err)
			return
		}

		status := http.StatusOK
		if accepted {
			status = http.StatusAccepted
		}
		WriteJSON(w, status, UploadResponse{Accepted: accepted, Session: currentSession(cfg)})
	}
}

func formUploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := acceptUpload(cfg, w, r); err != nil {
			cfg.Logger.Warn("upload failed", "error", err)
			writeUploadError(w, err)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// resultView wraps a completed run for the viewer actions.
func resultView(cfg ServerConfig, done *workflow.Completed, download func() error) *viewer.View {
	return viewer.New(done.Image.PreviewURL(), done.ResultURL, viewer.Actions{
		Regenerate: cfg.Workflow.Regenerate,
		Download:   download,
	})
}

func regenerate(cfg ServerConfig) error {
	done, ok := cfg.Workflow.Snapshot().(*workflow.Completed)
	if !ok {
		return workflow.ErrNotCompleted
	}
	return resultView(cfg, done, nil).Regenerate()
}

func regenerateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := regenerate(cfg)
		switch {
		case errors.Is(err, workflow.ErrNotCompleted):
			WriteError(w, http.StatusConflict, "no completed result to regenerate", "CONFLICT")
			return
		case errors.Is(err, upload.ErrRejected):
			WriteError(w, http.StatusUnprocessableEntity, "stored image can no longer be uploaded", "REJECTED")
			return
		case err != nil:
			cfg.Logger.Warn("regenerate failed", "error", err)
			writeUploadError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, currentSession(cfg))
	}
}

func resetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Workflow.Reset()
		WriteJSON(w, http.StatusOK, currentSession(cfg))
	}
}

func downloadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		done, ok := cfg.Workflow.Snapshot().(*workflow.Completed)
		if !ok {
			WriteError(w, http.StatusConflict, "no result to download", "CONFLICT")
			return
		}

		view := resultView(cfg, done, func() error {
			dl, err := cfg.Fetcher.Fetch(r.Context(), done.ResultURL)
			if err != nil {
				return fmt.Errorf("%w: %w", errUpstream, err)
			}
			defer dl.Body.Close()

			contentType := dl.ContentType
			if contentType == "" {
				contentType = "image/png"
			}
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", viewer.DownloadFilename))
			if dl.ContentLength > 0 {
				w.Header().Set("Content-Length", strconv.FormatInt(dl.ContentLength, 10))
			}
			w.WriteHeader(http.StatusOK)

			_, err = io.Copy(w, dl.Body)
			return err
		})

		if err := view.Download(); err != nil {
			if errors.Is(err, errUpstream) {
				cfg.Logger.Warn("result download failed", "error", err, "task_id", done.TaskID)
				WriteError(w, http.StatusBadGateway, "failed to fetch result", "BAD_GATEWAY")
				return
			}
			cfg.Logger.Debug("result download interrupted", "error", err)
			return
		}
		metrics.Downloads.Inc()
	}
}

func dismissHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Toaster.Dismiss(chi.URLParam(r, "id")) {
			WriteError(w, http.StatusNotFound, "notification not found", "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxRunsLimit {
				WriteError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit), "BAD_REQUEST")
				return
			}
			limit = n
		}

		runs, err := cfg.History.ListRuns(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Previews.ServePreview(w, r, id); err != nil {
			cfg.Logger.Error("preview error", "error", err, "preview_id", id)
		}
	}
}

type formAction func(cfg ServerConfig, r *http.Request) error

func regenerateAction(cfg ServerConfig, _ *http.Request) error {
	err := regenerate(cfg)
	if errors.Is(err, workflow.ErrNotCompleted) || errors.Is(err, upload.ErrRejected) {
		return nil
	}
	return err
}

func resetAction(cfg ServerConfig, _ *http.Request) error {
	cfg.Workflow.Reset()
	return nil
}

func dismissAction(cfg ServerConfig, r *http.Request) error {
	cfg.Toaster.Dismiss(chi.URLParam(r, "id"))
	return nil
}

// formActionHandler runs a page button's action and sends the browser back
// to the page.
func formActionHandler(cfg ServerConfig, action formAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(cfg, r); err != nil {
			cfg.Logger.Warn("page action failed", "path", r.URL.Path, "error", err)
			writeUploadError(w, err)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}
