package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/pickabook/pickabook-agent/internal/viewer"
	"github.com/pickabook/pickabook-agent/internal/workflow"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

// acceptAttr is the file picker filter.
var acceptAttr = strings.Join([]string{"image/png", "image/jpeg", "image/webp", ".png", ".jpg", ".jpeg", ".webp"}, ",")

type pageData struct {
	Session    SessionResponse
	Result     *viewer.View
	Download   viewer.DownloadLink
	ShowStages bool
	Refresh    bool
	Accept     string
	MaxMB      int64
}

func buildPageData(cfg ServerConfig) pageData {
	state := cfg.Workflow.Snapshot()
	var notes []workflow.Notification
	if cfg.Toaster != nil {
		notes = cfg.Toaster.List()
	}

	data := pageData{
		Session:    SessionToResponse(state, notes),
		ShowStages: workflow.Processing(state) || state.Phase() == workflow.PhaseFailed,
		Refresh:    workflow.Processing(state),
		Accept:     acceptAttr,
		MaxMB:      cfg.Widget.MaxBytes() >> 20,
	}
	if done, ok := state.(*workflow.Completed); ok {
		data.Result = resultView(cfg, done, nil)
		data.Download = viewer.Link(done.ResultURL)
	}
	return data
}

func pageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := pageTemplate.Execute(&buf, buildPageData(cfg)); err != nil {
			cfg.Logger.Error("render page", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to render page", "INTERNAL_ERROR")
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		buf.WriteTo(w)
	}
}
