package api

import (
	"time"

	"github.com/pickabook/pickabook-agent/internal/history"
	"github.com/pickabook/pickabook-agent/internal/stages"
	"github.com/pickabook/pickabook-agent/internal/viewer"
	"github.com/pickabook/pickabook-agent/internal/workflow"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	UptimeS   int64  `json:"uptime_s"`
	InstallID string `json:"install_id"`
}

type ImageResponse struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	PreviewURL  string `json:"preview_url"`
}

type StageResponse struct {
	Number          int    `json:"number"`
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Status          string `json:"status"`
	Spinner         bool   `json:"spinner"`
	Done            bool   `json:"done"`
	Failed          bool   `json:"failed"`
	ConnectorFilled bool   `json:"connector_filled"`
}

type DownloadResponse struct {
	Href     string `json:"href"`
	Filename string `json:"filename"`
}

// SessionResponse is the whole workflow state as the page sees it.
type SessionResponse struct {
	Phase         string                  `json:"phase"`
	Processing    bool                    `json:"processing"`
	RunID         string                  `json:"run_id,omitempty"`
	TaskID        string                  `json:"task_id,omitempty"`
	Image         *ImageResponse          `json:"image,omitempty"`
	Stages        []StageResponse         `json:"stages"`
	PollAttempts  int                     `json:"poll_attempts,omitempty"`
	ResultURL     string                  `json:"result_url,omitempty"`
	Download      *DownloadResponse       `json:"download,omitempty"`
	FailureKind   string                  `json:"failure_kind,omitempty"`
	Notifications []workflow.Notification `json:"notifications"`
}

type UploadResponse struct {
	Accepted bool            `json:"accepted"`
	Session  SessionResponse `json:"session"`
}

type RunResponse struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id,omitempty"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Status      string `json:"status"`
	ResultURL   string `json:"result_url,omitempty"`
	Error       string `json:"error,omitempty"`
	Regenerated bool   `json:"regenerated"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SessionToResponse(s workflow.State, notes []workflow.Notification) SessionResponse {
	resp := SessionResponse{
		Phase:         string(s.Phase()),
		Processing:    workflow.Processing(s),
		RunID:         workflow.RunIDOf(s),
		Notifications: notes,
	}
	if resp.Notifications == nil {
		resp.Notifications = []workflow.Notification{}
	}

	if img := workflow.ImageOf(s); img != nil {
		resp.Image = &ImageResponse{
			Name:        img.Name,
			ContentType: img.ContentType,
			Size:        img.Size(),
			PreviewURL:  img.PreviewURL(),
		}
	}

	st := workflow.StagesOf(s)
	if st == nil {
		st = stages.Defaults()
	}
	views := stages.Render(st, stages.Current(st))
	resp.Stages = make([]StageResponse, len(views))
	for i, v := range views {
		resp.Stages[i] = StageToResponse(v)
	}

	switch v := s.(type) {
	case *workflow.SimulatingProgress:
		resp.TaskID = v.TaskID
	case *workflow.Polling:
		resp.TaskID = v.TaskID
		resp.PollAttempts = v.Attempts
	case *workflow.Completed:
		resp.TaskID = v.TaskID
		resp.ResultURL = v.ResultURL
		link := viewer.Link(v.ResultURL)
		resp.Download = &DownloadResponse{Href: link.Href, Filename: link.Filename}
	case *workflow.Failed:
		resp.TaskID = v.TaskID
		resp.FailureKind = string(v.Kind)
	}

	return resp
}

func StageToResponse(v stages.View) StageResponse {
	return StageResponse{
		Number:          v.Number,
		ID:              v.ID,
		Title:           v.Title,
		Description:     v.Description,
		Status:          string(v.Status),
		Spinner:         v.Spinner,
		Done:            v.Done,
		Failed:          v.Failed,
		ConnectorFilled: v.ConnectorFilled,
	}
}

func RunToResponse(r *history.Run) RunResponse {
	return RunResponse{
		ID:          r.ID,
		TaskID:      r.TaskID,
		FileName:    r.FileName,
		ContentType: r.ContentType,
		SizeBytes:   r.SizeBytes,
		Status:      r.Status,
		ResultURL:   r.ResultURL,
		Error:       r.Error,
		Regenerated: r.Regenerated,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
}
