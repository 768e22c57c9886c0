package history

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Run is one pass of an image through the processing service.
type Run struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id,omitempty"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Status      string    `json:"status"`
	ResultURL   string    `json:"result_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	Regenerated bool      `json:"regenerated"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	return r.Status != RunStatusRunning
}

func NewID() string {
	return uuid.NewString()
}
