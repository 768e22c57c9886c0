package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a dismissable toast.
type Notification struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Variant     Variant   `json:"variant"`
	CreatedAt   time.Time `json:"created_at"`
}

var (
	NoticeUploadFailed = Notification{
		Title:       "Upload Failed",
		Description: "Please try again with a different image.",
		Variant:     VariantDestructive,
	}
	NoticeSuccess = Notification{
		Title:       "Success!",
		Description: "Your personalized illustration is ready!",
		Variant:     VariantDefault,
	}
	NoticeProcessingFailed = Notification{
		Title:       "Processing Failed",
		Description: "Something went wrong. Please try again.",
		Variant:     VariantDestructive,
	}
	NoticePollError = Notification{
		Title:       "Error",
		Description: "Failed to fetch result. Please try again.",
		Variant:     VariantDestructive,
	}
)

func failureNotice(kind FailureKind) Notification {
	switch kind {
	case FailureUpload:
		return NoticeUploadFailed
	case FailureProcessing:
		return NoticeProcessingFailed
	default:
		return NoticePollError
	}
}

type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// DefaultToastLimit is how many toasts a Toaster keeps.
const DefaultToastLimit = 3

// Toaster keeps the most recent notifications until they are dismissed.
type Toaster struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

func NewToaster(limit int) *Toaster {
	if limit <= 0 {
		limit = DefaultToastLimit
	}
	return &Toaster{limit: limit}
}

func (t *Toaster) Notify(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, n)
	if over := len(t.items) - t.limit; over > 0 {
		t.items = append([]Notification(nil), t.items[over:]...)
	}
}

// List returns the live notifications, oldest first.
func (t *Toaster) List() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Notification(nil), t.items...)
}

// Dismiss removes a notification and reports whether it existed.
func (t *Toaster) Dismiss(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, n := range t.items {
		if n.ID == id {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every notification.
func (t *Toaster) Clear() {
	t.mu.Lock()
	t.items = nil
	t.mu.Unlock()
}
