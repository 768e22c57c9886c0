// Package stages models the four-step progress display: the stage list, its
// rendering, and the cosmetic timer that walks through it.
package stages

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Completed  Status = "completed"
	Error      Status = "error"
)

// Stage is one entry of the progress display.
type Stage struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
}

// Count is the number of fixed stages.
const Count = 4

// Defaults returns a fresh list of the fixed stages, all pending.
func Defaults() []Stage {
	return []Stage{
		{ID: "upload", Title: "Upload & Analyze", Description: "Processing your photo...", Status: Pending},
		{ID: "face", Title: "Face Detection", Description: "Detecting facial features...", Status: Pending},
		{ID: "style", Title: "Style Transfer", Description: "Applying storybook style...", Status: Pending},
		{ID: "enhance", Title: "Enhancement", Description: "Adding magical touches...", Status: Pending},
	}
}

// Clone copies a stage list so callers can hand it out without sharing.
func Clone(s []Stage) []Stage {
	if s == nil {
		return nil
	}
	out := make([]Stage, len(s))
	copy(out, s)
	return out
}

// Set changes the status of stage i. A completed stage never moves back to
// pending or processing; such requests are ignored and reported as false.
func Set(s []Stage, i int, to Status) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	if s[i].Status == Completed && to != Completed {
		return false
	}
	s[i].Status = to
	return true
}

// Advance marks stage i processing and its predecessor completed.
func Advance(s []Stage, i int) {
	if i > 0 {
		Set(s, i-1, Completed)
	}
	Set(s, i, Processing)
}

func CompleteAll(s []Stage) {
	for i := range s {
		Set(s, i, Completed)
	}
}

// Fail marks every processing stage as errored.
func Fail(s []Stage) {
	for i := range s {
		if s[i].Status == Processing {
			s[i].Status = Error
		}
	}
}

// Current returns the index of the first processing stage, or -1.
func Current(s []Stage) int {
	for i := range s {
		if s[i].Status == Processing {
			return i
		}
	}
	return -1
}
