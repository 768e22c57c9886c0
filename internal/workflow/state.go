package workflow

import (
	"github.com/pickabook/pickabook-agent/internal/stages"
	"github.com/pickabook/pickabook-agent/internal/upload"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUploading  Phase = "uploading"
	PhaseSimulating Phase = "simulating_progress"
	PhasePolling    Phase = "polling"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// FailureKind says which step of a run failed.
type FailureKind string

const (
	FailureUpload     FailureKind = "upload"
	FailureProcessing FailureKind = "processing"
	FailurePoll       FailureKind = "poll"
)

// State is exactly one of *Idle, *Uploading, *SimulatingProgress, *Polling,
// *Completed or *Failed. Each variant carries only what is valid in it.
type State interface {
	Phase() Phase
	isState()
}

type Idle struct{}

type Uploading struct {
	RunID  string
	Image  *upload.Image
	Stages []stages.Stage
}

type SimulatingProgress struct {
	RunID  string
	Image  *upload.Image
	TaskID string
	Stages []stages.Stage
	Step   int
}

type Polling struct {
	RunID    string
	Image    *upload.Image
	TaskID   string
	Stages   []stages.Stage
	Attempts int
}

type Completed struct {
	RunID     string
	Image     *upload.Image
	TaskID    string
	Stages    []stages.Stage
	ResultURL string
}

type Failed struct {
	RunID  string
	Image  *upload.Image
	TaskID string
	Stages []stages.Stage
	Kind   FailureKind
	Err    error
}

func (*Idle) Phase() Phase               { return PhaseIdle }
func (*Uploading) Phase() Phase          { return PhaseUploading }
func (*SimulatingProgress) Phase() Phase { return PhaseSimulating }
func (*Polling) Phase() Phase            { return PhasePolling }
func (*Completed) Phase() Phase          { return PhaseCompleted }
func (*Failed) Phase() Phase             { return PhaseFailed }

func (*Idle) isState()               {}
func (*Uploading) isState()          {}
func (*SimulatingProgress) isState() {}
func (*Polling) isState()            {}
func (*Completed) isState()          {}
func (*Failed) isState()             {}

// Processing reports whether a run is in flight.
func Processing(s State) bool {
	switch s.(type) {
	case *Uploading, *SimulatingProgress, *Polling:
		return true
	}
	return false
}

// ImageOf returns the image held by s, or nil in Idle.
func ImageOf(s State) *upload.Image {
	switch v := s.(type) {
	case *Uploading:
		return v.Image
	case *SimulatingProgress:
		return v.Image
	case *Polling:
		return v.Image
	case *Completed:
		return v.Image
	case *Failed:
		return v.Image
	}
	return nil
}

// StagesOf returns the stage list of s. Idle has none.
func StagesOf(s State) []stages.Stage {
	switch v := s.(type) {
	case *Uploading:
		return v.Stages
	case *SimulatingProgress:
		return v.Stages
	case *Polling:
		return v.Stages
	case *Completed:
		return v.Stages
	case *Failed:
		return v.Stages
	}
	return nil
}

// RunIDOf returns the run id of s, or "" in Idle.
func RunIDOf(s State) string {
	switch v := s.(type) {
	case *Uploading:
		return v.RunID
	case *SimulatingProgress:
		return v.RunID
	case *Polling:
		return v.RunID
	case *Completed:
		return v.RunID
	case *Failed:
		return v.RunID
	}
	return ""
}

func clone(s State) State {
	switch v := s.(type) {
	case *Uploading:
		c := *v
		c.Stages = stages.Clone(v.Stages)
		return &c
	case *SimulatingProgress:
		c := *v
		c.Stages = stages.Clone(v.Stages)
		return &c
	case *Polling:
		c := *v
		c.Stages = stages.Clone(v.Stages)
		return &c
	case *Completed:
		c := *v
		c.Stages = stages.Clone(v.Stages)
		return &c
	case *Failed:
		c := *v
		c.Stages = stages.Clone(v.Stages)
		return &c
	}
	return &Idle{}
}
