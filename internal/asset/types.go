package asset

import "time"

// Stage is the lifecycle position of an asset within the pipeline.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageUploading    Stage = "uploading"
	StageUploaded     Stage = "uploaded"
	StageTranscribing Stage = "transcribing"
	StageTranscribed  Stage = "transcribed"
	StageSummarizing  Stage = "summarizing"
	StageSummarized   Stage = "summarized"
	StageFailed       Stage = "failed"
)

var inFlightStages = map[Stage]struct{}{
	StageUploading:    {},
	StageTranscribing: {},
	StageSummarizing:  {},
}

// InFlight reports whether the stage waits on a remote call.
func (s Stage) InFlight() bool {
	_, ok := inFlightStages[s]
	return ok
}

type transition struct {
	from Stage
	to   Stage
}

// transitions lists every edge of the state machine. Failed can be entered
// from each in-flight stage; leaving Failed requires a new stage operation
// which starts from the identity that survived the failure.
var transitions = []transition{
	{from: StageIdle, to: StageUploading},
	{from: StageUploading, to: StageUploaded},
	{from: StageUploading, to: StageFailed},
	{from: StageUploaded, to: StageTranscribing},
	{from: StageTranscribed, to: StageTranscribing},
	{from: StageSummarized, to: StageTranscribing},
	{from: StageFailed, to: StageTranscribing},
	{from: StageTranscribing, to: StageTranscribed},
	{from: StageTranscribing, to: StageFailed},
	{from: StageUploaded, to: StageSummarizing},
	{from: StageTranscribed, to: StageSummarizing},
	{from: StageSummarized, to: StageSummarizing},
	{from: StageFailed, to: StageSummarizing},
	{from: StageSummarizing, to: StageSummarized},
	{from: StageSummarizing, to: StageFailed},
}

var transitionSet = func() map[transition]struct{} {
	set := make(map[transition]struct{}, len(transitions))
	for _, t := range transitions {
		set[t] = struct{}{}
	}
	return set
}()

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Stage) bool {
	_, ok := transitionSet[transition{from: from, to: to}]
	return ok
}

// AuthContext carries the caller identity resolved by the external auth
// collaborator.
type AuthContext struct {
	UserID string
	Email  string
}

// Authenticated reports whether a user identity is present.
func (a AuthContext) Authenticated() bool {
	return a.UserID != ""
}

// Asset is the single active submission and its derived artifacts.
type Asset struct {
	ID         string
	Owner      string
	ObjectName string
	PublicURL  string
	Stage      Stage
	Transcript string
	Summary    string
	LastError  string
	UpdatedAt  time.Time
}

// Snapshot is the read-only projection handed to the UI layer.
type Snapshot struct {
	ID         string    `json:"id,omitempty"`
	Owner      string    `json:"owner,omitempty"`
	Stage      Stage     `json:"stage"`
	ObjectName string    `json:"object_name,omitempty"`
	PublicURL  string    `json:"public_url,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	Version    uint64    `json:"version"`
}
