package model

import (
	"time"

	"github.com/google/uuid"

	"pixelmint/internal/domain"
)

type JobKind string

const (
	JobKindImage   JobKind = "image"
	JobKindVideo   JobKind = "video"
	JobKindUpscale JobKind = "upscale"
)

type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateStarting   JobState = "starting" // video jobs only
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

func (s JobState) IsInFlight() bool {
	return s == JobStatePending || s == JobStateStarting || s == JobStateProcessing
}

// Job tracks one externally-executing generation job from submission through
// completion. Invariants maintained by the use case layer:
//   - ResultURLs non-empty implies state == completed.
//   - ErrorMessage non-empty implies state == failed.
//   - ExternalJobID empty implies state == pending.
//   - Terminal states are sticky; CompletedAt is set exactly once.
type Job struct {
	ID              string
	OwnerID         string
	Kind            JobKind
	State           JobState
	ExternalJobID   string // provider's id; empty until submission succeeds
	Provider        string
	ModelVersion    string
	Input           map[string]any
	ResultURLs      []string
	ThumbnailURLs   []string
	CreditsReserved int
	ErrorMessage    string
	ETA             *time.Time // estimated-completion hint, cosmetic only
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

func NewJob(ownerID string, kind JobKind, provider, modelVersion string, input map[string]any, credits int) (*Job, error) {
	if ownerID == "" || provider == "" {
		return nil, domain.ErrInvalidArgument
	}
	if credits <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Job{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Kind:            kind,
		State:           JobStatePending,
		Provider:        provider,
		ModelVersion:    modelVersion,
		Input:           input,
		CreditsReserved: credits,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// MarkSubmitted records the provider's job id and moves the job in flight.
func (j *Job) MarkSubmitted(externalID string, state JobState, eta *time.Time) {
	j.ExternalJobID = externalID
	j.State = state
	j.ETA = eta
	j.UpdatedAt = time.Now()
}

// MarkInFlight updates the cosmetic progress state while the job remains in
// flight. Never called once the job is terminal.
func (j *Job) MarkInFlight(state JobState, eta *time.Time) {
	j.State = state
	if eta != nil {
		j.ETA = eta
	}
	j.UpdatedAt = time.Now()
}

// MarkCompleted transitions into the successful terminal state. Only the
// outputs that survived storage migration are recorded.
func (j *Job) MarkCompleted(resultURLs, thumbURLs []string) {
	now := time.Now()
	j.State = JobStateCompleted
	j.ResultURLs = resultURLs
	j.ThumbnailURLs = thumbURLs
	j.ErrorMessage = ""
	j.CompletedAt = &now
	j.UpdatedAt = now
}

func (j *Job) MarkFailed(msg string) {
	now := time.Now()
	j.State = JobStateFailed
	j.ErrorMessage = msg
	j.CompletedAt = &now
	j.UpdatedAt = now
}

func (j *Job) MarkCancelled() {
	now := time.Now()
	j.State = JobStateCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
}
