package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Kind string
type Status string

const (
	KindSummarize      Kind = "summarize"
	KindQuestionAnswer Kind = "question_answer"
	KindToneRewrite    Kind = "tone_rewrite"
	KindTranslate      Kind = "translate"
	KindEcho           Kind = "echo"
)

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound           = errors.New("job not found")
	ErrInvalidTransition  = errors.New("invalid job transition")
	ErrStorageUnavailable = errors.New("job storage unavailable")
)

type Job struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Terminal reports whether no further transition is permitted out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// TransitionError describes a rejected transition.
type TransitionError struct {
	ID     string
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("job %s: %s -> %s: %s", e.ID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("job %s: %s -> %s not permitted", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Clone returns a deep copy; mutating it leaves the receiver untouched.
func (j *Job) Clone() *Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &c
}

// SubmissionResponse is returned by the async endpoints.
type SubmissionResponse struct {
	JobID string `json:"job_id"`
}
