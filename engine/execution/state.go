package execution

import (
	"fmt"
	"time"

	"github.com/compozy/autoflow/engine/core"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// State is the persisted progress of one workflow run.
// ResumeAt is set if and only if Status is waiting.
type State struct {
	ID            core.ID        `json:"id"`
	WorkflowID    core.ID        `json:"workflow_id"`
	QueueEntryID  core.ID        `json:"queue_entry_id,omitempty"`
	CurrentNodeID string         `json:"current_node_id"`
	Context       map[string]any `json:"context"`
	Status        Status         `json:"status"`
	ResumeAt      *time.Time     `json:"resume_at,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Check verifies the waiting/resume_at pairing.
func (s *State) Check() error {
	waiting := s.Status == StatusWaiting
	if waiting != (s.ResumeAt != nil) {
		return fmt.Errorf("execution %s: resume_at must be set iff status is waiting (status=%s)", s.ID, s.Status)
	}
	return nil
}

func (s *State) MarkWaiting(nodeID string, resumeAt time.Time, now time.Time) {
	s.CurrentNodeID = nodeID
	s.Status = StatusWaiting
	s.ResumeAt = &resumeAt
	s.Error = ""
	s.UpdatedAt = now
}

func (s *State) MarkRunning(nodeID string, now time.Time) {
	s.CurrentNodeID = nodeID
	s.Status = StatusRunning
	s.ResumeAt = nil
	s.UpdatedAt = now
}

func (s *State) MarkCompleted(now time.Time) {
	s.Status = StatusCompleted
	s.ResumeAt = nil
	s.Error = ""
	s.UpdatedAt = now
}

func (s *State) MarkFailed(cause error, now time.Time) {
	s.Status = StatusFailed
	s.ResumeAt = nil
	if cause != nil {
		s.Error = cause.Error()
	}
	s.UpdatedAt = now
}

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobClaimed JobStatus = "claimed"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is a delayed continuation of a waiting execution. A job is consumed
// exactly once: it is done after a successful resume.
type Job struct {
	ID          core.ID        `json:"id"`
	ExecutionID core.ID        `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	ReadyAt     time.Time      `json:"ready_at"`
	Context     map[string]any `json:"context"`
	Status      JobStatus      `json:"status"`
	RetryCount  int            `json:"retry_count"`
	LastError   string         `json:"last_error,omitempty"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Due reports whether the job may be claimed at now.
func (j *Job) Due(now time.Time) bool {
	return j.Status == JobPending && !j.ReadyAt.After(now)
}
