package memstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
)

func (s *Store) CreateExecution(_ context.Context, state *execution.State) error {
	if err := state.Check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[state.ID]; exists {
		return fmt.Errorf("memstore: execution %s already exists", state.ID)
	}
	s.executions[state.ID] = clone(state)
	return nil
}

func (s *Store) SaveExecution(_ context.Context, state *execution.State) error {
	if err := state.Check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[state.ID]; !exists {
		return core.ErrExecutionNotFound
	}
	s.executions[state.ID] = clone(state)
	return nil
}

func (s *Store) GetExecution(_ context.Context, id core.ID) (*execution.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.executions[id]
	if !ok {
		return nil, core.ErrExecutionNotFound
	}
	return clone(st), nil
}

func (s *Store) ListExecutions(_ context.Context, filter execution.ListFilter) ([]*execution.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*execution.State, 0)
	for _, st := range s.executions {
		if !filter.WorkflowID.IsZero() && st.WorkflowID != filter.WorkflowID {
			continue
		}
		if !filter.QueueEntryID.IsZero() && st.QueueEntryID != filter.QueueEntryID {
			continue
		}
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		out = append(out, clone(st))
	}
	sortByCreated(out,
		func(st *execution.State) time.Time { return st.CreatedAt },
		func(st *execution.State) core.ID { return st.ID },
	)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) SuspendExecution(_ context.Context, state *execution.State, job *execution.Job) error {
	if err := state.Check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("memstore: job %s already exists", job.ID)
	}
	s.executions[state.ID] = clone(state)
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *Store) ListDueJobs(_ context.Context, now time.Time, limit int) ([]*execution.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*execution.Job
	for _, j := range s.jobs {
		if j.Due(now) {
			due = append(due, j)
		}
	}
	sortByCreated(due,
		func(j *execution.Job) time.Time { return j.ReadyAt },
		func(j *execution.Job) core.ID { return j.ID },
	)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*execution.Job, 0, len(due))
	for _, j := range due {
		out = append(out, clone(j))
	}
	return out, nil
}

func (s *Store) ClaimJob(_ context.Context, id core.ID, now time.Time) (*execution.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	if !j.Due(now) {
		return nil, fmt.Errorf("%w: job %s is %s", core.ErrClaimConflict, id, j.Status)
	}
	j.Status = execution.JobClaimed
	j.ClaimedAt = timePtr(now)
	return clone(j), nil
}

func (s *Store) CompleteJob(_ context.Context, id core.ID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.claimedJob(id)
	if err != nil {
		return err
	}
	j.Status = execution.JobDone
	return nil
}

func (s *Store) FailJob(
	_ context.Context,
	id core.ID,
	failure execution.JobFailure,
	now time.Time,
) (*execution.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.claimedJob(id)
	if err != nil {
		return nil, err
	}
	s.applyFailure(j, failure, now)
	return clone(j), nil
}

func (s *Store) ReleaseStaleJobs(
	_ context.Context,
	claimedBefore time.Time,
	failure execution.JobFailure,
	now time.Time,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == execution.JobClaimed && j.ClaimedAt != nil && j.ClaimedAt.Before(claimedBefore) {
			s.applyFailure(j, failure, now)
			n++
		}
	}
	return n, nil
}

// applyFailure must be called with s.mu held.
func (s *Store) applyFailure(j *execution.Job, failure execution.JobFailure, now time.Time) {
	failed := failure.Apply(j)
	st := s.executions[j.ExecutionID]
	if st == nil || st.Status == execution.StatusCompleted {
		return
	}
	if failed {
		st.MarkFailed(errors.New(j.LastError), now)
		return
	}
	st.MarkWaiting(j.NodeID, j.ReadyAt, now)
	st.Context = core.CloneMap(j.Context)
}

func (s *Store) claimedJob(id core.ID) (*execution.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	if j.Status != execution.JobClaimed {
		return nil, fmt.Errorf("%w: job %s is %s", core.ErrClaimConflict, id, j.Status)
	}
	return j, nil
}
