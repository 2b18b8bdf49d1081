package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/queue"
)

func (s *Store) EnqueueEntry(_ context.Context, entry *queue.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		return fmt.Errorf("memstore: entry %s already exists", entry.ID)
	}
	s.entries[entry.ID] = clone(entry)
	return nil
}

func (s *Store) ClaimEntries(_ context.Context, limit int, maxRetries int, now time.Time) ([]*queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*queue.Entry
	for _, e := range s.entries {
		if e.Claimable(maxRetries) {
			candidates = append(candidates, e)
		}
	}
	sortByCreated(candidates,
		func(e *queue.Entry) time.Time { return e.CreatedAt },
		func(e *queue.Entry) core.ID { return e.ID },
	)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	claimed := make([]*queue.Entry, 0, len(candidates))
	for _, e := range candidates {
		e.Status = queue.StatusProcessing
		e.ClaimedAt = timePtr(now)
		claimed = append(claimed, clone(e))
	}
	return claimed, nil
}

func (s *Store) CompleteEntry(_ context.Context, id core.ID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.processingEntry(id)
	if err != nil {
		return err
	}
	e.Status = queue.StatusCompleted
	e.ProcessedAt = timePtr(now)
	return nil
}

func (s *Store) FailEntry(_ context.Context, id core.ID, failure queue.Failure, now time.Time) (*queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.processingEntry(id)
	if err != nil {
		return nil, err
	}
	applyFailure(e, failure, now)
	return clone(e), nil
}

func (s *Store) ReclaimEntries(
	_ context.Context,
	claimedBefore time.Time,
	failure queue.Failure,
	now time.Time,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status != queue.StatusProcessing || e.ClaimedAt == nil || !e.ClaimedAt.Before(claimedBefore) {
			continue
		}
		applyFailure(e, failure, now)
		n++
	}
	return n, nil
}

func (s *Store) GetEntry(_ context.Context, id core.ID) (*queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, core.ErrEntryNotFound
	}
	return clone(e), nil
}

func (s *Store) processingEntry(id core.ID) (*queue.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, core.ErrEntryNotFound
	}
	if e.Status != queue.StatusProcessing {
		return nil, fmt.Errorf("%w: entry %s is %s", core.ErrClaimConflict, id, e.Status)
	}
	return e, nil
}

func applyFailure(e *queue.Entry, failure queue.Failure, now time.Time) {
	e.RetryCount, e.Status, e.LastError = failure.Apply(e.RetryCount)
	e.ClaimedAt = nil
	if e.Status == queue.StatusFailed {
		e.ProcessedAt = timePtr(now)
	}
}
