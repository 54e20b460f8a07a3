package memory

import (
	"context"
	"sort"
	"sync"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// TaskJournal is an in-memory implementation of storage.TaskJournal.
type TaskJournal struct {
	mu     sync.RWMutex
	events []*domain.TaskEvent
}

// NewTaskJournal creates a new in-memory task journal.
func NewTaskJournal() *TaskJournal {
	return &TaskJournal{}
}

// Append adds a lifecycle event.
func (j *TaskJournal) Append(_ context.Context, e *domain.TaskEvent) error {
	if e == nil || e.TaskID == "" {
		return storage.ErrInvalidInput
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	c := *e
	j.events = append(j.events, &c)
	return nil
}

// ListByTask returns events of a task ordered by timestamp ASC.
func (j *TaskJournal) ListByTask(_ context.Context, taskID string) ([]*domain.TaskEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*domain.TaskEvent
	for _, e := range j.events {
		if e.TaskID == taskID {
			c := *e
			result = append(result, &c)
		}
	}
	sort.SliceStable(result, func(i, k int) bool {
		return result[i].Timestamp < result[k].Timestamp
	})
	return result, nil
}

// ListFailed returns tasks whose last event is FAILED within [start, end].
func (j *TaskJournal) ListFailed(_ context.Context, start, end int64) ([]*domain.TaskEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	last := make(map[string]*domain.TaskEvent)
	for _, e := range j.events {
		if prev, ok := last[e.TaskID]; !ok || e.Timestamp >= prev.Timestamp {
			last[e.TaskID] = e
		}
	}

	var result []*domain.TaskEvent
	for _, e := range last {
		if e.Phase == domain.PhaseFailed && e.Timestamp >= start && e.Timestamp <= end {
			c := *e
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		if result[i].Timestamp != result[k].Timestamp {
			return result[i].Timestamp < result[k].Timestamp
		}
		return result[i].TaskID < result[k].TaskID
	})
	return result, nil
}

var _ storage.TaskJournal = (*TaskJournal)(nil)
