// Package memory implements store.JobHistory as a bounded in-process list.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/siteshot/internal/store"
)

const defaultCapacity = 200

// History keeps the most recent jobs up to a fixed capacity, evicting the oldest first.
type History struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	jobs     map[string]*store.JobRun
}

var _ store.JobHistory = (*History)(nil)

// New creates a History holding at most capacity jobs.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &History{capacity: capacity, jobs: make(map[string]*store.JobRun, capacity)}
}

// StartJob implements store.JobHistory.
func (h *History) StartJob(_ context.Context, jobID, url string, kinds []string, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.jobs[jobID]; ok {
		return nil
	}
	h.insert(&store.JobRun{
		JobID:     jobID,
		URL:       url,
		Kinds:     slices.Clone(kinds),
		StartedAt: at,
		Status:    store.StatusRunning,
	})
	return nil
}

// RecordStep implements store.JobHistory.
func (h *History) RecordStep(_ context.Context, jobID string, step store.StepTiming) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	run, ok := h.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	run.Steps = append(run.Steps, step)
	return nil
}

// CompleteJob implements store.JobHistory.
func (h *History) CompleteJob(
	_ context.Context,
	jobID string,
	at time.Time,
	status store.JobStatus,
	errorKind string,
	errMsg *string,
	bytes int64,
) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	run, ok := h.jobs[jobID]
	if !ok {
		run = &store.JobRun{JobID: jobID, StartedAt: at}
		h.insert(run)
	}
	finished := at
	run.FinishedAt = &finished
	run.Status = status
	run.ErrorKind = errorKind
	run.ErrorMessage = errMsg
	run.Bytes = bytes
	return nil
}

// GetJob implements store.JobHistory.
func (h *History) GetJob(_ context.Context, jobID string) (store.JobRun, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run, ok := h.jobs[jobID]
	if !ok {
		return store.JobRun{}, store.ErrNotFound
	}
	return clone(run), nil
}

// ListJobs implements store.JobHistory.
func (h *History) ListJobs(_ context.Context, status *store.JobStatus, limit, offset int) ([]store.JobRun, error) {
	if limit <= 0 {
		return nil, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]store.JobRun, 0, min(limit, len(h.order)))
	skipped := 0
	for i := len(h.order) - 1; i >= 0 && len(out) < limit; i-- {
		run := h.jobs[h.order[i]]
		if status != nil && run.Status != *status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, clone(run))
	}
	return out, nil
}

// Len returns the number of jobs held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

func (h *History) insert(run *store.JobRun) {
	if len(h.order) >= h.capacity {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.jobs, oldest)
	}
	h.order = append(h.order, run.JobID)
	h.jobs[run.JobID] = run
}

func clone(run *store.JobRun) store.JobRun {
	out := *run
	out.Kinds = slices.Clone(run.Kinds)
	out.Steps = slices.Clone(run.Steps)
	return out
}
