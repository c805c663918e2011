package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Ledger for tests and runs without a ledger path.
type MemStore struct {
	mu         sync.Mutex
	runs       map[string]*Run
	rejections map[string][]Rejection
	deliveries map[string][]Delivery
}

// NewMemStore returns an empty in-memory ledger.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:       make(map[string]*Run),
		rejections: make(map[string][]Rejection),
		deliveries: make(map[string][]Delivery),
	}
}

func (s *MemStore) StartRun(stage string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.runs[id] = &Run{ID: id, Stage: stage, StartedAt: at.UTC()}
	return id, nil
}

func (s *MemStore) FinishRun(runID string, at time.Time, totals RunTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("finish run %s: not found", runID)
	}
	r.FinishedAt = at.UTC()
	r.Merged = totals.Merged
	r.Rejected = totals.Rejected
	r.Pending = totals.Pending
	r.Superseded = totals.Superseded
	r.Error = errString(totals.Err)
	return nil
}

func (s *MemStore) RecordRejections(runID string, rejections []Rejection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rejections {
		r.RunID = runID
		s.rejections[runID] = append(s.rejections[runID], r)
	}
	return nil
}

func (s *MemStore) RecordDelivery(runID string, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.RunID = runID
	s.deliveries[runID] = append(s.deliveries[runID], d)
	return nil
}

func (s *MemStore) ListRuns(limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ListRejections(runID string) ([]Rejection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Rejection(nil), s.rejections[runID]...), nil
}

func (s *MemStore) ListDeliveries(runID string) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries[runID]...), nil
}

func (s *MemStore) Close() error { return nil }

var (
	_ Ledger = (*MemStore)(nil)
	_ Ledger = (*SqlStore)(nil)
)
