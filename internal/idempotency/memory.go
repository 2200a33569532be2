package idempotency

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It backs unit tests and single-node runs.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[memoryKey]Record
	retention time.Duration
}

type memoryKey struct {
	userID string
	key    string
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{records: make(map[memoryKey]Record), retention: retention}
}

func (s *MemoryStore) Begin(_ context.Context, key, userID, fingerprint string, now time.Time) (Admission, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := memoryKey{userID: userID, key: key}
	record, ok := s.records[id]
	if ok && now.Before(record.ExpiresAt) {
		return admissionFor(record, fingerprint)
	}

	record = Record{
		Key:         key,
		UserID:      userID,
		Fingerprint: fingerprint,
		Outcome:     Outcome{Status: StatusInProgress},
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.retention),
	}
	s.records[id] = record
	return Admission{State: Admitted, Record: record}, nil
}

func (s *MemoryStore) Resolve(_ context.Context, key, userID string, outcome Outcome, now time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := memoryKey{userID: userID, key: key}
	record, ok := s.records[id]
	if !ok || record.Outcome.Status != StatusInProgress {
		return Record{}, ErrNotInProgress
	}

	record.Outcome = outcome
	record.UpdatedAt = now.UTC()
	s.records[id] = record
	return record, nil
}

func (s *MemoryStore) Get(_ context.Context, key, userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[memoryKey{userID: userID, key: key}]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *MemoryStore) ListInProgress(_ context.Context, startedBefore time.Time, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []Record
	for _, record := range s.records {
		if record.Outcome.Status == StatusInProgress && record.CreatedAt.Before(startedBefore) {
			stale = append(stale, record)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if now.Before(record.ExpiresAt) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed, nil
}
