package audit

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStorage is a process-local, volatile ledger backend.
//
// With a positive maxRecords bound it evicts the oldest record (FIFO)
// before each append at capacity. Eviction breaks whole-history
// verifiability, so the verifier anchors on WindowStartHash instead of
// genesis once anything has been evicted.
//
// Thread-safe — queries may run while the logger appends.
type MemoryStorage struct {
	mu         sync.RWMutex
	records    []Record
	maxRecords int
	evicted    uint64
}

// NewMemoryStorage creates an in-memory backend. maxRecords bounds the
// retained window; zero means unbounded. A negative bound is a
// configuration error.
func NewMemoryStorage(maxRecords int) (*MemoryStorage, error) {
	if maxRecords < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxRecords, maxRecords)
	}
	return &MemoryStorage{maxRecords: maxRecords}, nil
}

// Append stores the record, evicting the oldest retained record first when
// the bound is reached.
func (s *MemoryStorage) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxRecords > 0 && len(s.records) >= s.maxRecords {
		drop := len(s.records) - s.maxRecords + 1
		s.records = append(s.records[:0], s.records[drop:]...)
		s.evicted += uint64(drop)
	}
	s.records = append(s.records, rec)
	return nil
}

// Query returns records matching the filter in ascending order.
func (s *MemoryStorage) Query(ctx context.Context, f Filter) ([]Record, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return ApplyFilter(all, f), nil
}

// All returns a copy of every retained record in append order.
func (s *MemoryStorage) All(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Count returns the number of retained records.
func (s *MemoryStorage) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// LastRecord returns the most recently appended record, or nil when the
// store is empty.
func (s *MemoryStorage) LastRecord(_ context.Context) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, nil
	}
	rec := s.records[len(s.records)-1]
	return &rec, nil
}

// WindowStartHash returns the hash verification should anchor on: the
// oldest retained record's previousHash. Before any eviction this is the
// genesis hash, so full-history verification degrades gracefully into
// windowed verification as records age out.
func (s *MemoryStorage) WindowStartHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return GenesisHash
	}
	return s.records[0].PreviousHash
}

// Evicted returns how many records have been dropped by the FIFO bound.
func (s *MemoryStorage) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}
