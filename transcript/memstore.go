package transcript

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store for tests and ephemeral ceremonies.
type MemStore struct {
	mu      sync.Mutex
	records []Record
	sealed  bool

	// AppendErr, when set, is returned by the next Append call. Used to
	// exercise the coordinator's durable-failure path.
	AppendErr error
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "append", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		err := s.AppendErr
		s.AppendErr = nil
		return &StorageError{Op: "append", Err: err}
	}
	if s.sealed {
		return &StorageError{Op: "append", Err: ErrSealed}
	}
	if want := uint64(len(s.records)) + 1; r.Sequence != want {
		return &StorageError{Op: "append", Err: fmt.Errorf("sequence %d out of order, want %d", r.Sequence, want)}
	}
	s.records = append(s.records, *r)
	return nil
}

func (s *MemStore) LoadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *MemStore) Seal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "seal", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return nil
}

func (s *MemStore) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}
