package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"zenmgt/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used by unit tests and local runs. It
// mirrors the postgres store's semantics, including the single-open-request
// conflict check.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[uint64]*Request
	trails   map[uint64][]*AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[uint64]*Request),
		trails:   make(map[uint64][]*AuditEntry),
	}
}

func (s *MemoryStore) Create(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.ReferenceType == req.ReferenceType &&
			existing.ReferenceID == req.ReferenceID &&
			existing.Open() {
			return fmt.Errorf("%w: open request %d for reference %d", sentinel.ErrConflict, existing.ID, req.ReferenceID)
		}
	}

	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uint64) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *MemoryStore) GetForUpdate(ctx context.Context, id uint64) (*Request, error) {
	// The MemoryRunner already serializes whole operations; a plain read is
	// equivalent to a locked one here.
	return s.Get(ctx, id)
}

func (s *MemoryStore) get(id uint64) (*Request, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: approval request %d", sentinel.ErrNotFound, id)
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryStore) FindOpen(ctx context.Context, refType ReferenceType, refID uint64) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, req := range s.requests {
		if req.ReferenceType == refType && req.ReferenceID == refID && req.Open() {
			cp := *req
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no open request for reference %d", sentinel.ErrNotFound, refID)
}

func (s *MemoryStore) ListByReference(ctx context.Context, refType ReferenceType, refID uint64) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Request
	for _, req := range s.requests {
		if req.ReferenceType == refType && req.ReferenceID == refID {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListOpen(ctx context.Context, refType ReferenceType) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Request
	for _, req := range s.requests {
		if req.ReferenceType == refType && req.Open() {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[req.ID]
	if !ok {
		return fmt.Errorf("%w: approval request %d", sentinel.ErrNotFound, req.ID)
	}
	stored.Status = req.Status
	stored.UpdatedBy = req.UpdatedBy
	stored.UpdatedAt = req.UpdatedAt
	return nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.trails[entry.RequestID] = append(s.trails[entry.RequestID], &cp)
	return nil
}

func (s *MemoryStore) Trail(ctx context.Context, requestID uint64) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trail := s.trails[requestID]
	out := make([]*AuditEntry, 0, len(trail))
	for _, e := range trail {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}
