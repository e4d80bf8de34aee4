package user

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"zenmgt/internal/record"
	"zenmgt/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used by unit tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	masters map[uint64]*Master
	details map[uint64][]*Detail // keyed by parent id, append order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		masters: make(map[uint64]*Master),
		details: make(map[uint64][]*Detail),
	}
}

func (s *MemoryStore) CreateWithDetail(ctx context.Context, m *Master, d *Detail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.masters[m.ID]; exists {
		return fmt.Errorf("%w: master %d", sentinel.ErrConflict, m.ID)
	}
	if d.ParentID != m.ID {
		return fmt.Errorf("%w: detail parent %d != master %d", sentinel.ErrInvalidState, d.ParentID, m.ID)
	}

	mc := *m
	dc := *d
	mc.ActiveVersionID = d.ID
	s.masters[m.ID] = &mc
	s.details[m.ID] = append(s.details[m.ID], &dc)

	m.ActiveVersionID = d.ID
	return nil
}

func (s *MemoryStore) AppendDetail(ctx context.Context, d *Detail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	master, ok := s.masters[d.ParentID]
	if !ok || master.Status.IsDeleted() {
		return fmt.Errorf("%w: master %d", sentinel.ErrNotFound, d.ParentID)
	}

	dc := *d
	s.details[d.ParentID] = append(s.details[d.ParentID], &dc)
	return nil
}

func (s *MemoryStore) GetMaster(ctx context.Context, id uint64) (*Master, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMaster(id)
}

func (s *MemoryStore) GetMasterForUpdate(ctx context.Context, id uint64) (*Master, error) {
	// Whole operations are serialized by the MemoryRunner.
	return s.GetMaster(ctx, id)
}

func (s *MemoryStore) getMaster(id uint64) (*Master, error) {
	m, ok := s.masters[id]
	if !ok {
		return nil, fmt.Errorf("%w: master %d", sentinel.ErrNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMasterByCode(ctx context.Context, code string) (*Master, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.masters {
		if m.UserCode == code {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: user code %q", sentinel.ErrNotFound, code)
}

func (s *MemoryStore) GetDetail(ctx context.Context, masterID, detailID uint64) (*Detail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.details[masterID] {
		if d.ID == detailID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: detail %d for master %d", sentinel.ErrNotFound, detailID, masterID)
}

func (s *MemoryStore) CurrentDetail(ctx context.Context, masterID uint64) (*Detail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.getMaster(masterID)
	if err != nil {
		return nil, err
	}
	if m.ActiveVersionID == 0 {
		return nil, fmt.Errorf("%w: master %d has no active version", sentinel.ErrNotFound, masterID)
	}
	for _, d := range s.details[masterID] {
		if d.ID == m.ActiveVersionID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: active version %d for master %d", sentinel.ErrNotFound, m.ActiveVersionID, masterID)
}

func (s *MemoryStore) VersionHistory(ctx context.Context, masterID uint64) ([]*Detail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.masters[masterID]; !ok {
		return nil, fmt.Errorf("%w: master %d", sentinel.ErrNotFound, masterID)
	}

	history := s.details[masterID]
	out := make([]*Detail, 0, len(history))
	for _, d := range history {
		cp := *d
		out = append(out, &cp)
	}
	// Snowflake ids are creation-ordered, so id order is time order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) ActivateVersion(ctx context.Context, masterID, versionID uint64, status record.Status, updatedBy uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.masters[masterID]
	if !ok {
		return fmt.Errorf("%w: master %d", sentinel.ErrNotFound, masterID)
	}
	if m.Status.IsDeleted() {
		return fmt.Errorf("%w: master %d is deleted", sentinel.ErrInvalidState, masterID)
	}

	var found bool
	for _, d := range s.details[masterID] {
		if d.ID == versionID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: detail %d for master %d", sentinel.ErrNotFound, versionID, masterID)
	}

	m.ActiveVersionID = versionID
	m.Status = status
	m.UpdatedBy = updatedBy
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, masterID uint64, status record.Status, updatedBy uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.masters[masterID]
	if !ok {
		return fmt.Errorf("%w: master %d", sentinel.ErrNotFound, masterID)
	}
	if m.Status.IsDeleted() {
		return fmt.Errorf("%w: master %d is deleted", sentinel.ErrInvalidState, masterID)
	}

	m.Status = status
	m.UpdatedBy = updatedBy
	return nil
}

func (s *MemoryStore) UsernameTaken(ctx context.Context, username string, excludeMasterID uint64) (bool, error) {
	return s.fieldTaken(func(d *Detail) bool {
		return strings.EqualFold(d.Username, username)
	}, excludeMasterID), nil
}

func (s *MemoryStore) EmailTaken(ctx context.Context, email string, excludeMasterID uint64) (bool, error) {
	return s.fieldTaken(func(d *Detail) bool {
		return strings.EqualFold(d.Email, email)
	}, excludeMasterID), nil
}

func (s *MemoryStore) fieldTaken(match func(*Detail) bool, excludeMasterID uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, m := range s.masters {
		if id == excludeMasterID || m.Status.IsDeleted() {
			continue
		}
		history := s.details[id]
		if len(history) == 0 {
			continue
		}
		if match(history[len(history)-1]) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CodeTaken(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.masters {
		if m.UserCode == code {
			return true, nil
		}
	}
	return false, nil
}
