package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"zenmgt/internal/record"
	"zenmgt/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite

	ctx   context.Context
	store *MemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore()
}

func (s *MemoryStoreSuite) seed(masterID, detailID uint64, username string) (*Master, *Detail) {
	m := &Master{
		ID:        masterID,
		UserCode:  "USER" + username,
		Status:    record.StatusActive,
		CreatedBy: 1,
		UpdatedBy: 1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	d := &Detail{
		ID:              detailID,
		ParentID:        masterID,
		Username:        username,
		Email:           username + "@example.com",
		SessionValidity: DefaultSessionValidity,
		CreatedBy:       1,
		CreatedAt:       time.Now(),
	}
	s.Require().NoError(s.store.CreateWithDetail(s.ctx, m, d))
	return m, d
}

func (s *MemoryStoreSuite) TestCreateSetsActiveVersion() {
	m, d := s.seed(1, 10, "alice")
	s.Equal(d.ID, m.ActiveVersionID)

	got, err := s.store.GetMaster(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(10), got.ActiveVersionID)

	current, err := s.store.CurrentDetail(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal("alice", current.Username)
}

func (s *MemoryStoreSuite) TestCreateRejectsDuplicateMaster() {
	s.seed(1, 10, "alice")

	err := s.store.CreateWithDetail(s.ctx, &Master{ID: 1}, &Detail{ID: 11, ParentID: 1})
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *MemoryStoreSuite) TestCreateRejectsParentMismatch() {
	err := s.store.CreateWithDetail(s.ctx, &Master{ID: 1}, &Detail{ID: 10, ParentID: 2})
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *MemoryStoreSuite) TestAppendDoesNotRepoint() {
	s.seed(1, 10, "alice")

	s.Require().NoError(s.store.AppendDetail(s.ctx, &Detail{
		ID: 20, ParentID: 1, Username: "alice2", Email: "alice2@example.com",
	}))

	current, err := s.store.CurrentDetail(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(10), current.ID, "append must not change the active version")

	history, err := s.store.VersionHistory(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(uint64(20), history[0].ID, "newest first")
	s.Equal(uint64(10), history[1].ID)
}

func (s *MemoryStoreSuite) TestAppendToMissingMaster() {
	err := s.store.AppendDetail(s.ctx, &Detail{ID: 20, ParentID: 404})
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestActivateVersionRepoints() {
	s.seed(1, 10, "alice")
	s.Require().NoError(s.store.AppendDetail(s.ctx, &Detail{ID: 20, ParentID: 1, Username: "alice2"}))

	s.Require().NoError(s.store.ActivateVersion(s.ctx, 1, 20, record.StatusActive, 7))

	m, err := s.store.GetMaster(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(20), m.ActiveVersionID)
	s.Equal(record.StatusActive, m.Status)
	s.Equal(uint64(7), m.UpdatedBy)
}

func (s *MemoryStoreSuite) TestActivateUnknownVersionFails() {
	s.seed(1, 10, "alice")

	err := s.store.ActivateVersion(s.ctx, 1, 999, record.StatusActive, 7)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestDeletedMasterIsImmutable() {
	s.seed(1, 10, "alice")
	s.Require().NoError(s.store.UpdateStatus(s.ctx, 1, record.StatusDeleted, 7))

	s.Require().ErrorIs(
		s.store.UpdateStatus(s.ctx, 1, record.StatusActive, 7),
		sentinel.ErrInvalidState,
	)
	s.Require().ErrorIs(
		s.store.ActivateVersion(s.ctx, 1, 10, record.StatusActive, 7),
		sentinel.ErrInvalidState,
	)
	s.Require().ErrorIs(
		s.store.AppendDetail(s.ctx, &Detail{ID: 20, ParentID: 1}),
		sentinel.ErrNotFound,
	)
}

func (s *MemoryStoreSuite) TestGetByCode() {
	m, _ := s.seed(1, 10, "alice")

	got, err := s.store.GetMasterByCode(s.ctx, m.UserCode)
	s.Require().NoError(err)
	s.Equal(m.ID, got.ID)

	_, err = s.store.GetMasterByCode(s.ctx, "USERnope")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestUniquenessChecksLatestDetailOnly() {
	s.seed(1, 10, "alice")
	s.Require().NoError(s.store.AppendDetail(s.ctx, &Detail{
		ID: 20, ParentID: 1, Username: "renamed", Email: "renamed@example.com",
	}))

	taken, err := s.store.UsernameTaken(s.ctx, "ALICE", 0)
	s.Require().NoError(err)
	s.False(taken, "old versions do not reserve names")

	taken, err = s.store.UsernameTaken(s.ctx, "Renamed", 0)
	s.Require().NoError(err)
	s.True(taken)

	taken, err = s.store.UsernameTaken(s.ctx, "renamed", 1)
	s.Require().NoError(err)
	s.False(taken, "the owning master is excluded")
}

func (s *MemoryStoreSuite) TestUniquenessIgnoresDeletedMasters() {
	s.seed(1, 10, "alice")
	s.Require().NoError(s.store.UpdateStatus(s.ctx, 1, record.StatusDeleted, 7))

	taken, err := s.store.UsernameTaken(s.ctx, "alice", 0)
	s.Require().NoError(err)
	s.False(taken)

	taken, err = s.store.EmailTaken(s.ctx, "alice@example.com", 0)
	s.Require().NoError(err)
	s.False(taken)
}

func (s *MemoryStoreSuite) TestCodeTaken() {
	m, _ := s.seed(1, 10, "alice")

	taken, err := s.store.CodeTaken(s.ctx, m.UserCode)
	s.Require().NoError(err)
	s.True(taken)

	taken, err = s.store.CodeTaken(s.ctx, "USER999")
	s.Require().NoError(err)
	s.False(taken)
}
