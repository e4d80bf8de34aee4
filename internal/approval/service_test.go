package approval

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"zenmgt/internal/record"
	pkgerrors "zenmgt/pkg/domain-errors"
	"zenmgt/pkg/platform/tx"
)

type seqIDs struct {
	next uint64
}

func (g *seqIDs) NextID() (uint64, error) {
	return atomic.AddUint64(&g.next, 1), nil
}

// recordingTarget captures Approve/Revert calls so tests can assert the
// coordinator applied the right terminal action.
type recordingTarget struct {
	approved []uint64
	reverted []uint64
}

func (t *recordingTarget) Approve(_ context.Context, req *Request, _ uint64) error {
	t.approved = append(t.approved, req.ID)
	return nil
}

func (t *recordingTarget) Revert(_ context.Context, req *Request, _ uint64) error {
	t.reverted = append(t.reverted, req.ID)
	return nil
}

type ServiceSuite struct {
	suite.Suite

	ctx     context.Context
	store   *MemoryStore
	target  *recordingTarget
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore()
	s.target = &recordingTarget{}

	chain, err := NewChain(2)
	s.Require().NoError(err)

	s.service = NewService(s.store, &seqIDs{}, chain, tx.NewMemoryRunner(), nil, nil)
	s.service.Register(ReferenceAuthUser, s.target)
}

func (s *ServiceSuite) open(refID uint64) *Request {
	req, err := s.service.OpenRequest(s.ctx, OpenParams{
		Type:           RequestTypeUpdate,
		ReferenceType:  ReferenceAuthUser,
		ReferenceID:    refID,
		PreviousStatus: record.StatusActive,
		RequestedBy:    1,
	})
	s.Require().NoError(err)
	return req
}

func (s *ServiceSuite) TestOpenStartsAtFirstChecker() {
	req := s.open(100)

	s.Equal(StatusPendingCheckerL1, req.Status)
	s.Equal(record.StatusActive, req.PreviousStatus)

	trail, err := s.store.Trail(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Require().Len(trail, 1)
	s.Equal(StatusPendingCheckerL1, trail[0].Status)
}

func (s *ServiceSuite) TestSecondOpenForSameReferenceConflicts() {
	s.open(100)

	_, err := s.service.OpenRequest(s.ctx, OpenParams{
		Type:          RequestTypeDelete,
		ReferenceType: ReferenceAuthUser,
		ReferenceID:   100,
		RequestedBy:   2,
	})
	s.Require().Error(err)
	s.Equal(pkgerrors.CodePendingApproval, pkgerrors.CodeOf(err))
}

func (s *ServiceSuite) TestFullApprovalAppliesTarget() {
	req := s.open(100)

	mid, err := s.service.Resolve(s.ctx, req.ID, DecisionApprove, 10)
	s.Require().NoError(err)
	s.Equal(StatusPendingCheckerL2, mid.Status)
	s.Empty(s.target.approved, "target must not fire before the final level")

	done, err := s.service.Resolve(s.ctx, req.ID, DecisionApprove, 11)
	s.Require().NoError(err)
	s.Equal(StatusApproved, done.Status)
	s.Equal([]uint64{req.ID}, s.target.approved)

	trail, err := s.store.Trail(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Require().Len(trail, 3)
	s.Equal(StatusPendingCheckerL1, trail[0].Status)
	s.Equal(StatusPendingCheckerL2, trail[1].Status)
	s.Equal(StatusApproved, trail[2].Status)
	s.Equal(uint64(10), trail[1].CreatedBy)
	s.Equal(uint64(11), trail[2].CreatedBy)
}

func (s *ServiceSuite) TestRejectionAtAnyLevelReverts() {
	req := s.open(100)

	done, err := s.service.Resolve(s.ctx, req.ID, DecisionReject, 10)
	s.Require().NoError(err)
	s.Equal(StatusRejectedByCheckerL1, done.Status)
	s.Equal([]uint64{req.ID}, s.target.reverted)
	s.Empty(s.target.approved)
}

func (s *ServiceSuite) TestResolvingTerminalRequestFails() {
	req := s.open(100)

	_, err := s.service.Resolve(s.ctx, req.ID, DecisionReject, 10)
	s.Require().NoError(err)

	_, err = s.service.Resolve(s.ctx, req.ID, DecisionApprove, 11)
	s.Require().Error(err)
	s.Equal(pkgerrors.CodeRequestProcessed, pkgerrors.CodeOf(err))
}

func (s *ServiceSuite) TestResolveUnknownRequest() {
	_, err := s.service.Resolve(s.ctx, 424242, DecisionApprove, 10)
	s.Require().Error(err)
	s.Equal(pkgerrors.CodeRequestNotFound, pkgerrors.CodeOf(err))
}

func (s *ServiceSuite) TestInvalidDecisionRejected() {
	req := s.open(100)

	_, err := s.service.Resolve(s.ctx, req.ID, Decision(9), 10)
	s.Require().Error(err)
	s.Equal(pkgerrors.CodeInvalidDecision, pkgerrors.CodeOf(err))
}

func (s *ServiceSuite) TestCancelByOwnerReverts() {
	req := s.open(100)

	s.Require().NoError(s.service.Cancel(s.ctx, req.ID, 1))

	got, err := s.service.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(StatusCancelled, got.Status)
	s.Equal([]uint64{req.ID}, s.target.reverted)

	// The reference is free for a new request again.
	s.open(100)
}

func (s *ServiceSuite) TestCancelByStrangerFails() {
	req := s.open(100)

	err := s.service.Cancel(s.ctx, req.ID, 99)
	s.Require().Error(err)
	s.Equal(pkgerrors.CodeNotRequestOwner, pkgerrors.CodeOf(err))

	got, err := s.service.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.True(got.Open())
}

func (s *ServiceSuite) TestHistoryNewestFirstWithTrails() {
	first := s.open(100)
	_, err := s.service.Resolve(s.ctx, first.ID, DecisionReject, 10)
	s.Require().NoError(err)
	second := s.open(100)

	history, err := s.service.History(s.ctx, ReferenceAuthUser, 100)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(second.ID, history[0].Request.ID)
	s.Equal(first.ID, history[1].Request.ID)
	s.Len(history[0].Trail, 1)
	s.Len(history[1].Trail, 2)
}

func (s *ServiceSuite) TestListPendingOldestFirst() {
	first := s.open(100)
	second := s.open(200)

	pending, err := s.service.ListPending(s.ctx, ReferenceAuthUser)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(first.ID, pending[0].ID)
	s.Equal(second.ID, pending[1].ID)
}
