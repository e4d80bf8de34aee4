package approval

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"zenmgt/pkg/platform/sentinel"
)

type ChainSuite struct {
	suite.Suite
}

func TestChainSuite(t *testing.T) {
	suite.Run(t, new(ChainSuite))
}

func (s *ChainSuite) TestNewChainBounds() {
	for levels := 1; levels <= MaxCheckerLevels; levels++ {
		chain, err := NewChain(levels)
		s.Require().NoError(err)
		s.Equal(levels, chain.Levels())
	}

	_, err := NewChain(0)
	s.Error(err)
	_, err = NewChain(MaxCheckerLevels + 1)
	s.Error(err)
}

func (s *ChainSuite) TestSingleLevelApprovesImmediately() {
	chain, err := NewChain(1)
	s.Require().NoError(err)

	next, err := chain.Advance(chain.First(), DecisionApprove)
	s.Require().NoError(err)
	s.Equal(StatusApproved, next)
}

func (s *ChainSuite) TestTwoLevelProgression() {
	chain, err := NewChain(2)
	s.Require().NoError(err)

	next, err := chain.Advance(StatusPendingCheckerL1, DecisionApprove)
	s.Require().NoError(err)
	s.Equal(StatusPendingCheckerL2, next)

	next, err = chain.Advance(next, DecisionApprove)
	s.Require().NoError(err)
	s.Equal(StatusApproved, next)
}

func (s *ChainSuite) TestThreeLevelProgression() {
	chain, err := NewChain(3)
	s.Require().NoError(err)

	current := chain.First()
	for _, want := range []RequestStatus{StatusPendingCheckerL2, StatusPendingCheckerL3, StatusApproved} {
		next, err := chain.Advance(current, DecisionApprove)
		s.Require().NoError(err)
		s.Equal(want, next)
		current = next
	}
}

func (s *ChainSuite) TestRejectionRecordsLevel() {
	chain, err := NewChain(3)
	s.Require().NoError(err)

	cases := map[RequestStatus]RequestStatus{
		StatusPendingCheckerL1: StatusRejectedByCheckerL1,
		StatusPendingCheckerL2: StatusRejectedByCheckerL2,
		StatusPendingCheckerL3: StatusRejectedByCheckerL3,
	}
	for pending, want := range cases {
		next, err := chain.Advance(pending, DecisionReject)
		s.Require().NoError(err)
		s.Equal(want, next)
		s.True(next.IsRejected())
		s.True(next.IsTerminal())
	}
}

func (s *ChainSuite) TestTerminalStatusesNeverAdvance() {
	chain, err := NewChain(2)
	s.Require().NoError(err)

	for _, terminal := range []RequestStatus{
		StatusApproved, StatusCancelled,
		StatusRejectedByCheckerL1, StatusRejectedByCheckerL2, StatusRejectedByCheckerL3,
	} {
		_, err := chain.Advance(terminal, DecisionApprove)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState, "status %s", terminal)
	}
}

func (s *ChainSuite) TestPendingBeyondDepthCannotAdvance() {
	chain, err := NewChain(2)
	s.Require().NoError(err)

	// L3 pending is unreachable on a two-level chain; a row in that state is
	// corrupt and must not progress.
	_, err = chain.Advance(StatusPendingCheckerL3, DecisionApprove)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}
