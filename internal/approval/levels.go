package approval

import (
	"fmt"

	"zenmgt/pkg/platform/sentinel"
)

// MaxCheckerLevels is the deepest chain the request-status encoding supports.
const MaxCheckerLevels = 3

// DefaultCheckerLevels is used when the deployment does not configure a depth.
const DefaultCheckerLevels = 2

var pendingByLevel = [MaxCheckerLevels]RequestStatus{
	StatusPendingCheckerL1,
	StatusPendingCheckerL2,
	StatusPendingCheckerL3,
}

var rejectedByLevel = [MaxCheckerLevels]RequestStatus{
	StatusRejectedByCheckerL1,
	StatusRejectedByCheckerL2,
	StatusRejectedByCheckerL3,
}

// Chain is the ordered list of checker levels a request must clear. A single
// Advance function owns every status progression so adding or removing levels
// never touches call sites.
type Chain struct {
	levels int
}

func NewChain(levels int) (Chain, error) {
	if levels < 1 || levels > MaxCheckerLevels {
		return Chain{}, fmt.Errorf("checker levels %d out of range [1, %d]", levels, MaxCheckerLevels)
	}
	return Chain{levels: levels}, nil
}

// Levels reports the configured chain depth.
func (c Chain) Levels() int { return c.levels }

// First is the status a freshly opened request starts in.
func (c Chain) First() RequestStatus { return StatusPendingCheckerL1 }

// Level maps a pending status to its 1-based checker level.
func (c Chain) Level(s RequestStatus) (int, bool) {
	if !s.IsPending() {
		return 0, false
	}
	level := int(s-StatusPendingCheckerL1) + 1
	if level > c.levels {
		return 0, false
	}
	return level, true
}

// Advance maps (current status, decision) to the next status. Approval at the
// final level yields APPROVED; rejection at level n yields
// REJECTED_BY_CHECKER_Ln. Levels are never skipped, and terminal statuses
// never advance.
func (c Chain) Advance(current RequestStatus, d Decision) (RequestStatus, error) {
	if !d.Valid() {
		return current, fmt.Errorf("%w: unknown decision %d", sentinel.ErrInvalidState, d)
	}
	level, ok := c.Level(current)
	if !ok {
		return current, fmt.Errorf("%w: request status %s cannot advance", sentinel.ErrInvalidState, current)
	}

	if d == DecisionReject {
		return rejectedByLevel[level-1], nil
	}
	if level == c.levels {
		return StatusApproved, nil
	}
	return pendingByLevel[level], nil
}
