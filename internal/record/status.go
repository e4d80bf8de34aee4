// Package record defines the lifecycle state machine shared by every
// version-controlled master entity.
package record

import (
	"fmt"

	"zenmgt/pkg/platform/sentinel"
)

// Status is a master record's lifecycle state. Values are persisted; do not
// renumber.
type Status int

const (
	StatusInactive                 Status = 0
	StatusActive                   Status = 1
	StatusPendingCreateApproval    Status = 2
	StatusPendingAmendmentApproval Status = 3
	StatusPendingDeleteApproval    Status = 4
	// StatusDeleted is terminal. No transition ever leaves it.
	StatusDeleted Status = 5
)

// descriptions is the status catalog served to clients, built once at startup.
var descriptions = map[Status]string{
	StatusInactive:                 "Inactive",
	StatusActive:                   "Active",
	StatusPendingCreateApproval:    "Pending Create Approval",
	StatusPendingAmendmentApproval: "Pending Amendment Approval",
	StatusPendingDeleteApproval:    "Pending Delete Approval",
	StatusDeleted:                  "Deleted",
}

// transitions enumerates every legal edge. Reject-paths re-enter the prior
// status, which is why pending states list both Active and Inactive.
var transitions = map[Status][]Status{
	StatusInactive:                 {StatusActive, StatusPendingAmendmentApproval, StatusPendingDeleteApproval},
	StatusActive:                   {StatusInactive, StatusPendingAmendmentApproval, StatusPendingDeleteApproval},
	StatusPendingCreateApproval:    {StatusActive, StatusInactive},
	StatusPendingAmendmentApproval: {StatusActive, StatusInactive},
	StatusPendingDeleteApproval:    {StatusDeleted, StatusActive, StatusInactive},
	StatusDeleted:                  nil,
}

func (s Status) String() string {
	if d, ok := descriptions[s]; ok {
		return d
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// Description returns the human-readable catalog entry for the status.
func (s Status) Description() string { return s.String() }

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := descriptions[s]
	return ok
}

// IsToggleable reports whether the status participates in the direct
// ACTIVE/INACTIVE fast path. Only these two states are mutually toggleable;
// the orchestrator additionally requires an approved CREATE request.
func (s Status) IsToggleable() bool {
	return s == StatusActive || s == StatusInactive
}

// IsPendingApproval reports whether an approval request currently governs the
// master.
func (s Status) IsPendingApproval() bool {
	switch s {
	case StatusPendingCreateApproval, StatusPendingAmendmentApproval, StatusPendingDeleteApproval:
		return true
	}
	return false
}

// IsEffectivelyActive reports whether the master's active version is currently
// authoritative for readers: it was provisioned and has not been deleted or
// switched off.
func (s Status) IsEffectivelyActive() bool {
	switch s {
	case StatusActive, StatusPendingAmendmentApproval, StatusPendingDeleteApproval:
		return true
	}
	return false
}

// IsDeleted reports whether the master reached the terminal state.
func (s Status) IsDeleted() bool { return s == StatusDeleted }

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates the edge and returns the target status, or
// sentinel.ErrInvalidState for illegal moves.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", sentinel.ErrInvalidState, from, to)
	}
	return to, nil
}
