// Package approval implements the multi-level approval workflow that gates
// every mutation of a version-controlled entity.
package approval

import (
	"fmt"
	"time"

	"zenmgt/internal/record"
)

// RequestType says what the request would do to its reference on approval.
// Values are persisted; do not renumber.
type RequestType int

const (
	RequestTypeCreate RequestType = 1
	RequestTypeUpdate RequestType = 2
	RequestTypeDelete RequestType = 3
)

var requestTypeNames = map[RequestType]string{
	RequestTypeCreate: "Create",
	RequestTypeUpdate: "Update",
	RequestTypeDelete: "Delete",
}

func (t RequestType) String() string {
	if n, ok := requestTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(%d)", int(t))
}

func (t RequestType) Valid() bool {
	_, ok := requestTypeNames[t]
	return ok
}

// PendingStatus is the master status while a request of this type is open.
func (t RequestType) PendingStatus() record.Status {
	switch t {
	case RequestTypeCreate:
		return record.StatusPendingCreateApproval
	case RequestTypeUpdate:
		return record.StatusPendingAmendmentApproval
	default:
		return record.StatusPendingDeleteApproval
	}
}

// ApprovedStatus is the master status after the request fully approves.
func (t RequestType) ApprovedStatus() record.Status {
	if t == RequestTypeDelete {
		return record.StatusDeleted
	}
	return record.StatusActive
}

// ReferenceType identifies which master-entity kind a request concerns.
type ReferenceType int

const (
	ReferenceAuthUser    ReferenceType = 100
	ReferenceUserGroup   ReferenceType = 200
	ReferenceSystemParam ReferenceType = 300
)

// RequestStatus tracks checker progression. Values are persisted; do not
// renumber. Statuses 0-2 are the pending checker stages, 3-5 record which
// level rejected, 6 and 7 are the remaining terminals.
type RequestStatus int

const (
	StatusPendingCheckerL1    RequestStatus = 0
	StatusPendingCheckerL2    RequestStatus = 1
	StatusPendingCheckerL3    RequestStatus = 2
	StatusRejectedByCheckerL1 RequestStatus = 3
	StatusRejectedByCheckerL2 RequestStatus = 4
	StatusRejectedByCheckerL3 RequestStatus = 5
	StatusApproved            RequestStatus = 6
	StatusCancelled           RequestStatus = 7
)

var requestStatusDescriptions = map[RequestStatus]string{
	StatusPendingCheckerL1:    "Pending Checker Level 1",
	StatusPendingCheckerL2:    "Pending Checker Level 2",
	StatusPendingCheckerL3:    "Pending Checker Level 3",
	StatusRejectedByCheckerL1: "Rejected By Checker Level 1",
	StatusRejectedByCheckerL2: "Rejected By Checker Level 2",
	StatusRejectedByCheckerL3: "Rejected By Checker Level 3",
	StatusApproved:            "Approved",
	StatusCancelled:           "Cancelled",
}

func (s RequestStatus) String() string {
	if d, ok := requestStatusDescriptions[s]; ok {
		return d
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// Description returns the human-readable catalog entry.
func (s RequestStatus) Description() string { return s.String() }

// IsTerminal reports whether the status can never change again.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusCancelled || s.IsRejected()
}

// IsRejected reports whether some checker level denied the request.
func (s RequestStatus) IsRejected() bool {
	return s >= StatusRejectedByCheckerL1 && s <= StatusRejectedByCheckerL3
}

// IsPending reports whether a checker decision is still awaited.
func (s RequestStatus) IsPending() bool {
	return s >= StatusPendingCheckerL1 && s <= StatusPendingCheckerL3
}

// Decision is a single checker's verdict on a pending request.
type Decision int

const (
	DecisionApprove Decision = 1
	DecisionReject  Decision = 2
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Request is a proposed create/update/delete awaiting checker decisions.
// PreviousStatus snapshots the master's status at open time so rejection and
// cancellation can revert it.
type Request struct {
	ID                 uint64        `db:"id"`
	Type               RequestType   `db:"request_type"`
	ReferenceType      ReferenceType `db:"reference_type"`
	ReferenceID        uint64        `db:"reference_id"`
	ReferenceVersionID uint64        `db:"reference_version_id"`
	Status             RequestStatus `db:"request_status"`
	PreviousStatus     record.Status `db:"previous_status"`
	Reason             string        `db:"reason"`
	CreatedBy          uint64        `db:"created_by"`
	UpdatedBy          uint64        `db:"updated_by"`
	CreatedAt          time.Time     `db:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

// Open reports whether the request still awaits a terminal resolution.
func (r *Request) Open() bool { return !r.Status.IsTerminal() }

// AuditEntry is one row of the append-only trail: a single status transition,
// who caused it, and when. The trail is the durable proof of checker actions,
// independent of the mutable status on the request row.
type AuditEntry struct {
	ID        uint64        `db:"id"`
	RequestID uint64        `db:"sys_approval_id"`
	Status    RequestStatus `db:"request_status"`
	CreatedBy uint64        `db:"created_by"`
	CreatedAt time.Time     `db:"created_at"`
}

// History pairs a request with its full audit trail.
type History struct {
	Request *Request
	Trail   []*AuditEntry
}
