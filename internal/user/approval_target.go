package user

import (
	"context"

	"zenmgt/internal/approval"
)

// ApprovalTarget adapts the user store to the approval coordinator. It runs
// inside the coordinator's resolution transaction and touches only the store;
// cache invalidation is the caller's job once the transaction committed.
type ApprovalTarget struct {
	store Store
}

func NewApprovalTarget(store Store) *ApprovalTarget {
	return &ApprovalTarget{store: store}
}

// Approve repoints active_version at the request's reference version and moves
// the master to the request type's approved status. For DELETE requests the
// reference version is the tombstone snapshot and the approved status is
// terminal DELETED.
func (t *ApprovalTarget) Approve(ctx context.Context, req *approval.Request, actedBy uint64) error {
	return t.store.ActivateVersion(ctx, req.ReferenceID, req.ReferenceVersionID, req.Type.ApprovedStatus(), actedBy)
}

// Revert restores the status the master held when the request was opened. The
// active-version pointer is untouched: a rejected version stays in history but
// never becomes current.
func (t *ApprovalTarget) Revert(ctx context.Context, req *approval.Request, actedBy uint64) error {
	return t.store.UpdateStatus(ctx, req.ReferenceID, req.PreviousStatus, actedBy)
}
