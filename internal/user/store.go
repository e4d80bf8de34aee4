package user

import (
	"context"

	"zenmgt/internal/record"
)

// Store is the versioned entity persistence abstraction for the
// (auth_user, auth_user_detail) pair. Implementations return sentinel errors;
// the service translates them into coded domain errors.
type Store interface {
	// CreateWithDetail persists the master and its first detail as one atomic
	// unit and points active_version at the detail. Partial state must never
	// survive a failure.
	CreateWithDetail(ctx context.Context, m *Master, d *Detail) error

	// AppendDetail inserts a new detail version for an existing, non-deleted
	// master. It does NOT repoint active_version; that is deferred to
	// approval resolution.
	AppendDetail(ctx context.Context, d *Detail) error

	GetMaster(ctx context.Context, id uint64) (*Master, error)

	// GetMasterForUpdate loads the master with a row lock when running inside
	// a transaction. Resolution and toggling both write record_status, so the
	// master row is the mutation hotspot.
	GetMasterForUpdate(ctx context.Context, id uint64) (*Master, error)

	GetMasterByCode(ctx context.Context, code string) (*Master, error)

	GetDetail(ctx context.Context, masterID, detailID uint64) (*Detail, error)

	// CurrentDetail resolves via the master's active_version pointer. It does
	// not consult record_status; visibility gating belongs to the service.
	CurrentDetail(ctx context.Context, masterID uint64) (*Detail, error)

	// VersionHistory returns all detail rows for the master, newest first.
	VersionHistory(ctx context.Context, masterID uint64) ([]*Detail, error)

	// ActivateVersion atomically repoints active_version and sets the status.
	// It fails with sentinel.ErrInvalidState when the master is already
	// DELETED.
	ActivateVersion(ctx context.Context, masterID, versionID uint64, status record.Status, updatedBy uint64) error

	// UpdateStatus sets record_status without touching the version pointer.
	// It fails with sentinel.ErrInvalidState when the master is DELETED.
	UpdateStatus(ctx context.Context, masterID uint64, status record.Status, updatedBy uint64) error

	// UsernameTaken and EmailTaken check the unique business keys against the
	// latest detail of every non-deleted master, excluding one master id
	// (zero to exclude none).
	UsernameTaken(ctx context.Context, username string, excludeMasterID uint64) (bool, error)
	EmailTaken(ctx context.Context, email string, excludeMasterID uint64) (bool, error)
	CodeTaken(ctx context.Context, code string) (bool, error)
}
