package approval

import "context"

// Store persists approval requests and their append-only audit trails.
// Implementations return sentinel errors; the service translates them into
// coded domain errors.
type Store interface {
	// Create persists a new request. It fails with sentinel.ErrConflict when
	// an open request already exists for the same (reference type, reference
	// id) pair.
	Create(ctx context.Context, req *Request) error

	Get(ctx context.Context, id uint64) (*Request, error)

	// GetForUpdate loads the request with a row lock when running inside a
	// transaction, serializing concurrent resolutions of the same request.
	GetForUpdate(ctx context.Context, id uint64) (*Request, error)

	// FindOpen returns the single open request for the reference, or
	// sentinel.ErrNotFound.
	FindOpen(ctx context.Context, refType ReferenceType, refID uint64) (*Request, error)

	// ListByReference returns every request ever opened for the reference,
	// newest first.
	ListByReference(ctx context.Context, refType ReferenceType, refID uint64) ([]*Request, error)

	// ListOpen returns all open requests of the reference type, oldest first,
	// for checker work queues.
	ListOpen(ctx context.Context, refType ReferenceType) ([]*Request, error)

	// UpdateStatus persists the request's status, updated-by, and updated-at.
	UpdateStatus(ctx context.Context, req *Request) error

	// AppendAudit writes one trail row. Trail rows are never updated or
	// deleted.
	AppendAudit(ctx context.Context, entry *AuditEntry) error

	Trail(ctx context.Context, requestID uint64) ([]*AuditEntry, error)
}
