package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"zenmgt/pkg/platform/sentinel"
	txcontext "zenmgt/pkg/platform/tx"
)

// PostgresStore persists requests in sys_approval_request and trail rows in
// sys_approval_audit. Every trail append also writes a transactional outbox
// row; the outbox worker publishes those to Kafka after commit.
//
// The single-open-request invariant is enforced twice: the service checks it,
// and a partial unique index on (reference_type, reference_id) over pending
// statuses backstops races under weak isolation.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ext(ctx context.Context) sqlx.ExtContext {
	if txx, ok := txcontext.From(ctx); ok {
		return txx
	}
	return s.db
}

const requestColumns = `id, request_type, reference_type, reference_id, reference_version_id,
	request_status, previous_status, reason, created_by, updated_by, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO sys_approval_request (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.ext(ctx).ExecContext(ctx, query,
		req.ID, req.Type, req.ReferenceType, req.ReferenceID, req.ReferenceVersionID,
		req.Status, req.PreviousStatus, req.Reason,
		req.CreatedBy, req.UpdatedBy, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: open request exists for reference %d", sentinel.ErrConflict, req.ReferenceID)
		}
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uint64) (*Request, error) {
	return s.getWhere(ctx, `SELECT `+requestColumns+` FROM sys_approval_request WHERE id = $1`, id)
}

func (s *PostgresStore) GetForUpdate(ctx context.Context, id uint64) (*Request, error) {
	return s.getWhere(ctx, `SELECT `+requestColumns+` FROM sys_approval_request WHERE id = $1 FOR UPDATE`, id)
}

func (s *PostgresStore) getWhere(ctx context.Context, query string, args ...any) (*Request, error) {
	var req Request
	if err := sqlx.GetContext(ctx, s.ext(ctx), &req, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: approval request", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("select approval request: %w", err)
	}
	return &req, nil
}

func (s *PostgresStore) FindOpen(ctx context.Context, refType ReferenceType, refID uint64) (*Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM sys_approval_request
		WHERE reference_type = $1 AND reference_id = $2 AND request_status <= $3
		ORDER BY id DESC
		LIMIT 1`
	return s.getWhere(ctx, query, refType, refID, StatusPendingCheckerL3)
}

func (s *PostgresStore) ListByReference(ctx context.Context, refType ReferenceType, refID uint64) ([]*Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM sys_approval_request
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY id DESC`

	var out []*Request
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &out, query, refType, refID); err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListOpen(ctx context.Context, refType ReferenceType) ([]*Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM sys_approval_request
		WHERE reference_type = $1 AND request_status <= $2
		ORDER BY id ASC`

	var out []*Request
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &out, query, refType, StatusPendingCheckerL3); err != nil {
		return nil, fmt.Errorf("list open approval requests: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, req *Request) error {
	query := `
		UPDATE sys_approval_request
		SET request_status = $1, updated_by = $2, updated_at = $3
		WHERE id = $4`

	res, err := s.ext(ctx).ExecContext(ctx, query, req.Status, req.UpdatedBy, req.UpdatedAt, req.ID)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: approval request %d", sentinel.ErrNotFound, req.ID)
	}
	return nil
}

// outboxPayload is the JSON envelope the outbox worker hands to Kafka. Field
// names are part of the consumer contract.
type outboxPayload struct {
	ID        string `json:"ID"`
	RequestID uint64 `json:"RequestID"`
	Status    int    `json:"Status"`
	ActedBy   uint64 `json:"ActedBy"`
	Timestamp string `json:"Timestamp"`
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO sys_approval_audit (id, sys_approval_id, request_status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.ext(ctx).ExecContext(ctx, query,
		entry.ID, entry.RequestID, entry.Status, entry.CreatedBy, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval audit: %w", err)
	}
	return s.appendOutbox(ctx, entry)
}

func (s *PostgresStore) appendOutbox(ctx context.Context, entry *AuditEntry) error {
	eventID := uuid.New()
	payload, err := json.Marshal(outboxPayload{
		ID:        eventID.String(),
		RequestID: entry.RequestID,
		Status:    int(entry.Status),
		ActedBy:   entry.CreatedBy,
		Timestamp: entry.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.ext(ctx).ExecContext(ctx, query,
		eventID,
		"approval_request",
		fmt.Sprintf("%d", entry.RequestID),
		"approval.status_changed",
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Trail(ctx context.Context, requestID uint64) ([]*AuditEntry, error) {
	query := `
		SELECT id, sys_approval_id, request_status, created_by, created_at
		FROM sys_approval_audit
		WHERE sys_approval_id = $1
		ORDER BY id ASC`

	var out []*AuditEntry
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &out, query, requestID); err != nil {
		return nil, fmt.Errorf("select approval audit trail: %w", err)
	}
	return out, nil
}
