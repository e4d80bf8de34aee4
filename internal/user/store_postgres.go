package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"zenmgt/internal/record"
	"zenmgt/pkg/platform/sentinel"
	txcontext "zenmgt/pkg/platform/tx"
)

// PostgresStore persists masters in auth_user and detail versions in
// auth_user_detail. Detail rows are insert-only; the only mutable columns in
// the whole schema live on the master row.
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

const masterColumns = `id, user_code, active_version, record_status, created_by, updated_by, created_at, updated_at`
const detailColumns = `id, parent_id, username, email, session_validity, created_by, created_at`

func (s *PostgresStore) CreateWithDetail(ctx context.Context, m *Master, d *Detail) error {
	txx, joined := txcontext.From(ctx)
	if !joined {
		var err error
		txx, err = s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer txx.Rollback()
		ctx = txcontext.WithTx(ctx, txx)
	}

	if _, err := txx.ExecContext(ctx, `
		INSERT INTO auth_user (`+masterColumns+`)
		VALUES ($1, $2, 0, $3, $4, $5, $6, $7)`,
		m.ID, m.UserCode, m.Status, m.CreatedBy, m.UpdatedBy, m.CreatedAt, m.UpdatedAt,
	); err != nil {
		return translateUnique(err, "insert master")
	}

	if err := s.insertDetail(ctx, txx, d); err != nil {
		return err
	}

	if _, err := txx.ExecContext(ctx, `
		UPDATE auth_user SET active_version = $1, updated_at = $2 WHERE id = $3`,
		d.ID, m.UpdatedAt, m.ID,
	); err != nil {
		return fmt.Errorf("point master at first version: %w", err)
	}
	m.ActiveVersionID = d.ID

	if !joined {
		if err := txx.Commit(); err != nil {
			return fmt.Errorf("commit create: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendDetail(ctx context.Context, d *Detail) error {
	master, err := s.GetMaster(ctx, d.ParentID)
	if err != nil {
		return err
	}
	if master.Status.IsDeleted() {
		return fmt.Errorf("%w: master %d", sentinel.ErrNotFound, d.ParentID)
	}
	return s.insertDetail(ctx, s.ext(ctx), d)
}

func (s *PostgresStore) insertDetail(ctx context.Context, ext sqlx.ExtContext, d *Detail) error {
	_, err := ext.ExecContext(ctx, `
		INSERT INTO auth_user_detail (`+detailColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.ParentID, d.Username, d.Email, d.SessionValidity, d.CreatedBy, d.CreatedAt,
	)
	if err != nil {
		return translateUnique(err, "insert detail")
	}
	return nil
}

func (s *PostgresStore) GetMaster(ctx context.Context, id uint64) (*Master, error) {
	return s.getMasterWhere(ctx, `SELECT `+masterColumns+` FROM auth_user WHERE id = $1`, id)
}

func (s *PostgresStore) GetMasterForUpdate(ctx context.Context, id uint64) (*Master, error) {
	return s.getMasterWhere(ctx, `SELECT `+masterColumns+` FROM auth_user WHERE id = $1 FOR UPDATE`, id)
}

func (s *PostgresStore) GetMasterByCode(ctx context.Context, code string) (*Master, error) {
	return s.getMasterWhere(ctx, `SELECT `+masterColumns+` FROM auth_user WHERE user_code = $1`, code)
}

func (s *PostgresStore) getMasterWhere(ctx context.Context, query string, args ...any) (*Master, error) {
	var m Master
	if err := sqlx.GetContext(ctx, s.ext(ctx), &m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: master", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("select master: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) GetDetail(ctx context.Context, masterID, detailID uint64) (*Detail, error) {
	var d Detail
	err := sqlx.GetContext(ctx, s.ext(ctx), &d, `
		SELECT `+detailColumns+` FROM auth_user_detail WHERE parent_id = $1 AND id = $2`,
		masterID, detailID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: detail %d for master %d", sentinel.ErrNotFound, detailID, masterID)
		}
		return nil, fmt.Errorf("select detail: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) CurrentDetail(ctx context.Context, masterID uint64) (*Detail, error) {
	var d Detail
	err := sqlx.GetContext(ctx, s.ext(ctx), &d, `
		SELECT d.id, d.parent_id, d.username, d.email, d.session_validity, d.created_by, d.created_at
		FROM auth_user u
		JOIN auth_user_detail d ON d.id = u.active_version AND d.parent_id = u.id
		WHERE u.id = $1`,
		masterID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: current detail for master %d", sentinel.ErrNotFound, masterID)
		}
		return nil, fmt.Errorf("select current detail: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) VersionHistory(ctx context.Context, masterID uint64) ([]*Detail, error) {
	if _, err := s.GetMaster(ctx, masterID); err != nil {
		return nil, err
	}

	var out []*Detail
	err := sqlx.SelectContext(ctx, s.ext(ctx), &out, `
		SELECT `+detailColumns+` FROM auth_user_detail
		WHERE parent_id = $1
		ORDER BY id DESC`,
		masterID,
	)
	if err != nil {
		return nil, fmt.Errorf("select version history: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ActivateVersion(ctx context.Context, masterID, versionID uint64, status record.Status, updatedBy uint64) error {
	res, err := s.ext(ctx).ExecContext(ctx, `
		UPDATE auth_user
		SET active_version = $1, record_status = $2, updated_by = $3, updated_at = $4
		WHERE id = $5
		  AND record_status <> $6
		  AND EXISTS (SELECT 1 FROM auth_user_detail WHERE id = $1 AND parent_id = $5)`,
		versionID, status, updatedBy, time.Now(), masterID, record.StatusDeleted,
	)
	if err != nil {
		return fmt.Errorf("activate version: %w", err)
	}
	return s.checkMasterWrite(ctx, res, masterID)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, masterID uint64, status record.Status, updatedBy uint64) error {
	res, err := s.ext(ctx).ExecContext(ctx, `
		UPDATE auth_user
		SET record_status = $1, updated_by = $2, updated_at = $3
		WHERE id = $4 AND record_status <> $5`,
		status, updatedBy, time.Now(), masterID, record.StatusDeleted,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return s.checkMasterWrite(ctx, res, masterID)
}

// checkMasterWrite distinguishes "master missing" from "master deleted or
// version mismatch" when a guarded master update touched no rows.
func (s *PostgresStore) checkMasterWrite(ctx context.Context, res sql.Result, masterID uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	master, err := s.GetMaster(ctx, masterID)
	if err != nil {
		return err
	}
	if master.Status.IsDeleted() {
		return fmt.Errorf("%w: master %d is deleted", sentinel.ErrInvalidState, masterID)
	}
	return fmt.Errorf("%w: master %d write guarded out", sentinel.ErrStale, masterID)
}

func (s *PostgresStore) UsernameTaken(ctx context.Context, username string, excludeMasterID uint64) (bool, error) {
	return s.latestDetailFieldTaken(ctx, "username", username, excludeMasterID)
}

func (s *PostgresStore) EmailTaken(ctx context.Context, email string, excludeMasterID uint64) (bool, error) {
	return s.latestDetailFieldTaken(ctx, "email", email, excludeMasterID)
}

func (s *PostgresStore) latestDetailFieldTaken(ctx context.Context, column, value string, excludeMasterID uint64) (bool, error) {
	// Uniqueness is judged against each non-deleted master's latest snapshot,
	// not against historical versions.
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1
			FROM auth_user u
			JOIN auth_user_detail d ON d.id = (
				SELECT d2.id FROM auth_user_detail d2
				WHERE d2.parent_id = u.id
				ORDER BY d2.id DESC
				LIMIT 1
			)
			WHERE u.record_status <> $1
			  AND u.id <> $2
			  AND LOWER(d.%s) = LOWER($3)
		)`, column)

	var taken bool
	if err := sqlx.GetContext(ctx, s.ext(ctx), &taken, query, record.StatusDeleted, excludeMasterID, value); err != nil {
		return false, fmt.Errorf("check %s uniqueness: %w", column, err)
	}
	return taken, nil
}

func (s *PostgresStore) CodeTaken(ctx context.Context, code string) (bool, error) {
	var taken bool
	err := sqlx.GetContext(ctx, s.ext(ctx), &taken,
		`SELECT EXISTS (SELECT 1 FROM auth_user WHERE user_code = $1)`, code)
	if err != nil {
		return false, fmt.Errorf("check user code uniqueness: %w", err)
	}
	return taken, nil
}

func translateUnique(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s: %s", sentinel.ErrConflict, op, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}
