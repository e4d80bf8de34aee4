package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zenmgt/internal/approval"
	"zenmgt/internal/platform/metrics"
	"zenmgt/internal/record"
	pkgerrors "zenmgt/pkg/domain-errors"
	"zenmgt/pkg/platform/sentinel"
	"zenmgt/pkg/platform/tx"
	"zenmgt/pkg/snowflake"
)

// Service orchestrates the versioned account entity: it owns payload
// validation, uniqueness rules, version appending, and the coupling of every
// mutation to an approval request. Pointer repoints happen only through the
// approval target, never here.
type Service struct {
	store     Store
	approvals *approval.Service
	ids       approval.IDGenerator
	runner    tx.Runner
	cache     *DetailCache
	codec     Codec
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewService(
	store Store,
	approvals *approval.Service,
	ids approval.IDGenerator,
	runner tx.Runner,
	cache *DetailCache,
	codec Codec,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		approvals: approvals,
		ids:       ids,
		runner:    runner,
		cache:     cache,
		codec:     codec,
		logger:    logger,
		metrics:   m,
	}
}

// Create provisions a new master in PENDING_CREATE_APPROVAL with its first
// detail version and an open CREATE request, all atomically. The entity is not
// usable until the request fully approves.
func (s *Service) Create(ctx context.Context, p Payload, createdBy uint64) (*EntityView, error) {
	if err := s.validatePayload(&p); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, p, 0); err != nil {
		return nil, err
	}

	masterID, err := s.nextID()
	if err != nil {
		return nil, err
	}
	detailID, err := s.nextID()
	if err != nil {
		return nil, err
	}

	code := fmt.Sprintf("USER%d", masterID)
	taken, err := s.store.CodeTaken(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to check user code")
	}
	if taken {
		return nil, pkgerrors.Newf(pkgerrors.CodeUserCodeExists, "user code %s already exists", code)
	}

	now := time.Now()
	master := &Master{
		ID:        masterID,
		UserCode:  code,
		Status:    record.StatusPendingCreateApproval,
		CreatedBy: createdBy,
		UpdatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	detail := &Detail{
		ID:              detailID,
		ParentID:        masterID,
		Username:        p.Username,
		Email:           p.Email,
		SessionValidity: p.SessionValidity,
		CreatedBy:       createdBy,
		CreatedAt:       now,
	}

	var req *approval.Request
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateWithDetail(ctx, master, detail); err != nil {
			return err
		}
		req, err = s.approvals.OpenRequest(ctx, approval.OpenParams{
			Type:               approval.RequestTypeCreate,
			ReferenceType:      approval.ReferenceAuthUser,
			ReferenceID:        masterID,
			ReferenceVersionID: detailID,
			PreviousStatus:     record.StatusInactive,
			RequestedBy:        createdBy,
		})
		return err
	})
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to create user")
	}

	s.metrics.IncVersionsAppended()
	s.logger.Info("user created pending approval",
		"user_code", code, "request_id", req.ID, "created_by", createdBy)
	return s.view(master, detail, req), nil
}

// Update appends a new detail version and opens an UPDATE request for it. The
// current version stays live until the request approves; rejection leaves the
// appended version in history, never current. All checks run inside the
// transaction: a version is appended only once the open-request slot is known
// to be free, so even a runner without rollback cannot strand an orphan.
func (s *Service) Update(ctx context.Context, masterID uint64, p Payload, updatedBy uint64) (*EntityView, error) {
	if err := s.validatePayload(&p); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, p, masterID); err != nil {
		return nil, err
	}

	detailID, err := s.nextID()
	if err != nil {
		return nil, err
	}
	detail := &Detail{
		ID:              detailID,
		ParentID:        masterID,
		Username:        p.Username,
		Email:           p.Email,
		SessionValidity: p.SessionValidity,
		CreatedBy:       updatedBy,
		CreatedAt:       time.Now(),
	}

	var master *Master
	var req *approval.Request
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		master, err = s.lockMutableMaster(ctx, masterID)
		if err != nil {
			return err
		}
		if err := s.store.AppendDetail(ctx, detail); err != nil {
			return err
		}
		req, err = s.approvals.OpenRequest(ctx, approval.OpenParams{
			Type:               approval.RequestTypeUpdate,
			ReferenceType:      approval.ReferenceAuthUser,
			ReferenceID:        masterID,
			ReferenceVersionID: detailID,
			PreviousStatus:     master.Status,
			RequestedBy:        updatedBy,
		})
		if err != nil {
			return err
		}
		return s.store.UpdateStatus(ctx, masterID, record.StatusPendingAmendmentApproval, updatedBy)
	})
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to update user")
	}

	s.metrics.IncVersionsAppended()
	s.logger.Info("user update pending approval",
		"master_id", masterID, "request_id", req.ID, "updated_by", updatedBy)

	master.Status = record.StatusPendingAmendmentApproval
	return s.view(master, detail, req), nil
}

// Delete opens a DELETE request against a tombstone snapshot of the current
// detail. The record stays readable until the final checker approves; then it
// is DELETED forever. Like Update, every check runs inside the transaction so
// no snapshot is appended unless the request opens.
func (s *Service) Delete(ctx context.Context, masterID uint64, reason string, deletedBy uint64) error {
	detailID, err := s.nextID()
	if err != nil {
		return err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		master, err := s.lockMutableMaster(ctx, masterID)
		if err != nil {
			return err
		}
		current, err := s.store.CurrentDetail(ctx, masterID)
		if err != nil {
			return err
		}

		snapshot := &Detail{
			ID:              detailID,
			ParentID:        masterID,
			Username:        current.Username,
			Email:           current.Email,
			SessionValidity: current.SessionValidity,
			CreatedBy:       deletedBy,
			CreatedAt:       time.Now(),
		}
		if err := s.store.AppendDetail(ctx, snapshot); err != nil {
			return err
		}
		if _, err := s.approvals.OpenRequest(ctx, approval.OpenParams{
			Type:               approval.RequestTypeDelete,
			ReferenceType:      approval.ReferenceAuthUser,
			ReferenceID:        masterID,
			ReferenceVersionID: detailID,
			PreviousStatus:     master.Status,
			Reason:             reason,
			RequestedBy:        deletedBy,
		}); err != nil {
			return err
		}
		return s.store.UpdateStatus(ctx, masterID, record.StatusPendingDeleteApproval, deletedBy)
	})
	if err != nil {
		return s.translateStoreErr(err, "failed to request deletion")
	}

	s.logger.Info("user deletion pending approval",
		"master_id", masterID, "reason", reason, "deleted_by", deletedBy)
	return nil
}

// ToggleStatus flips ACTIVE and INACTIVE directly, without an approval
// request. It refuses any other status and any master whose CREATE request
// never approved.
func (s *Service) ToggleStatus(ctx context.Context, masterID, updatedBy uint64) (record.Status, error) {
	var next record.Status
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		master, err := s.store.GetMasterForUpdate(ctx, masterID)
		if err != nil {
			return err
		}
		if master.Status.IsDeleted() {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		if !master.Status.IsToggleable() {
			return pkgerrors.Newf(pkgerrors.CodeInvalidStatus,
				"record status %s cannot be toggled", master.Status)
		}

		approved, err := s.createEverApproved(ctx, masterID)
		if err != nil {
			return err
		}
		if !approved {
			return pkgerrors.New(pkgerrors.CodeInvalidStatus,
				"record was never approved for activation")
		}

		next = record.StatusActive
		if master.Status == record.StatusActive {
			next = record.StatusInactive
		}
		return s.store.UpdateStatus(ctx, masterID, next, updatedBy)
	})
	if err != nil {
		return 0, s.translateStoreErr(err, "failed to toggle status")
	}

	s.cache.Invalidate(ctx, masterID)
	s.metrics.IncTogglesApplied()
	s.logger.Info("user status toggled", "master_id", masterID, "status", next.String())
	return next, nil
}

// Get returns the external view of a master: its visible detail, status
// catalog entry, and open approval state. Masters awaiting their first
// approval have no visible detail yet.
func (s *Service) Get(ctx context.Context, masterID uint64) (*EntityView, error) {
	master, err := s.loadLiveMaster(ctx, masterID)
	if err != nil {
		return nil, err
	}
	return s.assembleView(ctx, master)
}

// GetByCode resolves a master through its immutable business key.
func (s *Service) GetByCode(ctx context.Context, code string) (*EntityView, error) {
	master, err := s.store.GetMasterByCode(ctx, code)
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to load user")
	}
	if master.Status.IsDeleted() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return s.assembleView(ctx, master)
}

// GetByToken resolves an opaque external token to its master view.
func (s *Service) GetByToken(ctx context.Context, token string) (*EntityView, error) {
	id, err := s.dehash(token)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// CurrentDetail returns the visible current detail. Masters whose status is
// not effectively active (awaiting first approval, deleted) have none.
func (s *Service) CurrentDetail(ctx context.Context, masterID uint64) (*Detail, error) {
	master, err := s.loadLiveMaster(ctx, masterID)
	if err != nil {
		return nil, err
	}
	return s.visibleDetail(ctx, master)
}

// VersionHistory returns every detail snapshot, newest first, including
// rejected versions.
func (s *Service) VersionHistory(ctx context.Context, masterID uint64) ([]*Detail, error) {
	history, err := s.store.VersionHistory(ctx, masterID)
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to load version history")
	}
	return history, nil
}

// ApprovalHistory returns every approval request for the master, newest first,
// each with its audit trail.
func (s *Service) ApprovalHistory(ctx context.Context, masterID uint64) ([]approval.History, error) {
	return s.approvals.History(ctx, approval.ReferenceAuthUser, masterID)
}

// ResolveApproval records one checker decision on a request for this entity
// kind. Cache invalidation happens here, after the resolution transaction
// committed, so a concurrent reader can never repopulate the cache from
// pre-commit state.
func (s *Service) ResolveApproval(ctx context.Context, requestID uint64, decision approval.Decision, resolvedBy uint64) (*approval.Request, error) {
	req, err := s.approvals.Resolve(ctx, requestID, decision, resolvedBy)
	if err != nil {
		return nil, err
	}
	if !req.Open() {
		s.cache.Invalidate(ctx, req.ReferenceID)
	}
	return req, nil
}

// CancelApproval withdraws an open request; only its requester may do so.
func (s *Service) CancelApproval(ctx context.Context, requestID, requestedBy uint64) error {
	req, err := s.approvals.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if err := s.approvals.Cancel(ctx, requestID, requestedBy); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, req.ReferenceID)
	return nil
}

// ListPendingApprovals returns the checker work queue for this entity kind,
// oldest first.
func (s *Service) ListPendingApprovals(ctx context.Context) ([]*approval.Request, error) {
	return s.approvals.ListPending(ctx, approval.ReferenceAuthUser)
}

func (s *Service) validatePayload(p *Payload) error {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.TrimSpace(p.Email)
	if p.Username == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "username is required")
	}
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "a valid email is required")
	}
	if p.SessionValidity <= 0 {
		p.SessionValidity = DefaultSessionValidity
	}
	return nil
}

func (s *Service) checkUnique(ctx context.Context, p Payload, excludeMasterID uint64) error {
	taken, err := s.store.UsernameTaken(ctx, p.Username, excludeMasterID)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to check username")
	}
	if taken {
		return pkgerrors.Newf(pkgerrors.CodeUsernameExists, "username %q is already in use", p.Username)
	}

	taken, err = s.store.EmailTaken(ctx, p.Email, excludeMasterID)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to check email")
	}
	if taken {
		return pkgerrors.Newf(pkgerrors.CodeEmailExists, "email %q is already in use", p.Email)
	}
	return nil
}

// loadLiveMaster loads a master and reports DELETED masters as not found.
// Terminal deletion is externally indistinguishable from absence.
func (s *Service) loadLiveMaster(ctx context.Context, masterID uint64) (*Master, error) {
	master, err := s.store.GetMaster(ctx, masterID)
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to load user")
	}
	if master.Status.IsDeleted() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return master, nil
}

// lockMutableMaster loads the master under a row lock and verifies it can
// accept a new request: not deleted, not already pending, and no open request
// on the approval side. Runs inside the caller's transaction.
func (s *Service) lockMutableMaster(ctx context.Context, masterID uint64) (*Master, error) {
	master, err := s.store.GetMasterForUpdate(ctx, masterID)
	if err != nil {
		return nil, err
	}
	if master.Status.IsDeleted() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if master.Status.IsPendingApproval() {
		return nil, pkgerrors.New(pkgerrors.CodePendingApproval,
			"a pending approval request already exists for this record")
	}

	// The master status is the fast signal; the request table is the truth.
	// Checking both here means nothing is written before the open-request
	// slot is known to be free.
	_, err = s.approvals.FindOpen(ctx, approval.ReferenceAuthUser, masterID)
	if err == nil {
		return nil, pkgerrors.New(pkgerrors.CodePendingApproval,
			"a pending approval request already exists for this record")
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to load approval state")
	}
	return master, nil
}

// createEverApproved reports whether the master's newest CREATE request fully
// approved. A master that never cleared its CREATE chain was never
// provisioned, whatever its record status says.
func (s *Service) createEverApproved(ctx context.Context, masterID uint64) (bool, error) {
	created, err := s.approvals.LatestOfType(ctx,
		approval.ReferenceAuthUser, masterID, approval.RequestTypeCreate)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to load approval state")
	}
	return created.Status == approval.StatusApproved, nil
}

// visibleDetail applies the status gate, read through the cache. Effectively
// active masters always surface their current detail. INACTIVE is ambiguous:
// it covers both a toggled-off provisioned record and a rejected CREATE whose
// pointer still references the never-approved payload, so it additionally
// requires an approved CREATE request.
func (s *Service) visibleDetail(ctx context.Context, master *Master) (*Detail, error) {
	switch {
	case master.Status.IsEffectivelyActive():
	case master.Status == record.StatusInactive:
		approved, err := s.createEverApproved(ctx, master.ID)
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user has no approved version yet")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user has no approved version yet")
	}

	if d := s.cache.Get(ctx, master.ID); d != nil {
		return d, nil
	}
	d, err := s.store.CurrentDetail(ctx, master.ID)
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to load current detail")
	}
	s.cache.Set(ctx, master.ID, d)
	return d, nil
}

func (s *Service) assembleView(ctx context.Context, master *Master) (*EntityView, error) {
	detail, err := s.visibleDetail(ctx, master)
	if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	open, err := s.approvals.FindOpen(ctx, approval.ReferenceAuthUser, master.ID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to load approval state")
	}
	return s.view(master, detail, open), nil
}

func (s *Service) view(master *Master, detail *Detail, req *approval.Request) *EntityView {
	v := &EntityView{
		Token:             s.hash(master.ID),
		UserCode:          master.UserCode,
		Status:            master.Status,
		StatusDescription: master.Status.Description(),
		CreatedAt:         master.CreatedAt,
		UpdatedAt:         master.UpdatedAt,
	}
	if detail != nil {
		v.Username = detail.Username
		v.Email = detail.Email
		v.SessionValidity = detail.SessionValidity
	}
	if req != nil && req.Open() {
		v.ApprovalStatus = req.Status.Description()
	}
	return v
}

func (s *Service) hash(id uint64) string {
	if s.codec == nil {
		return fmt.Sprintf("%d", id)
	}
	return s.codec.Hash(id)
}

func (s *Service) dehash(token string) (uint64, error) {
	if s.codec == nil {
		return 0, pkgerrors.New(pkgerrors.CodeConfiguration, "no id codec configured")
	}
	id, ok := s.codec.Dehash(token)
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeInvalidToken, "token is not resolvable")
	}
	return id, nil
}

func (s *Service) nextID() (uint64, error) {
	id, err := s.ids.NextID()
	if err != nil {
		if errors.Is(err, snowflake.ErrClockMovedBackwards) {
			return 0, pkgerrors.Wrap(err, pkgerrors.CodeFatalClock, "id generator detected clock regression")
		}
		return 0, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "id allocation failed")
	}
	return id, nil
}

func (s *Service) translateStoreErr(err error, message string) error {
	var coded *pkgerrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return pkgerrors.Wrap(err, pkgerrors.CodeNotFound, "user not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return pkgerrors.Wrap(err, pkgerrors.CodeAlreadyDeleted, "record has been deleted")
	case errors.Is(err, sentinel.ErrConflict):
		return pkgerrors.Wrap(err, pkgerrors.CodePendingApproval,
			"a pending approval request already exists for this record")
	case errors.Is(err, sentinel.ErrStale):
		return pkgerrors.Wrap(err, pkgerrors.CodeConcurrentUpdate, "record changed concurrently")
	default:
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, message)
	}
}
