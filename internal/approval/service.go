package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zenmgt/internal/platform/metrics"
	"zenmgt/internal/record"
	pkgerrors "zenmgt/pkg/domain-errors"
	"zenmgt/pkg/platform/sentinel"
	"zenmgt/pkg/platform/tx"
	"zenmgt/pkg/snowflake"
)

// Target applies a terminal resolution to the master entity a request
// references. Each reference type registers one target; the coordinator never
// touches master rows directly.
type Target interface {
	// Approve repoints the master's active version to the request's
	// reference version and moves it to the request type's approved status.
	Approve(ctx context.Context, req *Request, actedBy uint64) error

	// Revert restores the master to the status it held before the request
	// was opened. The active-version pointer is left untouched.
	Revert(ctx context.Context, req *Request, actedBy uint64) error
}

// IDGenerator is the slice of the snowflake generator the coordinator needs.
type IDGenerator interface {
	NextID() (uint64, error)
}

// Service is the approval workflow coordinator. It owns transition legality
// for requests: opening, checker progression, terminal resolution, and the
// append-only audit trail. Master mutations are delegated to registered
// targets inside the same transaction.
type Service struct {
	store   Store
	ids     IDGenerator
	chain   Chain
	runner  tx.Runner
	targets map[ReferenceType]Target
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewService(store Store, ids IDGenerator, chain Chain, runner tx.Runner, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		ids:     ids,
		chain:   chain,
		runner:  runner,
		targets: make(map[ReferenceType]Target),
		logger:  logger,
		metrics: m,
	}
}

// Register binds a reference type to the target that mutates its masters.
func (s *Service) Register(refType ReferenceType, target Target) {
	s.targets[refType] = target
}

// OpenParams carries everything needed to open a request.
type OpenParams struct {
	Type               RequestType
	ReferenceType      ReferenceType
	ReferenceID        uint64
	ReferenceVersionID uint64
	PreviousStatus     record.Status
	Reason             string
	RequestedBy        uint64
}

// OpenRequest creates a request in the first pending checker status and writes
// the opening audit row. It fails with code 9207 when an open request already
// exists for the reference.
func (s *Service) OpenRequest(ctx context.Context, p OpenParams) (*Request, error) {
	if !p.Type.Valid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidDecision, "unknown request type %d", p.Type)
	}

	requestID, err := s.nextID()
	if err != nil {
		return nil, err
	}
	auditID, err := s.nextID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	req := &Request{
		ID:                 requestID,
		Type:               p.Type,
		ReferenceType:      p.ReferenceType,
		ReferenceID:        p.ReferenceID,
		ReferenceVersionID: p.ReferenceVersionID,
		Status:             s.chain.First(),
		PreviousStatus:     p.PreviousStatus,
		Reason:             p.Reason,
		CreatedBy:          p.RequestedBy,
		UpdatedBy:          p.RequestedBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, req); err != nil {
			return err
		}
		return s.store.AppendAudit(ctx, &AuditEntry{
			ID:        auditID,
			RequestID: requestID,
			Status:    req.Status,
			CreatedBy: p.RequestedBy,
			CreatedAt: now,
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodePendingApproval,
				"a pending approval request already exists for this record")
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to open approval request")
	}

	s.metrics.IncRequestsOpened(p.Type.String())
	s.logger.Info("approval request opened",
		"request_id", requestID, "type", p.Type.String(), "reference_id", p.ReferenceID)
	return req, nil
}

// Resolve records one checker decision. Intermediate approvals advance the
// request to the next checker level; the final approval or any rejection is
// terminal and mutates the master through the registered target, all inside
// one transaction. Resolving an already-terminal request fails with code 9502.
func (s *Service) Resolve(ctx context.Context, requestID uint64, decision Decision, resolvedBy uint64) (*Request, error) {
	if !decision.Valid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidDecision, "unknown decision %d", decision)
	}

	auditID, err := s.nextID()
	if err != nil {
		return nil, err
	}

	var resolved *Request
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		req, err := s.store.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return fmt.Errorf("%w: request already %s", sentinel.ErrInvalidState, req.Status)
		}

		next, err := s.chain.Advance(req.Status, decision)
		if err != nil {
			return err
		}

		now := time.Now()
		req.Status = next
		req.UpdatedBy = resolvedBy
		req.UpdatedAt = now
		if err := s.store.UpdateStatus(ctx, req); err != nil {
			return err
		}
		if err := s.store.AppendAudit(ctx, &AuditEntry{
			ID:        auditID,
			RequestID: requestID,
			Status:    next,
			CreatedBy: resolvedBy,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		switch {
		case next == StatusApproved:
			if err := s.applyTarget(ctx, req, resolvedBy, true); err != nil {
				return err
			}
		case next.IsRejected():
			if err := s.applyTarget(ctx, req, resolvedBy, false); err != nil {
				return err
			}
		}

		resolved = req
		return nil
	})
	if err != nil {
		return nil, s.translateResolveErr(err)
	}

	if resolved.Status.IsTerminal() {
		s.metrics.IncRequestsResolved(resolved.Status.String())
	}
	s.logger.Info("approval request resolved",
		"request_id", requestID, "status", resolved.Status.String(), "resolved_by", resolvedBy)
	return resolved, nil
}

// Cancel terminally cancels an open request. Only the original requester may
// cancel; the master reverts exactly as it would on rejection.
func (s *Service) Cancel(ctx context.Context, requestID, requestedBy uint64) error {
	auditID, err := s.nextID()
	if err != nil {
		return err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		req, err := s.store.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return fmt.Errorf("%w: request already %s", sentinel.ErrInvalidState, req.Status)
		}
		if req.CreatedBy != requestedBy {
			return pkgerrors.New(pkgerrors.CodeNotRequestOwner, "only the requester may cancel a pending request")
		}

		now := time.Now()
		req.Status = StatusCancelled
		req.UpdatedBy = requestedBy
		req.UpdatedAt = now
		if err := s.store.UpdateStatus(ctx, req); err != nil {
			return err
		}
		if err := s.store.AppendAudit(ctx, &AuditEntry{
			ID:        auditID,
			RequestID: requestID,
			Status:    StatusCancelled,
			CreatedBy: requestedBy,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.applyTarget(ctx, req, requestedBy, false)
	})
	if err != nil {
		return s.translateResolveErr(err)
	}

	s.metrics.IncRequestsResolved(StatusCancelled.String())
	return nil
}

// Get loads a single request.
func (s *Service) Get(ctx context.Context, requestID uint64) (*Request, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeRequestNotFound, "approval request not found")
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to load approval request")
	}
	return req, nil
}

// FindOpen returns the reference's single open request, if any.
func (s *Service) FindOpen(ctx context.Context, refType ReferenceType, refID uint64) (*Request, error) {
	return s.store.FindOpen(ctx, refType, refID)
}

// History returns every request for the reference, newest first, each with its
// full audit trail.
func (s *Service) History(ctx context.Context, refType ReferenceType, refID uint64) ([]History, error) {
	requests, err := s.store.ListByReference(ctx, refType, refID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to load approval history")
	}

	out := make([]History, 0, len(requests))
	for _, req := range requests {
		trail, err := s.store.Trail(ctx, req.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to load approval audit trail")
		}
		out = append(out, History{Request: req, Trail: trail})
	}
	return out, nil
}

// ListPending returns the checker work queue for a reference type.
func (s *Service) ListPending(ctx context.Context, refType ReferenceType) ([]*Request, error) {
	return s.store.ListOpen(ctx, refType)
}

// LatestOfType returns the newest request of the given type for a reference,
// or sentinel.ErrNotFound. The orchestrator uses it to gate status toggles on
// an approved CREATE.
func (s *Service) LatestOfType(ctx context.Context, refType ReferenceType, refID uint64, t RequestType) (*Request, error) {
	requests, err := s.store.ListByReference(ctx, refType, refID)
	if err != nil {
		return nil, err
	}
	for _, req := range requests {
		if req.Type == t {
			return req, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s request for reference %d", sentinel.ErrNotFound, t, refID)
}

func (s *Service) applyTarget(ctx context.Context, req *Request, actedBy uint64, approved bool) error {
	target, ok := s.targets[req.ReferenceType]
	if !ok {
		return pkgerrors.Newf(pkgerrors.CodeConfiguration, "no target registered for reference type %d", req.ReferenceType)
	}
	if approved {
		return target.Approve(ctx, req, actedBy)
	}
	return target.Revert(ctx, req, actedBy)
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

func (s *Service) translateResolveErr(err error) error {
	var coded *pkgerrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return pkgerrors.Wrap(err, pkgerrors.CodeRequestNotFound, "approval request not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return pkgerrors.Wrap(err, pkgerrors.CodeRequestProcessed, "approval request already processed")
	default:
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to resolve approval request")
	}
}
