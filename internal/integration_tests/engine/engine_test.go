//go:build integration

package engine

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"zenmgt/internal/approval"
	"zenmgt/internal/events"
	"zenmgt/internal/platform/database"
	"zenmgt/internal/record"
	"zenmgt/internal/user"
	pkgerrors "zenmgt/pkg/domain-errors"
	"zenmgt/pkg/platform/tx"
	"zenmgt/pkg/snowflake"
	"zenmgt/pkg/testutil/containers"
)

// EngineSuite runs the full stack against real postgres and redis: sqlx
// stores, the transaction runner, the approval coordinator, and the detail
// cache.
type EngineSuite struct {
	suite.Suite

	ctx   context.Context
	pg    *containers.PostgresContainer
	redis *containers.RedisContainer

	approvals *approval.Service
	service   *user.Service
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.redis = containers.NewRedisContainer(s.T())
	s.Require().NoError(database.Migrate(s.pg.DB))
}

func (s *EngineSuite) TearDownSuite() {
	if s.pg != nil {
		_ = s.pg.DB.Close()
		_ = s.pg.Container.Terminate(s.ctx)
	}
	if s.redis != nil {
		_ = s.redis.Client.Close()
		_ = s.redis.Container.Terminate(s.ctx)
	}
}

func (s *EngineSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateAll(s.ctx,
		"outbox", "sys_approval_audit", "sys_approval_request", "auth_user_detail", "auth_user"))
	s.Require().NoError(s.redis.FlushAll(s.ctx))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ids, err := snowflake.New(1)
	s.Require().NoError(err)
	chain, err := approval.NewChain(2)
	s.Require().NoError(err)

	runner := tx.NewSQLRunner(s.pg.DB)
	cache := user.NewDetailCache(s.redis.Client, time.Minute, logger, nil)

	userStore := user.NewPostgresStore(s.pg.DB)
	s.approvals = approval.NewService(approval.NewPostgresStore(s.pg.DB), ids, chain, runner, logger, nil)
	s.approvals.Register(approval.ReferenceAuthUser, user.NewApprovalTarget(userStore))
	s.service = user.NewService(userStore, s.approvals, ids, runner, cache, nil, logger, nil)
}

// masterID recovers the raw id; with no codec configured the token is the
// decimal id.
func (s *EngineSuite) masterID(view *user.EntityView) uint64 {
	id, err := strconv.ParseUint(view.Token, 10, 64)
	s.Require().NoError(err)
	return id
}

func (s *EngineSuite) approveFully(masterID uint64) {
	req, err := s.approvals.FindOpen(s.ctx, approval.ReferenceAuthUser, masterID)
	s.Require().NoError(err)
	_, err = s.service.ResolveApproval(s.ctx, req.ID, approval.DecisionApprove, 100)
	s.Require().NoError(err)
	_, err = s.service.ResolveApproval(s.ctx, req.ID, approval.DecisionApprove, 101)
	s.Require().NoError(err)
}

func (s *EngineSuite) TestCreateApproveLifecycle() {
	view, err := s.service.Create(s.ctx, user.Payload{
		Username: "alice", Email: "alice@example.com",
	}, 1)
	s.Require().NoError(err)
	s.Equal(record.StatusPendingCreateApproval, view.Status)

	id := s.masterID(view)
	s.approveFully(id)

	got, err := s.service.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(record.StatusActive, got.Status)
	s.Equal("alice", got.Username)

	// Second read comes from the redis cache and must agree.
	again, err := s.service.CurrentDetail(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("alice", again.Username)
}

func (s *EngineSuite) TestOpenRequestUniqueIndexBackstop() {
	view, err := s.service.Create(s.ctx, user.Payload{
		Username: "bob", Email: "bob@example.com",
	}, 1)
	s.Require().NoError(err)
	id := s.masterID(view)

	// Bypass the service-level check and hit the partial unique index.
	_, err = s.approvals.OpenRequest(s.ctx, approval.OpenParams{
		Type:           approval.RequestTypeUpdate,
		ReferenceType:  approval.ReferenceAuthUser,
		ReferenceID:    id,
		PreviousStatus: record.StatusPendingCreateApproval,
		RequestedBy:    2,
	})
	s.Require().Error(err)
	s.Equal(pkgerrors.CodePendingApproval, pkgerrors.CodeOf(err))
}

func (s *EngineSuite) TestUpdateRejectionKeepsCurrentVersion() {
	view, err := s.service.Create(s.ctx, user.Payload{
		Username: "carol", Email: "carol@example.com",
	}, 1)
	s.Require().NoError(err)
	id := s.masterID(view)
	s.approveFully(id)

	_, err = s.service.Update(s.ctx, id, user.Payload{
		Username: "carol-v2", Email: "carol@example.com",
	}, 2)
	s.Require().NoError(err)

	req, err := s.approvals.FindOpen(s.ctx, approval.ReferenceAuthUser, id)
	s.Require().NoError(err)
	_, err = s.approvals.Resolve(s.ctx, req.ID, approval.DecisionReject, 100)
	s.Require().NoError(err)

	got, err := s.service.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(record.StatusActive, got.Status)
	s.Equal("carol", got.Username)

	history, err := s.service.VersionHistory(s.ctx, id)
	s.Require().NoError(err)
	s.Len(history, 2)
}

func (s *EngineSuite) TestAuditTrailAndOutboxRows() {
	view, err := s.service.Create(s.ctx, user.Payload{
		Username: "dave", Email: "dave@example.com",
	}, 1)
	s.Require().NoError(err)
	id := s.masterID(view)
	s.approveFully(id)

	history, err := s.service.ApprovalHistory(s.ctx, id)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Len(history[0].Trail, 3)

	var outboxCount int
	s.Require().NoError(s.pg.DB.GetContext(s.ctx, &outboxCount, `SELECT COUNT(*) FROM outbox`))
	s.Equal(3, outboxCount, "one outbox row per audit append")
}

// capturePublisher records published payloads in place of a Kafka broker.
type capturePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (p *capturePublisher) Publish(_ context.Context, _ string, _, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func (s *EngineSuite) TestOutboxRelayDrains() {
	view, err := s.service.Create(s.ctx, user.Payload{
		Username: "frank", Email: "frank@example.com",
	}, 1)
	s.Require().NoError(err)
	s.approveFully(s.masterID(view))

	pub := &capturePublisher{}
	relay := events.NewRelay(s.pg.DB, pub, "test.topic", 50*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		_ = relay.Run(ctx)
		close(done)
	}()

	s.Require().Eventually(func() bool {
		var remaining int
		if err := s.pg.DB.GetContext(s.ctx, &remaining, `SELECT COUNT(*) FROM outbox`); err != nil {
			return false
		}
		return remaining == 0 && pub.count() == 3
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	<-done
}

func (s *EngineSuite) TestCacheRefreshesAfterApprovedUpdate() {
	view, err := s.service.Create(s.ctx, user.Payload{
		Username: "grace", Email: "grace@example.com",
	}, 1)
	s.Require().NoError(err)
	id := s.masterID(view)
	s.approveFully(id)

	// Warm the cache with the first version.
	got, err := s.service.CurrentDetail(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("grace", got.Username)

	_, err = s.service.Update(s.ctx, id, user.Payload{
		Username: "grace-v2", Email: "grace@example.com",
	}, 2)
	s.Require().NoError(err)
	s.approveFully(id)

	// Resolution through the service invalidates after commit, so the next
	// read must see the repointed version, not the warmed entry.
	got, err = s.service.CurrentDetail(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("grace-v2", got.Username)
}

func (s *EngineSuite) TestDeleteIsTerminal() {
	view, err := s.service.Create(s.ctx, user.Payload{
		Username: "erin", Email: "erin@example.com",
	}, 1)
	s.Require().NoError(err)
	id := s.masterID(view)
	s.approveFully(id)

	s.Require().NoError(s.service.Delete(s.ctx, id, "offboarded", 3))
	s.approveFully(id)

	_, err = s.service.Get(s.ctx, id)
	s.Require().Error(err)
	s.Equal(pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = s.service.ToggleStatus(s.ctx, id, 3)
	s.Require().Error(err)
}
