package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Verifier,ChainIDSource,Ledger,AuditPublisher

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"custody/internal/audit"
	"custody/internal/authorization/issuer"
	"custody/internal/authorization/signer"
	"custody/internal/vault/metrics"
	"custody/internal/vault/service/mocks"
	"custody/internal/vault/store"
	"custody/pkg/testutil"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// ServiceSuite runs the vault against the real issuer and in-memory ledger.
// The chain id source is mocked so tests can move the vault to another chain.
type ServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	mockChain  *mocks.MockChainIDSource
	chainID    *big.Int
	authorizer *signer.Signer
	ledger     *store.InMemoryLedger
	auditStore *audit.InMemoryStore
	metrics    *metrics.Metrics
	service    *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.chainID = new(big.Int).Set(testutil.DevChainID)
	s.mockChain = mocks.NewMockChainIDSource(s.ctrl)
	s.mockChain.EXPECT().ChainID(gomock.Any()).DoAndReturn(func(context.Context) (*big.Int, error) {
		return new(big.Int).Set(s.chainID), nil
	}).AnyTimes()

	s.authorizer = testutil.DevSigner(s.T())
	iss, err := issuer.New(issuer.Config{Signer: s.authorizer.Address()})
	s.Require().NoError(err)

	s.ledger = store.NewInMemory()
	s.auditStore = audit.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())

	s.service, err = New(testutil.TestAddrs.Vault, iss, s.ledger, s.mockChain,
		WithAuditor(audit.NewPublisher(s.auditStore)),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) fund(amount *big.Int) {
	_, err := s.ledger.Credit(context.Background(), amount)
	s.Require().NoError(err)
}

func (s *ServiceSuite) balance() *big.Int {
	b, err := s.service.Balance(context.Background())
	s.Require().NoError(err)
	return b
}

func (s *ServiceSuite) withdrawal() *testutil.WithdrawalBuilder {
	return testutil.NewWithdrawal(s.T(), s.authorizer)
}
