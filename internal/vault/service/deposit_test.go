package service

import (
	"context"
	"math/big"

	"custody/internal/audit"
	"custody/internal/vault/models"
	"custody/internal/vault/store"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/requestcontext"
	"custody/pkg/testutil"
)

func (s *ServiceSuite) TestDeposit_CreditsBalance() {
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")

	balance, err := s.service.Deposit(ctx, models.DepositCommand{
		From:   testutil.TestAddrs.Signer,
		Amount: testutil.Ether(10),
	})
	s.Require().NoError(err)
	s.Equal(testutil.Ether(10), balance)
	s.Equal(testutil.Ether(10), s.balance())

	events := s.auditStore.ListByAction(audit.EventDepositReceived)
	s.Require().Len(events, 1)
	s.Equal(testutil.TestAddrs.Signer.Hex(), events[0].Sender)
	s.Equal(testutil.Ether(10).String(), events[0].Amount)
	s.Equal("req-1", events[0].RequestID)
	s.Equal(fixedNow, events[0].Timestamp)
}

func (s *ServiceSuite) TestDeposit_ZeroIsAccepted() {
	balance, err := s.service.Deposit(context.Background(), models.DepositCommand{Amount: big.NewInt(0)})
	s.Require().NoError(err)
	s.Zero(balance.Sign())
}

func (s *ServiceSuite) TestDeposit_RejectsNegativeOrMissingAmount() {
	_, err := s.service.Deposit(context.Background(), models.DepositCommand{Amount: big.NewInt(-5)})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)

	_, err = s.service.Deposit(context.Background(), models.DepositCommand{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)
}

func (s *ServiceSuite) TestDeposit_RejectsBalanceOverflow() {
	s.fund(store.MaxBalance)

	_, err := s.service.Deposit(context.Background(), models.DepositCommand{Amount: big.NewInt(1)})
	s.True(dErrors.HasCode(err, dErrors.CodeBalanceOverflow), "got %v", err)
	s.Equal(store.MaxBalance, s.balance())
	s.Empty(s.auditStore.ListByAction(audit.EventDepositReceived))
}

func (s *ServiceSuite) TestIdentity() {
	s.Equal(testutil.TestAddrs.Vault, s.service.Address())
	s.Equal(testutil.TestAddrs.Signer, s.service.Signer())

	id, err := s.service.ChainID(context.Background())
	s.Require().NoError(err)
	s.Equal(testutil.DevChainID, id)
}
