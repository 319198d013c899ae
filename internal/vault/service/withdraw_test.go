package service

import (
	"context"
	"math/big"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"custody/internal/audit"
	"custody/internal/authorization/signer"
	"custody/internal/vault/models"
	dErrors "custody/pkg/domain-errors"
	fixtures "custody/pkg/testutil"
)

// A signed authorization for 1 unit against a 10 unit vault pays out once.
func (s *ServiceSuite) TestWithdraw_HonorsValidAuthorization() {
	s.fund(fixtures.Ether(10))
	cmd := s.withdrawal().Build()

	receipt, err := s.service.Withdraw(context.Background(), cmd)
	s.Require().NoError(err)

	s.Equal(cmd.AuthorizationID, receipt.AuthorizationID)
	s.Equal(fixtures.TestAddrs.Recipient, receipt.Recipient)
	s.Equal(fixtures.Ether(1), receipt.Amount)
	s.Equal(fixtures.DevChainID, receipt.ChainID)
	s.Equal(fixtures.Ether(9), receipt.Balance)
	s.Equal(fixedNow, receipt.ExecutedAt)

	s.Equal(fixtures.Ether(9), s.balance())
	used, err := s.service.IsConsumed(context.Background(), cmd.AuthorizationID)
	s.Require().NoError(err)
	s.True(used)
	paid, err := s.service.PaidOut(context.Background(), fixtures.TestAddrs.Recipient)
	s.Require().NoError(err)
	s.Equal(fixtures.Ether(1), paid)

	events := s.auditStore.ListByAction(audit.EventWithdrawalExecuted)
	s.Require().Len(events, 1)
	s.Equal(cmd.AuthorizationID.Hex(), events[0].AuthorizationID)
	s.Equal("31337", events[0].ChainID)
	s.Equal(fixtures.TestAddrs.Vault.Hex(), events[0].Vault)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.WithdrawalsExecuted))
}

// Replaying the exact same signed authorization is rejected and moves nothing.
func (s *ServiceSuite) TestWithdraw_RejectsReplay() {
	s.fund(fixtures.Ether(10))
	cmd := s.withdrawal().Build()

	_, err := s.service.Withdraw(context.Background(), cmd)
	s.Require().NoError(err)

	_, err = s.service.Withdraw(context.Background(), cmd)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuthorizationReused), "got %v", err)

	s.Equal(fixtures.Ether(9), s.balance())
	paid, err := s.service.PaidOut(context.Background(), fixtures.TestAddrs.Recipient)
	s.Require().NoError(err)
	s.Equal(fixtures.Ether(1), paid)

	rejected := s.auditStore.ListByAction(audit.EventWithdrawalRejected)
	s.Require().Len(rejected, 1)
	s.Equal(models.ReasonAuthorizationReused, rejected[0].Reason)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.WithdrawalsRejected.WithLabelValues(models.ReasonAuthorizationReused)))
}

// A fresh, valid signature over a used id with new terms is still a reuse.
func (s *ServiceSuite) TestWithdraw_RejectsResignedUsedID() {
	s.fund(fixtures.Ether(10))
	_, err := s.service.Withdraw(context.Background(), s.withdrawal().WithLabel("auth1").Build())
	s.Require().NoError(err)

	other := fixtures.RandomAddress()
	resigned := s.withdrawal().
		WithLabel("auth1").
		WithRecipient(other).
		WithAmount(fixtures.Ether(5)).
		Build()

	_, err = s.service.Withdraw(context.Background(), resigned)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuthorizationReused), "got %v", err)

	s.Equal(fixtures.Ether(9), s.balance())
	paid, err := s.service.PaidOut(context.Background(), other)
	s.Require().NoError(err)
	s.Zero(paid.Sign())
	paid, err = s.service.PaidOut(context.Background(), fixtures.TestAddrs.Recipient)
	s.Require().NoError(err)
	s.Equal(fixtures.Ether(1), paid)
	s.Len(s.auditStore.ListByAction(audit.EventWithdrawalExecuted), 1)
}

// A signature made for another chain id never verifies as the authorizer here.
func (s *ServiceSuite) TestWithdraw_RejectsSignatureForOtherChain() {
	s.fund(fixtures.Ether(10))
	cmd := s.withdrawal().WithChainID(big.NewInt(1)).Build()

	_, err := s.service.Withdraw(context.Background(), cmd)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorizedSigner), "got %v", err)

	s.Equal(fixtures.Ether(10), s.balance())
	used, err := s.service.IsConsumed(context.Background(), cmd.AuthorizationID)
	s.Require().NoError(err)
	s.False(used)
}

// After the chain id changes, authorizations signed for the old chain stop
// working even though they were never used.
func (s *ServiceSuite) TestWithdraw_ChainIDIsReadOnEveryCall() {
	s.fund(fixtures.Ether(10))
	first := s.withdrawal().WithLabel("before-fork").Build()
	second := s.withdrawal().WithLabel("after-fork").Build()

	_, err := s.service.Withdraw(context.Background(), first)
	s.Require().NoError(err)

	s.chainID = big.NewInt(31338)

	_, err = s.service.Withdraw(context.Background(), second)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorizedSigner), "got %v", err)

	forked := s.withdrawal().WithLabel("after-fork").WithChainID(big.NewInt(31338)).Build()
	receipt, err := s.service.Withdraw(context.Background(), forked)
	s.Require().NoError(err)
	s.Equal(big.NewInt(31338), receipt.ChainID)
}

// An authorization for one vault cannot be executed by another.
func (s *ServiceSuite) TestWithdraw_RejectsSignatureForOtherVault() {
	s.fund(fixtures.Ether(10))
	cmd := s.withdrawal().WithVault(fixtures.TestAddrs.OtherVault).Build()

	_, err := s.service.Withdraw(context.Background(), cmd)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorizedSigner), "got %v", err)
	s.Equal(fixtures.Ether(10), s.balance())
}

// Changing any caller-supplied field after signing invalidates the authorization.
func (s *ServiceSuite) TestWithdraw_RejectsTamperedFields() {
	s.fund(fixtures.Ether(10))

	tamper := map[string]func(*models.WithdrawCommand){
		"recipient": func(c *models.WithdrawCommand) { c.Recipient = fixtures.TestAddrs.Recipient2 },
		"amount":    func(c *models.WithdrawCommand) { c.Amount = fixtures.Ether(2) },
		"id": func(c *models.WithdrawCommand) {
			c.AuthorizationID = s.withdrawal().WithLabel("other").Build().AuthorizationID
		},
	}

	for name, mutate := range tamper {
		s.Run(name, func() {
			cmd := s.withdrawal().WithLabel("tamper-" + name).Build()
			mutate(&cmd)

			_, err := s.service.Withdraw(context.Background(), cmd)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeUnauthorizedSigner), "got %v", err)
		})
	}
	s.Equal(fixtures.Ether(10), s.balance())
}

// A well-formed signature from any other key is unauthorized.
func (s *ServiceSuite) TestWithdraw_RejectsOtherSigner() {
	s.fund(fixtures.Ether(10))
	intruder, err := signer.FromHex(fixtures.DevRecipientKey)
	s.Require().NoError(err)

	cmd := fixtures.NewWithdrawal(s.T(), intruder).Build()
	_, err = s.service.Withdraw(context.Background(), cmd)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorizedSigner), "got %v", err)

	used, err := s.service.IsConsumed(context.Background(), cmd.AuthorizationID)
	s.Require().NoError(err)
	s.False(used)

	rejected := s.auditStore.ListByAction(audit.EventWithdrawalRejected)
	s.Require().Len(rejected, 1)
	s.Equal(models.ReasonUnauthorizedSigner, rejected[0].Reason)
}

func (s *ServiceSuite) TestWithdraw_RejectsMalformedSignature() {
	s.fund(fixtures.Ether(10))
	cmd := s.withdrawal().Build()
	cmd.Signature = cmd.Signature[:64]

	_, err := s.service.Withdraw(context.Background(), cmd)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeMalformedSignature), "got %v", err)

	rejected := s.auditStore.ListByAction(audit.EventWithdrawalRejected)
	s.Require().Len(rejected, 1)
	s.Equal(models.ReasonMalformedSignature, rejected[0].Reason)
}

// A valid authorization larger than the balance fails without consuming its id,
// and succeeds once the vault is funded.
func (s *ServiceSuite) TestWithdraw_InsufficientFundsKeepsAuthorizationUsable() {
	s.fund(fixtures.Ether(1))
	cmd := s.withdrawal().WithAmount(fixtures.Ether(5)).Build()

	_, err := s.service.Withdraw(context.Background(), cmd)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds), "got %v", err)
	s.Equal(fixtures.Ether(1), s.balance())

	used, err := s.service.IsConsumed(context.Background(), cmd.AuthorizationID)
	s.Require().NoError(err)
	s.False(used)

	s.fund(fixtures.Ether(4))
	receipt, err := s.service.Withdraw(context.Background(), cmd)
	s.Require().NoError(err)
	s.Zero(receipt.Balance.Sign())
}

// Reuse is reported ahead of insufficient funds.
func (s *ServiceSuite) TestWithdraw_ReuseCheckedBeforeFunds() {
	s.fund(fixtures.Ether(1))
	cmd := s.withdrawal().Build()

	_, err := s.service.Withdraw(context.Background(), cmd)
	s.Require().NoError(err)
	s.Zero(s.balance().Sign())

	_, err = s.service.Withdraw(context.Background(), cmd)
	s.True(dErrors.HasCode(err, dErrors.CodeAuthorizationReused), "got %v", err)
}

func (s *ServiceSuite) TestWithdraw_ZeroAmountConsumesID() {
	cmd := s.withdrawal().WithAmount(big.NewInt(0)).Build()

	receipt, err := s.service.Withdraw(context.Background(), cmd)
	s.Require().NoError(err)
	s.Zero(receipt.Amount.Sign())

	_, err = s.service.Withdraw(context.Background(), cmd)
	s.True(dErrors.HasCode(err, dErrors.CodeAuthorizationReused), "got %v", err)
}

func (s *ServiceSuite) TestWithdraw_RejectsNegativeAmount() {
	cmd := s.withdrawal().Build()
	cmd.Amount = big.NewInt(-1)

	_, err := s.service.Withdraw(context.Background(), cmd)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)
}

// Distinct authorizations each pay out once; the sum never exceeds deposits.
func (s *ServiceSuite) TestWithdraw_MultipleAuthorizationsAccumulatePayouts() {
	s.fund(fixtures.Ether(3))

	for _, label := range []string{"a", "b", "c"} {
		_, err := s.service.Withdraw(context.Background(), s.withdrawal().WithLabel(label).Build())
		s.Require().NoError(err)
	}
	_, err := s.service.Withdraw(context.Background(), s.withdrawal().WithLabel("d").Build())
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds), "got %v", err)

	paid, err := s.service.PaidOut(context.Background(), fixtures.TestAddrs.Recipient)
	s.Require().NoError(err)
	s.Equal(fixtures.Ether(3), paid)
	s.Zero(s.balance().Sign())
}

// Many concurrent submissions of one authorization pay out exactly once.
func (s *ServiceSuite) TestWithdraw_ConcurrentReplayPaysOnce() {
	s.fund(fixtures.Ether(100))
	cmd := s.withdrawal().Build()

	res := fixtures.RunConcurrent(50, func(int) error {
		_, err := s.service.Withdraw(context.Background(), cmd)
		return err
	})

	s.Equal(int32(1), res.Successes)
	s.Equal(int32(49), res.Reused)
	s.Zero(res.Errors)
	s.Equal(fixtures.Ether(99), s.balance())
}
