package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"custody/internal/audit"
	"custody/internal/authorization/digest"
	"custody/internal/vault/models"
	"custody/internal/vault/service/mocks"
	"custody/internal/vault/store"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/testutil"
)

type mockDeps struct {
	verifier *mocks.MockVerifier
	ledger   *mocks.MockLedger
	chain    *mocks.MockChainIDSource
	auditor  *mocks.MockAuditPublisher
}

func newMockedService(t *testing.T) (*Service, mockDeps) {
	ctrl := gomock.NewController(t)
	deps := mockDeps{
		verifier: mocks.NewMockVerifier(ctrl),
		ledger:   mocks.NewMockLedger(ctrl),
		chain:    mocks.NewMockChainIDSource(ctrl),
		auditor:  mocks.NewMockAuditPublisher(ctrl),
	}
	svc, err := New(testutil.TestAddrs.Vault, deps.verifier, deps.ledger, deps.chain,
		WithAuditor(deps.auditor),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return svc, deps
}

func TestNew_RequiresDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockVerifier(ctrl)
	ledger := mocks.NewMockLedger(ctrl)
	chain := mocks.NewMockChainIDSource(ctrl)

	_, err := New(common.Address{}, verifier, ledger, chain)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = New(testutil.TestAddrs.Vault, nil, ledger, chain)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = New(testutil.TestAddrs.Vault, verifier, nil, chain)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = New(testutil.TestAddrs.Vault, verifier, ledger, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestWithdraw_ChainIDUnavailable(t *testing.T) {
	svc, deps := newMockedService(t)
	deps.chain.EXPECT().ChainID(gomock.Any()).Return(nil, errors.New("dial tcp: connection refused"))

	_, err := svc.Withdraw(context.Background(), models.WithdrawCommand{Amount: big.NewInt(1)})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable), "got %v", err)
}

// The ledger is never consulted when the signer is wrong.
func TestWithdraw_UnauthorizedNeverTouchesLedger(t *testing.T) {
	svc, deps := newMockedService(t)
	deps.chain.EXPECT().ChainID(gomock.Any()).Return(big.NewInt(31337), nil)
	deps.verifier.EXPECT().VerifySigner(gomock.Any(), gomock.Any()).Return(testutil.TestAddrs.Recipient, nil)
	deps.verifier.EXPECT().IsAuthorized(testutil.TestAddrs.Recipient).Return(false)
	deps.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		assert.Equal(t, string(audit.EventWithdrawalRejected), e.Action)
		assert.Equal(t, models.ReasonUnauthorizedSigner, e.Reason)
		return nil
	})

	_, err := svc.Withdraw(context.Background(), models.WithdrawCommand{
		Recipient: testutil.TestAddrs.Recipient,
		Amount:    big.NewInt(1),
		Signature: make([]byte, 65),
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorizedSigner), "got %v", err)
}

func TestWithdraw_VerifierErrorIsMalformed(t *testing.T) {
	svc, deps := newMockedService(t)
	deps.chain.EXPECT().ChainID(gomock.Any()).Return(big.NewInt(31337), nil)
	deps.verifier.EXPECT().VerifySigner(gomock.Any(), gomock.Any()).Return(common.Address{}, errors.New("bad curve point"))
	deps.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	_, err := svc.Withdraw(context.Background(), models.WithdrawCommand{Amount: big.NewInt(1)})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeMalformedSignature), "got %v", err)
}

// The digest handed to the verifier binds the vault's own address and the
// chain id read for this call.
func TestWithdraw_DigestBindsVaultAndChain(t *testing.T) {
	svc, deps := newMockedService(t)
	cmd := testutil.NewWithdrawal(t, testutil.DevSigner(t)).WithChainID(big.NewInt(5)).Build()
	want, err := digest.Compute(testutil.TestAddrs.Vault, cmd.Recipient, cmd.Amount, cmd.AuthorizationID, big.NewInt(5))
	require.NoError(t, err)

	deps.chain.EXPECT().ChainID(gomock.Any()).Return(big.NewInt(5), nil)
	deps.verifier.EXPECT().VerifySigner(want, cmd.Signature).Return(testutil.TestAddrs.Signer, nil)
	deps.verifier.EXPECT().IsAuthorized(testutil.TestAddrs.Signer).Return(true)
	deps.ledger.EXPECT().Consume(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c models.Consumption) (*big.Int, error) {
		assert.Equal(t, cmd.AuthorizationID, c.AuthorizationID)
		assert.Equal(t, cmd.Recipient, c.Recipient)
		assert.Equal(t, cmd.Amount, c.Amount)
		return big.NewInt(0), nil
	})
	deps.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	_, err = svc.Withdraw(context.Background(), cmd)
	require.NoError(t, err)
}

func TestWithdraw_LedgerFailures(t *testing.T) {
	tests := []struct {
		name      string
		ledgerErr error
		wantCode  dErrors.Code
	}{
		{name: "reused", ledgerErr: store.ErrAlreadyConsumed, wantCode: dErrors.CodeAuthorizationReused},
		{name: "insufficient", ledgerErr: store.ErrInsufficientFunds, wantCode: dErrors.CodeInsufficientFunds},
		{name: "contention", ledgerErr: store.ErrContention, wantCode: dErrors.CodeUnavailable},
		{name: "infrastructure", ledgerErr: errors.New("connection reset"), wantCode: dErrors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, deps := newMockedService(t)
			deps.chain.EXPECT().ChainID(gomock.Any()).Return(big.NewInt(31337), nil)
			deps.verifier.EXPECT().VerifySigner(gomock.Any(), gomock.Any()).Return(testutil.TestAddrs.Signer, nil)
			deps.verifier.EXPECT().IsAuthorized(testutil.TestAddrs.Signer).Return(true)
			deps.ledger.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil, tt.ledgerErr)
			deps.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

			_, err := svc.Withdraw(context.Background(), models.WithdrawCommand{Amount: big.NewInt(1)})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, dErrors.CodeOf(err))
		})
	}
}

// An audit sink failure never fails a withdrawal that already committed.
func TestWithdraw_AuditFailureDoesNotFailWithdrawal(t *testing.T) {
	svc, deps := newMockedService(t)
	deps.chain.EXPECT().ChainID(gomock.Any()).Return(big.NewInt(31337), nil)
	deps.verifier.EXPECT().VerifySigner(gomock.Any(), gomock.Any()).Return(testutil.TestAddrs.Signer, nil)
	deps.verifier.EXPECT().IsAuthorized(testutil.TestAddrs.Signer).Return(true)
	deps.ledger.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(big.NewInt(7), nil)
	deps.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("kafka down"))

	receipt, err := svc.Withdraw(context.Background(), models.WithdrawCommand{Amount: big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), receipt.Balance)
}

func TestReads_WrapLedgerErrors(t *testing.T) {
	svc, deps := newMockedService(t)
	boom := errors.New("redis: connection pool timeout")
	deps.ledger.EXPECT().Balance(gomock.Any()).Return(nil, boom)
	deps.ledger.EXPECT().IsConsumed(gomock.Any(), gomock.Any()).Return(false, boom)
	deps.ledger.EXPECT().PaidOut(gomock.Any(), gomock.Any()).Return(nil, boom)

	_, err := svc.Balance(context.Background())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	_, err = svc.IsConsumed(context.Background(), common.Hash{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	_, err = svc.PaidOut(context.Background(), common.Address{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}
