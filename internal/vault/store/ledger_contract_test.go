package store_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/internal/vault/models"
	"custody/internal/vault/store"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/testutil"
)

type ledger interface {
	Credit(ctx context.Context, amount *big.Int) (*big.Int, error)
	Balance(ctx context.Context) (*big.Int, error)
	Consume(ctx context.Context, c models.Consumption) (*big.Int, error)
	IsConsumed(ctx context.Context, id common.Hash) (bool, error)
	PaidOut(ctx context.Context, recipient common.Address) (*big.Int, error)
}

// runLedgerContract exercises the behavior every backend must share. newLedger
// must return an empty ledger on each call.
func runLedgerContract(t *testing.T, newLedger func(t *testing.T) ledger) {
	ctx := context.Background()
	recipient := testutil.TestAddrs.Recipient

	t.Run("empty ledger reads zero", func(t *testing.T) {
		l := newLedger(t)
		balance, err := l.Balance(ctx)
		require.NoError(t, err)
		assert.Zero(t, balance.Sign())

		paid, err := l.PaidOut(ctx, recipient)
		require.NoError(t, err)
		assert.Zero(t, paid.Sign())
	})

	t.Run("credit accumulates including zero", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, testutil.Ether(1))
		require.NoError(t, err)
		got, err := l.Credit(ctx, big.NewInt(0))
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(1), got)

		got, err = l.Credit(ctx, testutil.Ether(2))
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(3), got)
	})

	t.Run("credit rejects negative amounts", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, big.NewInt(-1))
		assert.ErrorIs(t, err, store.ErrInvalidAmount)
	})

	t.Run("consume debits, marks and pays out", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, testutil.Ether(10))
		require.NoError(t, err)

		c := testutil.NewConsumption("auth1", recipient, testutil.Ether(1))
		remaining, err := l.Consume(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(9), remaining)

		used, err := l.IsConsumed(ctx, c.AuthorizationID)
		require.NoError(t, err)
		assert.True(t, used)

		paid, err := l.PaidOut(ctx, recipient)
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(1), paid)
	})

	t.Run("second consume of the same id is rejected without effect", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, testutil.Ether(10))
		require.NoError(t, err)

		c := testutil.NewConsumption("auth1", recipient, testutil.Ether(1))
		_, err = l.Consume(ctx, c)
		require.NoError(t, err)

		_, err = l.Consume(ctx, c)
		assert.ErrorIs(t, err, store.ErrAlreadyConsumed)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthorizationReused))

		balance, err := l.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(9), balance)
		paid, err := l.PaidOut(ctx, recipient)
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(1), paid)
	})

	t.Run("reuse is reported before insufficient funds", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, testutil.Ether(1))
		require.NoError(t, err)

		_, err = l.Consume(ctx, testutil.NewConsumption("auth1", recipient, testutil.Ether(1)))
		require.NoError(t, err)

		_, err = l.Consume(ctx, testutil.NewConsumption("auth1", recipient, testutil.Ether(1)))
		assert.ErrorIs(t, err, store.ErrAlreadyConsumed)
	})

	t.Run("insufficient funds leaves the id unused", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, testutil.Ether(1))
		require.NoError(t, err)

		c := testutil.NewConsumption("auth1", recipient, testutil.Ether(2))
		_, err = l.Consume(ctx, c)
		assert.ErrorIs(t, err, store.ErrInsufficientFunds)

		used, err := l.IsConsumed(ctx, c.AuthorizationID)
		require.NoError(t, err)
		assert.False(t, used)

		balance, err := l.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(1), balance)

		// the same id is still honorable once funded
		_, err = l.Credit(ctx, testutil.Ether(1))
		require.NoError(t, err)
		remaining, err := l.Consume(ctx, c)
		require.NoError(t, err)
		assert.Zero(t, remaining.Sign())
	})

	t.Run("zero amount consumes the id", func(t *testing.T) {
		l := newLedger(t)
		c := testutil.NewConsumption("zero", recipient, big.NewInt(0))
		remaining, err := l.Consume(ctx, c)
		require.NoError(t, err)
		assert.Zero(t, remaining.Sign())

		_, err = l.Consume(ctx, c)
		assert.ErrorIs(t, err, store.ErrAlreadyConsumed)
	})

	t.Run("exact balance drains to zero", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, testutil.Ether(1))
		require.NoError(t, err)
		remaining, err := l.Consume(ctx, testutil.NewConsumption("all", recipient, testutil.Ether(1)))
		require.NoError(t, err)
		assert.Zero(t, remaining.Sign())
	})

	t.Run("uint256-scale amounts keep precision", func(t *testing.T) {
		l := newLedger(t)
		huge, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
		require.True(t, ok)
		_, err := l.Credit(ctx, huge)
		require.NoError(t, err)

		remaining, err := l.Consume(ctx, testutil.NewConsumption("big", recipient, big.NewInt(1)))
		require.NoError(t, err)
		assert.Equal(t, new(big.Int).Sub(huge, big.NewInt(1)), remaining)
	})

	t.Run("credit past uint256 is rejected without effect", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, store.MaxBalance)
		require.NoError(t, err)

		_, err = l.Credit(ctx, big.NewInt(1))
		assert.ErrorIs(t, err, store.ErrBalanceOverflow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBalanceOverflow))

		balance, err := l.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, store.MaxBalance, balance)

		// zero still credits at the cap
		got, err := l.Credit(ctx, big.NewInt(0))
		require.NoError(t, err)
		assert.Equal(t, store.MaxBalance, got)
	})

	t.Run("credit larger than uint256 is rejected on an empty ledger", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, new(big.Int).Lsh(big.NewInt(1), 256))
		assert.ErrorIs(t, err, store.ErrBalanceOverflow)

		balance, err := l.Balance(ctx)
		require.NoError(t, err)
		assert.Zero(t, balance.Sign())
	})

	t.Run("used id stays used for a different recipient and amount", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, testutil.Ether(10))
		require.NoError(t, err)

		_, err = l.Consume(ctx, testutil.NewConsumption("auth1", recipient, testutil.Ether(1)))
		require.NoError(t, err)

		other := testutil.RandomAddress()
		_, err = l.Consume(ctx, testutil.NewConsumption("auth1", other, testutil.Ether(2)))
		assert.ErrorIs(t, err, store.ErrAlreadyConsumed)

		balance, err := l.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(9), balance)
		paid, err := l.PaidOut(ctx, other)
		require.NoError(t, err)
		assert.Zero(t, paid.Sign())
	})

	t.Run("concurrent consumes of one id succeed exactly once", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, testutil.Ether(100))
		require.NoError(t, err)

		c := testutil.NewConsumption("race", recipient, testutil.Ether(1))
		res := testutil.RunConcurrent(20, func(int) error {
			_, err := l.Consume(ctx, c)
			return err
		})

		assert.Equal(t, int32(1), res.Successes)
		assert.Equal(t, int32(19), res.Reused)
		assert.Zero(t, res.Errors)

		balance, err := l.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(99), balance)
	})

	t.Run("concurrent distinct consumes never overdraw", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Credit(ctx, testutil.Ether(5))
		require.NoError(t, err)

		res := testutil.RunConcurrent(12, func(idx int) error {
			label := "distinct-" + big.NewInt(int64(idx)).String()
			_, err := l.Consume(ctx, testutil.NewConsumption(label, recipient, testutil.Ether(1)))
			return err
		})

		assert.Equal(t, int32(5), res.Successes)
		assert.Equal(t, int32(7), res.Insufficient)
		assert.Zero(t, res.Errors)

		balance, err := l.Balance(ctx)
		require.NoError(t, err)
		assert.Zero(t, balance.Sign())
		paid, err := l.PaidOut(ctx, recipient)
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(5), paid)
	})
}
