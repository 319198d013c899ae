package store

import (
	"math/big"

	dErrors "custody/pkg/domain-errors"
)

// MaxBalance is the largest balance a ledger holds: 2^256 - 1.
var MaxBalance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Error contract shared by every ledger backend:
//   - Consume returns ErrAlreadyConsumed when the id was honored before, checked
//     before funds; ErrInsufficientFunds when amount exceeds the balance.
//   - Either error means nothing was written.
//   - ErrContention means optimistic retries were exhausted; nothing was written.
//   - Credit returns ErrBalanceOverflow when the balance would pass MaxBalance;
//     nothing was written.
//   - Other errors wrap infrastructure failures.
var (
	ErrAlreadyConsumed   = dErrors.New(dErrors.CodeAuthorizationReused, "authorization already consumed")
	ErrInsufficientFunds = dErrors.New(dErrors.CodeInsufficientFunds, "insufficient vault balance")
	ErrContention        = dErrors.New(dErrors.CodeUnavailable, "ledger contention, retry later")
	ErrInvalidAmount     = dErrors.New(dErrors.CodeInvalidInput, "amount must be a non-negative integer")
	ErrBalanceOverflow   = dErrors.New(dErrors.CodeBalanceOverflow, "deposit would overflow the vault balance")
)
