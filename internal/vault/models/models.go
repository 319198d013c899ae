package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Consumption is the permanent record of an honored authorization. Once
// written for an id it is never updated or removed.
type Consumption struct {
	AuthorizationID common.Hash
	Recipient       common.Address
	Amount          *big.Int
	ConsumedAt      time.Time
}

// WithdrawCommand carries the caller-supplied half of an authorization. The
// vault address and chain id are never taken from the caller.
type WithdrawCommand struct {
	Recipient       common.Address
	Amount          *big.Int
	AuthorizationID common.Hash
	Signature       []byte
}

// DepositCommand credits the vault.
type DepositCommand struct {
	From   common.Address
	Amount *big.Int
}

// Receipt describes an executed withdrawal.
type Receipt struct {
	AuthorizationID common.Hash
	Recipient       common.Address
	Amount          *big.Int
	ChainID         *big.Int
	Balance         *big.Int
	ExecutedAt      time.Time
}

// Withdrawal rejection reasons recorded in audit events and metrics.
const (
	ReasonMalformedSignature  = "malformed_signature"
	ReasonUnauthorizedSigner  = "unauthorized_signer"
	ReasonAuthorizationReused = "authorization_reused"
	ReasonInsufficientFunds   = "insufficient_funds"
	ReasonInternal            = "internal_error"
)
