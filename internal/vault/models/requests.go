package models

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	dErrors "custody/pkg/domain-errors"
	"custody/pkg/validation"
)

// DepositRequest is the body of POST /vault/deposit.
type DepositRequest struct {
	From   string `json:"from" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,uint256"`
}

func (r *DepositRequest) Normalize() {
	if r == nil {
		return
	}
	r.From = strings.TrimSpace(r.From)
	r.Amount = strings.TrimSpace(r.Amount)
}

func (r *DepositRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}

// ToCommand assumes Validate succeeded.
func (r *DepositRequest) ToCommand() DepositCommand {
	amount, _ := validation.ParseUint256(r.Amount)
	return DepositCommand{From: common.HexToAddress(r.From), Amount: amount}
}

// TransferRequest is the body of a bare value transfer (POST /vault). The
// sender is taken from the optional X-Sender header.
type TransferRequest struct {
	Value string `json:"value" validate:"required,uint256"`
}

func (r *TransferRequest) Normalize() {
	if r == nil {
		return
	}
	r.Value = strings.TrimSpace(r.Value)
}

func (r *TransferRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}

// WithdrawRequest is the body of POST /vault/withdraw. Signature is r || s || v
// hex encoded; its length and values are checked by the issuer.
type WithdrawRequest struct {
	Recipient       string `json:"recipient" validate:"required,eth_addr"`
	Amount          string `json:"amount" validate:"required,uint256"`
	AuthorizationID string `json:"authorization_id" validate:"required,hexadecimal"`
	Signature       string `json:"signature" validate:"required"`
}

func (r *WithdrawRequest) Normalize() {
	if r == nil {
		return
	}
	r.Recipient = strings.TrimSpace(r.Recipient)
	r.Amount = strings.TrimSpace(r.Amount)
	r.AuthorizationID = strings.TrimSpace(r.AuthorizationID)
	r.Signature = strings.TrimSpace(r.Signature)
}

func (r *WithdrawRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	if len(strip0x(r.AuthorizationID)) != 2*common.HashLength {
		return dErrors.New(dErrors.CodeValidation, "authorization_id must be 32 bytes")
	}
	if _, err := hex.DecodeString(strip0x(r.Signature)); err != nil {
		return dErrors.New(dErrors.CodeMalformedSignature, "signature must be hex encoded")
	}
	return nil
}

// ToCommand assumes Validate succeeded.
func (r *WithdrawRequest) ToCommand() WithdrawCommand {
	amount, _ := validation.ParseUint256(r.Amount)
	sig, _ := hex.DecodeString(strip0x(r.Signature))
	return WithdrawCommand{
		Recipient:       common.HexToAddress(r.Recipient),
		Amount:          amount,
		AuthorizationID: common.HexToHash(r.AuthorizationID),
		Signature:       sig,
	}
}

func strip0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
