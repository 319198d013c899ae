package models

import (
	"math/big"

	"custody/pkg/units"
)

type BalanceResponse struct {
	Balance        string `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
}

func NewBalanceResponse(balance *big.Int) BalanceResponse {
	return BalanceResponse{Balance: balance.String(), BalanceDisplay: units.Format(balance)}
}

type DepositResponse struct {
	From    string `json:"from"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
}

type WithdrawResponse struct {
	AuthorizationID string `json:"authorization_id"`
	Recipient       string `json:"recipient"`
	Amount          string `json:"amount"`
	ChainID         string `json:"chain_id"`
	Balance         string `json:"balance"`
}

func NewWithdrawResponse(r *Receipt) WithdrawResponse {
	return WithdrawResponse{
		AuthorizationID: r.AuthorizationID.Hex(),
		Recipient:       r.Recipient.Hex(),
		Amount:          r.Amount.String(),
		ChainID:         r.ChainID.String(),
		Balance:         r.Balance.String(),
	}
}

type AuthorizationStatusResponse struct {
	AuthorizationID string `json:"authorization_id"`
	Consumed        bool   `json:"consumed"`
}

type PayoutResponse struct {
	Recipient    string `json:"recipient"`
	Total        string `json:"total"`
	TotalDisplay string `json:"total_display"`
}

type VaultInfoResponse struct {
	Vault   string `json:"vault"`
	Signer  string `json:"signer"`
	ChainID string `json:"chain_id"`
}
