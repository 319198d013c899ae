package audit

import "time"

// Event records a vault state change or a rejected withdrawal. Amounts are
// base-unit decimal strings so sinks never lose uint256 precision.
type Event struct {
	Timestamp       time.Time `json:"timestamp"`
	Action          string    `json:"action"`
	Vault           string    `json:"vault"`
	Sender          string    `json:"sender,omitempty"`
	Recipient       string    `json:"recipient,omitempty"`
	Amount          string    `json:"amount,omitempty"`
	AuthorizationID string    `json:"authorization_id,omitempty"`
	ChainID         string    `json:"chain_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	RequestID       string    `json:"request_id,omitempty"`
}

type VaultEvent string

const (
	EventDepositReceived    VaultEvent = "deposit_received"
	EventWithdrawalExecuted VaultEvent = "withdrawal_executed"
	EventWithdrawalRejected VaultEvent = "withdrawal_rejected"
)
