// Package tracer is a small tracing facade for the vault. Services depend on
// the Tracer interface; NoopTracer serves tests and OTelTracer adapts
// OpenTelemetry in production.
package tracer

import (
	"context"
	"time"
)

// Span is an active trace span. End must be called exactly once.
type Span interface {
	// End completes the span; a non-nil err marks it failed.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
//
//	ctx, span := t.Start(ctx, tracer.SpanVaultWithdraw,
//	    tracer.String(tracer.AttrAuthorizationID, id.Hex()),
//	)
//	defer func() { span.End(err) }()
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names.
const (
	SpanVaultDeposit  = "vault.deposit"
	SpanVaultWithdraw = "vault.withdraw"
	SpanVerifySigner  = "vault.withdraw.verify_signer"
	SpanLedgerConsume = "vault.withdraw.consume"
)

// Attribute keys.
const (
	AttrVault           = "vault.address"
	AttrRecipient       = "vault.recipient"
	AttrAuthorizationID = "vault.authorization_id"
	AttrChainID         = "vault.chain_id"
	AttrAmount          = "vault.amount"
	AttrRejectReason    = "vault.reject_reason"
)

// Event names.
const (
	EventAuditEmitted = "audit.emitted"
)
