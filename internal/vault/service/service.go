package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/audit"
	"custody/internal/authorization/digest"
	"custody/internal/platform/tracer"
	"custody/internal/vault/metrics"
	"custody/internal/vault/models"
	"custody/internal/vault/store"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/requestcontext"
)

// Verifier recovers and checks the identity behind a withdrawal signature.
type Verifier interface {
	VerifySigner(d common.Hash, signature []byte) (common.Address, error)
	IsAuthorized(identity common.Address) bool
	Signer() common.Address
}

// ChainIDSource reports the identifier of the network the vault runs on.
type ChainIDSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Ledger owns the vault balance and the consumed authorization set.
// Error Contract:
//   - Consume returns store.ErrAlreadyConsumed for a used id, checked before
//     funds, and store.ErrInsufficientFunds when the balance is short. Neither
//     writes anything.
//   - Consume marks the id, debits the balance and credits the recipient's
//     payout as one atomic step.
type Ledger interface {
	Credit(ctx context.Context, amount *big.Int) (*big.Int, error)
	Balance(ctx context.Context) (*big.Int, error)
	Consume(ctx context.Context, c models.Consumption) (*big.Int, error)
	IsConsumed(ctx context.Context, id common.Hash) (bool, error)
	PaidOut(ctx context.Context, recipient common.Address) (*big.Int, error)
}

// AuditPublisher records vault events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Option func(*Service)

func WithAuditor(a AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithClock overrides the time source for consumption records.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the custody vault. It releases value only against an
// authorization signed by the issuer's designated signer, bound to this vault
// and the current chain id, and honored at most once.
type Service struct {
	vault    common.Address
	verifier Verifier
	ledger   Ledger
	chain    ChainIDSource
	auditor  AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   tracer.Tracer
	now      func() time.Time
}

func New(vault common.Address, verifier Verifier, ledger Ledger, chain ChainIDSource, opts ...Option) (*Service, error) {
	if vault == (common.Address{}) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "vault address required")
	}
	if verifier == nil || ledger == nil || chain == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "verifier, ledger and chain id source are required")
	}
	svc := &Service{
		vault:    vault,
		verifier: verifier,
		ledger:   ledger,
		chain:    chain,
		logger:   slog.Default(),
		tracer:   tracer.NewNoop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Address is the vault identity bound into every digest.
func (s *Service) Address() common.Address {
	return s.vault
}

// Signer is the identity whose signatures the vault honors.
func (s *Service) Signer() common.Address {
	return s.verifier.Signer()
}

// ChainID reads the current chain id from the source.
func (s *Service) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := s.chain.ChainID(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "chain id unavailable")
	}
	return id, nil
}

// Deposit credits the vault unconditionally and returns the new balance.
func (s *Service) Deposit(ctx context.Context, cmd models.DepositCommand) (balance *big.Int, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanVaultDeposit,
		tracer.String(tracer.AttrVault, s.vault.Hex()),
	)
	defer func() { span.End(err) }()

	if cmd.Amount == nil || cmd.Amount.Sign() < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "deposit amount must be non-negative")
	}

	balance, err = s.ledger.Credit(ctx, cmd.Amount)
	if errors.Is(err, store.ErrBalanceOverflow) {
		return nil, err
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit vault")
	}

	if s.metrics != nil {
		s.metrics.IncrementDeposits()
		s.metrics.SetBalance(balance)
	}
	s.emit(ctx, audit.Event{
		Action: string(audit.EventDepositReceived),
		Sender: cmd.From.Hex(),
		Amount: cmd.Amount.String(),
	})
	s.logger.InfoContext(ctx, "deposit received",
		"vault", s.vault.Hex(),
		"from", cmd.From.Hex(),
		"amount", cmd.Amount.String(),
		"balance", balance.String(),
	)
	return balance, nil
}

func (s *Service) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := s.ledger.Balance(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read vault balance")
	}
	return balance, nil
}

// IsConsumed reports whether id has been honored.
func (s *Service) IsConsumed(ctx context.Context, id common.Hash) (bool, error) {
	used, err := s.ledger.IsConsumed(ctx, id)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read authorization status")
	}
	return used, nil
}

// PaidOut returns the total released to recipient.
func (s *Service) PaidOut(ctx context.Context, recipient common.Address) (*big.Int, error) {
	total, err := s.ledger.PaidOut(ctx, recipient)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read payouts")
	}
	return total, nil
}

// Withdraw releases cmd.Amount to cmd.Recipient if the signature is the
// designated signer's over (vault, recipient, amount, id, chain id) and the id
// is unused. Checks run in order: signature form, signer, reuse, funds. Any
// rejection leaves the ledger unchanged.
func (s *Service) Withdraw(ctx context.Context, cmd models.WithdrawCommand) (receipt *models.Receipt, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, tracer.SpanVaultWithdraw,
		tracer.String(tracer.AttrVault, s.vault.Hex()),
		tracer.String(tracer.AttrRecipient, cmd.Recipient.Hex()),
		tracer.String(tracer.AttrAuthorizationID, cmd.AuthorizationID.Hex()),
	)
	defer func() {
		span.End(err)
		if s.metrics != nil {
			s.metrics.ObserveWithdrawDuration(float64(time.Since(start).Milliseconds()))
		}
	}()

	if cmd.Amount == nil || cmd.Amount.Sign() < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "withdraw amount must be non-negative")
	}

	// read on every call, never cached
	chainID, err := s.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.String(tracer.AttrChainID, chainID.String()))

	d, err := digest.Compute(s.vault, cmd.Recipient, cmd.Amount, cmd.AuthorizationID, chainID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "authorization fields out of range")
	}

	if err := s.verify(ctx, d, cmd.Signature); err != nil {
		s.reject(ctx, cmd, chainID, err)
		return nil, err
	}

	consumption := models.Consumption{
		AuthorizationID: cmd.AuthorizationID,
		Recipient:       cmd.Recipient,
		Amount:          new(big.Int).Set(cmd.Amount),
		ConsumedAt:      s.now(),
	}
	remaining, err := s.consume(ctx, consumption)
	if err != nil {
		s.reject(ctx, cmd, chainID, err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementWithdrawalsExecuted()
		s.metrics.SetBalance(remaining)
	}
	s.emit(ctx, audit.Event{
		Action:          string(audit.EventWithdrawalExecuted),
		Recipient:       cmd.Recipient.Hex(),
		Amount:          cmd.Amount.String(),
		AuthorizationID: cmd.AuthorizationID.Hex(),
		ChainID:         chainID.String(),
	})
	s.logger.InfoContext(ctx, "withdrawal executed",
		"vault", s.vault.Hex(),
		"recipient", cmd.Recipient.Hex(),
		"amount", cmd.Amount.String(),
		"authorization_id", cmd.AuthorizationID.Hex(),
		"chain_id", chainID.String(),
	)

	return &models.Receipt{
		AuthorizationID: cmd.AuthorizationID,
		Recipient:       cmd.Recipient,
		Amount:          new(big.Int).Set(cmd.Amount),
		ChainID:         chainID,
		Balance:         remaining,
		ExecutedAt:      consumption.ConsumedAt,
	}, nil
}

func (s *Service) verify(ctx context.Context, d common.Hash, signature []byte) (err error) {
	_, span := s.tracer.Start(ctx, tracer.SpanVerifySigner)
	defer func() { span.End(err) }()

	identity, err := s.verifier.VerifySigner(d, signature)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeMalformedSignature, "signature could not be verified")
	}
	if !s.verifier.IsAuthorized(identity) {
		return dErrors.New(dErrors.CodeUnauthorizedSigner, "signature is not from the authorized signer")
	}
	return nil
}

func (s *Service) consume(ctx context.Context, c models.Consumption) (remaining *big.Int, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanLedgerConsume)
	defer func() { span.End(err) }()

	remaining, err = s.ledger.Consume(ctx, c)
	switch {
	case err == nil:
		return remaining, nil
	case errors.Is(err, store.ErrAlreadyConsumed):
		return nil, dErrors.Wrap(err, dErrors.CodeAuthorizationReused, "authorization already used")
	case errors.Is(err, store.ErrInsufficientFunds):
		return nil, dErrors.Wrap(err, dErrors.CodeInsufficientFunds, "vault balance too low for withdrawal")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume authorization")
	}
}

func (s *Service) reject(ctx context.Context, cmd models.WithdrawCommand, chainID *big.Int, cause error) {
	reason := rejectReason(cause)
	if s.metrics != nil {
		s.metrics.IncrementWithdrawalsRejected(reason)
	}
	s.emit(ctx, audit.Event{
		Action:          string(audit.EventWithdrawalRejected),
		Recipient:       cmd.Recipient.Hex(),
		Amount:          cmd.Amount.String(),
		AuthorizationID: cmd.AuthorizationID.Hex(),
		ChainID:         chainID.String(),
		Reason:          reason,
	})

	attrs := []any{
		"vault", s.vault.Hex(),
		"recipient", cmd.Recipient.Hex(),
		"authorization_id", cmd.AuthorizationID.Hex(),
		"reason", reason,
	}
	if reason == models.ReasonInternal {
		s.logger.ErrorContext(ctx, "withdrawal failed", append(attrs, "error", cause)...)
		return
	}
	s.logger.WarnContext(ctx, "withdrawal rejected", attrs...)
}

func rejectReason(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeMalformedSignature:
		return models.ReasonMalformedSignature
	case dErrors.CodeUnauthorizedSigner:
		return models.ReasonUnauthorizedSigner
	case dErrors.CodeAuthorizationReused:
		return models.ReasonAuthorizationReused
	case dErrors.CodeInsufficientFunds:
		return models.ReasonInsufficientFunds
	default:
		return models.ReasonInternal
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	event.Vault = s.vault.Hex()
	event.RequestID = requestcontext.RequestID(ctx)
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}
