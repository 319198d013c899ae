package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"custody/internal/vault/models"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/httputil"
	"custody/pkg/requestcontext"
	"custody/pkg/units"
	"custody/pkg/validation"
)

// SenderHeader names the depositor on a bare transfer to POST /vault.
const SenderHeader = "X-Sender"

// Service defines the vault operations exposed over HTTP.
type Service interface {
	Address() common.Address
	Signer() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	Deposit(ctx context.Context, cmd models.DepositCommand) (*big.Int, error)
	Balance(ctx context.Context) (*big.Int, error)
	Withdraw(ctx context.Context, cmd models.WithdrawCommand) (*models.Receipt, error)
	IsConsumed(ctx context.Context, id common.Hash) (bool, error)
	PaidOut(ctx context.Context, recipient common.Address) (*big.Int, error)
}

// Handler serves the vault endpoints.
type Handler struct {
	vault  Service
	logger *slog.Logger
}

func New(vault Service, logger *slog.Logger) *Handler {
	return &Handler{vault: vault, logger: logger}
}

// Register registers the vault routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/vault", h.HandleInfo)
	r.Post("/vault", h.HandleTransfer)
	r.Post("/vault/deposit", h.HandleDeposit)
	r.Post("/vault/withdraw", h.HandleWithdraw)
	r.Get("/vault/balance", h.HandleBalance)
	r.Get("/vault/authorizations/{id}", h.HandleAuthorizationStatus)
	r.Get("/vault/payouts/{address}", h.HandlePayouts)
}

func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chainID, err := h.vault.ChainID(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read chain id",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.VaultInfoResponse{
		Vault:   h.vault.Address().Hex(),
		Signer:  h.vault.Signer().Hex(),
		ChainID: chainID.String(),
	})
}

// HandleTransfer accepts a bare value transfer and credits it like a deposit.
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.TransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var from common.Address
	if sender := strings.TrimSpace(r.Header.Get(SenderHeader)); sender != "" {
		if !common.IsHexAddress(sender) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "X-Sender must be an address"))
			return
		}
		from = common.HexToAddress(sender)
	}

	amount, _ := validation.ParseUint256(req.Value)
	h.deposit(w, r, models.DepositCommand{From: from, Amount: amount})
}

func (h *Handler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.DepositRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	h.deposit(w, r, req.ToCommand())
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request, cmd models.DepositCommand) {
	ctx := r.Context()
	balance, err := h.vault.Deposit(ctx, cmd)
	if err != nil {
		h.logger.ErrorContext(ctx, "deposit failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.DepositResponse{
		From:    cmd.From.Hex(),
		Amount:  cmd.Amount.String(),
		Balance: balance.String(),
	})
}

func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.WithdrawRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	receipt, err := h.vault.Withdraw(ctx, req.ToCommand())
	if err != nil {
		// rejections are logged and audited by the service
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewWithdrawResponse(receipt))
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	balance, err := h.vault.Balance(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read balance",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewBalanceResponse(balance))
}

func (h *Handler) HandleAuthorizationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := chi.URLParam(r, "id")
	id, err := parseHash(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	used, err := h.vault.IsConsumed(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read authorization status",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.AuthorizationStatusResponse{
		AuthorizationID: id.Hex(),
		Consumed:        used,
	})
}

func (h *Handler) HandlePayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "address must be a 20-byte hex address"))
		return
	}
	recipient := common.HexToAddress(raw)

	total, err := h.vault.PaidOut(ctx, recipient)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read payouts",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.PayoutResponse{
		Recipient:    recipient.Hex(),
		Total:        total.String(),
		TotalDisplay: units.Format(total),
	})
}

func parseHash(raw string) (common.Hash, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if len(s) != 2*common.HashLength {
		return common.Hash{}, dErrors.New(dErrors.CodeValidation, "authorization id must be 32 bytes")
	}
	b, err := hexutil.Decode("0x" + s)
	if err != nil {
		return common.Hash{}, dErrors.New(dErrors.CodeValidation, "authorization id must be hex encoded")
	}
	return common.BytesToHash(b), nil
}
