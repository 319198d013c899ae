package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "custody/pkg/domain-errors"
)

func TestWriteError_WithdrawalCodes(t *testing.T) {
	tests := []struct {
		code       dErrors.Code
		wantStatus int
		wantError  string
	}{
		{dErrors.CodeMalformedSignature, http.StatusBadRequest, "malformed_signature"},
		{dErrors.CodeUnauthorizedSigner, http.StatusForbidden, "unauthorized_signer"},
		{dErrors.CodeAuthorizationReused, http.StatusConflict, "authorization_reused"},
		{dErrors.CodeInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
		{dErrors.CodeBalanceOverflow, http.StatusUnprocessableEntity, "balance_overflow"},
		{dErrors.CodeValidation, http.StatusBadRequest, "validation_error"},
		{dErrors.CodeNotFound, http.StatusNotFound, "not_found"},
		{dErrors.CodeUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, dErrors.New(tt.code, "details"))

			body := decodeErrorBody(t, w)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantError, body["error"])
			assert.Equal(t, "details", body["error_description"])
		})
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, dErrors.Wrap(errors.New("pq: connection reset"), dErrors.CodeInternal, "ledger write failed"))

	body := decodeErrorBody(t, w)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", body["error"])
	assert.NotContains(t, body, "error_description")

	w = httptest.NewRecorder()
	WriteError(w, dErrors.Wrap(errors.New("dial tcp 10.0.0.5:8545: connection refused"), dErrors.CodeUnavailable, "failed to read chain id"))
	body = decodeErrorBody(t, w)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "failed to read chain id", body["error_description"])
	assert.NotContains(t, w.Body.String(), "10.0.0.5")

	w = httptest.NewRecorder()
	WriteError(w, errors.New("plain"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
