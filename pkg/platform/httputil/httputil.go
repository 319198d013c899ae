package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "custody/pkg/domain-errors"
)

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding errors after WriteHeader cannot change the status code.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError translates a domain error into its HTTP status and a JSON body
// of the form {"error": code, "error_description": message}. Non-domain
// errors become a bare 500 so infrastructure details never leak.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		status := DomainCodeToHTTPStatus(domainErr.Code)
		response := map[string]string{
			"error": DomainCodeToHTTPCode(domainErr.Code),
		}
		// Internal messages may carry driver text; unavailable messages are ours.
		if domainErr.Message != "" && (status < http.StatusInternalServerError || domainErr.Code == dErrors.CodeUnavailable) {
			response["error_description"] = domainErr.Message
		}
		WriteJSON(w, status, response)
		return
	}

	WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": DomainCodeToHTTPCode(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeInvariantViolation:
		return http.StatusBadRequest
	case dErrors.CodeMalformedSignature:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorizedSigner:
		return http.StatusForbidden
	case dErrors.CodeConflict, dErrors.CodeAuthorizationReused:
		return http.StatusConflict
	case dErrors.CodeInsufficientFunds, dErrors.CodeBalanceOverflow:
		return http.StatusUnprocessableEntity
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DomainCodeToHTTPCode translates domain error codes to the error string in
// JSON responses.
func DomainCodeToHTTPCode(code dErrors.Code) string {
	switch code {
	case dErrors.CodeNotFound:
		return "not_found"
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return "bad_request"
	case dErrors.CodeValidation, dErrors.CodeInvariantViolation:
		return "validation_error"
	case dErrors.CodeConflict:
		return "conflict"
	case dErrors.CodeMalformedSignature, dErrors.CodeUnauthorizedSigner,
		dErrors.CodeAuthorizationReused, dErrors.CodeInsufficientFunds, dErrors.CodeBalanceOverflow:
		return string(code)
	case dErrors.CodeUnavailable:
		return "service_unavailable"
	default:
		return "internal_error"
	}
}
