package server

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "tokensale/native/common"
	"tokensale/native/bank"
	"tokensale/native/presale"
	"tokensale/services/presaled/journal"
)

var (
	errBadRequest    = errors.New("bad request")
	errUnauthorized  = errors.New("unauthorized")
	errRateLimited   = errors.New("rate limited")
	errUnknownModule = errors.New("unknown module")
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Ordered so the first matching sentinel decides the response.
var errorMappings = []errorMapping{
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{errUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{errRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{errUnknownModule, http.StatusUnprocessableEntity, "unknown_module"},
	{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "module_paused"},

	{presale.ErrAccessDenied, http.StatusForbidden, "access_denied"},

	{presale.ErrAssetTransferFailed, http.StatusBadGateway, "asset_transfer_failed"},

	{presale.ErrSaleNotActive, http.StatusConflict, "sale_not_active"},
	{presale.ErrSaleNotEnded, http.StatusConflict, "sale_not_ended"},
	{presale.ErrAlreadyStarted, http.StatusConflict, "already_started"},
	{presale.ErrInsufficientSupply, http.StatusConflict, "insufficient_supply"},
	{presale.ErrSoftCapReached, http.StatusConflict, "soft_cap_reached"},
	{presale.ErrSoftCapNotReached, http.StatusConflict, "soft_cap_not_reached"},
	{presale.ErrNothingToRedeem, http.StatusConflict, "nothing_to_redeem"},
	{presale.ErrNothingToRefund, http.StatusConflict, "nothing_to_refund"},
	{presale.ErrAlreadySettled, http.StatusConflict, "already_settled"},
	{presale.ErrDuplicatePaymentMethod, http.StatusConflict, "duplicate_payment_method"},
	{presale.ErrNotInitialized, http.StatusConflict, "not_initialized"},
	{presale.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
	{bank.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{bank.ErrInsufficientAllowance, http.StatusConflict, "insufficient_allowance"},

	{presale.ErrUnknownPaymentMethod, http.StatusNotFound, "unknown_payment_method"},

	{presale.ErrInvalidAuthorization, http.StatusUnprocessableEntity, "invalid_authorization"},
	{presale.ErrAuthorizationExpired, http.StatusUnprocessableEntity, "authorization_expired"},
	{presale.ErrBelowMinimum, http.StatusUnprocessableEntity, "below_minimum"},
	{presale.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount_mismatch"},
	{presale.ErrUnexpectedNativeValue, http.StatusUnprocessableEntity, "unexpected_native_value"},
	{presale.ErrInvalidPaymentMethod, http.StatusUnprocessableEntity, "invalid_payment_method"},
	{presale.ErrInvalidExtension, http.StatusUnprocessableEntity, "invalid_extension"},
	{presale.ErrUnknownRole, http.StatusUnprocessableEntity, "unknown_role"},
	{presale.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{presale.ErrInvalidAddress, http.StatusUnprocessableEntity, "invalid_address"},
	{bank.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{bank.ErrInvalidAddress, http.StatusUnprocessableEntity, "invalid_address"},

	{presale.ErrClockOutOfRange, http.StatusInternalServerError, "clock_out_of_range"},
	{journal.ErrChainBroken, http.StatusInternalServerError, "journal_chain_broken"},
}

func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError && code == "internal" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, apiError{Code: code, Message: message})
}
