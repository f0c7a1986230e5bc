package presale

import "errors"

var (
	ErrAccessDenied          = errors.New("presale: access denied")
	ErrSaleNotActive         = errors.New("presale: sale not active")
	ErrSaleNotEnded          = errors.New("presale: sale not ended")
	ErrAlreadyStarted        = errors.New("presale: sale already started")
	ErrInvalidAuthorization  = errors.New("presale: invalid authorization")
	ErrAuthorizationExpired  = errors.New("presale: authorization expired")
	ErrBelowMinimum          = errors.New("presale: purchase below minimum")
	ErrAmountMismatch        = errors.New("presale: attached value does not match payment amount")
	ErrUnexpectedNativeValue = errors.New("presale: native value attached to asset payment")
	ErrInsufficientSupply    = errors.New("presale: insufficient token supply")
	ErrSoftCapReached        = errors.New("presale: soft cap reached")
	ErrSoftCapNotReached     = errors.New("presale: soft cap not reached")
	ErrAssetTransferFailed   = errors.New("presale: asset transfer failed")
	ErrUnknownPaymentMethod  = errors.New("presale: unknown payment method")

	ErrDuplicatePaymentMethod = errors.New("presale: payment method already registered")
	ErrInvalidPaymentMethod   = errors.New("presale: invalid payment method")
	ErrNothingToRedeem        = errors.New("presale: nothing to redeem")
	ErrNothingToRefund        = errors.New("presale: nothing to refund")
	ErrAlreadySettled         = errors.New("presale: account already settled")
	ErrInvalidExtension       = errors.New("presale: end time extension out of range")
	ErrClockOutOfRange        = errors.New("presale: clock reading out of range")
	ErrUnknownRole            = errors.New("presale: unknown role")
	ErrNotInitialized         = errors.New("presale: not initialized")
	ErrAlreadyInitialized     = errors.New("presale: already initialized")
	ErrInvalidAmount          = errors.New("presale: invalid amount")
	ErrInvalidAddress         = errors.New("presale: invalid address")
)
