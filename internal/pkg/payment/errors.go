package payment

import "errors"

var (
	ErrSignatureMissing    = errors.New("signature missing")
	ErrSignatureMismatch   = errors.New("signature mismatch")
	ErrSecretNotConfigured = errors.New("signing secret is not configured")
	ErrMerchantMismatch    = errors.New("merchant id mismatch")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrAmountMismatch      = errors.New("amount mismatch")
	ErrUserUnresolved      = errors.New("no ledger user for event")

	ErrUnauthenticated     = errors.New("authentication required")
	ErrUnknownProduct      = errors.New("unknown product")
	ErrSelectionMismatch   = errors.New("product selection does not match catalog")
	ErrInvalidPaymentType  = errors.New("unsupported payment type")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderNotEnabled  = errors.New("payment provider is not configured")
)
