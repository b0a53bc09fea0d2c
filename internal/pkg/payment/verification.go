package payment

import (
	"errors"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// VerificationMode controls whether webhook signatures are checked. The zero
// value is VerificationEnforced.
type VerificationMode int

const (
	VerificationEnforced VerificationMode = iota
	VerificationDisabledForLocalDev
)

func (m VerificationMode) String() string {
	if m == VerificationDisabledForLocalDev {
		return "disabled-for-local-dev"
	}
	return "enforced"
}

// Enforced reports whether signatures must be valid.
func (m VerificationMode) Enforced() bool {
	return m != VerificationDisabledForLocalDev
}

var errDisabledInProduction = errors.New("signature verification cannot be disabled outside local development")

// NewVerificationMode returns the disabled mode only when both flags are set.
// Asking to disable verification in production is an error.
func NewVerificationMode(disable, nonProduction bool) (VerificationMode, error) {
	if !disable {
		return VerificationEnforced, nil
	}
	if !nonProduction {
		return VerificationEnforced, errDisabledInProduction
	}
	fiberlog.Warn("[Payment] webhook signature verification is DISABLED; never run this configuration in production")
	return VerificationDisabledForLocalDev, nil
}
