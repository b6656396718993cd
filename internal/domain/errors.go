package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions callers branch on.
var (
	// ErrPrincipalNotFound indicates the account or guest credential
	// does not exist.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrGuestLinked indicates the guest credential has already been
	// linked to an account and cannot be linked again.
	ErrGuestLinked = errors.New("guest credential already linked")

	// ErrInsufficientResults indicates judging or synthesis was asked
	// to run over fewer than two successful results.
	ErrInsufficientResults = errors.New("fewer than two successful results")

	// ErrVerdictParse indicates the judge's reply could not be parsed
	// into a structured verdict.
	ErrVerdictParse = errors.New("verdict parse failed")

	// ErrUnknownProvider indicates a provider id outside the supported
	// set.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrDuplicatePaymentEvent indicates a payment event id that has
	// already been applied. Treated as success-no-op by callers.
	ErrDuplicatePaymentEvent = errors.New("payment event already applied")
)

// InsufficientCreditsError rejects a comparison whose quote exceeds the
// principal's balance. It carries the figures the client needs to
// prompt a top-up.
type InsufficientCreditsError struct {
	// Required is the pre-flight quote in whole credits.
	Required int
	// Available is the balance snapshot the authorization saw.
	Available Credits
}

// Error satisfies the error interface.
func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %s", e.Required, e.Available)
}

// IsInsufficientCredits reports whether err is an authorization
// rejection and returns the typed error when it is.
func IsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var ice *InsufficientCreditsError
	if errors.As(err, &ice) {
		return ice, true
	}
	return nil, false
}
