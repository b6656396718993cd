// Package domain holds the core types of the comparison arena: billing
// principals and their credit balances, comparison requests and
// outcomes, judge verdicts, and the usage audit trail. Nothing here
// touches storage, transport, or provider SDKs.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PrincipalKind distinguishes the two billing identities.
type PrincipalKind string

const (
	// PrincipalAccount is a registered user account.
	PrincipalAccount PrincipalKind = "account"

	// PrincipalGuest is an anonymous guest credential identified only
	// by its opaque token.
	PrincipalGuest PrincipalKind = "guest"
)

// Principal identifies who a request bills against: a registered
// account or a guest token. The zero value is invalid.
type Principal struct {
	// Kind selects the identity namespace.
	Kind PrincipalKind

	// Ref is the account ID or the guest token, depending on Kind.
	Ref string
}

// AccountPrincipal builds a Principal for a registered account.
func AccountPrincipal(accountID string) Principal {
	return Principal{Kind: PrincipalAccount, Ref: accountID}
}

// GuestPrincipal builds a Principal for a guest token.
func GuestPrincipal(token string) Principal {
	return Principal{Kind: PrincipalGuest, Ref: token}
}

// IsGuest reports whether the principal is a guest credential.
func (p Principal) IsGuest() bool { return p.Kind == PrincipalGuest }

// String renders the principal for logs. Guest tokens are truncated;
// the full token is a bearer credential and must not appear in logs.
func (p Principal) String() string {
	if p.Kind == PrincipalGuest && len(p.Ref) > 8 {
		return fmt.Sprintf("guest:%s...", p.Ref[:8])
	}
	return fmt.Sprintf("%s:%s", p.Kind, p.Ref)
}

// Credits is a credit balance in hundredths of a credit. Integer
// arithmetic keeps two-decimal amounts exact; there is no floating
// point anywhere in the ledger.
type Credits int64

// CreditsFromInt converts whole credits to a balance amount.
func CreditsFromInt(whole int) Credits { return Credits(int64(whole) * 100) }

// CreditsFromFloat converts a decimal credit amount, rounding to the
// nearest hundredth. Intended for configuration values, not ledger
// arithmetic.
func CreditsFromFloat(f float64) Credits {
	if f >= 0 {
		return Credits(f*100 + 0.5)
	}
	return Credits(f*100 - 0.5)
}

// Float64 returns the balance as a decimal credit amount, for display
// only.
func (c Credits) Float64() float64 { return float64(c) / 100 }

// String renders the balance with two decimal places.
func (c Credits) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON renders the balance as a bare decimal number with two
// places, e.g. 41.50.
func (c Credits) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON parses a decimal credit amount with up to two decimal
// places.
func (c *Credits) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > 2 {
		return fmt.Errorf("credits: more than two decimal places in %q", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return fmt.Errorf("credits: parse %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return fmt.Errorf("credits: parse %q: %w", s, err)
	}

	v := w*100 + f
	if neg {
		v = -v
	}
	*c = Credits(v)
	return nil
}

// Account is a registered user with a credit balance.
type Account struct {
	// ID uniquely identifies the account.
	ID string `json:"id"`

	// Balance is the current credit balance.
	Balance Credits `json:"balance"`

	// Admin marks operators exempt from charging.
	Admin bool `json:"admin,omitempty"`

	// CreatedAt records account creation time.
	CreatedAt time.Time `json:"created_at"`
}

// GuestCredential is an anonymous balance keyed by an opaque token.
// Guests carry real credit and can later be linked to an account,
// which drains the token permanently.
type GuestCredential struct {
	// Token is the opaque bearer credential.
	Token string `json:"token"`

	// Balance is the remaining guest credit.
	Balance Credits `json:"balance"`

	// LinkedAccountID is set once the guest has been absorbed into an
	// account. A linked token can never be linked again.
	LinkedAccountID string `json:"linked_account_id,omitempty"`

	// CreatedAt records token minting time.
	CreatedAt time.Time `json:"created_at"`
}

// Linked reports whether this credential has already been absorbed
// into an account.
func (g GuestCredential) Linked() bool { return g.LinkedAccountID != "" }

var _ json.Marshaler = Credits(0)
var _ json.Unmarshaler = (*Credits)(nil)
