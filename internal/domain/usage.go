package domain

import "time"

// UsageRecord is the privacy-minimized audit row appended once per
// completed orchestration. It deliberately excludes the prompt text and
// the model identities; only the charge and the billing identity
// survive long-term. Exactly one of UserID/GuestToken is set.
type UsageRecord struct {
	// ID uniquely identifies the row.
	ID string `json:"id"`

	// UserID references a registered account. Mutually exclusive with
	// GuestToken.
	UserID string `json:"user_id,omitempty"`

	// GuestToken references a guest credential. Mutually exclusive with
	// UserID. Re-owned (moved to UserID) when the guest is linked.
	GuestToken string `json:"guest_token,omitempty"`

	// Credits is the amount actually charged, in whole credits.
	Credits int `json:"credits"`

	// CreatedAt records when the orchestration settled.
	CreatedAt time.Time `json:"created_at"`
}

// PaymentEvent is one external payment-processor notification after
// signature verification and shape validation. Applying the same
// EventID twice must credit the balance exactly once.
type PaymentEvent struct {
	// EventID is the processor's unique event identifier.
	EventID string `json:"external_event_id"`

	// Kind and Ref name the principal whose balance the event credits.
	Kind PrincipalKind `json:"principal_kind"`
	Ref  string        `json:"principal_ref"`

	// Credits is the purchased amount, one of the configured tier
	// sizes, in whole credits.
	Credits int `json:"credits_to_add"`
}
