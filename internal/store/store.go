// Package store persists accounts, guest credentials, usage records,
// and payment events. Two implementations exist: Postgres for
// production and SQLite for single-node or test deployments.
//
// Balances are stored as integer hundredths of a credit, so arithmetic
// is exact and the conditional debit can be a single atomic UPDATE.
package store

import (
	"context"

	"github.com/iliarafa/llmarena/internal/domain"
)

// UsageFilter specifies criteria for listing usage records.
type UsageFilter struct {
	Limit  int
	Offset int
}

// Store defines the persistence interface for the credit ledger.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, id string, starting domain.Credits, admin bool) (*domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// Guest credentials
	CreateGuest(ctx context.Context, token string, starting domain.Credits) (*domain.GuestCredential, error)
	GetGuest(ctx context.Context, token string) (*domain.GuestCredential, error)

	// LinkGuest transfers a guest's remaining balance and usage
	// history to an account in one transaction, then marks the token
	// linked. A second link attempt returns domain.ErrGuestLinked.
	LinkGuest(ctx context.Context, token, accountID string) error

	// Balance returns the principal's current balance.
	Balance(ctx context.Context, p domain.Principal) (domain.Credits, error)

	// Debit atomically subtracts amount if and only if the balance
	// covers it, returning the new balance. An uncovered debit returns
	// a domain.InsufficientCreditsError and changes nothing.
	Debit(ctx context.Context, p domain.Principal, amount domain.Credits) (domain.Credits, error)

	// Credit atomically adds amount and returns the new balance.
	Credit(ctx context.Context, p domain.Principal, amount domain.Credits) (domain.Credits, error)

	// ApplyPaymentEvent credits a payment exactly once, keyed by the
	// event ID. A replayed event returns applied=false with no balance
	// change.
	ApplyPaymentEvent(ctx context.Context, p domain.Principal, event domain.PaymentEvent) (applied bool, err error)

	// Usage records
	InsertUsageRecord(ctx context.Context, rec domain.UsageRecord) error
	ListUsage(ctx context.Context, p domain.Principal, filter UsageFilter) ([]domain.UsageRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
