package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	return New(st, zap.NewNop(), domain.CreditsFromInt(10)), st
}

func TestLedger_AuthorizeAndSettleWithRefund(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	_, err := st.CreateAccount(ctx, "user-1", domain.CreditsFromInt(20), false)
	require.NoError(t, err)
	p := domain.AccountPrincipal("user-1")

	// Quote 8, only 5 worth delivered.
	auth, err := l.Authorize(ctx, p, 8)
	require.NoError(t, err)

	held, err := l.Balance(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(12), held, "full quote held during orchestration")

	charged, balance, err := l.Settle(ctx, auth, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, charged)
	assert.Equal(t, domain.CreditsFromInt(15), balance, "difference refunded at settlement")

	records, err := st.ListUsage(ctx, p, store.UsageFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 5, records[0].Credits)
}

func TestLedger_AuthorizeRejectsUncoveredQuote(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	_, err := st.CreateAccount(ctx, "user-1", domain.CreditsFromInt(5), false)
	require.NoError(t, err)

	_, err = l.Authorize(ctx, domain.AccountPrincipal("user-1"), 8)
	ice, ok := domain.IsInsufficientCredits(err)
	require.True(t, ok)
	assert.Equal(t, 8, ice.Required)
	assert.Equal(t, domain.CreditsFromInt(5), ice.Available)

	balance, err := l.Balance(ctx, domain.AccountPrincipal("user-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(5), balance, "rejected authorization must not touch the balance")
}

func TestLedger_SettleChargesNothingWhenNothingDelivered(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	_, err := st.CreateAccount(ctx, "user-1", domain.CreditsFromInt(20), false)
	require.NoError(t, err)
	p := domain.AccountPrincipal("user-1")

	auth, err := l.Authorize(ctx, p, 9)
	require.NoError(t, err)

	charged, balance, err := l.Settle(ctx, auth, 0)
	require.NoError(t, err)
	assert.Zero(t, charged)
	assert.Equal(t, domain.CreditsFromInt(20), balance, "full hold refunded")

	records, err := st.ListUsage(ctx, p, store.UsageFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1, "settlement always leaves an audit row")
	assert.Zero(t, records[0].Credits)
}

func TestLedger_SettleCapsActualAtQuote(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	_, err := st.CreateAccount(ctx, "user-1", domain.CreditsFromInt(20), false)
	require.NoError(t, err)

	auth, err := l.Authorize(ctx, domain.AccountPrincipal("user-1"), 5)
	require.NoError(t, err)

	charged, _, err := l.Settle(ctx, auth, 99)
	require.NoError(t, err)
	assert.Equal(t, 5, charged, "charge can never exceed the quote")
}

func TestLedger_AdminAccountsAreExempt(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	_, err := st.CreateAccount(ctx, "ops-1", domain.CreditsFromInt(3), true)
	require.NoError(t, err)
	p := domain.AccountPrincipal("ops-1")

	// Quote far beyond the balance still authorizes.
	auth, err := l.Authorize(ctx, p, 16)
	require.NoError(t, err)
	assert.True(t, auth.Exempt)

	charged, balance, err := l.Settle(ctx, auth, 16)
	require.NoError(t, err)
	assert.Zero(t, charged)
	assert.Equal(t, domain.CreditsFromInt(3), balance, "exempt settlement leaves the balance alone")
}

func TestLedger_Release(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	_, err := st.CreateAccount(ctx, "user-1", domain.CreditsFromInt(10), false)
	require.NoError(t, err)
	p := domain.AccountPrincipal("user-1")

	auth, err := l.Authorize(ctx, p, 7)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, auth))

	balance, err := l.Balance(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(10), balance)
}

func TestLedger_MintGuestGrantsStarterBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	guest, err := l.MintGuest(ctx)
	require.NoError(t, err)
	assert.True(t, len(guest.Token) > 10)
	assert.Equal(t, domain.CreditsFromInt(10), guest.Balance)

	balance, err := l.Balance(ctx, domain.GuestPrincipal(guest.Token))
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(10), balance)
}

func TestLedger_EnsureAccountCreatesOnFirstSight(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	account, err := l.EnsureAccount(ctx, "user-9")
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(10), account.Balance)

	again, err := l.EnsureAccount(ctx, "user-9")
	require.NoError(t, err)
	assert.Equal(t, account.Balance, again.Balance, "existing accounts pass through unchanged")
}

func TestLedger_ApplyPayment_DuplicateIsSuccessNoOp(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	_, err := st.CreateAccount(ctx, "user-1", 0, false)
	require.NoError(t, err)

	event := domain.PaymentEvent{
		EventID: "evt_1",
		Kind:    domain.PrincipalAccount,
		Ref:     "user-1",
		Credits: 25,
	}

	require.NoError(t, l.ApplyPayment(ctx, event))
	require.NoError(t, l.ApplyPayment(ctx, event), "replay is not an error")

	balance, err := l.Balance(ctx, domain.AccountPrincipal("user-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(25), balance)
}
