// Package ledger is the single authority over credit balances. All
// charging follows hold-and-refund: authorization places a hold for
// the full quote with one conditional atomic debit, and settlement
// refunds the difference between the quote and what actually
// delivered. The balance therefore never goes negative and concurrent
// requests cannot both spend the same credit.
package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/store"
)

// Ledger meters usage against account and guest balances.
type Ledger struct {
	store   store.Store
	log     *zap.Logger
	starter domain.Credits
}

// New creates a Ledger. starter is the balance granted to newly minted
// guests and newly seen accounts.
func New(st store.Store, log *zap.Logger, starter domain.Credits) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: st, log: log, starter: starter}
}

// Authorization is an accepted hold. Settlement needs it to know how
// much was held and whether the principal was charge-exempt.
type Authorization struct {
	Principal domain.Principal
	// Quote is the held amount in whole credits.
	Quote int
	// Exempt marks admin accounts; nothing was held and nothing will
	// be charged.
	Exempt bool
}

// Authorize places a hold for the full quote. It fails with
// domain.InsufficientCreditsError when the balance does not cover the
// quote, and with domain.ErrPrincipalNotFound for unknown principals.
// Admin accounts authorize without a hold.
func (l *Ledger) Authorize(ctx context.Context, p domain.Principal, quote int) (Authorization, error) {
	if !p.IsGuest() {
		account, err := l.store.GetAccount(ctx, p.Ref)
		if err != nil {
			return Authorization{}, err
		}
		if account.Admin {
			l.log.Debug("authorization exempt", zap.String("principal", p.String()))
			return Authorization{Principal: p, Quote: quote, Exempt: true}, nil
		}
	}

	remaining, err := l.store.Debit(ctx, p, domain.CreditsFromInt(quote))
	if err != nil {
		return Authorization{}, err
	}

	l.log.Info("hold placed",
		zap.String("principal", p.String()),
		zap.Int("quote", quote),
		zap.String("balance", remaining.String()),
	)
	return Authorization{Principal: p, Quote: quote}, nil
}

// Settle finalizes a hold: the principal keeps paying actual and gets
// quote-actual back. The usage record is appended regardless of the
// refund outcome; losing a refund is an operational incident, losing
// the audit row is a billing hole.
func (l *Ledger) Settle(ctx context.Context, auth Authorization, actual int) (charged int, balance domain.Credits, err error) {
	if actual > auth.Quote {
		actual = auth.Quote
	}
	if actual < 0 {
		actual = 0
	}

	charged = actual
	if auth.Exempt {
		charged = 0
	}

	rec := domain.UsageRecord{Credits: charged}
	if auth.Principal.IsGuest() {
		rec.GuestToken = auth.Principal.Ref
	} else {
		rec.UserID = auth.Principal.Ref
	}
	if err := l.store.InsertUsageRecord(ctx, rec); err != nil {
		l.log.Error("usage record append failed",
			zap.String("principal", auth.Principal.String()),
			zap.Int("charged", charged),
			zap.Error(err),
		)
		return 0, 0, eris.Wrap(err, "ledger: append usage record")
	}

	if auth.Exempt {
		balance, err = l.store.Balance(ctx, auth.Principal)
		if err != nil {
			return 0, 0, err
		}
		return 0, balance, nil
	}

	refund := auth.Quote - actual
	if refund > 0 {
		balance, err = l.store.Credit(ctx, auth.Principal, domain.CreditsFromInt(refund))
	} else {
		balance, err = l.store.Balance(ctx, auth.Principal)
	}
	if err != nil {
		return 0, 0, eris.Wrap(err, "ledger: settle refund")
	}

	l.log.Info("settled",
		zap.String("principal", auth.Principal.String()),
		zap.Int("quote", auth.Quote),
		zap.Int("charged", charged),
		zap.Int("refund", refund),
		zap.String("balance", balance.String()),
	)
	return charged, balance, nil
}

// Release returns the full hold without charging, for orchestrations
// that abort before any provider call.
func (l *Ledger) Release(ctx context.Context, auth Authorization) error {
	if auth.Exempt || auth.Quote == 0 {
		return nil
	}
	_, err := l.store.Credit(ctx, auth.Principal, domain.CreditsFromInt(auth.Quote))
	return eris.Wrap(err, "ledger: release hold")
}

// Balance returns the principal's current balance.
func (l *Ledger) Balance(ctx context.Context, p domain.Principal) (domain.Credits, error) {
	return l.store.Balance(ctx, p)
}

// MintGuest creates a fresh guest credential carrying the starter
// balance.
func (l *Ledger) MintGuest(ctx context.Context) (*domain.GuestCredential, error) {
	token := "gt_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	guest, err := l.store.CreateGuest(ctx, token, l.starter)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: mint guest")
	}
	l.log.Info("guest minted", zap.String("principal", domain.GuestPrincipal(token).String()))
	return guest, nil
}

// EnsureAccount fetches an account, creating it with the starter
// balance on first sight.
func (l *Ledger) EnsureAccount(ctx context.Context, id string) (*domain.Account, error) {
	account, err := l.store.GetAccount(ctx, id)
	if err == nil {
		return account, nil
	}
	if !eris.Is(err, domain.ErrPrincipalNotFound) {
		return nil, err
	}

	account, err = l.store.CreateAccount(ctx, id, l.starter, false)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: create account %s", id)
	}
	l.log.Info("account created", zap.String("account_id", id), zap.String("balance", account.Balance.String()))
	return account, nil
}

// LinkGuest absorbs a guest credential into an account. Linking twice
// returns domain.ErrGuestLinked.
func (l *Ledger) LinkGuest(ctx context.Context, token, accountID string) error {
	if err := l.store.LinkGuest(ctx, token, accountID); err != nil {
		return err
	}
	l.log.Info("guest linked",
		zap.String("principal", domain.GuestPrincipal(token).String()),
		zap.String("account_id", accountID),
	)
	return nil
}

// ApplyPayment credits a verified payment event exactly once. A
// replayed event is a success no-op.
func (l *Ledger) ApplyPayment(ctx context.Context, event domain.PaymentEvent) error {
	p := domain.Principal{Kind: event.Kind, Ref: event.Ref}
	applied, err := l.store.ApplyPaymentEvent(ctx, p, event)
	if err != nil {
		return eris.Wrapf(err, "ledger: apply payment %s", event.EventID)
	}
	if !applied {
		l.log.Info("payment event replayed, ignored", zap.String("event_id", event.EventID))
		return nil
	}
	l.log.Info("payment applied",
		zap.String("event_id", event.EventID),
		zap.String("principal", p.String()),
		zap.Int("credits", event.Credits),
	)
	return nil
}
