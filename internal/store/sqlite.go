package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/iliarafa/llmarena/internal/domain"
)

// SQLiteStore implements Store using modernc.org/sqlite. Suitable for
// single-node deployments and tests; writes serialize on the database
// lock, which preserves the conditional-debit guarantee.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// A single writer connection avoids SQLITE_BUSY churn under
	// concurrent settlements.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	admin      INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS guests (
	token             TEXT PRIMARY KEY,
	balance           INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	linked_account_id TEXT REFERENCES accounts(id),
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS usage_records (
	id          TEXT PRIMARY KEY,
	user_id     TEXT REFERENCES accounts(id),
	guest_token TEXT REFERENCES guests(token),
	credits     INTEGER NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	CHECK ((user_id IS NULL) <> (guest_token IS NULL))
);

CREATE TABLE IF NOT EXISTS payment_events (
	event_id   TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	ref        TEXT NOT NULL,
	credits    INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_usage_records_user_id ON usage_records(user_id);
CREATE INDEX IF NOT EXISTS idx_usage_records_guest_token ON usage_records(guest_token);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateAccount(ctx context.Context, id string, starting domain.Credits, admin bool) (*domain.Account, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, balance, admin, created_at) VALUES (?, ?, ?, ?)`,
		id, int64(starting), admin, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create account %s", id)
	}
	return &domain.Account{ID: id, Balance: starting, Admin: admin, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, balance, admin, created_at FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &balance, &a.Admin, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get account %s", id)
	}
	a.Balance = domain.Credits(balance)
	return &a, nil
}

func (s *SQLiteStore) CreateGuest(ctx context.Context, token string, starting domain.Credits) (*domain.GuestCredential, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guests (token, balance, created_at) VALUES (?, ?, ?)`,
		token, int64(starting), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create guest")
	}
	return &domain.GuestCredential{Token: token, Balance: starting, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetGuest(ctx context.Context, token string) (*domain.GuestCredential, error) {
	var g domain.GuestCredential
	var balance int64
	var linked sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT token, balance, linked_account_id, created_at FROM guests WHERE token = ?`, token,
	).Scan(&g.Token, &balance, &linked, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get guest")
	}
	g.Balance = domain.Credits(balance)
	g.LinkedAccountID = linked.String
	return &g, nil
}

func (s *SQLiteStore) Balance(ctx context.Context, p domain.Principal) (domain.Credits, error) {
	if p.IsGuest() {
		g, err := s.GetGuest(ctx, p.Ref)
		if err != nil {
			return 0, err
		}
		return g.Balance, nil
	}
	a, err := s.GetAccount(ctx, p.Ref)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

func (s *SQLiteStore) Debit(ctx context.Context, p domain.Principal, amount domain.Credits) (domain.Credits, error) {
	query := `UPDATE accounts SET balance = balance - ? WHERE id = ? AND balance >= ? RETURNING balance`
	if p.IsGuest() {
		query = `UPDATE guests SET balance = balance - ? WHERE token = ? AND balance >= ? AND linked_account_id IS NULL RETURNING balance`
	}

	var remaining int64
	err := s.db.QueryRowContext(ctx, query, int64(amount), p.Ref, int64(amount)).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		available, berr := s.Balance(ctx, p)
		if berr != nil {
			return 0, berr
		}
		return 0, &domain.InsufficientCreditsError{
			Required:  int((amount + 99) / 100),
			Available: available,
		}
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: debit %s", p)
	}
	return domain.Credits(remaining), nil
}

func (s *SQLiteStore) Credit(ctx context.Context, p domain.Principal, amount domain.Credits) (domain.Credits, error) {
	query := `UPDATE accounts SET balance = balance + ? WHERE id = ? RETURNING balance`
	if p.IsGuest() {
		query = `UPDATE guests SET balance = balance + ? WHERE token = ? RETURNING balance`
	}

	var remaining int64
	err := s.db.QueryRowContext(ctx, query, int64(amount), p.Ref).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrPrincipalNotFound
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: credit %s", p)
	}
	return domain.Credits(remaining), nil
}

func (s *SQLiteStore) ApplyPaymentEvent(ctx context.Context, p domain.Principal, event domain.PaymentEvent) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin payment tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (event_id, kind, ref, credits) VALUES (?, ?, ?, ?) ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, string(event.Kind), event.Ref, event.Credits,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: record payment event %s", event.EventID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	query := `UPDATE accounts SET balance = balance + ? WHERE id = ?`
	if p.IsGuest() {
		query = `UPDATE guests SET balance = balance + ? WHERE token = ?`
	}
	res, err = tx.ExecContext(ctx, query, int64(domain.CreditsFromInt(event.Credits)), p.Ref)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: apply payment event %s", event.EventID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, domain.ErrPrincipalNotFound
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit payment tx")
	}
	return true, nil
}

func (s *SQLiteStore) LinkGuest(ctx context.Context, token, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin link tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var balance int64
	var linked sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT balance, linked_account_id FROM guests WHERE token = ?`, token,
	).Scan(&balance, &linked)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrPrincipalNotFound
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: read guest for link")
	}
	if linked.Valid {
		return domain.ErrGuestLinked
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ? WHERE id = ?`, balance, accountID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transfer guest balance to %s", accountID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPrincipalNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE guests SET balance = 0, linked_account_id = ? WHERE token = ?`, accountID, token,
	); err != nil {
		return eris.Wrap(err, "sqlite: mark guest linked")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE usage_records SET user_id = ?, guest_token = NULL WHERE guest_token = ?`, accountID, token,
	); err != nil {
		return eris.Wrap(err, "sqlite: re-own guest usage")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit link tx")
}

func (s *SQLiteStore) InsertUsageRecord(ctx context.Context, rec domain.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var userID, guestToken any
	if rec.UserID != "" {
		userID = rec.UserID
	}
	if rec.GuestToken != "" {
		guestToken = rec.GuestToken
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, user_id, guest_token, credits, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, userID, guestToken, rec.Credits, rec.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert usage record")
}

func (s *SQLiteStore) ListUsage(ctx context.Context, p domain.Principal, filter UsageFilter) ([]domain.UsageRecord, error) {
	column := "user_id"
	if p.IsGuest() {
		column = "guest_token"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, guest_token, credits, created_at FROM usage_records WHERE `+column+` = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		p.Ref, limit, filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list usage")
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		var userID, guestToken sql.NullString
		if err := rows.Scan(&rec.ID, &userID, &guestToken, &rec.Credits, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage record")
		}
		rec.UserID = userID.String
		rec.GuestToken = guestToken.String
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate usage records")
}
