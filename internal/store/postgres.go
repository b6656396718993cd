package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/iliarafa/llmarena/internal/domain"
)

// Pool is the subset of pgxpool.Pool the store uses, satisfied by
// pgxmock in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection:
// the per-request hot path (balance lookups, the conditional debit, the
// settlement refund, and the usage append).
var preparedStatements = map[string]string{
	"get_account":   `SELECT id, balance, admin, created_at FROM accounts WHERE id = $1`,
	"get_guest":     `SELECT token, balance, linked_account_id, created_at FROM guests WHERE token = $1`,
	"debit_account": `UPDATE accounts SET balance = balance - $1 WHERE id = $2 AND balance >= $1 RETURNING balance`,
	"debit_guest":   `UPDATE guests SET balance = balance - $1 WHERE token = $2 AND balance >= $1 AND linked_account_id IS NULL RETURNING balance`,
	"credit_account": `UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance`,
	"credit_guest":   `UPDATE guests SET balance = balance + $1 WHERE token = $2 RETURNING balance`,
	"insert_usage":   `INSERT INTO usage_records (id, user_id, guest_token, credits, created_at) VALUES ($1, $2, $3, $4, $5)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Balances are BIGINT hundredths of a credit; usage and payment
// amounts are whole credits.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	admin      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS guests (
	token             TEXT PRIMARY KEY,
	balance           BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	linked_account_id TEXT REFERENCES accounts(id),
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_records (
	id          TEXT PRIMARY KEY,
	user_id     TEXT REFERENCES accounts(id),
	guest_token TEXT REFERENCES guests(token),
	credits     INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK ((user_id IS NULL) <> (guest_token IS NULL))
);

CREATE TABLE IF NOT EXISTS payment_events (
	event_id   TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	ref        TEXT NOT NULL,
	credits    INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_usage_records_user_id ON usage_records(user_id);
CREATE INDEX IF NOT EXISTS idx_usage_records_guest_token ON usage_records(guest_token);
CREATE INDEX IF NOT EXISTS idx_guests_linked_account ON guests(linked_account_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, id string, starting domain.Credits, admin bool) (*domain.Account, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, balance, admin, created_at) VALUES ($1, $2, $3, $4)`,
		id, int64(starting), admin, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create account %s", id)
	}
	return &domain.Account{ID: id, Balance: starting, Admin: admin, CreatedAt: now}, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance, admin, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &balance, &a.Admin, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get account %s", id)
	}
	a.Balance = domain.Credits(balance)
	return &a, nil
}

func (s *PostgresStore) CreateGuest(ctx context.Context, token string, starting domain.Credits) (*domain.GuestCredential, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO guests (token, balance, created_at) VALUES ($1, $2, $3)`,
		token, int64(starting), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create guest")
	}
	return &domain.GuestCredential{Token: token, Balance: starting, CreatedAt: now}, nil
}

func (s *PostgresStore) GetGuest(ctx context.Context, token string) (*domain.GuestCredential, error) {
	var g domain.GuestCredential
	var balance int64
	var linked *string
	err := s.pool.QueryRow(ctx,
		`SELECT token, balance, linked_account_id, created_at FROM guests WHERE token = $1`, token,
	).Scan(&g.Token, &balance, &linked, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get guest")
	}
	g.Balance = domain.Credits(balance)
	if linked != nil {
		g.LinkedAccountID = *linked
	}
	return &g, nil
}

func (s *PostgresStore) Balance(ctx context.Context, p domain.Principal) (domain.Credits, error) {
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

// Debit performs the conditional atomic subtraction that makes
// concurrent authorization safe: the WHERE clause ensures only debits
// the balance covers go through, and concurrent debits serialize on
// the row lock.
func (s *PostgresStore) Debit(ctx context.Context, p domain.Principal, amount domain.Credits) (domain.Credits, error) {
	query := `UPDATE accounts SET balance = balance - $1 WHERE id = $2 AND balance >= $1 RETURNING balance`
	if p.IsGuest() {
		query = `UPDATE guests SET balance = balance - $1 WHERE token = $2 AND balance >= $1 AND linked_account_id IS NULL RETURNING balance`
	}

	var remaining int64
	err := s.pool.QueryRow(ctx, query, int64(amount), p.Ref).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the principal is missing or the balance fell short;
		// disambiguate with a read.
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
		return 0, eris.Wrapf(err, "postgres: debit %s", p)
	}
	return domain.Credits(remaining), nil
}

func (s *PostgresStore) Credit(ctx context.Context, p domain.Principal, amount domain.Credits) (domain.Credits, error) {
	query := `UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance`
	if p.IsGuest() {
		query = `UPDATE guests SET balance = balance + $1 WHERE token = $2 RETURNING balance`
	}

	var remaining int64
	err := s.pool.QueryRow(ctx, query, int64(amount), p.Ref).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrPrincipalNotFound
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: credit %s", p)
	}
	return domain.Credits(remaining), nil
}

// ApplyPaymentEvent records and credits a payment in one transaction.
// The event_id primary key makes replays detectable: a conflicting
// insert means the credit already happened, and the whole call is a
// no-op reported as applied=false.
func (s *PostgresStore) ApplyPaymentEvent(ctx context.Context, p domain.Principal, event domain.PaymentEvent) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin payment tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO payment_events (event_id, kind, ref, credits) VALUES ($1, $2, $3, $4) ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, string(event.Kind), event.Ref, event.Credits,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: record payment event %s", event.EventID)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	query := `UPDATE accounts SET balance = balance + $1 WHERE id = $2`
	if p.IsGuest() {
		query = `UPDATE guests SET balance = balance + $1 WHERE token = $2`
	}
	tag, err = tx.Exec(ctx, query, int64(domain.CreditsFromInt(event.Credits)), p.Ref)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: apply payment event %s", event.EventID)
	}
	if tag.RowsAffected() == 0 {
		return false, domain.ErrPrincipalNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit payment tx")
	}
	return true, nil
}

// LinkGuest absorbs a guest credential into an account: the remaining
// guest balance transfers, the guest's usage rows are re-owned, and
// the token is marked linked. All of it happens in one transaction so
// a concurrent comparison cannot observe a half-linked state.
func (s *PostgresStore) LinkGuest(ctx context.Context, token, accountID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin link tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var balance int64
	var linked *string
	err = tx.QueryRow(ctx,
		`SELECT balance, linked_account_id FROM guests WHERE token = $1 FOR UPDATE`, token,
	).Scan(&balance, &linked)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrPrincipalNotFound
	}
	if err != nil {
		return eris.Wrap(err, "postgres: lock guest for link")
	}
	if linked != nil {
		return domain.ErrGuestLinked
	}

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE id = $2`, balance, accountID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transfer guest balance to %s", accountID)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPrincipalNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE guests SET balance = 0, linked_account_id = $1 WHERE token = $2`, accountID, token,
	); err != nil {
		return eris.Wrap(err, "postgres: mark guest linked")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE usage_records SET user_id = $1, guest_token = NULL WHERE guest_token = $2`, accountID, token,
	); err != nil {
		return eris.Wrap(err, "postgres: re-own guest usage")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit link tx")
}

func (s *PostgresStore) InsertUsageRecord(ctx context.Context, rec domain.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var userID, guestToken *string
	if rec.UserID != "" {
		userID = &rec.UserID
	}
	if rec.GuestToken != "" {
		guestToken = &rec.GuestToken
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_records (id, user_id, guest_token, credits, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, userID, guestToken, rec.Credits, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert usage record")
}

func (s *PostgresStore) ListUsage(ctx context.Context, p domain.Principal, filter UsageFilter) ([]domain.UsageRecord, error) {
	column := "user_id"
	if p.IsGuest() {
		column = "guest_token"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, guest_token, credits, created_at FROM usage_records WHERE `+column+` = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		p.Ref, limit, filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list usage")
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		var userID, guestToken *string
		if err := rows.Scan(&rec.ID, &userID, &guestToken, &rec.Credits, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage record")
		}
		if userID != nil {
			rec.UserID = *userID
		}
		if guestToken != nil {
			rec.GuestToken = *guestToken
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate usage records")
}
