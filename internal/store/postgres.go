// Package store persists customers, contacts and action flags in PostgreSQL.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"contact-import/internal/config"
	"contact-import/internal/logging"
	"contact-import/internal/reconcile"
	"contact-import/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// foreignKeyViolation is the SQLSTATE raised when a referenced row is missing.
const foreignKeyViolation = "23503"

// pgxPoolNewFunc allows overriding pgxpool.New for testing.
var pgxPoolNewFunc = pgxpool.New

const (
	upsertCustomerSQL = `INSERT INTO customers (name, street, zip, city, country)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name) DO UPDATE
SET street = EXCLUDED.street, zip = EXCLUDED.zip, city = EXCLUDED.city, country = EXCLUDED.country
RETURNING id`

	upsertContactSQL = `INSERT INTO contacts (customer_id, name, email, phone, notes)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (customer_id, name) DO UPDATE
SET email = EXCLUDED.email, phone = EXCLUDED.phone, notes = EXCLUDED.notes
RETURNING id`
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements reconcile.Store and reconcile.Transactor on a pgx pool.
type Postgres struct {
	pool    *pgxpool.Pool
	q       querier
	timeout time.Duration
}

// Open creates the connection pool. Environment variables in connStr are
// expanded. A non-positive timeout selects config.DefaultDBTimeout.
func Open(ctx context.Context, connStr string, timeout time.Duration) (*Postgres, error) {
	if connStr == "" {
		return nil, errors.New("database connection string (-db or DB_CREDENTIALS) is required")
	}
	if timeout <= 0 {
		timeout = config.DefaultDBTimeout
	}

	expandedConnStr := util.ExpandEnvUniversal(connStr)
	pool, err := pgxPoolNewFunc(ctx, expandedConnStr)
	if err != nil {
		maskedConnStr := util.MaskCredentials(expandedConnStr)
		logging.Logf(logging.Error, "Store failed to create connection pool: %s", maskedConnStr)
		return nil, fmt.Errorf("store failed to create connection pool (using %s): %w", maskedConnStr, err)
	}
	logging.Logf(logging.Debug, "Store connection pool created (timeout %s)", timeout)
	return &Postgres{pool: pool, q: pool, timeout: timeout}, nil
}

// Close releases the pool. Transaction-bound stores do nothing.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Ping verifies that the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	if p.pool == nil {
		return errors.New("store: ping on transaction-bound store")
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *Postgres) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// Migrate applies the embedded schema in one transaction. It is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if p.pool == nil {
		return errors.New("store: migrate on transaction-bound store")
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, schemaSQL)
		return err
	})
	if err != nil {
		return wrapError("migrate", err)
	}
	logging.Logf(logging.Info, "Database schema is up to date.")
	return nil
}

// WithinTx runs fn in one transaction. fn receives a store bound to it.
func (p *Postgres) WithinTx(ctx context.Context, fn func(reconcile.Store) error) error {
	if p.pool == nil {
		return errors.New("store: nested transactions are not supported")
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&Postgres{q: tx, timeout: p.timeout})
	})
}

// UpsertCustomer inserts the customer or updates its address fields, also
// when they are NULL in c.
func (p *Postgres) UpsertCustomer(ctx context.Context, c reconcile.Customer) (int64, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	var id int64
	err := p.q.QueryRow(ctx, upsertCustomerSQL, c.Name, c.Street, c.Zip, c.City, c.Country).Scan(&id)
	if err != nil {
		return 0, wrapError("customers upsert", err)
	}
	return id, nil
}

// UpsertContact inserts the contact or updates email, phone and notes.
func (p *Postgres) UpsertContact(ctx context.Context, c reconcile.Contact) (int64, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	var id int64
	err := p.q.QueryRow(ctx, upsertContactSQL, c.CustomerID, c.Name, c.Email, c.Phone, c.Notes).Scan(&id)
	if err != nil {
		return 0, wrapError("contacts upsert", err)
	}
	return id, nil
}

// UpsertActionFlags writes the given flags of one contact. Flags not in the
// map keep their stored value.
func (p *Postgres) UpsertActionFlags(ctx context.Context, contactID int64, flags map[string]bool) error {
	sql, args, err := buildFlagsUpsert(contactID, flags)
	if err != nil {
		return err
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()

	if _, err := p.q.Exec(ctx, sql, args...); err != nil {
		return wrapError("action_flags upsert", err)
	}
	return nil
}

// SetFlag sets a single action flag of a contact.
func (p *Postgres) SetFlag(ctx context.Context, contactID int64, key string, value bool) error {
	err := p.UpsertActionFlags(ctx, contactID, map[string]bool{key: value})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: %d", ErrContactNotFound, contactID)
	}
	return err
}

// wrapError logs PostgreSQL details when available and adds the operation.
func wrapError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		logging.Logf(logging.Debug, "%s failed. PG Error Code: %s, Message: %s, Detail: %s", op, pgErr.Code, pgErr.Message, pgErr.Detail)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
