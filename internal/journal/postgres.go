package journal

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal_entries (
    id          UUID PRIMARY KEY,
    wallet      TEXT NOT NULL,
    provider    TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL,
    amount      NUMERIC(78, 0),
    status      TEXT NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS journal_entries_wallet_created_idx
    ON journal_entries (wallet, created_at DESC);`

// Postgres persists journal entries in PostgreSQL.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed journal.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the journal table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Record inserts entry. Amounts are stored as NUMERIC to keep full precision.
func (p *Postgres) Record(ctx context.Context, entry Entry) (Entry, error) {
	id := uuid.New()
	if entry.ID != "" {
		parsed, err := uuid.Parse(entry.ID)
		if err != nil {
			return Entry{}, fmt.Errorf("journal id: %w", err)
		}
		id = parsed
	}
	entry.ID = id.String()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = StatusSubmitted
	}

	var amount *string
	if entry.Amount != nil {
		s := entry.Amount.String()
		amount = &s
	}

	const insert = `
        INSERT INTO journal_entries (id, wallet, provider, kind, amount, status, detail, created_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)`
	if _, err := p.db.Exec(ctx, insert, id, entry.Wallet, entry.Provider, entry.Kind, amount, entry.Status, entry.Detail, entry.CreatedAt); err != nil {
		return Entry{}, fmt.Errorf("insert journal entry: %w", err)
	}
	return entry, nil
}

// List returns entries for wallet, newest first.
func (p *Postgres) List(ctx context.Context, wallet string, limit int) ([]Entry, error) {
	const query = `
        SELECT id, wallet, provider, kind, amount::text, status, detail, created_at
        FROM journal_entries
        WHERE wallet = $1
        ORDER BY created_at DESC
        LIMIT $2`

	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := p.db.Query(ctx, query, wallet, lim)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e      Entry
			id     uuid.UUID
			amount *string
		)
		if err := row.Scan(&id, &e.Wallet, &e.Provider, &e.Kind, &amount, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return Entry{}, err
		}
		e.ID = id.String()
		if amount != nil {
			v, ok := new(big.Int).SetString(*amount, 10)
			if !ok {
				return Entry{}, fmt.Errorf("journal amount %q is not an integer", *amount)
			}
			e.Amount = v
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return entries, nil
}
