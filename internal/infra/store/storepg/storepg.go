// Package storepg is the production store.Store implementation, backed
// by Postgres via github.com/jackc/pgx/v4. Built on the
// internal/infra/db/postgres package's pool connect/retry helpers
// (postgres.NewPgxPool/TryConnect) and its transaction manager's
// Acquire -> BeginTx(Serializable) -> Commit/Rollback shape, generalized
// from one table per domain entity to one table per collection holding
// an opaque JSONB document plus the handful of promoted columns that
// need a secondary index.
package storepg

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/aiorreal/quota-core/internal/domain"
	"github.com/aiorreal/quota-core/internal/domain/ports/store"
	"github.com/aiorreal/quota-core/internal/infra/db/postgres"
)

// tableFor maps a logical collection name to its physical table. Every
// table shares the same shape: id TEXT PK, user_id TEXT, status TEXT,
// period_end TIMESTAMPTZ, version BIGINT, doc JSONB.
var tableFor = map[string]string{
	store.CollectionUsers:         "users_quota",
	store.CollectionSubscriptions: "subscriptions_quota",
	store.CollectionWallets:       "quota_wallets",
	store.CollectionUsages:        "quota_usages",
	store.CollectionWebhookEvents: "webhook_events",
}

// Schema is the full DDL for all five collections, applied once at
// startup. There is no migration tool in play (the schema is five small
// generic tables); a framework like golang-migrate would add a
// standard-library-alternative dependency with nothing to migrate
// through yet.
const Schema = `
CREATE TABLE IF NOT EXISTS users_quota (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	status TEXT,
	period_end TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 0,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS subscriptions_quota (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	status TEXT,
	period_end TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 0,
	doc JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_quota_user_id ON subscriptions_quota (user_id);
CREATE TABLE IF NOT EXISTS quota_wallets (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	status TEXT,
	period_end TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 0,
	doc JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quota_wallets_user_status ON quota_wallets (user_id, status);
CREATE INDEX IF NOT EXISTS idx_quota_wallets_period_end ON quota_wallets (period_end);
CREATE TABLE IF NOT EXISTS quota_usages (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	status TEXT,
	period_end TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 0,
	doc JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quota_usages_user_id ON quota_usages (user_id);
CREATE TABLE IF NOT EXISTS webhook_events (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	status TEXT,
	period_end TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 0,
	doc JSONB NOT NULL
);
`

// Store is the Postgres store.Store implementation.
type Store struct {
	pool *pgxpool.Pool
	tx   postgres.TxManager
}

// New wraps an already-connected pool. Callers run Migrate once at
// startup before using the Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, tx: postgres.NewTxManager(pool)}
}

// Migrate applies Schema. Safe to call on every boot (CREATE TABLE/INDEX
// IF NOT EXISTS).
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tx store.Tx, collection, id string) (store.Document, bool, error) {
	table, ok := tableFor[collection]
	if !ok {
		return store.Document{}, false, fmt.Errorf("unknown collection %q", collection)
	}

	var row pgx.Row
	if pt, ok := tx.(pgx.Tx); ok {
		row = pt.QueryRow(ctx, `SELECT doc, version FROM `+table+` WHERE id = $1`, id)
	} else {
		row = s.pool.QueryRow(ctx, `SELECT doc, version FROM `+table+` WHERE id = $1`, id)
	}

	var raw []byte
	var version int64
	if err := row.Scan(&raw, &version); err != nil {
		if err == pgx.ErrNoRows {
			return store.Document{}, false, nil
		}
		return store.Document{}, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return store.Document{}, false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return store.Document{ID: id, Fields: fields, Version: version}, true, nil
}

func (s *Store) Set(ctx context.Context, tx store.Tx, collection, id string, fields map[string]any, merge bool, expectedVersion int64) error {
	table, ok := tableFor[collection]
	if !ok {
		return fmt.Errorf("unknown collection %q", collection)
	}

	current, exists, err := s.Get(ctx, tx, collection, id)
	if err != nil {
		return err
	}

	if expectedVersion != 0 {
		if !exists || current.Version != expectedVersion {
			return domain.ErrVersionConflict
		}
	}

	final := fields
	if merge && exists {
		final = make(map[string]any, len(current.Fields)+len(fields))
		for k, v := range current.Fields {
			final[k] = v
		}
		for k, v := range fields {
			final[k] = v
		}
	}

	nextVersion := int64(1)
	if exists {
		nextVersion = current.Version + 1
	}

	raw, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	userID, _ := final["userId"].(string)
	status, _ := final["status"].(string)
	periodEnd, _ := final["periodEnd"]

	sql := `INSERT INTO ` + table + ` (id, user_id, status, period_end, version, doc)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  user_id = EXCLUDED.user_id,
  status = EXCLUDED.status,
  period_end = EXCLUDED.period_end,
  version = EXCLUDED.version,
  doc = EXCLUDED.doc;`

	var pe any
	if t, ok := periodEnd.(string); ok && t != "" {
		pe = t
	} else {
		pe = nil
	}

	if pt, ok := tx.(pgx.Tx); ok {
		_, err = pt.Exec(ctx, sql, id, userID, status, pe, nextVersion, raw)
	} else {
		_, err = s.pool.Exec(ctx, sql, id, userID, status, pe, nextVersion, raw)
	}
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, tx store.Tx, collection string, filter store.Filter) ([]store.Document, error) {
	table, ok := tableFor[collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	sql := `SELECT id, doc, version FROM ` + table
	args := make([]any, 0, len(filter.Equals))
	clauses := make([]string, 0, len(filter.Equals))
	for col, wantField := range promotedColumns(filter.Equals) {
		args = append(args, wantField)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(clauses) > 0 {
		sql += " WHERE "
		for i, c := range clauses {
			if i > 0 {
				sql += " AND "
			}
			sql += c
		}
	}
	if filter.OrderBy != "" {
		if col, ok := promotedColumnName(filter.OrderBy); ok {
			sql += " ORDER BY " + col
			if filter.Desc {
				sql += " DESC"
			}
		}
	}
	if filter.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows pgx.Rows
	var err error
	if pt, ok := tx.(pgx.Tx); ok {
		rows, err = pt.Query(ctx, sql, args...)
	} else {
		rows, err = s.pool.Query(ctx, sql, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		var id string
		var raw []byte
		var version int64
		if err := rows.Scan(&id, &raw, &version); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		out = append(out, store.Document{ID: id, Fields: fields, Version: version})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows %s: %w", collection, err)
	}
	return out, nil
}

// promotedColumns maps the equality filter's document-field names to the
// promoted SQL column names this store indexes on.
func promotedColumns(equals map[string]any) map[string]any {
	out := make(map[string]any, len(equals))
	for field, val := range equals {
		if col, ok := promotedColumnName(field); ok {
			out[col] = val
		}
	}
	return out
}

func promotedColumnName(field string) (string, bool) {
	switch field {
	case "userId":
		return "user_id", true
	case "status":
		return "status", true
	case "periodEnd":
		return "period_end", true
	case "id":
		return "id", true
	default:
		return "", false
	}
}

type pgBatch struct {
	s     *Store
	items []batchItem
}

type batchItem struct {
	collection, id string
	fields         map[string]any
	merge          bool
}

func (s *Store) Batch(ctx context.Context) store.Batch {
	return &pgBatch{s: s}
}

func (b *pgBatch) Set(collection, id string, fields map[string]any, merge bool) {
	b.items = append(b.items, batchItem{collection: collection, id: id, fields: fields, merge: merge})
}

func (b *pgBatch) Commit(ctx context.Context) error {
	for _, it := range b.items {
		if err := b.s.Set(ctx, nil, it.collection, it.id, it.fields, it.merge, 0); err != nil {
			return err
		}
	}
	return nil
}

// RunTransaction runs fn inside a Serializable Postgres transaction via
// the shared TxManager (acquire -> begin (Serializable) -> fn -> commit,
// with a deferred rollback guarding every early return). A serialization
// failure surfaces from Commit as a driver error, and a wallet-version
// conflict surfaces from Set as domain.ErrVersionConflict; neither is
// retried here. The Usage Ledger avoids the conflict in the first place
// by taking AdvisoryLockUser before touching the wallet document, so
// RunTransaction itself stays retry-free; a caller without that lock
// would need to wrap RunTransaction in its own retry loop.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

// AdvisoryLockUser takes a transaction-scoped advisory lock keyed by
// userID's hash, serializing concurrent Reserve transactions for the
// same user, layered on top of (not instead of) the wallet document's
// optimistic version check.
func AdvisoryLockUser(ctx context.Context, tx store.Tx, userID string) error {
	pt, ok := tx.(pgx.Tx)
	if !ok {
		return fmt.Errorf("advisory lock requires a postgres transaction")
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	key := int64(h.Sum64())
	_, err := pt.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key)
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}
