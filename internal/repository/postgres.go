package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rummy-engine/internal/model"
)

// Postgres is the relational repository backend. The table aggregate is
// persisted as one JSONB document per table; wallets, events, ledger
// entries, disputes and audit records are relational.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres repository on an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Repository = (*Postgres)(nil)

// Migrate applies the database schema. Safe to run repeatedly.
func (r *Postgres) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tables (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tables_status ON tables(status);

		CREATE TABLE IF NOT EXISTS wallets (
			user_id TEXT PRIMARY KEY,
			user_name TEXT NOT NULL,
			balance BIGINT NOT NULL CHECK (balance >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS wallet_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			balance_before BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_wallet_tx_user ON wallet_transactions(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS table_events (
			id BIGSERIAL PRIMARY KEY,
			table_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_table_events ON table_events(table_id, id);

		-- payload is TEXT, not JSONB: JSONB normalizes key order and
		-- whitespace, which would change the bytes the hash covers.
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGSERIAL PRIMARY KEY,
			table_id TEXT NOT NULL,
			winner_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			payload_hash TEXT NOT NULL,
			signature TEXT NOT NULL,
			previous_hash TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_table ON ledger_entries(table_id, id);

		CREATE TABLE IF NOT EXISTS disputes (
			id TEXT PRIMARY KEY,
			table_id TEXT NOT NULL,
			raised_by TEXT NOT NULL,
			reason TEXT NOT NULL,
			status TEXT NOT NULL,
			resolution TEXT NOT NULL DEFAULT '',
			resolved_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_disputes_table ON disputes(table_id, created_at);

		CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY,
			table_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			action TEXT NOT NULL,
			detail JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_table ON audit_log(table_id, id);
	`)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (r *Postgres) LoadTables(ctx context.Context) ([]*model.Table, error) {
	const query = `SELECT data FROM tables ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}
	defer rows.Close()

	var tables []*model.Table
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		var t model.Table
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to decode table: %w", err)
		}
		tables = append(tables, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
}

// UpsertTable writes the table document and any staged events in one
// transaction, so a committed state change always carries its replay
// events.
func (r *Postgres) UpsertTable(ctx context.Context, table *model.Table, events ...Event) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to encode table: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		INSERT INTO tables (id, status, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET status = $2, data = $3, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, query, table.ID, table.Status, data); err != nil {
		return fmt.Errorf("failed to upsert table: %w", err)
	}
	if err := insertEvents(ctx, tx, table.ID, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit table upsert: %w", err)
	}
	return nil
}

func (r *Postgres) DeleteTable(ctx context.Context, tableID string, events ...Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `DELETE FROM tables WHERE id = $1`, tableID)
	if err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTableNotFound
	}
	if err := insertEvents(ctx, tx, tableID, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit table deletion: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx pgx.Tx, tableID string, events []Event) error {
	const query = `
		INSERT INTO table_events (table_id, type, payload, created_at)
		VALUES ($1, $2, $3, NOW())
	`
	for _, ev := range events {
		payload := ev.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		if _, err := tx.Exec(ctx, query, tableID, ev.Type, payload); err != nil {
			return fmt.Errorf("failed to append event %s: %w", ev.Type, err)
		}
	}
	return nil
}

func (r *Postgres) AppendEvent(ctx context.Context, tableID, eventType string, payload []byte) (int64, error) {
	const query = `
		INSERT INTO table_events (table_id, type, payload, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id
	`
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var id int64
	if err := r.pool.QueryRow(ctx, query, tableID, eventType, payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	return id, nil
}

func (r *Postgres) ListEventsSince(ctx context.Context, tableID string, sinceID int64, limit int) ([]*model.TableEvent, error) {
	const query = `
		SELECT id, table_id, type, payload, created_at
		FROM table_events
		WHERE table_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, tableID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*model.TableEvent
	for rows.Next() {
		var e model.TableEvent
		if err := rows.Scan(&e.ID, &e.TableID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func (r *Postgres) EnsureWallet(ctx context.Context, userID, userName string, initialBalance int64) (*model.Wallet, error) {
	w, err := r.GetWallet(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insert = `
		INSERT INTO wallets (user_id, user_name, balance, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, userID, userName, initialBalance); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	if initialBalance != 0 {
		const record = `
			INSERT INTO wallet_transactions (user_id, amount, type, description, balance_before, balance_after, created_at)
			VALUES ($1, $2, $3, 'initial balance', 0, $2, NOW())
		`
		if _, err := tx.Exec(ctx, record, userID, initialBalance, model.TxTypeInitial); err != nil {
			return nil, fmt.Errorf("failed to record initial transaction: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit wallet creation: %w", err)
	}

	return r.GetWallet(ctx, userID)
}

func (r *Postgres) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	const query = `
		SELECT user_id, user_name, balance, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`
	var w model.Wallet
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&w.UserID, &w.UserName, &w.Balance, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

// ApplyWalletDeltas applies all deltas inside one database transaction.
// Rows are locked in sorted user order to avoid deadlocks between
// concurrent settlements.
func (r *Postgres) ApplyWalletDeltas(ctx context.Context, deltas []model.WalletDelta) (map[string]*model.WalletTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockOrder := make([]string, 0, len(deltas))
	seen := make(map[string]bool)
	for _, d := range deltas {
		if !seen[d.UserID] {
			seen[d.UserID] = true
			lockOrder = append(lockOrder, d.UserID)
		}
	}
	sort.Strings(lockOrder)

	balances := make(map[string]int64, len(lockOrder))
	for _, userID := range lockOrder {
		var balance int64
		err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrWalletNotFound
			}
			return nil, fmt.Errorf("failed to lock wallet: %w", err)
		}
		balances[userID] = balance
	}

	out := make(map[string]*model.WalletTransaction, len(deltas))
	for _, d := range deltas {
		before := balances[d.UserID]
		after := before + d.Amount
		if after < 0 {
			return nil, ErrInsufficientFunds
		}
		balances[d.UserID] = after

		if _, err := tx.Exec(ctx,
			`UPDATE wallets SET balance = $2, updated_at = NOW() WHERE user_id = $1`,
			d.UserID, after,
		); err != nil {
			return nil, fmt.Errorf("failed to update balance: %w", err)
		}

		var rec model.WalletTransaction
		err := tx.QueryRow(ctx, `
			INSERT INTO wallet_transactions (user_id, amount, type, description, balance_before, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			RETURNING id, user_id, amount, type, description, balance_before, balance_after, created_at
		`, d.UserID, d.Amount, d.Type, d.Description, before, after).Scan(
			&rec.ID, &rec.UserID, &rec.Amount, &rec.Type, &rec.Description,
			&rec.BalanceBefore, &rec.BalanceAfter, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to record transaction: %w", err)
		}
		out[d.UserID] = &rec
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit wallet deltas: %w", err)
	}
	return out, nil
}

func (r *Postgres) ReassignWalletOwner(ctx context.Context, oldID, newID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var taken bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`, newID,
	).Scan(&taken); err != nil {
		return fmt.Errorf("failed to check target wallet: %w", err)
	}
	if taken {
		return ErrWalletExists
	}

	result, err := tx.Exec(ctx,
		`UPDATE wallets SET user_id = $2, updated_at = NOW() WHERE user_id = $1`,
		oldID, newID,
	)
	if err != nil {
		return fmt.Errorf("failed to reassign wallet: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	if _, err := tx.Exec(ctx,
		`UPDATE wallet_transactions SET user_id = $2 WHERE user_id = $1`,
		oldID, newID,
	); err != nil {
		return fmt.Errorf("failed to reassign wallet transactions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit wallet reassignment: %w", err)
	}
	return nil
}

func (r *Postgres) AppendLedgerEntry(ctx context.Context, tableID, winnerID string, payload []byte, payloadHash, signature string) (*model.LedgerEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var prevHash *string
	err = tx.QueryRow(ctx, `
		SELECT payload_hash FROM ledger_entries
		WHERE table_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, tableID).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to read previous ledger entry: %w", err)
	}

	var e model.LedgerEntry
	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (table_id, winner_id, payload, payload_hash, signature, previous_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, table_id, winner_id, payload, payload_hash, signature, previous_hash, created_at
	`, tableID, winnerID, payload, payloadHash, signature, prevHash).Scan(
		&e.ID, &e.TableID, &e.WinnerID, &e.Payload, &e.PayloadHash,
		&e.Signature, &e.PreviousHash, &e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit ledger entry: %w", err)
	}
	return &e, nil
}

func (r *Postgres) GetLedgerEntry(ctx context.Context, id int64) (*model.LedgerEntry, error) {
	const query = `
		SELECT id, table_id, winner_id, payload, payload_hash, signature, previous_hash, created_at
		FROM ledger_entries
		WHERE id = $1
	`
	var e model.LedgerEntry
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.TableID, &e.WinnerID, &e.Payload, &e.PayloadHash,
		&e.Signature, &e.PreviousHash, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &e, nil
}

func (r *Postgres) GetPreviousLedgerEntry(ctx context.Context, tableID string, beforeID int64) (*model.LedgerEntry, error) {
	const query = `
		SELECT id, table_id, winner_id, payload, payload_hash, signature, previous_hash, created_at
		FROM ledger_entries
		WHERE table_id = $1 AND id < $2
		ORDER BY id DESC
		LIMIT 1
	`
	var e model.LedgerEntry
	err := r.pool.QueryRow(ctx, query, tableID, beforeID).Scan(
		&e.ID, &e.TableID, &e.WinnerID, &e.Payload, &e.PayloadHash,
		&e.Signature, &e.PreviousHash, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to get previous ledger entry: %w", err)
	}
	return &e, nil
}

func (r *Postgres) CreateDispute(ctx context.Context, d *model.Dispute) error {
	const query = `
		INSERT INTO disputes (id, table_id, raised_by, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.pool.Exec(ctx, query, d.ID, d.TableID, d.RaisedBy, d.Reason, d.Status, d.CreatedAt); err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

func (r *Postgres) ListDisputes(ctx context.Context, tableID string) ([]*model.Dispute, error) {
	const query = `
		SELECT id, table_id, raised_by, reason, status, resolution, resolved_by, created_at, resolved_at
		FROM disputes
		WHERE table_id = $1
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, query, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	var disputes []*model.Dispute
	for rows.Next() {
		var d model.Dispute
		if err := rows.Scan(&d.ID, &d.TableID, &d.RaisedBy, &d.Reason, &d.Status,
			&d.Resolution, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		disputes = append(disputes, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating disputes: %w", err)
	}
	return disputes, nil
}

func (r *Postgres) ResolveDispute(ctx context.Context, disputeID, resolvedBy, resolution string) (*model.Dispute, error) {
	const query = `
		UPDATE disputes
		SET status = $2, resolution = $3, resolved_by = $4, resolved_at = NOW()
		WHERE id = $1
		RETURNING id, table_id, raised_by, reason, status, resolution, resolved_by, created_at, resolved_at
	`
	var d model.Dispute
	err := r.pool.QueryRow(ctx, query, disputeID, model.DisputeResolved, resolution, resolvedBy).Scan(
		&d.ID, &d.TableID, &d.RaisedBy, &d.Reason, &d.Status,
		&d.Resolution, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to resolve dispute: %w", err)
	}
	return &d, nil
}

func (r *Postgres) AppendAudit(ctx context.Context, tableID, actorID, action string, detail []byte) error {
	if len(detail) == 0 {
		detail = []byte("{}")
	}
	const query = `
		INSERT INTO audit_log (table_id, actor_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	if _, err := r.pool.Exec(ctx, query, tableID, actorID, action, detail); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (r *Postgres) ListAudit(ctx context.Context, tableID string, limit int) ([]*model.AuditRecord, error) {
	const query = `
		SELECT id, table_id, actor_id, action, detail, created_at
		FROM audit_log
		WHERE table_id = $1
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, tableID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*model.AuditRecord
	for rows.Next() {
		var a model.AuditRecord
		if err := rows.Scan(&a.ID, &a.TableID, &a.ActorID, &a.Action, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return records, nil
}
