// Package repository provides the persistence boundary of the engine.
// The engine depends only on the Repository interface; the Postgres and
// in-memory backends are interchangeable.
package repository

import (
	"context"
	"errors"

	"rummy-engine/internal/model"
)

// Common errors for repository operations.
var (
	ErrTableNotFound     = errors.New("table not found")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletExists      = errors.New("wallet already exists for user")
	ErrLedgerNotFound    = errors.New("ledger entry not found")
	ErrDisputeNotFound   = errors.New("dispute not found")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
)

// Event is a replay event staged alongside a table write.
type Event struct {
	Type    string
	Payload []byte
}

// Repository is the storage contract of the table engine. Implementations
// must make ApplyWalletDeltas atomic across all entries: either every
// delta is applied and recorded, or none is. Events passed to
// UpsertTable and DeleteTable commit together with the table write, so
// the replay stream never diverges from persisted state.
type Repository interface {
	// Tables
	LoadTables(ctx context.Context) ([]*model.Table, error)
	UpsertTable(ctx context.Context, table *model.Table, events ...Event) error
	DeleteTable(ctx context.Context, tableID string, events ...Event) error

	// Append-only event stream, per table.
	AppendEvent(ctx context.Context, tableID, eventType string, payload []byte) (int64, error)
	ListEventsSince(ctx context.Context, tableID string, sinceID int64, limit int) ([]*model.TableEvent, error)

	// Wallets
	EnsureWallet(ctx context.Context, userID, userName string, initialBalance int64) (*model.Wallet, error)
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)
	ApplyWalletDeltas(ctx context.Context, deltas []model.WalletDelta) (map[string]*model.WalletTransaction, error)
	ReassignWalletOwner(ctx context.Context, oldID, newID string) error

	// Settlement ledger. AppendLedgerEntry links the record to the
	// table's previous entry via its payload hash.
	AppendLedgerEntry(ctx context.Context, tableID, winnerID string, payload []byte, payloadHash, signature string) (*model.LedgerEntry, error)
	GetLedgerEntry(ctx context.Context, id int64) (*model.LedgerEntry, error)
	GetPreviousLedgerEntry(ctx context.Context, tableID string, beforeID int64) (*model.LedgerEntry, error)

	// Disputes
	CreateDispute(ctx context.Context, dispute *model.Dispute) error
	ListDisputes(ctx context.Context, tableID string) ([]*model.Dispute, error)
	ResolveDispute(ctx context.Context, disputeID, resolvedBy, resolution string) (*model.Dispute, error)

	// Audit log. ListAudit returns the newest records first.
	AppendAudit(ctx context.Context, tableID, actorID, action string, detail []byte) error
	ListAudit(ctx context.Context, tableID string, limit int) ([]*model.AuditRecord, error)
}
