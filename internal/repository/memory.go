package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"rummy-engine/internal/model"
)

// Memory is the embedded repository backend: mutex-guarded maps with
// the same semantics as the Postgres backend. Used when the engine runs
// without a database and by the engine test suite.
type Memory struct {
	mu sync.Mutex

	tables  map[string]*model.Table
	wallets map[string]*model.Wallet

	events   []*model.TableEvent
	eventSeq int64

	walletTxs   []*model.WalletTransaction
	walletTxSeq int64

	ledger    []*model.LedgerEntry
	ledgerSeq int64

	disputes map[string]*model.Dispute

	audit    []*model.AuditRecord
	auditSeq int64
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		tables:   make(map[string]*model.Table),
		wallets:  make(map[string]*model.Wallet),
		disputes: make(map[string]*model.Dispute),
	}
}

var _ Repository = (*Memory)(nil)

func (m *Memory) LoadTables(ctx context.Context) ([]*model.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.Table, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertTable(ctx context.Context, table *model.Table, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[table.ID] = table.Clone()
	for _, ev := range events {
		m.appendEventLocked(table.ID, ev.Type, ev.Payload)
	}
	return nil
}

func (m *Memory) DeleteTable(ctx context.Context, tableID string, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[tableID]; !ok {
		return ErrTableNotFound
	}
	delete(m.tables, tableID)
	for _, ev := range events {
		m.appendEventLocked(tableID, ev.Type, ev.Payload)
	}
	return nil
}

func (m *Memory) AppendEvent(ctx context.Context, tableID, eventType string, payload []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.appendEventLocked(tableID, eventType, payload), nil
}

func (m *Memory) appendEventLocked(tableID, eventType string, payload []byte) int64 {
	m.eventSeq++
	m.events = append(m.events, &model.TableEvent{
		ID:        m.eventSeq,
		TableID:   tableID,
		Type:      eventType,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now(),
	})
	return m.eventSeq
}

func (m *Memory) ListEventsSince(ctx context.Context, tableID string, sinceID int64, limit int) ([]*model.TableEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.TableEvent
	for _, e := range m.events {
		if e.TableID != tableID || e.ID <= sinceID {
			continue
		}
		ec := *e
		out = append(out, &ec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) EnsureWallet(ctx context.Context, userID, userName string, initialBalance int64) (*model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.wallets[userID]; ok {
		wc := *w
		return &wc, nil
	}
	now := time.Now()
	w := &model.Wallet{
		UserID:    userID,
		UserName:  userName,
		Balance:   initialBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.wallets[userID] = w
	if initialBalance != 0 {
		m.recordWalletTx(userID, initialBalance, model.TxTypeInitial, "initial balance", 0, initialBalance)
	}
	wc := *w
	return &wc, nil
}

func (m *Memory) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	wc := *w
	return &wc, nil
}

// ApplyWalletDeltas applies all deltas or none. The balances are
// validated before anything is written, so a failing entry leaves every
// wallet untouched.
func (m *Memory) ApplyWalletDeltas(ctx context.Context, deltas []model.WalletDelta) (map[string]*model.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch first.
	projected := make(map[string]int64)
	for _, d := range deltas {
		w, ok := m.wallets[d.UserID]
		if !ok {
			return nil, ErrWalletNotFound
		}
		if _, seen := projected[d.UserID]; !seen {
			projected[d.UserID] = w.Balance
		}
		projected[d.UserID] += d.Amount
		if projected[d.UserID] < 0 {
			return nil, ErrInsufficientFunds
		}
	}

	out := make(map[string]*model.WalletTransaction, len(deltas))
	for _, d := range deltas {
		w := m.wallets[d.UserID]
		before := w.Balance
		w.Balance += d.Amount
		w.UpdatedAt = time.Now()
		out[d.UserID] = m.recordWalletTx(d.UserID, d.Amount, d.Type, d.Description, before, w.Balance)
	}
	return out, nil
}

func (m *Memory) recordWalletTx(userID string, amount int64, txType, description string, before, after int64) *model.WalletTransaction {
	m.walletTxSeq++
	tx := &model.WalletTransaction{
		ID:            m.walletTxSeq,
		UserID:        userID,
		Amount:        amount,
		Type:          txType,
		Description:   description,
		BalanceBefore: before,
		BalanceAfter:  after,
		CreatedAt:     time.Now(),
	}
	m.walletTxs = append(m.walletTxs, tx)
	txc := *tx
	return &txc
}

func (m *Memory) ReassignWalletOwner(ctx context.Context, oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[oldID]
	if !ok {
		return ErrWalletNotFound
	}
	if _, taken := m.wallets[newID]; taken {
		return ErrWalletExists
	}
	delete(m.wallets, oldID)
	w.UserID = newID
	w.UpdatedAt = time.Now()
	m.wallets[newID] = w
	for _, tx := range m.walletTxs {
		if tx.UserID == oldID {
			tx.UserID = newID
		}
	}
	return nil
}

func (m *Memory) AppendLedgerEntry(ctx context.Context, tableID, winnerID string, payload []byte, payloadHash, signature string) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prevHash *string
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if m.ledger[i].TableID == tableID {
			h := m.ledger[i].PayloadHash
			prevHash = &h
			break
		}
	}

	m.ledgerSeq++
	e := &model.LedgerEntry{
		ID:           m.ledgerSeq,
		TableID:      tableID,
		WinnerID:     winnerID,
		Payload:      append([]byte(nil), payload...),
		PayloadHash:  payloadHash,
		Signature:    signature,
		PreviousHash: prevHash,
		CreatedAt:    time.Now(),
	}
	m.ledger = append(m.ledger, e)
	ec := *e
	return &ec, nil
}

func (m *Memory) GetLedgerEntry(ctx context.Context, id int64) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.ledger {
		if e.ID == id {
			ec := *e
			return &ec, nil
		}
	}
	return nil, ErrLedgerNotFound
}

func (m *Memory) GetPreviousLedgerEntry(ctx context.Context, tableID string, beforeID int64) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *model.LedgerEntry
	for _, e := range m.ledger {
		if e.TableID == tableID && e.ID < beforeID {
			prev = e
		}
	}
	if prev == nil {
		return nil, ErrLedgerNotFound
	}
	pc := *prev
	return &pc, nil
}

func (m *Memory) CreateDispute(ctx context.Context, dispute *model.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dc := *dispute
	m.disputes[dispute.ID] = &dc
	return nil
}

func (m *Memory) ListDisputes(ctx context.Context, tableID string) ([]*model.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Dispute
	for _, d := range m.disputes {
		if d.TableID == tableID {
			dc := *d
			out = append(out, &dc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ResolveDispute(ctx context.Context, disputeID, resolvedBy, resolution string) (*model.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[disputeID]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	now := time.Now()
	d.Status = model.DisputeResolved
	d.Resolution = resolution
	d.ResolvedBy = resolvedBy
	d.ResolvedAt = &now
	dc := *d
	return &dc, nil
}

func (m *Memory) AppendAudit(ctx context.Context, tableID, actorID, action string, detail []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.auditSeq++
	m.audit = append(m.audit, &model.AuditRecord{
		ID:        m.auditSeq,
		TableID:   tableID,
		ActorID:   actorID,
		Action:    action,
		Detail:    append([]byte(nil), detail...),
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *Memory) ListAudit(ctx context.Context, tableID string, limit int) ([]*model.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.AuditRecord
	for i := len(m.audit) - 1; i >= 0; i-- {
		a := m.audit[i]
		if a.TableID != tableID {
			continue
		}
		ac := *a
		out = append(out, &ac)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
