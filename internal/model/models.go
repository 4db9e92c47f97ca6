// Package model defines the data model for the rummy table engine.
package model

import "time"

// Table lifecycle statuses.
const (
	StatusWaiting    = "WAITING"
	StatusInProgress = "IN_PROGRESS"
	StatusFinished   = "FINISHED"
)

// Seat lifecycle statuses.
const (
	SeatActive  = "ACTIVE"
	SeatDropped = "DROPPED"
)

// Drop classifications. Penalty escalates from first to full; a timeout
// drop is penalized like a full drop.
const (
	DropFirst   = "first"
	DropMiddle  = "middle"
	DropFull    = "full"
	DropTimeout = "timeout"

	// DropInvalidDeclare marks a seat dropped for declaring with an
	// invalid hand.
	DropInvalidDeclare = "invalid_declare"
)

// Game ending reasons.
const (
	EndValidDeclare   = "VALID_DECLARE"
	EndInvalidDeclare = "INVALID_DECLARE"
	EndLastSeat       = "LAST_SEAT_STANDING"
	EndPilesExhausted = "PILES_EXHAUSTED"
	EndRecovery       = "RECOVERY_AUTO_FINISH"
)

// Persisted event types. These exact strings are replayed by clients;
// renaming any of them breaks replay compatibility.
const (
	EventTableCreated       = "TABLE_CREATED"
	EventTableJoined        = "TABLE_JOINED"
	EventTableLeft          = "TABLE_LEFT"
	EventTableSeatReclaimed = "TABLE_SEAT_RECLAIMED"
	EventGameStarted        = "GAME_STARTED"
	EventTurnDraw           = "TURN_DRAW"
	EventTurnDiscard        = "TURN_DISCARD"
	EventTurnDeclareValid   = "TURN_DECLARE_VALID"
	EventTurnDeclareInvalid = "TURN_DECLARE_INVALID"
	EventTurnDrop           = "TURN_DROP"
	EventTurnTimeoutSkip    = "TURN_TIMEOUT_SKIP"
	EventTurnTimeoutDrop    = "TURN_TIMEOUT_DROP"
	EventDisputeCreated     = "DISPUTE_CREATED"
	EventDisputeResolved    = "DISPUTE_RESOLVED"
	EventGameSettled        = "GAME_SETTLED"
	EventTableDeleted       = "TABLE_DELETED"
)

// Seat is one player's slot at a table. Seats are owned by their Table
// and mutated only through engine operations.
type Seat struct {
	Number       int       `json:"number"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	Hand         []string  `json:"hand"`
	Score        int       `json:"score"`
	Status       string    `json:"status"`
	TurnsPlayed  int       `json:"turns_played"`
	DropMode     string    `json:"drop_mode,omitempty"`
	DropPenalty  int       `json:"drop_penalty,omitempty"`
	ReclaimCode  string    `json:"reclaim_code"`
	Connected    bool      `json:"connected"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	TimeoutCount int       `json:"timeout_count"`
}

// TurnState tracks whose turn it is inside an in-progress game.
// Transitions are produced only by the engine.
type TurnState struct {
	UserID    string    `json:"user_id"`
	HasDrawn  bool      `json:"has_drawn"`
	DrawnCard string    `json:"drawn_card,omitempty"`
	Number    int       `json:"number"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SettlementEntry is one seat's outcome in a finished game. Amount is
// signed: losers pay negative, the winner receives the post-rake pot.
type SettlementEntry struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Score    int    `json:"score"`
	Amount   int64  `json:"amount"`
	Winner   bool   `json:"winner"`
}

// Settlement is the full money outcome of one game. Immutable once
// produced.
type Settlement struct {
	TableID   string            `json:"table_id"`
	Reason    string            `json:"reason"`
	WinnerID  string            `json:"winner_id"`
	Stake     int64             `json:"stake"`
	Pot       int64             `json:"pot"`
	Rake      int64             `json:"rake"`
	Entries   []SettlementEntry `json:"entries"`
	SettledAt time.Time         `json:"settled_at"`
}

// GameState exists only while a table is IN_PROGRESS. It is created
// atomically with dealing and replaced by nil on table reset.
type GameState struct {
	ClosedPile    []string    `json:"closed_pile"`
	OpenPile      []string    `json:"open_pile"`
	JokerCard     string      `json:"joker_card"`
	WildRank      string      `json:"wild_rank"`
	ActivePlayers []string    `json:"active_players"`
	Turn          *TurnState  `json:"turn,omitempty"`
	WinnerID      string      `json:"winner_id,omitempty"`
	EndReason     string      `json:"end_reason,omitempty"`
	FinishedAt    *time.Time  `json:"finished_at,omitempty"`
	Settlement    *Settlement `json:"settlement,omitempty"`
	LedgerEntryID int64       `json:"ledger_entry_id,omitempty"`
}

// Table is the top-level aggregate. Invariants: status == IN_PROGRESS
// iff Game != nil; len(Seats) <= MaxPlayers; seat numbers unique and
// dense except mid-game where departed seats are kept.
type Table struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	HostID     string     `json:"host_id"`
	MaxPlayers int        `json:"max_players"`
	Stake      int64      `json:"stake"`
	Status     string     `json:"status"`
	Seats      []*Seat    `json:"seats"`
	Game       *GameState `json:"game,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Seat returns the seat owned by userID, or nil.
func (t *Table) Seat(userID string) *Seat {
	for _, s := range t.Seats {
		if s.UserID == userID {
			return s
		}
	}
	return nil
}

// ActiveSeats returns the seats still in the running, in seat order.
func (t *Table) ActiveSeats() []*Seat {
	var out []*Seat
	for _, s := range t.Seats {
		if s.Status == SeatActive {
			out = append(out, s)
		}
	}
	return out
}

// Clone deep-copies the aggregate so an operation can mutate a private
// copy and commit it only after persistence succeeds.
func (t *Table) Clone() *Table {
	c := *t
	c.Seats = make([]*Seat, len(t.Seats))
	for i, s := range t.Seats {
		sc := *s
		sc.Hand = append([]string(nil), s.Hand...)
		c.Seats[i] = &sc
	}
	if t.Game != nil {
		g := *t.Game
		g.ClosedPile = append([]string(nil), t.Game.ClosedPile...)
		g.OpenPile = append([]string(nil), t.Game.OpenPile...)
		g.ActivePlayers = append([]string(nil), t.Game.ActivePlayers...)
		if t.Game.Turn != nil {
			ts := *t.Game.Turn
			g.Turn = &ts
		}
		if t.Game.Settlement != nil {
			st := *t.Game.Settlement
			st.Entries = append([]SettlementEntry(nil), t.Game.Settlement.Entries...)
			g.Settlement = &st
		}
		if t.Game.FinishedAt != nil {
			ft := *t.Game.FinishedAt
			g.FinishedAt = &ft
		}
		c.Game = &g
	}
	return &c
}

// Wallet is a per-user balance. Balances never go negative; the
// repository rejects any delta batch that would overdraw.
type Wallet struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WalletDelta is one signed balance change inside an atomic batch.
type WalletDelta struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// WalletTransaction records an applied delta with before/after balances.
type WalletTransaction struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	Type          string    `json:"type"`
	Description   string    `json:"description"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// Wallet transaction types.
const (
	TxTypeInitial    = "initial"
	TxTypeSettlement = "settlement"
)

// TableEvent is one append-only record in a table's replay stream.
type TableEvent struct {
	ID        int64     `json:"id"`
	TableID   string    `json:"table_id"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is a signed, hash-chained settlement record. PreviousHash
// is nil for the first entry of a table.
type LedgerEntry struct {
	ID           int64     `json:"id"`
	TableID      string    `json:"table_id"`
	WinnerID     string    `json:"winner_id"`
	Payload      []byte    `json:"payload"`
	PayloadHash  string    `json:"payload_hash"`
	Signature    string    `json:"signature"`
	PreviousHash *string   `json:"previous_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Dispute statuses.
const (
	DisputeOpen     = "OPEN"
	DisputeResolved = "RESOLVED"
)

// Dispute is a raised complaint against a table outcome.
type Dispute struct {
	ID         string     `json:"id"`
	TableID    string     `json:"table_id"`
	RaisedBy   string     `json:"raised_by"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AuditRecord is one structured entry in the operational audit log.
type AuditRecord struct {
	ID        int64     `json:"id"`
	TableID   string    `json:"table_id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Detail    []byte    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
