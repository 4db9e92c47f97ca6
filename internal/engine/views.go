package engine

import (
	"context"
	"sort"
	"time"

	"rummy-engine/internal/model"
)

// TableSummary is the lobby listing view of a table.
type TableSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	HostID     string    `json:"host_id"`
	Status     string    `json:"status"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"max_players"`
	Stake      int64     `json:"stake"`
	CreatedAt  time.Time `json:"created_at"`
}

// SeatView is a seat as one particular viewer may see it. Hand and
// reclaim code are only present for the viewer's own seat until the
// table finishes, when all hands become public.
type SeatView struct {
	Number       int      `json:"number"`
	UserID       string   `json:"user_id"`
	UserName     string   `json:"user_name"`
	Status       string   `json:"status"`
	Score        int      `json:"score"`
	TurnsPlayed  int      `json:"turns_played"`
	DropMode     string   `json:"drop_mode,omitempty"`
	Connected    bool     `json:"connected"`
	HandSize     int      `json:"hand_size"`
	Hand         []string `json:"hand,omitempty"`
	ReclaimCode  string   `json:"reclaim_code,omitempty"`
	TimeoutCount int      `json:"timeout_count"`
}

// TurnView mirrors the current turn state.
type TurnView struct {
	UserID    string    `json:"user_id"`
	HasDrawn  bool      `json:"has_drawn"`
	Number    int       `json:"number"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GameView is the in-progress game as seen from outside: pile sizes and
// the drawable open-pile top, never the closed pile contents.
type GameView struct {
	ClosedCount   int               `json:"closed_count"`
	OpenCount     int               `json:"open_count"`
	OpenTop       string            `json:"open_top,omitempty"`
	JokerCard     string            `json:"joker_card"`
	WildRank      string            `json:"wild_rank"`
	ActivePlayers []string          `json:"active_players"`
	Turn          *TurnView         `json:"turn,omitempty"`
	WinnerID      string            `json:"winner_id,omitempty"`
	EndReason     string            `json:"end_reason,omitempty"`
	Settlement    *model.Settlement `json:"settlement,omitempty"`
	LedgerEntryID int64             `json:"ledger_entry_id,omitempty"`
}

// TableView is the full redacted view returned by every engine
// operation.
type TableView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	HostID     string     `json:"host_id"`
	MaxPlayers int        `json:"max_players"`
	Stake      int64      `json:"stake"`
	Status     string     `json:"status"`
	Seats      []SeatView `json:"seats"`
	Game       *GameView  `json:"game,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ListTables returns lobby summaries for every live table.
func (e *Engine) ListTables(ctx context.Context) []TableSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]TableSummary, 0, len(e.tables))
	for _, t := range e.tables {
		out = append(out, TableSummary{
			ID:         t.ID,
			Name:       t.Name,
			HostID:     t.HostID,
			Status:     t.Status,
			Players:    len(t.Seats),
			MaxPlayers: t.MaxPlayers,
			Stake:      t.Stake,
			CreatedAt:  t.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetTableView returns the table as viewerID may see it.
func (e *Engine) GetTableView(ctx context.Context, tableID, viewerID string) (*TableView, error) {
	t, ok := e.table(tableID)
	if !ok {
		return nil, ErrTableNotFound
	}
	return e.view(t, viewerID), nil
}

// view builds the redacted projection of a table snapshot.
func (e *Engine) view(t *model.Table, viewerID string) *TableView {
	v := &TableView{
		ID:         t.ID,
		Name:       t.Name,
		HostID:     t.HostID,
		MaxPlayers: t.MaxPlayers,
		Stake:      t.Stake,
		Status:     t.Status,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
	finished := t.Status == model.StatusFinished
	for _, s := range t.Seats {
		sv := SeatView{
			Number:       s.Number,
			UserID:       s.UserID,
			UserName:     s.UserName,
			Status:       s.Status,
			Score:        s.Score,
			TurnsPlayed:  s.TurnsPlayed,
			DropMode:     s.DropMode,
			Connected:    s.Connected,
			HandSize:     len(s.Hand),
			TimeoutCount: s.TimeoutCount,
		}
		if s.UserID == viewerID || finished {
			sv.Hand = append([]string(nil), s.Hand...)
		}
		if s.UserID == viewerID {
			sv.ReclaimCode = s.ReclaimCode
		}
		v.Seats = append(v.Seats, sv)
	}
	if g := t.Game; g != nil {
		gv := &GameView{
			ClosedCount:   len(g.ClosedPile),
			OpenCount:     len(g.OpenPile),
			JokerCard:     g.JokerCard,
			WildRank:      g.WildRank,
			ActivePlayers: append([]string(nil), g.ActivePlayers...),
			WinnerID:      g.WinnerID,
			EndReason:     g.EndReason,
			Settlement:    g.Settlement,
			LedgerEntryID: g.LedgerEntryID,
		}
		if len(g.OpenPile) > 0 {
			gv.OpenTop = g.OpenPile[len(g.OpenPile)-1]
		}
		if g.Turn != nil {
			gv.Turn = &TurnView{
				UserID:    g.Turn.UserID,
				HasDrawn:  g.Turn.HasDrawn,
				Number:    g.Turn.Number,
				ExpiresAt: g.Turn.ExpiresAt,
			}
		}
		v.Game = gv
	}
	return v
}
