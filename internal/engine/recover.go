package engine

import (
	"context"

	"rummy-engine/internal/model"
)

// Recover reloads every persisted table and repairs in-progress ones
// after a crash: seats are marked disconnected, the rotation is
// recomputed from seat status, tables with at most one active seat are
// finished, and a turn held by an inactive seat is regenerated. Safe to
// run against tables that need no repair.
func (e *Engine) Recover(ctx context.Context) error {
	tables, err := e.repo.LoadTables(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, t := range tables {
		e.tables[t.ID] = t
	}
	e.mu.Unlock()

	repaired := 0
	for _, t := range tables {
		if t.Status != model.StatusInProgress {
			continue
		}
		if _, err := e.update(ctx, t.ID, func(t *model.Table, _ *eventQueue) error {
			return e.repairTable(ctx, t)
		}); err != nil {
			e.log.Error().Err(err).Str("table_id", t.ID).Msg("Failed to repair table during recovery")
			continue
		}
		repaired++
	}

	e.log.Info().Int("tables", len(tables)).Int("repaired", repaired).Msg("Engine state recovered")
	return nil
}

func (e *Engine) repairTable(ctx context.Context, t *model.Table) error {
	g := t.Game
	if g == nil {
		return invariantError("table %s in progress without game state", t.ID)
	}

	for _, s := range t.Seats {
		s.Connected = false
	}

	var active []string
	for _, s := range t.Seats {
		if s.Status == model.SeatActive {
			active = append(active, s.UserID)
		}
	}
	g.ActivePlayers = active

	if len(active) <= 1 {
		winner := ""
		if len(active) == 1 {
			winner = active[0]
		}
		return e.finish(ctx, t, winner, model.EndRecovery)
	}

	if g.Turn == nil || t.Seat(g.Turn.UserID) == nil || t.Seat(g.Turn.UserID).Status != model.SeatActive {
		number := 1
		if g.Turn != nil {
			number = g.Turn.Number + 1
		}
		g.Turn = e.newTurn(active[0], number)
	}
	return nil
}
