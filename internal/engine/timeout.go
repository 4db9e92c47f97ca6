package engine

import (
	"context"
	"fmt"

	"rummy-engine/internal/model"
)

// TimeoutResult identifies a seat affected by a sweep, for broadcast.
type TimeoutResult struct {
	TableID string `json:"table_id"`
	UserID  string `json:"user_id"`
	Dropped bool   `json:"dropped"`
}

// ProcessTurnTimeouts sweeps every in-progress table once and applies
// expiry consequences: the first expiries are silent skips, the
// configured Nth in a row forces a timeout drop. A failure on one table
// is logged and never blocks the sweep for the others.
func (e *Engine) ProcessTurnTimeouts(ctx context.Context) []TimeoutResult {
	var results []TimeoutResult
	for _, tableID := range e.tableIDs() {
		res, err := e.sweepTable(ctx, tableID)
		if err != nil {
			e.log.Error().Err(err).Str("table_id", tableID).Msg("Turn timeout sweep failed for table")
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results
}

// sweepTable checks one table for turn expiry under its lock.
func (e *Engine) sweepTable(ctx context.Context, tableID string) (_ *TimeoutResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during timeout sweep: %v", r)
		}
	}()

	var result *TimeoutResult
	_, err = e.update(ctx, tableID, func(t *model.Table, ev *eventQueue) error {
		if t.Status != model.StatusInProgress || t.Game == nil || t.Game.Turn == nil {
			result = nil
			return errNoTimeout
		}
		g := t.Game
		if e.clock.Now().Before(g.Turn.ExpiresAt) {
			return errNoTimeout
		}

		seat := t.Seat(g.Turn.UserID)
		if seat == nil || seat.Status != model.SeatActive {
			return invariantError("turn held by missing or inactive seat %s on table %s", g.Turn.UserID, t.ID)
		}

		seat.TimeoutCount++
		if seat.TimeoutCount >= e.cfg.TimeoutDropAfter {
			result = &TimeoutResult{TableID: t.ID, UserID: seat.UserID, Dropped: true}
			ev.add(model.EventTurnTimeoutDrop, map[string]any{"user_id": seat.UserID, "dropped": true})
			e.returnDrawnCard(g, seat)
			if e.dropSeat(t, seat, model.DropTimeout) {
				if err := e.finishAfterDrop(ctx, t); err != nil {
					return err
				}
				ev.add(model.EventGameSettled, settledPayload(t))
			}
			return nil
		}

		// silent skip: the turn moves on with no penalty
		result = &TimeoutResult{TableID: t.ID, UserID: seat.UserID}
		ev.add(model.EventTurnTimeoutSkip, map[string]any{"user_id": seat.UserID, "dropped": false})
		e.returnDrawnCard(g, seat)
		e.advanceTurn(g, seat.UserID)
		return nil
	})
	if err == errNoTimeout {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("table_id", tableID).
		Str("user_id", result.UserID).
		Bool("dropped", result.Dropped).
		Msg("Turn timeout applied")
	return result, nil
}

// errNoTimeout is an internal sentinel: the table needed no action.
var errNoTimeout = &Error{KindStateConflict, "no timeout due"}
