package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"rummy-engine/internal/model"
	"rummy-engine/internal/repository"
)

// ReclaimSeat re-authenticates a disconnected seat with its one-time
// code and hands it to a new identity. Every reference to the old
// identity — host pointer, rotation, turn, winner, wallet ownership —
// is rewritten, and the code rotates so it cannot be replayed.
func (e *Engine) ReclaimSeat(ctx context.Context, tableID, reclaimCode, newUserID, newUserName string) (*TableView, error) {
	oldUserID := ""
	t, err := e.update(ctx, tableID, func(t *model.Table, ev *eventQueue) error {
		var seat *model.Seat
		for _, s := range t.Seats {
			if s.ReclaimCode == reclaimCode {
				seat = s
				break
			}
		}
		if seat == nil {
			return ErrInvalidReclaimCode
		}
		if other := t.Seat(newUserID); other != nil && other != seat {
			return ErrAlreadySeated
		}
		oldUserID = seat.UserID
		if oldUserID == newUserID {
			// reconnecting as yourself still rotates the code
			seat.ReclaimCode = uuid.NewString()
			seat.Connected = true
			seat.LastSeenAt = e.clock.Now()
			ev.add(model.EventTableSeatReclaimed, map[string]any{
				"old_user_id": oldUserID,
				"new_user_id": newUserID,
			})
			return nil
		}

		if err := e.repo.ReassignWalletOwner(ctx, oldUserID, newUserID); err != nil {
			if errors.Is(err, repository.ErrWalletExists) {
				return ErrIdentityInUse
			}
			return err
		}

		seat.UserID = newUserID
		seat.UserName = newUserName
		seat.ReclaimCode = uuid.NewString()
		seat.Connected = true
		seat.LastSeenAt = e.clock.Now()

		if t.HostID == oldUserID {
			t.HostID = newUserID
		}
		if g := t.Game; g != nil {
			for i, id := range g.ActivePlayers {
				if id == oldUserID {
					g.ActivePlayers[i] = newUserID
				}
			}
			if g.Turn != nil && g.Turn.UserID == oldUserID {
				g.Turn.UserID = newUserID
			}
			if g.WinnerID == oldUserID {
				g.WinnerID = newUserID
			}
		}
		ev.add(model.EventTableSeatReclaimed, map[string]any{
			"old_user_id": oldUserID,
			"new_user_id": newUserID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.audit(ctx, tableID, newUserID, "reclaim_seat", map[string]any{"old_user_id": oldUserID})
	e.log.Info().
		Str("table_id", tableID).
		Str("old_user_id", oldUserID).
		Str("new_user_id", newUserID).
		Msg("Seat reclaimed")
	return e.view(t, newUserID), nil
}
