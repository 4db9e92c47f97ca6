package engine

import (
	"context"

	"github.com/google/uuid"

	"rummy-engine/internal/model"
)

// CreateTable opens a new waiting table with the host in seat 1. The
// host's wallet is provisioned before the table exists so settlement
// can never hit a missing wallet.
func (e *Engine) CreateTable(ctx context.Context, hostID, hostName, name string, maxPlayers int, stake int64) (*TableView, error) {
	if len(name) < 3 {
		return nil, validationError("table name must be at least 3 characters")
	}
	if maxPlayers < 2 || maxPlayers > 6 {
		return nil, validationError("max players must be between 2 and 6")
	}
	if stake < 1 {
		return nil, validationError("stake must be at least 1")
	}

	if _, err := e.repo.EnsureWallet(ctx, hostID, hostName, e.cfg.InitialBalance); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	t := &model.Table{
		ID:         uuid.NewString(),
		Name:       name,
		HostID:     hostID,
		MaxPlayers: maxPlayers,
		Stake:      stake,
		Status:     model.StatusWaiting,
		Seats:      []*model.Seat{e.newSeat(1, hostID, hostName)},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	ev := &eventQueue{}
	ev.add(model.EventTableCreated, map[string]any{
		"host_id":     hostID,
		"name":        name,
		"max_players": maxPlayers,
		"stake":       stake,
	})
	if ev.err != nil {
		return nil, ev.err
	}
	if err := e.repo.UpsertTable(ctx, t, ev.staged...); err != nil {
		return nil, err
	}
	e.publish(t)

	e.audit(ctx, t.ID, hostID, "create_table", map[string]any{"name": name, "stake": stake})
	e.log.Info().Str("table_id", t.ID).Str("host_id", hostID).Msg("Table created")

	return e.view(t, hostID), nil
}

// JoinTable seats a user at a waiting table. Joining a table you are
// already seated at is an idempotent connection refresh, regardless of
// table status.
func (e *Engine) JoinTable(ctx context.Context, tableID, userID, userName string) (*TableView, error) {
	joined := false
	t, err := e.update(ctx, tableID, func(t *model.Table, ev *eventQueue) error {
		if seat := t.Seat(userID); seat != nil {
			seat.Connected = true
			seat.LastSeenAt = e.clock.Now()
			return nil
		}
		if t.Status != model.StatusWaiting {
			return ErrTableNotWaiting
		}
		if len(t.Seats) >= t.MaxPlayers {
			return ErrTableFull
		}
		if _, err := e.repo.EnsureWallet(ctx, userID, userName, e.cfg.InitialBalance); err != nil {
			return err
		}
		t.Seats = append(t.Seats, e.newSeat(len(t.Seats)+1, userID, userName))
		joined = true
		ev.add(model.EventTableJoined, map[string]any{"user_id": userID})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if joined {
		e.audit(ctx, tableID, userID, "join_table", nil)
	}
	return e.view(t, userID), nil
}

// LeaveTable removes a seat from a waiting table, renumbering the rest
// densely and reassigning the host if needed. The last player leaving
// deletes the table.
func (e *Engine) LeaveTable(ctx context.Context, tableID, userID string) error {
	e.locks.Lock(tableID)
	defer e.locks.Unlock(tableID)

	current, ok := e.table(tableID)
	if !ok {
		return ErrTableNotFound
	}

	clone := current.Clone()
	if clone.Status != model.StatusWaiting {
		return ErrCannotLeaveAfterStart
	}
	seat := clone.Seat(userID)
	if seat == nil {
		return ErrNotSeated
	}

	seats := clone.Seats[:0]
	for _, s := range clone.Seats {
		if s.UserID != userID {
			seats = append(seats, s)
		}
	}
	clone.Seats = seats
	for i, s := range clone.Seats {
		s.Number = i + 1
	}

	ev := &eventQueue{}
	ev.add(model.EventTableLeft, map[string]any{"user_id": userID})

	if len(clone.Seats) == 0 {
		ev.add(model.EventTableDeleted, map[string]any{})
		if ev.err != nil {
			return ev.err
		}
		if err := e.repo.DeleteTable(ctx, tableID, ev.staged...); err != nil {
			return err
		}
		e.drop(tableID)
		e.log.Info().Str("table_id", tableID).Msg("Table deleted, last player left")
		return nil
	}

	if clone.HostID == userID {
		clone.HostID = clone.Seats[0].UserID
	}
	clone.UpdatedAt = e.clock.Now()

	if ev.err != nil {
		return ev.err
	}
	if err := e.repo.UpsertTable(ctx, clone, ev.staged...); err != nil {
		return err
	}
	e.mu.Lock()
	e.tables[tableID] = clone
	e.mu.Unlock()

	e.audit(ctx, tableID, userID, "leave_table", nil)
	return nil
}

// SetSeatConnection tracks presence, best effort: unknown tables and
// seats are a no-op, never an error.
func (e *Engine) SetSeatConnection(ctx context.Context, tableID, userID string, connected bool) {
	_, err := e.update(ctx, tableID, func(t *model.Table, _ *eventQueue) error {
		seat := t.Seat(userID)
		if seat == nil {
			return ErrNotSeated
		}
		seat.Connected = connected
		seat.LastSeenAt = e.clock.Now()
		return nil
	})
	if err != nil && err != ErrTableNotFound && err != ErrNotSeated {
		e.log.Warn().Err(err).Str("table_id", tableID).Str("user_id", userID).Msg("Failed to update seat connection")
	}
}

func (e *Engine) newSeat(number int, userID, userName string) *model.Seat {
	return &model.Seat{
		Number:      number,
		UserID:      userID,
		UserName:    userName,
		Status:      model.SeatActive,
		ReclaimCode: uuid.NewString(),
		Connected:   true,
		LastSeenAt:  e.clock.Now(),
	}
}
