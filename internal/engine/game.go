package engine

import (
	"context"

	"rummy-engine/internal/card"
	"rummy-engine/internal/model"
)

// Draw pile names.
const (
	PileClosed = "closed"
	PileOpen   = "open"
)

// StartGame deals a new round: one shuffled multi-deck, 13 cards per
// seat, a face-up joker deciding the wild rank, one open-pile card and
// a uniformly random starting seat.
func (e *Engine) StartGame(ctx context.Context, tableID, userID string) (*TableView, error) {
	t, err := e.update(ctx, tableID, func(t *model.Table, ev *eventQueue) error {
		if t.Status != model.StatusWaiting {
			return ErrTableNotWaiting
		}
		if t.Seat(userID) == nil {
			return ErrNotSeated
		}
		if len(t.Seats) < 2 {
			return ErrNeedTwoPlayers
		}

		deck := card.BuildDeck(card.DecksFor(len(t.Seats)), true)
		e.shuffle(deck)

		for _, s := range t.Seats {
			s.Hand = append([]string(nil), deck[:13]...)
			deck = deck[13:]
			s.Status = model.SeatActive
			s.Score = 0
			s.TurnsPlayed = 0
			s.TimeoutCount = 0
			s.DropMode = ""
			s.DropPenalty = 0
		}

		joker := deck[0]
		openCard := deck[1]
		deck = deck[2:]

		active := make([]string, len(t.Seats))
		for i, s := range t.Seats {
			active[i] = s.UserID
		}
		startingSeat := active[e.randInt(len(active))]

		t.Status = model.StatusInProgress
		t.Game = &model.GameState{
			ClosedPile:    deck,
			OpenPile:      []string{openCard},
			JokerCard:     joker,
			WildRank:      card.WildRank(joker),
			ActivePlayers: active,
			Turn:          e.newTurn(startingSeat, 1),
		}
		ev.add(model.EventGameStarted, map[string]any{
			"joker_card":    joker,
			"wild_rank":     t.Game.WildRank,
			"starting_user": startingSeat,
			"players":       len(t.Seats),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.audit(ctx, tableID, userID, "start_game", map[string]any{"players": len(t.Seats)})
	e.log.Info().Str("table_id", tableID).Str("joker", t.Game.JokerCard).Msg("Game started")

	return e.view(t, userID), nil
}

// Draw takes the top card of the chosen pile into the acting seat's
// hand. Only the seat whose turn it is may draw, once per turn. An
// empty closed pile is rebuilt from the open pile before drawing.
func (e *Engine) Draw(ctx context.Context, tableID, userID, pile string) (*TableView, error) {
	if pile != PileClosed && pile != PileOpen {
		return nil, validationError("unknown pile %q", pile)
	}

	t, err := e.update(ctx, tableID, func(t *model.Table, ev *eventQueue) error {
		g, seat, err := e.requireTurn(t, userID)
		if err != nil {
			return err
		}
		if g.Turn.HasDrawn {
			return ErrAlreadyDrawn
		}

		var drawn string
		switch pile {
		case PileClosed:
			if len(g.ClosedPile) == 0 {
				e.reshuffleClosedPile(g)
			}
			if len(g.ClosedPile) == 0 {
				// nothing left to deal anywhere: score it out
				if err := e.finishByScore(ctx, t, model.EndPilesExhausted); err != nil {
					return err
				}
				ev.add(model.EventGameSettled, settledPayload(t))
				return nil
			}
			drawn = g.ClosedPile[len(g.ClosedPile)-1]
			g.ClosedPile = g.ClosedPile[:len(g.ClosedPile)-1]
		case PileOpen:
			if len(g.OpenPile) == 0 {
				return ErrOpenPileEmpty
			}
			drawn = g.OpenPile[len(g.OpenPile)-1]
			g.OpenPile = g.OpenPile[:len(g.OpenPile)-1]
		}

		seat.Hand = append(seat.Hand, drawn)
		seat.TimeoutCount = 0
		seat.LastSeenAt = e.clock.Now()
		g.Turn.HasDrawn = true
		g.Turn.DrawnCard = drawn
		ev.add(model.EventTurnDraw, map[string]any{"user_id": userID, "pile": pile})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.view(t, userID), nil
}

// Discard ends the acting seat's turn: the named card moves from hand
// to the top of the open pile. The hand must hold exactly 13 cards
// afterwards; anything else is a bug, not a user error.
func (e *Engine) Discard(ctx context.Context, tableID, userID, cardToken string) (*TableView, error) {
	t, err := e.update(ctx, tableID, func(t *model.Table, ev *eventQueue) error {
		g, seat, err := e.requireTurn(t, userID)
		if err != nil {
			return err
		}
		if !g.Turn.HasDrawn {
			return ErrMustDrawFirst
		}

		hand, ok := card.RemoveToken(seat.Hand, cardToken)
		if !ok {
			return ErrCardNotInHand
		}
		if len(hand) != 13 {
			return invariantError("post-discard hand size %d, want 13 (table %s, user %s)", len(hand), t.ID, userID)
		}
		seat.Hand = hand
		g.OpenPile = append(g.OpenPile, cardToken)
		seat.TurnsPlayed++
		seat.TimeoutCount = 0
		seat.LastSeenAt = e.clock.Now()
		g.Turn.HasDrawn = false
		g.Turn.DrawnCard = ""
		ev.add(model.EventTurnDiscard, map[string]any{"user_id": userID, "card": cardToken})

		switch {
		case len(g.ActivePlayers) <= 1:
			winner := ""
			if len(g.ActivePlayers) == 1 {
				winner = g.ActivePlayers[0]
			}
			if err := e.finish(ctx, t, winner, model.EndLastSeat); err != nil {
				return err
			}
		case len(g.ClosedPile) == 0 && len(g.OpenPile) <= 1:
			if err := e.finishByScore(ctx, t, model.EndPilesExhausted); err != nil {
				return err
			}
		default:
			e.advanceTurn(g, userID)
			return nil
		}
		ev.add(model.EventGameSettled, settledPayload(t))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.view(t, userID), nil
}

// Declare checks the acting seat's 14-card hand. A valid declaration
// wins the round; an invalid one drops the declarer with the fixed
// penalty and the round is scored out among the remaining seats.
func (e *Engine) Declare(ctx context.Context, tableID, userID string) (*TableView, error) {
	valid := false
	t, err := e.update(ctx, tableID, func(t *model.Table, ev *eventQueue) error {
		g, seat, err := e.requireTurn(t, userID)
		if err != nil {
			return err
		}
		if !g.Turn.HasDrawn {
			return ErrMustDrawFirst
		}
		if len(seat.Hand) != 14 {
			return invariantError("declare with hand size %d, want 14 (table %s, user %s)", len(seat.Hand), t.ID, userID)
		}

		result, dropToken := card.EvaluateDeclare(seat.Hand, g.JokerCard)
		if result.Valid {
			valid = true
			hand, _ := card.RemoveToken(seat.Hand, dropToken)
			seat.Hand = hand
			g.OpenPile = append(g.OpenPile, dropToken)
			seat.TimeoutCount = 0
			seat.LastSeenAt = e.clock.Now()
			ev.add(model.EventTurnDeclareValid, map[string]any{"user_id": userID})
			if err := e.finish(ctx, t, userID, model.EndValidDeclare); err != nil {
				return err
			}
			ev.add(model.EventGameSettled, settledPayload(t))
			return nil
		}

		seat.Status = model.SeatDropped
		seat.DropMode = model.DropInvalidDeclare
		seat.DropPenalty = card.InvalidHandScore
		seat.Score = card.InvalidHandScore
		e.removeActive(g, userID)
		ev.add(model.EventTurnDeclareInvalid, map[string]any{"user_id": userID})

		if len(g.ActivePlayers) == 1 {
			err = e.finish(ctx, t, g.ActivePlayers[0], model.EndInvalidDeclare)
		} else {
			err = e.finishByScore(ctx, t, model.EndInvalidDeclare)
		}
		if err != nil {
			return err
		}
		ev.add(model.EventGameSettled, settledPayload(t))
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.audit(ctx, tableID, userID, "declare", map[string]any{"valid": valid})
	return e.view(t, userID), nil
}

// Drop retires a seat voluntarily with a mode-dependent penalty. If the
// last opponent drops, the remaining seat wins.
func (e *Engine) Drop(ctx context.Context, tableID, userID, mode string) (*TableView, error) {
	switch mode {
	case model.DropFirst, model.DropMiddle, model.DropFull, model.DropTimeout:
	default:
		return nil, validationError("unknown drop mode %q", mode)
	}

	t, err := e.update(ctx, tableID, func(t *model.Table, ev *eventQueue) error {
		if t.Status != model.StatusInProgress {
			return ErrTableNotInProgress
		}
		seat := t.Seat(userID)
		if seat == nil {
			return ErrNotSeated
		}
		if seat.Status != model.SeatActive {
			return ErrSeatNotActive
		}

		ev.add(model.EventTurnDrop, map[string]any{"user_id": userID, "mode": mode})
		if e.dropSeat(t, seat, mode) {
			if err := e.finishAfterDrop(ctx, t); err != nil {
				return err
			}
			ev.add(model.EventGameSettled, settledPayload(t))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.audit(ctx, tableID, userID, "drop", map[string]any{"mode": mode})
	return e.view(t, userID), nil
}

// dropSeat marks a seat dropped, advances the turn past it if it held
// one, and removes it from the rotation. Reports whether the game must
// end (one or zero active seats left). The turn moves before the
// removal so the successor is the next seat after the dropper, not
// whoever happens to lead the rotation slice.
func (e *Engine) dropSeat(t *model.Table, seat *model.Seat, mode string) bool {
	g := t.Game
	seat.Status = model.SeatDropped
	seat.DropMode = mode
	seat.DropPenalty = dropPenalty(mode)
	seat.Score = seat.DropPenalty
	seat.LastSeenAt = e.clock.Now()

	if len(g.ActivePlayers) <= 2 {
		e.removeActive(g, seat.UserID)
		return true
	}
	if g.Turn != nil && g.Turn.UserID == seat.UserID {
		// return an undiscarded drawn card before the turn moves on
		e.returnDrawnCard(g, seat)
		e.advanceTurn(g, seat.UserID)
	}
	e.removeActive(g, seat.UserID)
	return false
}

func (e *Engine) finishAfterDrop(ctx context.Context, t *model.Table) error {
	g := t.Game
	winner := ""
	if len(g.ActivePlayers) == 1 {
		winner = g.ActivePlayers[0]
	}
	return e.finish(ctx, t, winner, model.EndLastSeat)
}

// requireTurn validates the common gate of every turn action.
func (e *Engine) requireTurn(t *model.Table, userID string) (*model.GameState, *model.Seat, error) {
	if t.Status != model.StatusInProgress || t.Game == nil {
		return nil, nil, ErrTableNotInProgress
	}
	seat := t.Seat(userID)
	if seat == nil {
		return nil, nil, ErrNotSeated
	}
	if seat.Status != model.SeatActive {
		return nil, nil, ErrSeatNotActive
	}
	g := t.Game
	if g.Turn == nil || g.Turn.UserID != userID {
		return nil, nil, ErrNotYourTurn
	}
	return g, seat, nil
}

// advanceTurn hands the turn to the next active seat in rotation order
// after afterUserID.
func (e *Engine) advanceTurn(g *model.GameState, afterUserID string) {
	if len(g.ActivePlayers) == 0 {
		g.Turn = nil
		return
	}
	idx := 0
	for i, id := range g.ActivePlayers {
		if id == afterUserID {
			idx = i + 1
			break
		}
	}
	next := g.ActivePlayers[idx%len(g.ActivePlayers)]
	number := 1
	if g.Turn != nil {
		number = g.Turn.Number + 1
	}
	g.Turn = e.newTurn(next, number)
}

// removeActive drops userID from the turn rotation.
func (e *Engine) removeActive(g *model.GameState, userID string) {
	active := g.ActivePlayers[:0]
	for _, id := range g.ActivePlayers {
		if id != userID {
			active = append(active, id)
		}
	}
	g.ActivePlayers = active
}

// reshuffleClosedPile rebuilds the closed pile from everything in the
// open pile except its top card.
func (e *Engine) reshuffleClosedPile(g *model.GameState) {
	if len(g.OpenPile) <= 1 {
		return
	}
	top := g.OpenPile[len(g.OpenPile)-1]
	recycled := append([]string(nil), g.OpenPile[:len(g.OpenPile)-1]...)
	e.shuffle(recycled)
	g.ClosedPile = recycled
	g.OpenPile = []string{top}
}

// returnDrawnCard puts an undiscarded drawn card back on the open pile,
// restoring the seat to 13 cards.
func (e *Engine) returnDrawnCard(g *model.GameState, seat *model.Seat) {
	if g.Turn == nil || !g.Turn.HasDrawn || g.Turn.DrawnCard == "" {
		return
	}
	if hand, ok := card.RemoveToken(seat.Hand, g.Turn.DrawnCard); ok {
		seat.Hand = hand
		g.OpenPile = append(g.OpenPile, g.Turn.DrawnCard)
	}
	g.Turn.HasDrawn = false
	g.Turn.DrawnCard = ""
}

func settledPayload(t *model.Table) map[string]any {
	p := map[string]any{"reason": ""}
	if t.Game != nil {
		p["reason"] = t.Game.EndReason
		p["winner_id"] = t.Game.WinnerID
		p["ledger_entry_id"] = t.Game.LedgerEntryID
	}
	return p
}
