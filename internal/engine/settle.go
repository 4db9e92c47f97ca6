package engine

import (
	"context"
	"errors"
	"fmt"

	"rummy-engine/internal/card"
	"rummy-engine/internal/ledger"
	"rummy-engine/internal/model"
	"rummy-engine/internal/repository"
)

// finishByScore ends the round by comparing evaluated hand scores among
// the still-active seats: lowest score wins, earliest seat breaks ties.
func (e *Engine) finishByScore(ctx context.Context, t *model.Table, reason string) error {
	g := t.Game
	winner := ""
	best := -1
	for _, s := range t.ActiveSeats() {
		score := card.Evaluate(s.Hand, g.JokerCard).Score
		if best == -1 || score < best {
			best = score
			winner = s.UserID
		}
	}
	return e.finish(ctx, t, winner, reason)
}

// finish settles the round exactly once: scores every seat, applies all
// wallet deltas as one atomic batch, appends the signed ledger record
// and flips the table to FINISHED. A wallet failure aborts the whole
// finish and leaves the round reprocessable.
func (e *Engine) finish(ctx context.Context, t *model.Table, winnerID, reason string) error {
	if t.Status != model.StatusInProgress || t.Game == nil {
		return invariantError("finish on table %s in status %s", t.ID, t.Status)
	}
	g := t.Game

	now := e.clock.Now()
	settlement := &model.Settlement{
		TableID:   t.ID,
		Reason:    reason,
		WinnerID:  winnerID,
		Stake:     t.Stake,
		SettledAt: now,
	}

	var pot int64
	for _, s := range t.Seats {
		switch {
		case s.UserID == winnerID:
			s.Score = 0
		case s.Status == model.SeatDropped:
			s.Score = s.DropPenalty
		default:
			s.Score = card.Evaluate(s.Hand, g.JokerCard).Score
		}
		if s.UserID != winnerID {
			pot += int64(s.Score) * t.Stake
		}
	}

	// Losers pay score x stake; the winner takes the pot minus rake.
	// With no winner (everyone dropped) the whole pot is raked.
	rake := pot * int64(e.cfg.RakePercent) / 100
	if winnerID == "" {
		rake = pot
	}

	var deltas []model.WalletDelta
	for _, s := range t.Seats {
		entry := model.SettlementEntry{
			UserID:   s.UserID,
			UserName: s.UserName,
			Score:    s.Score,
			Winner:   s.UserID == winnerID,
		}
		if s.UserID == winnerID {
			entry.Amount = pot - rake
		} else {
			entry.Amount = -int64(s.Score) * t.Stake
		}
		settlement.Entries = append(settlement.Entries, entry)
		if entry.Amount != 0 {
			deltas = append(deltas, model.WalletDelta{
				UserID:      s.UserID,
				Amount:      entry.Amount,
				Type:        model.TxTypeSettlement,
				Description: fmt.Sprintf("table %s settlement (%s)", t.ID, reason),
			})
		}
	}
	settlement.Pot = pot
	settlement.Rake = rake

	if len(deltas) > 0 {
		if _, err := e.repo.ApplyWalletDeltas(ctx, deltas); err != nil {
			return fmt.Errorf("settlement wallet application failed: %w", err)
		}
	}

	payload, err := ledger.Canonicalize(settlement)
	if err != nil {
		return fmt.Errorf("failed to canonicalize settlement: %w", err)
	}
	hash := ledger.Hash(payload)
	signature := ledger.Sign(hash, e.cfg.LedgerSecret)

	entry, err := e.repo.AppendLedgerEntry(ctx, t.ID, winnerID, payload, hash, signature)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	t.Status = model.StatusFinished
	g.WinnerID = winnerID
	g.EndReason = reason
	g.FinishedAt = &now
	g.Settlement = settlement
	g.LedgerEntryID = entry.ID
	g.Turn = nil

	e.log.Info().
		Str("table_id", t.ID).
		Str("winner_id", winnerID).
		Str("reason", reason).
		Int64("pot", pot).
		Int64("rake", rake).
		Int64("ledger_entry_id", entry.ID).
		Msg("Game settled")
	return nil
}

// LedgerVerification is the result of independently checking one
// ledger record.
type LedgerVerification struct {
	EntryID           int64 `json:"entry_id"`
	PayloadHashValid  bool  `json:"payload_hash_valid"`
	SignatureValid    bool  `json:"signature_valid"`
	PreviousHashValid bool  `json:"previous_hash_valid"`
	Valid             bool  `json:"valid"`
}

// VerifyLedgerEntry re-derives the payload hash, the HMAC signature and
// the previous-hash link of a single stored record, without replaying
// table history.
func (e *Engine) VerifyLedgerEntry(ctx context.Context, id int64) (*LedgerVerification, error) {
	entry, err := e.repo.GetLedgerEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	v := &LedgerVerification{EntryID: id}
	v.PayloadHashValid = ledger.Hash(entry.Payload) == entry.PayloadHash
	v.SignatureValid = ledger.VerifySignature(entry.PayloadHash, entry.Signature, e.cfg.LedgerSecret)

	prev, err := e.repo.GetPreviousLedgerEntry(ctx, entry.TableID, entry.ID)
	switch {
	case errors.Is(err, repository.ErrLedgerNotFound):
		v.PreviousHashValid = entry.PreviousHash == nil
	case err != nil:
		return nil, err
	default:
		v.PreviousHashValid = entry.PreviousHash != nil && *entry.PreviousHash == prev.PayloadHash
	}

	v.Valid = v.PayloadHashValid && v.SignatureValid && v.PreviousHashValid
	return v, nil
}

// GetLedgerEntry exposes a raw ledger record for audit tooling.
func (e *Engine) GetLedgerEntry(ctx context.Context, id int64) (*model.LedgerEntry, error) {
	return e.repo.GetLedgerEntry(ctx, id)
}
