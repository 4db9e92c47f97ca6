package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"rummy-engine/internal/model"
)

const maxReplayLimit = 500

// GetReplay returns the table's event stream after sinceID, for seated
// participants only. Spectating a table's replay would leak hidden
// state through DRAW payloads.
func (e *Engine) GetReplay(ctx context.Context, tableID, viewerID string, sinceID int64, limit int) ([]*model.TableEvent, error) {
	t, ok := e.table(tableID)
	if !ok {
		return nil, ErrTableNotFound
	}
	if t.Seat(viewerID) == nil {
		return nil, ErrNotAParticipant
	}
	if limit <= 0 || limit > maxReplayLimit {
		limit = maxReplayLimit
	}
	return e.repo.ListEventsSince(ctx, tableID, sinceID, limit)
}

// CreateDispute opens a dispute on a table. Only seated participants
// may raise one, and a reason is required.
func (e *Engine) CreateDispute(ctx context.Context, tableID, raisedBy, reason string) (*model.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError("dispute reason is required")
	}
	t, ok := e.table(tableID)
	if !ok {
		return nil, ErrTableNotFound
	}
	if t.Seat(raisedBy) == nil {
		return nil, ErrNotAParticipant
	}

	d := &model.Dispute{
		ID:        uuid.NewString(),
		TableID:   tableID,
		RaisedBy:  raisedBy,
		Reason:    reason,
		Status:    model.DisputeOpen,
		CreatedAt: e.clock.Now(),
	}
	if err := e.repo.CreateDispute(ctx, d); err != nil {
		return nil, err
	}

	if err := e.event(ctx, tableID, model.EventDisputeCreated, map[string]any{
		"dispute_id": d.ID,
		"raised_by":  raisedBy,
		"reason":     reason,
	}); err != nil {
		return nil, err
	}
	e.audit(ctx, tableID, raisedBy, "dispute_create", map[string]any{"dispute_id": d.ID})
	e.log.Info().Str("table_id", tableID).Str("dispute_id", d.ID).Str("raised_by", raisedBy).Msg("Dispute created")
	return d, nil
}

// ResolveDispute closes an open dispute with a resolution note.
// Resolution is an operator action and is not gated on seating.
func (e *Engine) ResolveDispute(ctx context.Context, disputeID, resolvedBy, resolution string) (*model.Dispute, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, validationError("dispute resolution is required")
	}

	d, err := e.repo.ResolveDispute(ctx, disputeID, resolvedBy, resolution)
	if err != nil {
		return nil, err
	}

	if err := e.event(ctx, d.TableID, model.EventDisputeResolved, map[string]any{
		"dispute_id":  d.ID,
		"resolved_by": resolvedBy,
		"resolution":  resolution,
	}); err != nil {
		return nil, err
	}
	e.audit(ctx, d.TableID, resolvedBy, "dispute_resolve", map[string]any{"dispute_id": d.ID})
	e.log.Info().Str("table_id", d.TableID).Str("dispute_id", d.ID).Str("resolved_by", resolvedBy).Msg("Dispute resolved")
	return d, nil
}

// ListDisputes returns all disputes raised against a table.
func (e *Engine) ListDisputes(ctx context.Context, tableID string) ([]*model.Dispute, error) {
	return e.repo.ListDisputes(ctx, tableID)
}

// ListAuditLog returns the most recent audit records for a table.
func (e *Engine) ListAuditLog(ctx context.Context, tableID string, limit int) ([]*model.AuditRecord, error) {
	if limit <= 0 || limit > maxReplayLimit {
		limit = maxReplayLimit
	}
	return e.repo.ListAudit(ctx, tableID, limit)
}
