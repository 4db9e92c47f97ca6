// Package engine owns authoritative state for all running rummy tables:
// the per-table state machine, turn timing, settlement and the audit
// surface. All mutating operations on one table are serialized through
// a table-keyed lock and commit atomically: an operation either fully
// persists or leaves no observable change.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"rummy-engine/internal/card"
	"rummy-engine/internal/model"
	"rummy-engine/internal/pkg/lock"
	"rummy-engine/internal/repository"
)

// Drop penalties by classification. A first-turn drop is cheapest; a
// full drop, timeout drop and invalid declare all cost the maximum.
const (
	PenaltyFirstDrop  = 20
	PenaltyMiddleDrop = 40
	PenaltyFullDrop   = 80
)

// Config holds engine tuning.
type Config struct {
	TurnDuration     time.Duration
	TimeoutDropAfter int
	RakePercent      int
	LedgerSecret     []byte
	InitialBalance   int64
}

// Engine is the authoritative registry of live tables. Tables are held
// in memory and written through to the repository on every mutation.
type Engine struct {
	repo  repository.Repository
	cfg   Config
	locks *lock.TableLock
	clock quartz.Clock
	log   zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.RWMutex
	tables map[string]*model.Table
}

// Option customizes an Engine, mainly for tests.
type Option func(*Engine)

// WithClock injects a clock; tests use a quartz mock.
func WithClock(c quartz.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRand injects the shuffle RNG for deterministic deals.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// New creates the engine. Call Recover before serving traffic so
// persisted tables are reloaded and repaired.
func New(repo repository.Repository, cfg Config, logger zerolog.Logger, opts ...Option) *Engine {
	if cfg.TimeoutDropAfter <= 0 {
		cfg.TimeoutDropAfter = 3
	}
	if cfg.TurnDuration <= 0 {
		cfg.TurnDuration = 30 * time.Second
	}
	e := &Engine{
		repo:   repo,
		cfg:    cfg,
		locks:  lock.NewTableLock(),
		clock:  quartz.NewReal(),
		log:    logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		tables: make(map[string]*model.Table),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// table returns the live aggregate for id. Callers must hold the
// table's lock before mutating the returned value's clone.
func (e *Engine) table(id string) (*model.Table, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[id]
	return t, ok
}

// eventQueue collects the replay events an operation stages so they
// commit in the same repository write as the table state.
type eventQueue struct {
	staged []repository.Event
	err    error
}

// add stages one event. Payload encoding failures are held until the
// commit so the operation fails instead of losing the event.
func (q *eventQueue) add(eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		if q.err == nil {
			q.err = fmt.Errorf("failed to encode %s event payload: %w", eventType, err)
		}
		return
	}
	q.staged = append(q.staged, repository.Event{Type: eventType, Payload: data})
}

// update runs op against a clone of the table under its lock, persists
// the clone together with the events op staged, and only then publishes
// the clone to the registry. A failing op or a failing write leaves the
// previous state visible and appends nothing to the replay stream.
func (e *Engine) update(ctx context.Context, tableID string, op func(t *model.Table, ev *eventQueue) error) (*model.Table, error) {
	e.locks.Lock(tableID)
	defer e.locks.Unlock(tableID)

	current, ok := e.table(tableID)
	if !ok {
		return nil, ErrTableNotFound
	}

	clone := current.Clone()
	ev := &eventQueue{}
	if err := op(clone, ev); err != nil {
		return nil, err
	}
	if ev.err != nil {
		return nil, ev.err
	}
	clone.UpdatedAt = e.clock.Now()

	if err := e.repo.UpsertTable(ctx, clone, ev.staged...); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.tables[tableID] = clone
	e.mu.Unlock()
	return clone, nil
}

// publish inserts a brand-new table into the registry.
func (e *Engine) publish(t *model.Table) {
	e.mu.Lock()
	e.tables[t.ID] = t
	e.mu.Unlock()
}

// drop removes a table from the registry after deletion.
func (e *Engine) drop(tableID string) {
	e.mu.Lock()
	delete(e.tables, tableID)
	e.mu.Unlock()
	e.locks.Forget(tableID)
}

func (e *Engine) tableIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.tables))
	for id := range e.tables {
		ids = append(ids, id)
	}
	return ids
}

// event appends a replay event outside the table-write path, for
// operations whose state lives elsewhere (disputes). Table-state
// operations stage events through update instead.
func (e *Engine) event(ctx context.Context, tableID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event payload: %w", eventType, err)
	}
	if _, err := e.repo.AppendEvent(ctx, tableID, eventType, data); err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}
	return nil
}

// audit appends an operational audit record, best effort.
func (e *Engine) audit(ctx context.Context, tableID, actorID, action string, detail map[string]any) {
	data, err := json.Marshal(detail)
	if err != nil {
		e.log.Error().Err(err).Str("table_id", tableID).Str("action", action).Msg("Failed to encode audit detail")
		return
	}
	if err := e.repo.AppendAudit(ctx, tableID, actorID, action, data); err != nil {
		e.log.Error().Err(err).Str("table_id", tableID).Str("action", action).Msg("Failed to append audit record")
	}
}

func (e *Engine) shuffle(cards []string) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	card.Shuffle(cards, e.rng)
}

func (e *Engine) randInt(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

func (e *Engine) newTurn(userID string, number int) *model.TurnState {
	return &model.TurnState{
		UserID:    userID,
		Number:    number,
		ExpiresAt: e.clock.Now().Add(e.cfg.TurnDuration),
	}
}

func dropPenalty(mode string) int {
	switch mode {
	case model.DropFirst:
		return PenaltyFirstDrop
	case model.DropMiddle:
		return PenaltyMiddleDrop
	default:
		return PenaltyFullDrop
	}
}
