package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rummy-engine/internal/model"
	"rummy-engine/internal/repository"
)

const testStake = 100

func newTestEngine(t *testing.T) (*Engine, *repository.Memory, *quartz.Mock) {
	t.Helper()
	repo := repository.NewMemory()
	clock := quartz.NewMock(t)
	e := New(repo, Config{
		TurnDuration:     30 * time.Second,
		TimeoutDropAfter: 3,
		RakePercent:      5,
		LedgerSecret:     []byte("test-ledger-secret"),
		InitialBalance:   10000,
	}, zerolog.Nop(), WithClock(clock), WithRand(rand.New(rand.NewSource(1))))
	return e, repo, clock
}

// newWaitingTable creates a table hosted by alice with bob seated.
func newWaitingTable(t *testing.T, e *Engine) string {
	t.Helper()
	ctx := context.Background()
	v, err := e.CreateTable(ctx, "alice", "Alice", "friday night", 4, testStake)
	require.NoError(t, err)
	_, err = e.JoinTable(ctx, v.ID, "bob", "Bob")
	require.NoError(t, err)
	return v.ID
}

// mutateTable rewrites a table's state through the registry and the
// repository, for tests that need a crafted deal.
func mutateTable(t *testing.T, e *Engine, tableID string, fn func(tb *model.Table)) {
	t.Helper()
	tb, ok := e.table(tableID)
	require.True(t, ok)
	clone := tb.Clone()
	fn(clone)
	require.NoError(t, e.repo.UpsertTable(context.Background(), clone))
	e.publish(clone)
}

// craftedGame puts a two-player table in progress with fixed hands and
// piles. Alice holds a hand that declares valid at score zero; bob
// holds nothing meldable. The pile tops are the last slice elements.
func craftedGame(t *testing.T, e *Engine) string {
	t.Helper()
	tableID := newWaitingTable(t, e)
	mutateTable(t, e, tableID, func(tb *model.Table) {
		tb.Status = model.StatusInProgress
		tb.Seats[0].Hand = []string{"2S", "3S", "4S", "5H", "6H", "7H", "9D", "9S", "9H", "KC", "KD", "KH", "KS"}
		tb.Seats[1].Hand = []string{"2C", "4C", "6C", "8C", "10C", "QC", "AC", "3D", "5D", "7D", "9H", "JH", "KH"}
		tb.Game = &model.GameState{
			ClosedPile:    []string{"8D", "7C", "5C"},
			OpenPile:      []string{"2D"},
			JokerCard:     "JOKER",
			WildRank:      "",
			ActivePlayers: []string{"alice", "bob"},
			Turn:          e.newTurn("alice", 1),
		}
	})
	return tableID
}

func eventTypes(t *testing.T, repo *repository.Memory, tableID string) []string {
	t.Helper()
	events, err := repo.ListEventsSince(context.Background(), tableID, 0, 1000)
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestCreateTable(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()

	v, err := e.CreateTable(ctx, "alice", "Alice", "friday night", 4, testStake)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, v.Status)
	assert.Equal(t, "alice", v.HostID)
	require.Len(t, v.Seats, 1)
	assert.Equal(t, 1, v.Seats[0].Number)
	assert.NotEmpty(t, v.Seats[0].ReclaimCode, "host sees own reclaim code")

	// The host wallet is provisioned up front.
	w, err := repo.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), w.Balance)

	assert.Contains(t, eventTypes(t, repo, v.ID), model.EventTableCreated)
}

func TestCreateTable_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		tableName  string
		maxPlayers int
		stake      int64
	}{
		{"short name", "ab", 4, 100},
		{"too few players", "friday", 1, 100},
		{"too many players", "friday", 7, 100},
		{"zero stake", "friday", 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreateTable(ctx, "alice", "Alice", tt.tableName, tt.maxPlayers, tt.stake)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestJoinTable(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	v, err := e.CreateTable(ctx, "alice", "Alice", "friday night", 2, testStake)
	require.NoError(t, err)

	v2, err := e.JoinTable(ctx, v.ID, "bob", "Bob")
	require.NoError(t, err)
	require.Len(t, v2.Seats, 2)
	assert.Equal(t, 2, v2.Seats[1].Number)

	// Rejoining is an idempotent refresh, not a second seat.
	v3, err := e.JoinTable(ctx, v.ID, "bob", "Bob")
	require.NoError(t, err)
	assert.Len(t, v3.Seats, 2)

	// Table is at capacity for anyone new.
	_, err = e.JoinTable(ctx, v.ID, "carol", "Carol")
	assert.ErrorIs(t, err, ErrTableFull)

	_, err = e.JoinTable(ctx, "no-such-table", "carol", "Carol")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestJoinTable_AfterStartOnlyRejoin(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	tableID := craftedGame(t, e)

	// A seated player may rejoin mid-game.
	_, err := e.JoinTable(ctx, tableID, "bob", "Bob")
	require.NoError(t, err)

	// A stranger may not.
	_, err = e.JoinTable(ctx, tableID, "carol", "Carol")
	assert.ErrorIs(t, err, ErrTableNotWaiting)
}

func TestLeaveTable(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()

	v, err := e.CreateTable(ctx, "alice", "Alice", "friday night", 4, testStake)
	require.NoError(t, err)
	_, err = e.JoinTable(ctx, v.ID, "bob", "Bob")
	require.NoError(t, err)
	_, err = e.JoinTable(ctx, v.ID, "carol", "Carol")
	require.NoError(t, err)

	// Host leaves: seats renumber densely and the host role moves.
	require.NoError(t, e.LeaveTable(ctx, v.ID, "alice"))
	view, err := e.GetTableView(ctx, v.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", view.HostID)
	require.Len(t, view.Seats, 2)
	assert.Equal(t, 1, view.Seats[0].Number)
	assert.Equal(t, 2, view.Seats[1].Number)

	assert.ErrorIs(t, e.LeaveTable(ctx, v.ID, "alice"), ErrNotSeated)

	// Last player out deletes the table.
	require.NoError(t, e.LeaveTable(ctx, v.ID, "carol"))
	require.NoError(t, e.LeaveTable(ctx, v.ID, "bob"))
	_, err = e.GetTableView(ctx, v.ID, "bob")
	assert.ErrorIs(t, err, ErrTableNotFound)
	_, err = repo.LoadTables(ctx)
	require.NoError(t, err)
	assert.Contains(t, eventTypes(t, repo, v.ID), model.EventTableDeleted)
}

func TestLeaveTable_AfterStart(t *testing.T) {
	e, _, _ := newTestEngine(t)
	tableID := craftedGame(t, e)
	assert.ErrorIs(t, e.LeaveTable(context.Background(), tableID, "bob"), ErrCannotLeaveAfterStart)
}

func TestSetSeatConnection(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	tableID := newWaitingTable(t, e)

	e.SetSeatConnection(ctx, tableID, "bob", false)
	view, err := e.GetTableView(ctx, tableID, "bob")
	require.NoError(t, err)
	assert.False(t, view.Seats[1].Connected)

	// Unknown table and unknown seat are silent no-ops.
	e.SetSeatConnection(ctx, "no-such-table", "bob", true)
	e.SetSeatConnection(ctx, tableID, "ghost", true)
}

func TestViews_Redaction(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	tableID := craftedGame(t, e)

	view, err := e.GetTableView(ctx, tableID, "alice")
	require.NoError(t, err)

	// Alice sees her own hand and code but only bob's hand size.
	assert.Len(t, view.Seats[0].Hand, 13)
	assert.NotEmpty(t, view.Seats[0].ReclaimCode)
	assert.Empty(t, view.Seats[1].Hand)
	assert.Equal(t, 13, view.Seats[1].HandSize)
	assert.Empty(t, view.Seats[1].ReclaimCode)

	// Pile contents stay hidden; only counts and the open top leak.
	require.NotNil(t, view.Game)
	assert.Equal(t, 3, view.Game.ClosedCount)
	assert.Equal(t, "2D", view.Game.OpenTop)

	// A spectator sees no hands at all.
	view, err = e.GetTableView(ctx, tableID, "spectator")
	require.NoError(t, err)
	assert.Empty(t, view.Seats[0].Hand)
	assert.Empty(t, view.Seats[1].Hand)
}

func TestListTables(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	assert.Empty(t, e.ListTables(ctx))

	v1, err := e.CreateTable(ctx, "alice", "Alice", "table one", 4, 100)
	require.NoError(t, err)
	_, err = e.CreateTable(ctx, "bob", "Bob", "table two", 2, 50)
	require.NoError(t, err)

	tables := e.ListTables(ctx)
	require.Len(t, tables, 2)
	for _, s := range tables {
		if s.ID == v1.ID {
			assert.Equal(t, "table one", s.Name)
			assert.Equal(t, 1, s.Players)
			assert.Equal(t, int64(100), s.Stake)
		}
	}
}

// flakyTableRepo simulates a table store outage.
type flakyTableRepo struct {
	*repository.Memory
	fail bool
}

func (r *flakyTableRepo) UpsertTable(ctx context.Context, table *model.Table, events ...repository.Event) error {
	if r.fail {
		return errors.New("table store down")
	}
	return r.Memory.UpsertTable(ctx, table, events...)
}

func TestUpdate_EventCommitsWithState(t *testing.T) {
	repo := &flakyTableRepo{Memory: repository.NewMemory()}
	clock := quartz.NewMock(t)
	e := New(repo, Config{
		TurnDuration:     30 * time.Second,
		TimeoutDropAfter: 3,
		RakePercent:      5,
		LedgerSecret:     []byte("test-ledger-secret"),
		InitialBalance:   10000,
	}, zerolog.Nop(), WithClock(clock), WithRand(rand.New(rand.NewSource(1))))
	ctx := context.Background()
	tableID := craftedGame(t, e)

	// A failed table write leaves neither state nor a replay event.
	repo.fail = true
	_, err := e.Draw(ctx, tableID, "alice", PileClosed)
	require.Error(t, err)
	assert.NotContains(t, eventTypes(t, repo.Memory, tableID), model.EventTurnDraw)
	v, err := e.GetTableView(ctx, tableID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 13, v.Seats[0].HandSize)

	// Once the store recovers, the draw commits together with its event.
	repo.fail = false
	v, err = e.Draw(ctx, tableID, "alice", PileClosed)
	require.NoError(t, err)
	assert.Equal(t, 14, v.Seats[0].HandSize)
	assert.Contains(t, eventTypes(t, repo.Memory, tableID), model.EventTurnDraw)
}
