// Tests run the same conformance suite against both backends: the
// in-memory store always, and Postgres via testcontainers-go when
// Docker is available.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"rummy-engine/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupPostgres creates a PostgreSQL container, migrates the schema and
// returns a repository. Skips the test if Docker is not available.
func setupPostgres(t *testing.T) Repository {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	repo := NewPostgres(pool)
	require.NoError(t, repo.Migrate(ctx))

	t.Cleanup(func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	})
	return repo
}

func runBackends(t *testing.T, test func(t *testing.T, repo Repository)) {
	t.Run("memory", func(t *testing.T) {
		test(t, NewMemory())
	})
	t.Run("postgres", func(t *testing.T) {
		test(t, setupPostgres(t))
	})
}

func sampleTable(id string) *model.Table {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Table{
		ID:         id,
		Name:       "friday night",
		HostID:     "alice",
		MaxPlayers: 4,
		Stake:      100,
		Status:     model.StatusWaiting,
		Seats: []*model.Seat{
			{Number: 1, UserID: "alice", UserName: "Alice", Status: model.SeatActive, ReclaimCode: "rc-1"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRepository_Tables(t *testing.T) {
	runBackends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		tables, err := repo.LoadTables(ctx)
		require.NoError(t, err)
		assert.Empty(t, tables)

		tbl := sampleTable("t1")
		require.NoError(t, repo.UpsertTable(ctx, tbl))
		require.NoError(t, repo.UpsertTable(ctx, sampleTable("t2")))

		// Upsert replaces.
		tbl.Status = model.StatusInProgress
		tbl.Seats = append(tbl.Seats, &model.Seat{Number: 2, UserID: "bob", UserName: "Bob", Status: model.SeatActive, ReclaimCode: "rc-2"})
		require.NoError(t, repo.UpsertTable(ctx, tbl))

		tables, err = repo.LoadTables(ctx)
		require.NoError(t, err)
		require.Len(t, tables, 2)

		var loaded *model.Table
		for _, lt := range tables {
			if lt.ID == "t1" {
				loaded = lt
			}
		}
		require.NotNil(t, loaded)
		assert.Equal(t, model.StatusInProgress, loaded.Status)
		require.Len(t, loaded.Seats, 2)
		assert.Equal(t, "bob", loaded.Seats[1].UserID)

		require.NoError(t, repo.DeleteTable(ctx, "t2"))
		assert.ErrorIs(t, repo.DeleteTable(ctx, "t2"), ErrTableNotFound)

		tables, err = repo.LoadTables(ctx)
		require.NoError(t, err)
		assert.Len(t, tables, 1)
	})
}

func TestRepository_TableWriteCarriesEvents(t *testing.T) {
	runBackends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		require.NoError(t, repo.UpsertTable(ctx, sampleTable("t1"),
			Event{Type: model.EventTableCreated, Payload: []byte(`{"host_id":"alice"}`)},
			Event{Type: model.EventTableJoined, Payload: []byte(`{"user_id":"bob"}`)},
		))

		events, err := repo.ListEventsSince(ctx, "t1", 0, 100)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, model.EventTableCreated, events[0].Type)
		assert.Equal(t, model.EventTableJoined, events[1].Type)
		assert.JSONEq(t, `{"host_id":"alice"}`, string(events[0].Payload))

		require.NoError(t, repo.DeleteTable(ctx, "t1",
			Event{Type: model.EventTableDeleted, Payload: []byte(`{}`)},
		))
		events, err = repo.ListEventsSince(ctx, "t1", 0, 100)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, model.EventTableDeleted, events[2].Type)
	})
}

func TestRepository_Events(t *testing.T) {
	runBackends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		id1, err := repo.AppendEvent(ctx, "t1", model.EventTableCreated, []byte(`{"host":"alice"}`))
		require.NoError(t, err)
		id2, err := repo.AppendEvent(ctx, "t1", model.EventTableJoined, []byte(`{"user":"bob"}`))
		require.NoError(t, err)
		_, err = repo.AppendEvent(ctx, "t2", model.EventTableCreated, []byte(`{}`))
		require.NoError(t, err)
		assert.Greater(t, id2, id1)

		events, err := repo.ListEventsSince(ctx, "t1", 0, 100)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, model.EventTableCreated, events[0].Type)
		assert.Equal(t, model.EventTableJoined, events[1].Type)
		assert.JSONEq(t, `{"user":"bob"}`, string(events[1].Payload))

		// Resume from a cursor.
		events, err = repo.ListEventsSince(ctx, "t1", id1, 100)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, id2, events[0].ID)

		// Limit applies.
		events, err = repo.ListEventsSince(ctx, "t1", 0, 1)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func TestRepository_Wallets(t *testing.T) {
	runBackends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		_, err := repo.GetWallet(ctx, "alice")
		assert.ErrorIs(t, err, ErrWalletNotFound)

		w, err := repo.EnsureWallet(ctx, "alice", "Alice", 10000)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), w.Balance)

		// Ensure is idempotent and keeps the existing balance.
		w, err = repo.EnsureWallet(ctx, "alice", "Alice", 999)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), w.Balance)

		_, err = repo.EnsureWallet(ctx, "bob", "Bob", 500)
		require.NoError(t, err)

		txs, err := repo.ApplyWalletDeltas(ctx, []model.WalletDelta{
			{UserID: "alice", Amount: 300, Type: model.TxTypeSettlement, Description: "win"},
			{UserID: "bob", Amount: -300, Type: model.TxTypeSettlement, Description: "loss"},
		})
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, int64(10000), txs["alice"].BalanceBefore)
		assert.Equal(t, int64(10300), txs["alice"].BalanceAfter)
		assert.Equal(t, int64(200), txs["bob"].BalanceAfter)

		w, err = repo.GetWallet(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(200), w.Balance)
	})
}

func TestRepository_ApplyWalletDeltas_AllOrNothing(t *testing.T) {
	runBackends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		_, err := repo.EnsureWallet(ctx, "alice", "Alice", 1000)
		require.NoError(t, err)
		_, err = repo.EnsureWallet(ctx, "bob", "Bob", 100)
		require.NoError(t, err)

		// Bob cannot cover his delta; Alice's credit must not land.
		_, err = repo.ApplyWalletDeltas(ctx, []model.WalletDelta{
			{UserID: "alice", Amount: 500, Type: model.TxTypeSettlement},
			{UserID: "bob", Amount: -500, Type: model.TxTypeSettlement},
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		w, err := repo.GetWallet(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), w.Balance)
		w, err = repo.GetWallet(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(100), w.Balance)

		// Unknown wallet fails the whole batch too.
		_, err = repo.ApplyWalletDeltas(ctx, []model.WalletDelta{
			{UserID: "alice", Amount: -100, Type: model.TxTypeSettlement},
			{UserID: "ghost", Amount: 100, Type: model.TxTypeSettlement},
		})
		assert.ErrorIs(t, err, ErrWalletNotFound)

		w, err = repo.GetWallet(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), w.Balance)
	})
}

func TestRepository_ReassignWalletOwner(t *testing.T) {
	runBackends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		_, err := repo.EnsureWallet(ctx, "alice", "Alice", 700)
		require.NoError(t, err)

		require.NoError(t, repo.ReassignWalletOwner(ctx, "alice", "alice2"))

		_, err = repo.GetWallet(ctx, "alice")
		assert.ErrorIs(t, err, ErrWalletNotFound)

		w, err := repo.GetWallet(ctx, "alice2")
		require.NoError(t, err)
		assert.Equal(t, int64(700), w.Balance)

		assert.ErrorIs(t, repo.ReassignWalletOwner(ctx, "alice", "alice3"), ErrWalletNotFound)

		// Reassigning onto an existing wallet is rejected, never an
		// overwrite of the target's balance.
		_, err = repo.EnsureWallet(ctx, "dana", "Dana", 9000)
		require.NoError(t, err)
		assert.ErrorIs(t, repo.ReassignWalletOwner(ctx, "alice2", "dana"), ErrWalletExists)

		w, err = repo.GetWallet(ctx, "dana")
		require.NoError(t, err)
		assert.Equal(t, int64(9000), w.Balance)
		w, err = repo.GetWallet(ctx, "alice2")
		require.NoError(t, err)
		assert.Equal(t, int64(700), w.Balance)
	})
}

func TestRepository_LedgerChain(t *testing.T) {
	runBackends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		_, err := repo.GetLedgerEntry(ctx, 1)
		assert.ErrorIs(t, err, ErrLedgerNotFound)

		e1, err := repo.AppendLedgerEntry(ctx, "t1", "alice", []byte(`{"pot":300}`), "hash-1", "sig-1")
		require.NoError(t, err)
		assert.Nil(t, e1.PreviousHash, "first entry of a table has no previous hash")

		// An entry for another table does not join t1's chain.
		_, err = repo.AppendLedgerEntry(ctx, "t2", "carol", []byte(`{"pot":50}`), "hash-x", "sig-x")
		require.NoError(t, err)

		e2, err := repo.AppendLedgerEntry(ctx, "t1", "bob", []byte(`{"pot":900}`), "hash-2", "sig-2")
		require.NoError(t, err)
		require.NotNil(t, e2.PreviousHash)
		assert.Equal(t, "hash-1", *e2.PreviousHash)

		got, err := repo.GetLedgerEntry(ctx, e2.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", got.WinnerID)
		assert.Equal(t, []byte(`{"pot":900}`), got.Payload)

		prev, err := repo.GetPreviousLedgerEntry(ctx, "t1", e2.ID)
		require.NoError(t, err)
		assert.Equal(t, e1.ID, prev.ID)

		_, err = repo.GetPreviousLedgerEntry(ctx, "t1", e1.ID)
		assert.ErrorIs(t, err, ErrLedgerNotFound)
	})
}

func TestRepository_Disputes(t *testing.T) {
	runBackends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		d := &model.Dispute{
			ID:        "d1",
			TableID:   "t1",
			RaisedBy:  "bob",
			Reason:    "settlement looks wrong",
			Status:    model.DisputeOpen,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, repo.CreateDispute(ctx, d))

		disputes, err := repo.ListDisputes(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, disputes, 1)
		assert.Equal(t, model.DisputeOpen, disputes[0].Status)

		resolved, err := repo.ResolveDispute(ctx, "d1", "operator", "verified against the ledger")
		require.NoError(t, err)
		assert.Equal(t, model.DisputeResolved, resolved.Status)
		assert.Equal(t, "operator", resolved.ResolvedBy)
		require.NotNil(t, resolved.ResolvedAt)

		_, err = repo.ResolveDispute(ctx, "missing", "operator", "x")
		assert.ErrorIs(t, err, ErrDisputeNotFound)

		disputes, err = repo.ListDisputes(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, disputes)
	})
}

func TestRepository_Audit(t *testing.T) {
	runBackends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		require.NoError(t, repo.AppendAudit(ctx, "t1", "alice", "table_create", []byte(`{"stake":100}`)))
		require.NoError(t, repo.AppendAudit(ctx, "t1", "bob", "table_join", []byte(`{}`)))
		require.NoError(t, repo.AppendAudit(ctx, "t2", "carol", "table_create", []byte(`{}`)))

		records, err := repo.ListAudit(ctx, "t1", 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "table_join", records[0].Action, "newest record first")
		assert.Equal(t, "alice", records[1].ActorID)

		records, err = repo.ListAudit(ctx, "t1", 1)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "table_join", records[0].Action)
	})
}
