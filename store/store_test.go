package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dework/core/nodetest"
	"dework/core/types"
	"dework/native/deposit"
	"dework/observability/logging"
	"dework/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(DriverSQLite, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	require.Error(t, err)
}

func TestIdempotencyFirstWriterWins(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.LookupIdempotency(ctx, "k1", "h1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.SaveIdempotency(ctx, &IdempotencyKey{Key: "k1", RequestHash: "h1", Status: 201, Response: `{"id":1}`}))
	require.NoError(t, st.SaveIdempotency(ctx, &IdempotencyKey{Key: "k1", RequestHash: "h1", Status: 500, Response: `{}`}))

	record, err := st.LookupIdempotency(ctx, "k1", "h1")
	require.NoError(t, err)
	require.Equal(t, 201, record.Status)
	require.Equal(t, `{"id":1}`, record.Response)

	_, err = st.LookupIdempotency(ctx, "k1", "other")
	require.ErrorIs(t, err, ErrIdempotencyMismatch)
}

func TestIndexerRecordsSettlements(t *testing.T) {
	st := openTestStore(t)
	fx := nodetest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := fx.Node.Subscribe(16)
	defer unsubscribe()
	indexer := NewIndexer(st, fx.Node, logging.Discard())
	done := make(chan error, 1)
	go func() { done <- indexer.Run(ctx, events) }()

	pos := fx.Open(t, 1000*nodetest.USDC, 30, 50)
	fx.Clock.Advance(38 * nodetest.Day)
	_, err := fx.Node.SettleIfDue(fx.Keeper, pos.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := st.Receipt(ctx, pos.ID)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	receipt, err := st.Receipt(ctx, pos.ID)
	require.NoError(t, err)
	require.Equal(t, string(deposit.PathScheduled), receipt.Path)
	require.Equal(t, fx.Landlord.Hex(), receipt.Landlord)

	forLandlord, err := st.ReceiptsFor(ctx, fx.Landlord.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, forLandlord, 1)

	entries, err := st.Audit(ctx, 0, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	seen := make([]string, 0, len(entries))
	for _, entry := range entries {
		seen = append(seen, entry.Type)
	}
	require.Contains(t, seen, deposit.EventTypeOpened)
	require.Contains(t, seen, deposit.EventTypeSettled)

	cancel()
	require.NoError(t, <-done)
}

func TestIndexIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	indexer := NewIndexer(st, nil, logging.Discard())
	ctx := context.Background()
	evt := &types.Event{
		Sequence:  7,
		Type:      deposit.EventTypeSettled,
		Timestamp: nodetest.Genesis,
		Attributes: map[string]string{
			"id":             "3",
			"path":           "normal_end",
			"tenant":         "0x01",
			"landlord":       "0x02",
			"landlordAmount": "10",
			"settledAt":      "1700000000",
		},
	}
	require.NoError(t, indexer.Index(ctx, evt))
	require.NoError(t, indexer.Index(ctx, evt))

	entries, err := st.Audit(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].PositionID)
	require.EqualValues(t, 3, *entries[0].PositionID)

	receipt, err := st.Receipt(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, "10", receipt.LandlordAmount)
	require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), receipt.SettledAt.UTC())
}

func settleOne(t *testing.T, fx *nodetest.Fixture, principal int64) uint64 {
	t.Helper()
	pos := fx.Open(t, principal, 30, 50)
	fx.Clock.Advance(38 * nodetest.Day)
	_, err := fx.Node.SettleIfDue(fx.Keeper, pos.ID)
	require.NoError(t, err)
	return pos.ID
}

func TestIndexerRecoversMissedDeliveries(t *testing.T) {
	st := openTestStore(t)
	fx := nodetest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A one slot subscription overflows long before the indexer starts.
	wake, unsubscribe := fx.Node.Subscribe(1)
	defer unsubscribe()
	const settlements = 12
	for i := 0; i < settlements; i++ {
		settleOne(t, fx, int64(100+i)*nodetest.USDC)
	}
	require.NotZero(t, fx.Node.Broadcaster().Dropped())

	indexer := NewIndexer(st, fx.Node, logging.Discard())
	done := make(chan error, 1)
	go func() { done <- indexer.Run(ctx, wake) }()

	head, err := fx.Node.EventHead()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		last, err := st.LastSequence(ctx)
		return err == nil && last == head
	}, 5*time.Second, 20*time.Millisecond)

	receipts, err := st.ReceiptsFor(ctx, fx.Landlord.Hex(), 100)
	require.NoError(t, err)
	require.Len(t, receipts, settlements)
	entries, err := st.Audit(ctx, 0, 1000)
	require.NoError(t, err)
	require.Len(t, entries, int(head))

	cancel()
	require.NoError(t, <-done)
}

func TestIndexerResumesAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	chainPath := filepath.Join(dir, "chain")
	indexPath := filepath.Join(dir, "index.db")
	ctx := context.Background()

	db, err := storage.NewLevelDB(chainPath)
	require.NoError(t, err)
	fx := nodetest.NewWithDB(t, db)
	first := settleOne(t, fx, 500*nodetest.USDC)
	st, err := Open(DriverSQLite, indexPath)
	require.NoError(t, err)
	require.NoError(t, NewIndexer(st, fx.Node, logging.Discard()).CatchUp(ctx))
	firstHead, err := st.LastSequence(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	fx.Node.Close()

	reopened, err := storage.NewLevelDB(chainPath)
	require.NoError(t, err)
	fx = nodetest.NewWithDB(t, reopened)
	defer fx.Node.Close()
	second := settleOne(t, fx, 700*nodetest.USDC)
	st, err = Open(DriverSQLite, indexPath)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, NewIndexer(st, fx.Node, logging.Discard()).CatchUp(ctx))

	head, err := fx.Node.EventHead()
	require.NoError(t, err)
	require.Greater(t, head, firstHead)
	entries, err := st.Audit(ctx, 0, 1000)
	require.NoError(t, err)
	require.Len(t, entries, int(head))
	for i, entry := range entries {
		require.EqualValues(t, i+1, entry.Sequence)
	}

	receipts, err := st.ReceiptsFor(ctx, fx.Landlord.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	require.Equal(t, second, receipts[0].PositionID)
	require.Equal(t, first, receipts[1].PositionID)
}
