package core_test

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"dework/core"
	"dework/core/nodetest"
	"dework/crypto"
	"dework/native/common"
	"dework/native/deposit"
	"dework/native/token"
	"dework/storage"
)

func TestEventsPublishedAfterCommit(t *testing.T) {
	f := nodetest.New(t)
	ch, cancel := f.Node.Subscribe(16)
	defer cancel()

	pos := f.Open(t, 1_000*nodetest.USDC, 30, 50)
	evt := <-ch
	if evt.Type != deposit.EventTypeOpened || evt.Sequence != 1 || evt.Timestamp != nodetest.Genesis {
		t.Fatalf("unexpected opened event %+v", evt)
	}
	if evt.Attributes["id"] != "1" {
		t.Fatalf("unexpected id attribute %q", evt.Attributes["id"])
	}

	f.Clock.Advance(40 * nodetest.Day)
	s, err := f.Node.NormalEnd(f.Tenant, pos.ID)
	if err != nil {
		t.Fatalf("normal end: %v", err)
	}
	evt = <-ch
	if evt.Type != deposit.EventTypeSettled || evt.Sequence != 2 {
		t.Fatalf("unexpected settled event %+v", evt)
	}
	if evt.Attributes["value"] != s.Value.String() {
		t.Fatalf("event value %s, settlement %s", evt.Attributes["value"], s.Value)
	}
}

func TestFailedOperationRollsBack(t *testing.T) {
	f := nodetest.New(t)
	ch, cancel := f.Node.Subscribe(16)
	defer cancel()

	// No allowance: the id sequence advances inside the transaction before the
	// transfer fails, and must not survive.
	_, err := f.Node.Open(context.Background(), f.Request(1_000*nodetest.USDC, 30, 50))
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	select {
	case evt := <-ch:
		t.Fatalf("rolled back operation published %+v", evt)
	default:
	}
	if got := f.Balance(t, f.Tenant); got != 100_000*nodetest.USDC {
		t.Fatalf("tenant balance changed: %d", got)
	}
	active, err := f.Node.ActivePositions()
	if err != nil || len(active) != 0 {
		t.Fatalf("active positions after rollback: %d %v", len(active), err)
	}
	if pos := f.Open(t, 1_000*nodetest.USDC, 30, 50); pos.ID != 1 {
		t.Fatalf("expected id 1 after rollback, got %d", pos.ID)
	}
}

func TestRejectedSettlementLeavesPositionActive(t *testing.T) {
	f := nodetest.New(t)
	pos := f.Open(t, 1_000*nodetest.USDC, 30, 50)
	if err := f.Node.SetPaused(f.Admin, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	f.Clock.Advance(40 * nodetest.Day)
	if _, err := f.Node.NormalEnd(f.Landlord, pos.ID); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	got, err := f.Node.Position(pos.ID)
	if err != nil || !got.Active {
		t.Fatalf("position should stay active: %+v %v", got, err)
	}
	paused, _ := f.Node.Paused()
	if !paused {
		t.Fatalf("expected paused flag")
	}
}

func TestConcurrentOpensAreSerialised(t *testing.T) {
	f := nodetest.New(t)
	const workers = 16
	principal := int64(100 * nodetest.USDC)
	if err := f.Node.Approve(f.Tenant, deposit.ModuleAddress(), big.NewInt(principal*workers)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []uint64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pos, err := f.Node.Open(context.Background(), f.Request(principal, 30, 50))
			if err != nil {
				t.Errorf("open: %v", err)
				return
			}
			mu.Lock()
			ids = append(ids, pos.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != uint64(i+1) {
			t.Fatalf("ids not a dense sequence: %v", ids)
		}
	}
	snap, err := f.Node.PoolSnapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalNominal.Int64() != principal*workers {
		t.Fatalf("pool nominal %s", snap.TotalNominal)
	}
}

func TestKeeperFlow(t *testing.T) {
	f := nodetest.New(t)
	pos := f.Open(t, 1_000*nodetest.USDC, 30, 50)
	due, err := f.Node.DuePositions()
	if err != nil || len(due) != 0 {
		t.Fatalf("nothing should be due yet: %v %v", due, err)
	}
	f.Clock.Advance(37 * nodetest.Day)
	due, _ = f.Node.DuePositions()
	if len(due) != 1 || due[0] != pos.ID {
		t.Fatalf("expected %d due, got %v", pos.ID, due)
	}
	s, err := f.Node.SettleIfDue(f.Keeper, pos.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if s.Path != deposit.PathScheduled {
		t.Fatalf("unexpected path %s", s.Path)
	}
	if got := f.Balance(t, f.Treasury); got != s.Fee.Int64() {
		t.Fatalf("treasury %d fee %s", got, s.Fee)
	}
}

func TestFaucet(t *testing.T) {
	f := nodetest.New(t)
	if err := f.Node.Faucet(f.Landlord, big.NewInt(1)); !errors.Is(err, core.ErrFaucetDisabled) {
		t.Fatalf("expected faucet disabled, got %v", err)
	}

	f = nodetest.New(t, core.WithFaucet(big.NewInt(500*nodetest.USDC)))
	if err := f.Node.Faucet(f.Landlord, big.NewInt(501*nodetest.USDC)); !errors.Is(err, token.ErrInvalidAmount) {
		t.Fatalf("expected cap error, got %v", err)
	}
	if err := f.Node.Faucet(f.Landlord, big.NewInt(500*nodetest.USDC)); err != nil {
		t.Fatalf("faucet: %v", err)
	}
	if got := f.Balance(t, f.Landlord); got != 500*nodetest.USDC {
		t.Fatalf("landlord balance %d", got)
	}
}

func TestNodeWithLevelDBGenesisReload(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	db, err := storage.NewLevelDB(dbPath)
	if err != nil {
		t.Fatalf("create leveldb: %v", err)
	}
	f := nodetest.NewWithDB(t, db)
	pos := f.Open(t, 1_000*nodetest.USDC, 30, 50)
	f.Node.Close()

	reopened, err := storage.NewLevelDB(dbPath)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	f = nodetest.NewWithDB(t, reopened)
	defer f.Node.Close()

	got, err := f.Node.Position(pos.ID)
	if err != nil {
		t.Fatalf("position after restart: %v", err)
	}
	if !got.Active || got.Principal.Cmp(pos.Principal) != 0 {
		t.Fatalf("unexpected position after restart %+v", got)
	}
	if bal := f.Balance(t, f.Tenant); bal != 99_000*nodetest.USDC {
		t.Fatalf("genesis allocation re-applied: %d", bal)
	}
	next := f.Open(t, 500*nodetest.USDC, 30, 50)
	if next.ID != pos.ID+1 {
		t.Fatalf("sequence not persisted: %d", next.ID)
	}
}

type slowGate struct {
	entered chan struct{}
	release chan struct{}
}

func (g *slowGate) IsVerified(ctx context.Context, _ crypto.Address) (bool, error) {
	close(g.entered)
	select {
	case <-g.release:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func TestSlowIdentityGateDoesNotHoldNodeLock(t *testing.T) {
	gate := &slowGate{entered: make(chan struct{}), release: make(chan struct{})}
	f := nodetest.New(t, core.WithIdentityGate(gate))
	principal := int64(250 * nodetest.USDC)
	if err := f.Node.Approve(f.Tenant, deposit.ModuleAddress(), big.NewInt(principal)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	type result struct {
		pos *deposit.Position
		err error
	}
	opened := make(chan result, 1)
	go func() {
		pos, err := f.Node.Open(context.Background(), f.Request(principal, 30, 50))
		opened <- result{pos, err}
	}()
	<-gate.entered

	done := make(chan error, 1)
	go func() { done <- f.Node.Approve(f.Landlord, f.Tenant, big.NewInt(nodetest.USDC)) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("approve while gate pending: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("node lock held while identity gate was pending")
	}

	close(gate.release)
	res := <-opened
	if res.err != nil {
		t.Fatalf("open: %v", res.err)
	}
	if !res.pos.VerifiedAtCreation {
		t.Fatalf("expected verified snapshot")
	}
}

func TestEventLogPersistsAcrossRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	db, err := storage.NewLevelDB(dbPath)
	if err != nil {
		t.Fatalf("create leveldb: %v", err)
	}
	f := nodetest.NewWithDB(t, db)
	f.Open(t, 1_000*nodetest.USDC, 30, 50)
	head, err := f.Node.EventHead()
	if err != nil || head == 0 {
		t.Fatalf("event head %d: %v", head, err)
	}
	f.Node.Close()

	reopened, err := storage.NewLevelDB(dbPath)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	f = nodetest.NewWithDB(t, reopened)
	defer f.Node.Close()

	events, unsubscribe := f.Node.Subscribe(64)
	defer unsubscribe()
	f.Open(t, 500*nodetest.USDC, 30, 50)
	first := <-events
	if first.Sequence != head+1 {
		t.Fatalf("sequence restarted: got %d want %d", first.Sequence, head+1)
	}

	logged, err := f.Node.EventsAfter(0, 1000)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	for i, evt := range logged {
		if evt.Sequence != uint64(i+1) {
			t.Fatalf("event log not dense at %d: %d", i, evt.Sequence)
		}
	}
	if uint64(len(logged)) <= head {
		t.Fatalf("expected events from both lifetimes, got %d", len(logged))
	}
}
