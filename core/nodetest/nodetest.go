// Package nodetest builds nodes over in-memory storage with a controllable
// clock for tests of packages that sit on top of core.
package nodetest

import (
	"context"
	"encoding/json"
	"math/big"
	"sync/atomic"
	"testing"

	"dework/core"
	"dework/core/genesis"
	"dework/crypto"
	"dework/native/deposit"
	"dework/storage"
)

const (
	USDC    = 1_000_000
	Day     = 24 * 60 * 60
	Genesis = int64(1_700_000_000)
)

// Clock is a manually advanced unix-seconds clock.
type Clock struct{ now atomic.Int64 }

func NewClock(start int64) *Clock {
	c := &Clock{}
	c.now.Store(start)
	return c
}

func (c *Clock) Now() int64 { return c.now.Load() }

func (c *Clock) Advance(seconds int64) { c.now.Add(seconds) }

// Fixture bundles a node with the well-known accounts seeded at genesis.
type Fixture struct {
	Node     *core.Node
	Clock    *Clock
	Admin    crypto.Address
	Treasury crypto.Address
	Keeper   crypto.Address
	Tenant   crypto.Address
	Landlord crypto.Address
}

// Accounts returns the fixture accounts without building a node.
func Accounts() (admin, treasury, keeper, tenant, landlord crypto.Address) {
	return crypto.ModuleAddress("nodetest/admin"),
		crypto.ModuleAddress("nodetest/treasury"),
		crypto.ModuleAddress("nodetest/keeper"),
		crypto.ModuleAddress("nodetest/tenant"),
		crypto.ModuleAddress("nodetest/landlord")
}

// SpecJSON is a genesis document with a funded 5% fixed venue bound, a funded
// 3% "alt" venue and 100k USDC allocated to the tenant.
func SpecJSON() []byte {
	admin, treasury, keeper, tenant, _ := Accounts()
	doc := map[string]any{
		"genesisTime": "2023-11-14T22:13:20Z",
		"token":       map[string]any{"symbol": "USDC", "decimals": 6},
		"params": map[string]any{
			"admin":                admin.Hex(),
			"treasury":             treasury.Hex(),
			"keeper":               keeper.Hex(),
			"platformFeePercent":   10,
			"disputeWindowSeconds": 7 * Day,
		},
		"venues": []any{
			map[string]any{"name": "fixed", "kind": "fixed", "rateBps": 500, "reserve": "100000000000"},
			map[string]any{"name": "alt", "kind": "fixed", "rateBps": 300, "reserve": "100000000000"},
		},
		"venue": "fixed",
		"alloc": map[string]string{tenant.Hex(): "100000000000"},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return raw
}

// Spec parses SpecJSON.
func Spec(t testing.TB) *genesis.GenesisSpec {
	t.Helper()
	spec, err := genesis.ParseGenesisSpec(SpecJSON())
	if err != nil {
		t.Fatalf("parse genesis: %v", err)
	}
	return spec
}

// New builds a node over a fresh MemDB.
func New(t testing.TB, opts ...core.Option) *Fixture {
	t.Helper()
	return NewWithDB(t, storage.NewMemDB(), opts...)
}

// NewWithDB builds a node over db; the clock starts at Genesis.
func NewWithDB(t testing.TB, db storage.Database, opts ...core.Option) *Fixture {
	t.Helper()
	clock := NewClock(Genesis)
	all := append([]core.Option{core.WithClock(clock.Now)}, opts...)
	node, err := core.NewNode(db, Spec(t), all...)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	admin, treasury, keeper, tenant, landlord := Accounts()
	return &Fixture{
		Node:     node,
		Clock:    clock,
		Admin:    admin,
		Treasury: treasury,
		Keeper:   keeper,
		Tenant:   tenant,
		Landlord: landlord,
	}
}

// Request builds open terms for the fixture tenant and landlord.
func (f *Fixture) Request(principal int64, days uint64, share uint8) deposit.OpenRequest {
	return deposit.OpenRequest{
		Tenant:                f.Tenant,
		Landlord:              f.Landlord,
		Principal:             big.NewInt(principal),
		DurationSeconds:       days * Day,
		MetadataURI:           "ipfs://lease",
		RequestedSharePercent: share,
	}
}

// Open approves the registry for principal and opens a position.
func (f *Fixture) Open(t testing.TB, principal int64, days uint64, share uint8) *deposit.Position {
	t.Helper()
	if err := f.Node.Approve(f.Tenant, deposit.ModuleAddress(), big.NewInt(principal)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	pos, err := f.Node.Open(context.Background(), f.Request(principal, days, share))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return pos
}

// Balance is BalanceOf as int64.
func (f *Fixture) Balance(t testing.TB, addr crypto.Address) int64 {
	t.Helper()
	bal, err := f.Node.BalanceOf(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}
