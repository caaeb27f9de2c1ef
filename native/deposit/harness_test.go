package deposit

import (
	"context"
	"math/big"
	"testing"

	"dework/core/events"
	"dework/core/state"
	"dework/core/types"
	"dework/crypto"
	"dework/native/pool"
	"dework/native/positiontoken"
	"dework/native/token"
	"dework/native/yield"
	"dework/storage"
)

const (
	usdc    = 1_000_000
	day     = 24 * 60 * 60
	genesis = int64(1_700_000_000)
)

type harness struct {
	t        *testing.T
	tx       *state.Tx
	token    *token.Engine
	tokens   *positiontoken.Engine
	venues   *yield.Registry
	ledger   *pool.Ledger
	engine   *Engine
	buffer   *events.Buffer
	now      int64
	admin    crypto.Address
	treasury crypto.Address
	keeper   crypto.Address
	tenant   crypto.Address
	landlord crypto.Address
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	reserve int64
	feePct  uint8
}

func withoutReserve() harnessOption { return func(c *harnessConfig) { c.reserve = 0 } }

func withFee(pct uint8) harnessOption { return func(c *harnessConfig) { c.feePct = pct } }

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{reserve: 100_000 * usdc, feePct: 10}
	for _, opt := range opts {
		opt(&cfg)
	}
	tx, err := state.NewManager(storage.NewMemDB()).Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(tx.Discard)

	h := &harness{
		t:        t,
		tx:       tx,
		now:      genesis,
		buffer:   &events.Buffer{},
		admin:    crypto.ModuleAddress("test/admin"),
		treasury: crypto.ModuleAddress("test/treasury"),
		keeper:   crypto.ModuleAddress("test/keeper"),
		tenant:   crypto.ModuleAddress("test/tenant"),
		landlord: crypto.ModuleAddress("test/landlord"),
	}
	clock := func() int64 { return h.now }

	h.token = token.NewEngine("USDC")
	h.token.SetState(tx)
	h.tokens = positiontoken.NewEngine()
	h.tokens.SetState(tx)
	h.venues = yield.NewRegistry(h.token)
	h.venues.SetState(tx)
	h.venues.SetNowFunc(clock)
	fixed := yield.NewFixedRateVenue(h.venues.Env(), "fixed", 500)
	alt := yield.NewFixedRateVenue(h.venues.Env(), "alt", 300)
	for _, v := range []yield.Venue{fixed, alt} {
		if err := h.venues.Register(v); err != nil {
			t.Fatalf("register venue: %v", err)
		}
	}
	if cfg.reserve > 0 {
		h.mint(fixed.Address(), cfg.reserve)
		h.mint(alt.Address(), cfg.reserve)
	}

	h.ledger = pool.NewLedger(h.token, h.venues, ModuleAddress())
	h.ledger.SetState(tx)
	if err := h.ledger.Initialise("fixed"); err != nil {
		t.Fatalf("initialise ledger: %v", err)
	}

	h.engine = NewEngine(h.token, h.tokens, h.ledger)
	h.engine.SetState(tx)
	h.engine.SetNowFunc(clock)
	h.engine.SetEmitter(h.buffer)
	if err := h.engine.InitParams(Params{
		Admin:                h.admin,
		Treasury:             h.treasury,
		Keeper:               h.keeper,
		PlatformFeePercent:   cfg.feePct,
		DisputeWindowSeconds: 7 * day,
	}); err != nil {
		t.Fatalf("init params: %v", err)
	}

	h.mint(h.tenant, 100_000*usdc)
	h.approve(h.tenant, 100_000*usdc)
	return h
}

func (h *harness) mint(to crypto.Address, amount int64) {
	h.t.Helper()
	if err := h.token.Mint(to, big.NewInt(amount)); err != nil {
		h.t.Fatalf("mint: %v", err)
	}
}

func (h *harness) approve(owner crypto.Address, amount int64) {
	h.t.Helper()
	if err := h.token.Approve(owner, ModuleAddress(), big.NewInt(amount)); err != nil {
		h.t.Fatalf("approve: %v", err)
	}
}

func (h *harness) balance(addr crypto.Address) int64 {
	h.t.Helper()
	bal, err := h.token.BalanceOf(addr)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (h *harness) advance(seconds int64) { h.now += seconds }

func (h *harness) request(principal int64, durationDays uint64, share uint8) OpenRequest {
	return OpenRequest{
		Tenant:                h.tenant,
		Landlord:              h.landlord,
		Principal:             big.NewInt(principal),
		DurationSeconds:       durationDays * day,
		MetadataURI:           "ipfs://lease",
		RequestedSharePercent: share,
	}
}

func (h *harness) open(principal int64, durationDays uint64, share uint8) *Position {
	h.t.Helper()
	pos, err := h.engine.Open(context.Background(), h.request(principal, durationDays, share))
	if err != nil {
		h.t.Fatalf("open: %v", err)
	}
	return pos
}

func (h *harness) eventTypes() []string {
	var out []string
	for _, evt := range h.buffer.Drain() {
		out = append(out, evt.Type)
	}
	return out
}

func (h *harness) lastEvent(eventType string) *types.Event {
	var found *types.Event
	for _, evt := range h.buffer.Drain() {
		if evt.Type == eventType {
			found = evt
		}
	}
	return found
}

type stubGate struct {
	verified bool
	err      error
}

func (g stubGate) IsVerified(context.Context, crypto.Address) (bool, error) { return g.verified, g.err }

type stubOracle struct {
	pct uint8
	err error
}

func (o stubOracle) InterestSharingPercentage(context.Context, crypto.Address) (uint8, error) {
	return o.pct, o.err
}
