package yield

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"dework/core/state"
	"dework/crypto"
	"dework/native/token"
	"dework/storage"
)

const usdc = 1_000_000

type venueHarness struct {
	token    *token.Engine
	registry *Registry
	now      int64
	owner    crypto.Address
}

func newHarness(t *testing.T) *venueHarness {
	t.Helper()
	tx, err := state.NewManager(storage.NewMemDB()).Begin()
	require.NoError(t, err)
	t.Cleanup(tx.Discard)

	tok := token.NewEngine("USDC")
	tok.SetState(tx)
	h := &venueHarness{token: tok, now: 1_700_000_000, owner: crypto.ModuleAddress("test/pool")}
	h.registry = NewRegistry(tok)
	h.registry.SetState(tx)
	h.registry.SetNowFunc(func() int64 { return h.now })
	require.NoError(t, tok.Mint(h.owner, big.NewInt(10_000*usdc)))
	return h
}

func (h *venueHarness) fundReserve(t *testing.T, v Venue, amount int64) {
	t.Helper()
	require.NoError(t, h.token.Mint(v.Address(), big.NewInt(amount)))
}

func TestFixedRateAccruesSimpleInterest(t *testing.T) {
	h := newHarness(t)
	v := NewFixedRateVenue(h.registry.Env(), "fixed", 500)
	require.NoError(t, h.registry.Register(v))
	h.fundReserve(t, v, 1_000*usdc)

	require.NoError(t, v.Deposit(h.owner, big.NewInt(1_000*usdc)))
	h.now += SecondsPerYear

	total, err := v.TotalValue()
	require.NoError(t, err)
	require.Equal(t, int64(1_050*usdc), total.Int64())

	apy, err := v.CurrentAPY()
	require.NoError(t, err)
	require.Equal(t, uint64(500), apy)

	got, err := v.WithdrawAll(h.owner)
	require.NoError(t, err)
	require.Equal(t, int64(1_050*usdc), got.Int64())

	total, err = v.TotalValue()
	require.NoError(t, err)
	require.Zero(t, total.Sign())
}

func TestFixedRateCrystallizesOnMutation(t *testing.T) {
	h := newHarness(t)
	v := NewFixedRateVenue(h.registry.Env(), "fixed", 500)
	h.fundReserve(t, v, 1_000*usdc)

	require.NoError(t, v.Deposit(h.owner, big.NewInt(1_000*usdc)))
	h.now += SecondsPerYear / 2
	require.NoError(t, v.Deposit(h.owner, big.NewInt(1_000*usdc)))
	h.now += SecondsPerYear / 2

	total, err := v.TotalValue()
	require.NoError(t, err)
	require.Equal(t, int64(2_075_625_000), total.Int64())
}

func TestFixedRateUnderDeliversWithoutReserve(t *testing.T) {
	h := newHarness(t)
	v := NewFixedRateVenue(h.registry.Env(), "fixed", 500)

	require.NoError(t, v.Deposit(h.owner, big.NewInt(1_000*usdc)))
	h.now += SecondsPerYear

	got, err := v.Withdraw(h.owner, big.NewInt(1_050*usdc))
	require.NoError(t, err)
	require.Equal(t, int64(1_000*usdc), got.Int64())

	_, err = v.Withdraw(h.owner, big.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.ErrorIs(t, v.Deposit(h.owner, big.NewInt(0)), ErrInvalidAmount)
}

func TestFixedRateWithdrawAllClosesShortAccount(t *testing.T) {
	h := newHarness(t)
	v := NewFixedRateVenue(h.registry.Env(), "fixed", 500)

	require.NoError(t, v.Deposit(h.owner, big.NewInt(1_000*usdc)))
	h.now += SecondsPerYear

	got, err := v.WithdrawAll(h.owner)
	require.NoError(t, err)
	require.Equal(t, int64(1_000*usdc), got.Int64())

	total, err := v.TotalValue()
	require.NoError(t, err)
	require.Zero(t, total.Sign())

	// No phantom interest accrues on the written off balance.
	h.now += SecondsPerYear
	total, err = v.TotalValue()
	require.NoError(t, err)
	require.Zero(t, total.Sign())

	require.NoError(t, v.Deposit(h.owner, big.NewInt(100*usdc)))
	total, err = v.TotalValue()
	require.NoError(t, err)
	require.Equal(t, int64(100*usdc), total.Int64())
}

func TestLendingVenueCompoundsSupplyIndex(t *testing.T) {
	h := newHarness(t)
	model := &InterestModel{
		BaseRate: big.NewRat(1, 100),
		Slope1:   big.NewRat(4, 100),
		Slope2:   big.NewRat(75, 100),
		Kink:     big.NewRat(8, 10),
	}
	v := NewLendingVenue(h.registry.Env(), "lending", LendingConfig{Model: model, UtilisationBps: 5_000})
	require.NoError(t, h.registry.Register(v))

	apy, err := v.CurrentAPY()
	require.NoError(t, err)
	require.Equal(t, uint64(150), apy)

	require.NoError(t, v.Deposit(h.owner, big.NewInt(1_000*usdc)))
	h.now += SecondsPerYear

	total, err := v.TotalValue()
	require.NoError(t, err)
	require.Equal(t, int64(1_015*usdc), total.Int64())

	// Without a reserve only the supplied cash can leave the venue, and the
	// unpaid interest is written off with the account.
	got, err := v.WithdrawAll(h.owner)
	require.NoError(t, err)
	require.Equal(t, int64(1_000*usdc), got.Int64())

	remaining, err := v.TotalValue()
	require.NoError(t, err)
	require.Zero(t, remaining.Sign())

	h.fundReserve(t, v, 15*usdc)
	got, err = v.WithdrawAll(h.owner)
	require.NoError(t, err)
	require.Zero(t, got.Sign())
}

func TestInterestModelKink(t *testing.T) {
	model := &InterestModel{
		BaseRate: big.NewRat(1, 100),
		Slope1:   big.NewRat(4, 100),
		Slope2:   big.NewRat(75, 100),
		Kink:     big.NewRat(8, 10),
	}
	apy := model.SupplyAPY(big.NewRat(9, 10), 1_000)
	require.Equal(t, uint64(947), ratToBps(apy))
	require.Zero(t, model.SupplyAPY(new(big.Rat), 0).Sign())
}

func TestRegistryLookup(t *testing.T) {
	h := newHarness(t)
	fixed := NewFixedRateVenue(h.registry.Env(), "Fixed", 500)
	require.NoError(t, h.registry.Register(fixed))
	require.ErrorIs(t, h.registry.Register(NewFixedRateVenue(h.registry.Env(), "fixed", 1)), ErrDuplicateVenue)

	got, err := h.registry.Get(" fixed ")
	require.NoError(t, err)
	require.Equal(t, "Fixed", got.Name())

	_, err = h.registry.Get("missing")
	require.ErrorIs(t, err, ErrUnknownVenue)
	require.Equal(t, []string{"Fixed"}, h.registry.Names())
	require.NotEqual(t, VenueAddress("a"), VenueAddress("b"))
}
