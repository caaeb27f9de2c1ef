package yield

import (
	"math/big"

	"dework/crypto"
)

// LendingConfig describes the market a LendingVenue supplies into.
type LendingConfig struct {
	Model            *InterestModel
	UtilisationBps   uint64
	ReserveFactorBps uint64
}

type lendingRecord struct {
	Scaled     *big.Int
	Index      *big.Int
	LastUpdate uint64
}

// LendingVenue adapts a pooled lending market. Supplied liquidity is tracked as
// a scaled balance against a supply index that compounds per second at the
// market's supply APY.
type LendingVenue struct {
	env  *Env
	name string
	cfg  LendingConfig
}

func NewLendingVenue(env *Env, name string, cfg LendingConfig) *LendingVenue {
	if cfg.Model == nil {
		cfg.Model = DefaultInterestModel
	}
	if cfg.UtilisationBps > 10_000 {
		cfg.UtilisationBps = 10_000
	}
	return &LendingVenue{env: env, name: name, cfg: cfg}
}

func (v *LendingVenue) Name() string            { return v.name }
func (v *LendingVenue) Address() crypto.Address { return VenueAddress(v.name) }

func (v *LendingVenue) supplyRate() *big.Rat {
	u := new(big.Rat).SetFrac64(int64(v.cfg.UtilisationBps), 10_000)
	return v.cfg.Model.SupplyAPY(u, v.cfg.ReserveFactorBps)
}

func (v *LendingVenue) load() (*lendingRecord, error) {
	if err := v.env.ready(); err != nil {
		return nil, err
	}
	rec := &lendingRecord{}
	ok, err := v.env.state.KVGet(venueKey(v.name), rec)
	if err != nil {
		return nil, err
	}
	if rec.Scaled == nil {
		rec.Scaled = big.NewInt(0)
	}
	if !ok || rec.Index == nil || rec.Index.Sign() == 0 {
		rec.Index = new(big.Int).Set(ray)
		rec.LastUpdate = v.env.now()
	}
	return rec, nil
}

func (v *LendingVenue) indexAt(rec *lendingRecord, now uint64) *big.Int {
	if now <= rec.LastUpdate {
		return new(big.Int).Set(rec.Index)
	}
	return rayMul(rec.Index, rateFactor(v.supplyRate(), now-rec.LastUpdate))
}

func (v *LendingVenue) accrue(rec *lendingRecord) {
	now := v.env.now()
	rec.Index = v.indexAt(rec, now)
	if now > rec.LastUpdate {
		rec.LastUpdate = now
	}
}

func (v *LendingVenue) Deposit(from crypto.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	rec, err := v.load()
	if err != nil {
		return err
	}
	v.accrue(rec)
	if err := v.env.token.Transfer(from, v.Address(), amount); err != nil {
		return err
	}
	rec.Scaled.Add(rec.Scaled, scaledFromAmount(amount, rec.Index, false))
	return v.env.state.KVPut(venueKey(v.name), rec)
}

func (v *LendingVenue) Withdraw(to crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	return v.withdraw(to, amount)
}

func (v *LendingVenue) WithdrawAll(to crypto.Address) (*big.Int, error) {
	return v.withdraw(to, nil)
}

func (v *LendingVenue) withdraw(to crypto.Address, amount *big.Int) (*big.Int, error) {
	rec, err := v.load()
	if err != nil {
		return nil, err
	}
	v.accrue(rec)
	supplied := amountFromScaled(rec.Scaled, rec.Index)
	liquidity, err := v.env.token.BalanceOf(v.Address())
	if err != nil {
		return nil, err
	}
	actual := minBig(supplied, liquidity)
	if amount != nil {
		actual = minBig(actual, amount)
	}
	burn := scaledFromAmount(actual, rec.Index, true)
	if amount == nil {
		burn.Set(rec.Scaled)
	}
	if burn.Cmp(rec.Scaled) > 0 {
		burn.Set(rec.Scaled)
	}
	rec.Scaled.Sub(rec.Scaled, burn)
	if err := v.env.state.KVPut(venueKey(v.name), rec); err != nil {
		return nil, err
	}
	if actual.Sign() > 0 {
		if err := v.env.token.Transfer(v.Address(), to, actual); err != nil {
			return nil, err
		}
	}
	return actual, nil
}

func (v *LendingVenue) TotalValue() (*big.Int, error) {
	rec, err := v.load()
	if err != nil {
		return nil, err
	}
	return amountFromScaled(rec.Scaled, v.indexAt(rec, v.env.now())), nil
}

func (v *LendingVenue) CurrentAPY() (uint64, error) {
	return ratToBps(v.supplyRate()), nil
}
