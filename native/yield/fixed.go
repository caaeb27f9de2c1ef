package yield

import (
	"math/big"

	"dework/crypto"
)

type fixedRecord struct {
	Principal   *big.Int
	LastAccrual uint64
}

// FixedRateVenue accrues simple interest at a constant rate. Interest is
// computed lazily on read and folded into principal on every mutation. Paying
// out interest requires the venue account to hold a funded reserve; without it
// withdrawals under-deliver.
type FixedRateVenue struct {
	env     *Env
	name    string
	rateBps uint64
}

// NewFixedRateVenue constructs a venue paying rateBps per year.
func NewFixedRateVenue(env *Env, name string, rateBps uint64) *FixedRateVenue {
	return &FixedRateVenue{env: env, name: name, rateBps: rateBps}
}

func (v *FixedRateVenue) Name() string            { return v.name }
func (v *FixedRateVenue) Address() crypto.Address { return VenueAddress(v.name) }

func (v *FixedRateVenue) load() (*fixedRecord, error) {
	if err := v.env.ready(); err != nil {
		return nil, err
	}
	rec := &fixedRecord{Principal: big.NewInt(0)}
	ok, err := v.env.state.KVGet(venueKey(v.name), rec)
	if err != nil {
		return nil, err
	}
	if !ok || rec.Principal == nil {
		rec.Principal = big.NewInt(0)
	}
	if !ok {
		rec.LastAccrual = v.env.now()
	}
	return rec, nil
}

func (v *FixedRateVenue) store(rec *fixedRecord) error {
	return v.env.state.KVPut(venueKey(v.name), rec)
}

// accrued is principal * rate * elapsed / (SecondsPerYear * 10_000), floored.
func (v *FixedRateVenue) accrued(rec *fixedRecord, now uint64) *big.Int {
	if rec.Principal.Sign() == 0 || v.rateBps == 0 || now <= rec.LastAccrual {
		return big.NewInt(0)
	}
	elapsed := now - rec.LastAccrual
	interest := new(big.Int).Mul(rec.Principal, new(big.Int).SetUint64(v.rateBps))
	interest.Mul(interest, new(big.Int).SetUint64(elapsed))
	return interest.Quo(interest, big.NewInt(SecondsPerYear*10_000))
}

func (v *FixedRateVenue) crystallize(rec *fixedRecord) {
	now := v.env.now()
	rec.Principal.Add(rec.Principal, v.accrued(rec, now))
	if now > rec.LastAccrual {
		rec.LastAccrual = now
	}
}

func (v *FixedRateVenue) Deposit(from crypto.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	rec, err := v.load()
	if err != nil {
		return err
	}
	v.crystallize(rec)
	if err := v.env.token.Transfer(from, v.Address(), amount); err != nil {
		return err
	}
	rec.Principal.Add(rec.Principal, amount)
	return v.store(rec)
}

func (v *FixedRateVenue) Withdraw(to crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	return v.withdraw(to, amount)
}

// WithdrawAll pays out what the venue can cover and closes the account.
func (v *FixedRateVenue) WithdrawAll(to crypto.Address) (*big.Int, error) {
	return v.withdraw(to, nil)
}

func (v *FixedRateVenue) withdraw(to crypto.Address, amount *big.Int) (*big.Int, error) {
	rec, err := v.load()
	if err != nil {
		return nil, err
	}
	v.crystallize(rec)
	cash, err := v.env.token.BalanceOf(v.Address())
	if err != nil {
		return nil, err
	}
	actual := minBig(rec.Principal, cash)
	if amount != nil {
		actual = minBig(actual, amount)
	}
	if amount == nil {
		// Closing the account writes off whatever the reserve could not cover.
		rec.Principal.SetInt64(0)
	} else {
		rec.Principal.Sub(rec.Principal, actual)
	}
	if err := v.store(rec); err != nil {
		return nil, err
	}
	if actual.Sign() > 0 {
		if err := v.env.token.Transfer(v.Address(), to, actual); err != nil {
			return nil, err
		}
	}
	return actual, nil
}

func (v *FixedRateVenue) TotalValue() (*big.Int, error) {
	rec, err := v.load()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(rec.Principal, v.accrued(rec, v.env.now())), nil
}

func (v *FixedRateVenue) CurrentAPY() (uint64, error) {
	return v.rateBps, nil
}
