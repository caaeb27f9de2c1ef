package yield

import "math/big"

// InterestModel is a kinked utilisation curve. Rates are decimals: a 2% base
// rate is 0.02 and an 80% kink is 0.8.
type InterestModel struct {
	BaseRate *big.Rat
	Slope1   *big.Rat
	Slope2   *big.Rat
	Kink     *big.Rat
}

// NewInterestModel constructs an interest model from floating point inputs.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// DefaultInterestModel mirrors a typical stablecoin money market.
var DefaultInterestModel = NewInterestModel(0.0, 0.04, 0.75, 0.8)

// BorrowAPR returns the borrow rate at utilisation u (0..1).
func (m *InterestModel) BorrowAPR(u *big.Rat) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	if u == nil || u.Sign() <= 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || u.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), u))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	excess := new(big.Rat).Sub(u, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

// SupplyAPY is borrowAPR * u * (1 - reserveFactor).
func (m *InterestModel) SupplyAPY(u *big.Rat, reserveFactorBps uint64) *big.Rat {
	if m == nil || u == nil || u.Sign() <= 0 {
		return new(big.Rat)
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	keep := new(big.Rat).SetFrac64(int64(10_000-reserveFactorBps), 10_000)
	apy := new(big.Rat).Mul(m.BorrowAPR(u), u)
	return apy.Mul(apy, keep)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// ratToBps floors r * 10_000.
func ratToBps(r *big.Rat) uint64 {
	if r == nil || r.Sign() <= 0 {
		return 0
	}
	scaled := new(big.Rat).Mul(r, big.NewRat(10_000, 1))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()).Uint64()
}
