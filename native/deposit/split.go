package deposit

import "math/big"

// Split is the canonical decomposition of a withdrawn value. Every settlement
// path distributes Fee, TenantShare and Remainder, which sum to Value.
type Split struct {
	Value       *big.Int
	Interest    *big.Int
	Fee         *big.Int
	TenantShare *big.Int
	Remainder   *big.Int
}

var hundred = big.NewInt(100)

// ComputeSplit derives fee and tenant share from the interest earned on
// principal. Interest is clamped at zero when value fell short of principal and
// the tenant share is capped so fee and share never exceed interest.
func ComputeSplit(value, principal *big.Int, feePercent, sharePercent uint8) Split {
	v := big.NewInt(0)
	if value != nil && value.Sign() > 0 {
		v.Set(value)
	}
	interest := big.NewInt(0)
	if principal != nil && v.Cmp(principal) > 0 {
		interest.Sub(v, principal)
	}

	fee := new(big.Int).Mul(interest, big.NewInt(int64(feePercent)))
	fee.Quo(fee, hundred)

	share := new(big.Int).Mul(interest, big.NewInt(int64(sharePercent)))
	share.Quo(share, hundred)
	if room := new(big.Int).Sub(interest, fee); share.Cmp(room) > 0 {
		share = room
	}

	remainder := new(big.Int).Sub(v, fee)
	remainder.Sub(remainder, share)
	return Split{Value: v, Interest: interest, Fee: fee, TenantShare: share, Remainder: remainder}
}

// payouts applies a settlement path to the split and returns the tenant and
// landlord amounts. Fee always goes to the treasury.
func (s Split) payouts(path SettlementPath, principal *big.Int) (tenant, landlord *big.Int) {
	switch path {
	case PathEarlyTermination:
		refund := new(big.Int).Set(principal)
		if refund.Cmp(s.Remainder) > 0 {
			refund.Set(s.Remainder)
		}
		tenant = new(big.Int).Add(s.TenantShare, refund)
		landlord = new(big.Int).Sub(s.Remainder, refund)
	case PathDisputeTenant:
		tenant = new(big.Int).Add(s.TenantShare, s.Remainder)
		landlord = big.NewInt(0)
	case PathDisputeLandlord:
		tenant = big.NewInt(0)
		landlord = new(big.Int).Add(s.TenantShare, s.Remainder)
	default:
		tenant = new(big.Int).Set(s.TenantShare)
		landlord = new(big.Int).Set(s.Remainder)
	}
	return tenant, landlord
}
