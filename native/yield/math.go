package yield

import "math/big"

var (
	ray     = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay = new(big.Int).Rsh(ray, 1)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	return product.Quo(product, ray)
}

// rateFactor returns 1 + rate*elapsed/year in ray precision.
func rateFactor(rate *big.Rat, elapsed uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return new(big.Int).Set(ray)
	}
	growth := new(big.Rat).Quo(rate, new(big.Rat).SetUint64(SecondsPerYear))
	growth.Mul(growth, new(big.Rat).SetUint64(elapsed))
	growth.Add(growth, big.NewRat(1, 1))
	growth.Mul(growth, new(big.Rat).SetInt(ray))
	return new(big.Int).Quo(growth.Num(), growth.Denom())
}

// scaledFromAmount converts an underlying amount into index-scaled units.
// roundUp is used when burning scaled balance so the venue never releases more
// than it accounts for.
func scaledFromAmount(amount, index *big.Int, roundUp bool) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, ray)
	if roundUp {
		scaled.Add(scaled, new(big.Int).Sub(index, big.NewInt(1)))
	}
	return scaled.Quo(scaled, index)
}

// amountFromScaled floors scaled * index / ray.
func amountFromScaled(scaled, index *big.Int) *big.Int {
	if scaled == nil || scaled.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(scaled, index)
	return amount.Quo(amount, ray)
}
