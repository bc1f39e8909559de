package amm

import "ammLedger/internal/u128"

// 0.3% swap fee.
const (
	FeeNumerator   = 3
	FeeDenominator = 1000
)

// InitialShares is floor(sqrt(amountA*amountB)) for the first deposit.
func InitialShares(amountA, amountB uint64) (uint64, error) {
	product, err := u128.From64(amountA).Mul(u128.From64(amountB))
	if err != nil {
		return 0, err
	}
	return product.Sqrt().Uint64()
}

// SharesForDeposit prices a deposit against the current pool. The limiting
// side decides the mint; excess on the other side earns nothing.
func SharesForDeposit(amountA, amountB, reserveA, reserveB, totalShares uint64) (uint64, error) {
	if totalShares == 0 {
		return InitialShares(amountA, amountB)
	}

	total := u128.From64(totalShares)
	fromA, err := u128.From64(amountA).MulDiv(total, u128.From64(reserveA))
	if err != nil {
		return 0, err
	}
	fromB, err := u128.From64(amountB).MulDiv(total, u128.From64(reserveB))
	if err != nil {
		return 0, err
	}
	return u128.Min(fromA, fromB).Uint64()
}

// WithdrawAmounts returns the reserve slices redeemed by shares.
func WithdrawAmounts(shares, reserveA, reserveB, totalShares uint64) (uint64, uint64, error) {
	total := u128.From64(totalShares)
	a, err := u128.From64(reserveA).MulDiv(u128.From64(shares), total)
	if err != nil {
		return 0, 0, err
	}
	b, err := u128.From64(reserveB).MulDiv(u128.From64(shares), total)
	if err != nil {
		return 0, 0, err
	}
	amountA, err := a.Uint64()
	if err != nil {
		return 0, 0, err
	}
	amountB, err := b.Uint64()
	if err != nil {
		return 0, 0, err
	}
	return amountA, amountB, nil
}

// AmountOut applies the fee-adjusted constant-product formula:
//
//	out = floor(in*997*reserveOut / (reserveIn*1000 + in*997))
func AmountOut(amountIn, reserveIn, reserveOut uint64) (uint64, error) {
	inWithFee, err := u128.From64(amountIn).Mul(u128.From64(FeeDenominator - FeeNumerator))
	if err != nil {
		return 0, err
	}
	numerator, err := inWithFee.Mul(u128.From64(reserveOut))
	if err != nil {
		return 0, err
	}
	scaledIn, err := u128.From64(reserveIn).Mul(u128.From64(FeeDenominator))
	if err != nil {
		return 0, err
	}
	denominator, err := scaledIn.Add(inWithFee)
	if err != nil {
		return 0, err
	}
	out, err := numerator.Div(denominator)
	if err != nil {
		return 0, err
	}
	return out.Uint64()
}

func addShares(total, delta uint64) (uint64, error) {
	sum, err := u128.From64(total).Add(u128.From64(delta))
	if err != nil {
		return 0, err
	}
	return sum.Uint64()
}

func subShares(total, delta uint64) (uint64, error) {
	diff, err := u128.From64(total).Sub(u128.From64(delta))
	if err != nil {
		// Share counter underflow is reported as overflow.
		return 0, ErrArithmeticOverflow
	}
	return diff.Uint64()
}
