package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// PriceDecimals is the fixed-point scale of every price.
	PriceDecimals = 18
	// BpsDenominator is 100% expressed in basis points.
	BpsDenominator = 10000
	percentToBps   = 100
)

var (
	bpsDenominator = big.NewInt(BpsDenominator)
	// MaxUint256 is the allowance granted to the router.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ScaleTo18 rescales an amount with the given precision to 18 decimals.
func ScaleTo18(amount *big.Int, decimals uint8) *big.Int {
	if decimals == PriceDecimals {
		return new(big.Int).Set(amount)
	}
	if decimals < PriceDecimals {
		return new(big.Int).Mul(amount, Pow10(PriceDecimals-decimals))
	}

	return new(big.Int).Quo(amount, Pow10(decimals-PriceDecimals))
}

// UnitPrice returns the 18-decimal price of one whole asset unit given that stableAmount
// (stable precision) was exchanged for assetAmount (asset precision).
func UnitPrice(stableAmount *big.Int, stableDecimals uint8, assetAmount *big.Int, assetDecimals uint8) (*big.Int, error) {
	if stableAmount == nil || assetAmount == nil {
		return nil, fmt.Errorf("amounts are required")
	}
	asset := ScaleTo18(assetAmount, assetDecimals)
	if asset.Sign() <= 0 {
		return nil, fmt.Errorf("asset amount must be positive, got %s", assetAmount.String())
	}

	num := ScaleTo18(stableAmount, stableDecimals)
	num.Mul(num, Pow10(PriceDecimals))

	return num.Quo(num, asset), nil
}

// DrawdownBps returns (price - reference) / reference in basis points, truncated toward zero.
func DrawdownBps(price, reference *big.Int) int64 {
	if price == nil || reference == nil || reference.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(price, reference)
	diff.Mul(diff, bpsDenominator)

	return diff.Quo(diff, reference).Int64()
}

// ApplySlippage returns the minimum acceptable output for a quoted amount.
func ApplySlippage(quoted *big.Int, slippageBps int64) *big.Int {
	out := new(big.Int).Mul(quoted, big.NewInt(BpsDenominator-slippageBps))

	return out.Quo(out, bpsDenominator)
}

// PartOf returns amount * percentage / 100.
func PartOf(amount *big.Int, percentage int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(percentage)))

	return out.Quo(out, big.NewInt(percentToBps))
}

// PercentToBps converts a decimal percentage (2.5) into basis points (250).
func PercentToBps(p decimal.Decimal) int64 {
	return p.Mul(decimal.NewFromInt(percentToBps)).IntPart()
}

// BpsToPercent renders basis points as a decimal percentage.
func BpsToPercent(bps int64) decimal.Decimal {
	return decimal.New(bps, -2)
}

// ParseUnits converts a human amount ("1000.5") into native units of the given precision.
// Digits beyond the precision are truncated.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative, got %s", s)
	}

	return d.Shift(int32(decimals)).BigInt(), nil
}

// FormatUnits renders native units as a decimal string with the given precision.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return ""
	}

	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

// FormatPrice renders an 18-decimal price with a fixed number of places.
func FormatPrice(v *big.Int, places int32) string {
	if v == nil {
		return ""
	}

	return decimal.NewFromBigInt(v, -PriceDecimals).StringFixed(places)
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}

	return new(big.Int).Set(v)
}
