package otc

import (
	"fmt"
	"math/big"
)

var usdScale = pow10(USDDecimals)

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// mulDiv computes a*b/d with flooring. Both backends share this helper, so the
// rounding rule cannot diverge between them.
func mulDiv(a, b, d *big.Int) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, fmt.Errorf("%w: division by zero", ErrBadPrice)
	}
	prod := new(big.Int).Mul(a, b)
	return prod.Div(prod, d), nil
}

// mulDivCeil computes a*b/d rounding up. Payment amounts round toward the
// protocol: the payer never gains the final unit.
func mulDivCeil(a, b, d *big.Int) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, fmt.Errorf("%w: division by zero", ErrBadPrice)
	}
	prod := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(prod, d, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

// discountedUSD8d computes the USD value (8 decimals) of a token amount after
// applying the discount: floor(amount × price / 10^decimals) × (10000 −
// discount) / 10000. The evaluation order is fixed; it is observable in the
// final unit and must match on every backend.
func discountedUSD8d(tokenAmount *big.Int, price8d uint64, decimals uint8, discountBps uint16) (*big.Int, error) {
	if price8d == 0 {
		return nil, fmt.Errorf("%w: token price unset", ErrBadPrice)
	}
	if discountBps > BpsDenominator {
		return nil, fmt.Errorf("%w: discount above 100%%", ErrInvalidTerms)
	}
	gross, err := mulDiv(tokenAmount, new(big.Int).SetUint64(price8d), pow10(decimals))
	if err != nil {
		return nil, err
	}
	net := new(big.Int).Mul(gross, big.NewInt(int64(BpsDenominator-discountBps)))
	return net.Div(net, big.NewInt(BpsDenominator)), nil
}

// stablePaymentAmount converts a discounted USD value into stablecoin units,
// rounding up in the protocol's favor.
func stablePaymentAmount(usd8d *big.Int, stableDecimals uint8) (*big.Int, error) {
	return mulDivCeil(usd8d, pow10(stableDecimals), usdScale)
}

// nativePaymentAmount converts a discounted USD value into native units at the
// given native/USD price, rounding up in the protocol's favor.
func nativePaymentAmount(usd8d *big.Int, nativeDecimals uint8, nativeUSD8d uint64) (*big.Int, error) {
	if nativeUSD8d == 0 {
		return nil, fmt.Errorf("%w: native price unset", ErrBadPrice)
	}
	return mulDivCeil(usd8d, pow10(nativeDecimals), new(big.Int).SetUint64(nativeUSD8d))
}

// commissionAmount computes the agent commission in payment-asset units from
// the discounted USD value. Commission floors: remainders stay with the desk.
func commissionAmount(usd8d *big.Int, commissionBps uint16, assetDecimals uint8, assetUSD8d uint64, native bool) (*big.Int, error) {
	if commissionBps == 0 {
		return big.NewInt(0), nil
	}
	commissionUSD := new(big.Int).Mul(usd8d, big.NewInt(int64(commissionBps)))
	commissionUSD.Div(commissionUSD, big.NewInt(BpsDenominator))
	if native {
		if assetUSD8d == 0 {
			return nil, fmt.Errorf("%w: native price unset", ErrBadPrice)
		}
		return mulDiv(commissionUSD, pow10(assetDecimals), new(big.Int).SetUint64(assetUSD8d))
	}
	return mulDiv(commissionUSD, pow10(assetDecimals), usdScale)
}

// checkPriceDeviation rejects a new price that moves more than maxDeviationBps
// away from the previous one. A zero previous price or a zero bound disables
// the check.
func checkPriceDeviation(oldPrice, newPrice uint64, maxDeviationBps uint16) error {
	if oldPrice == 0 || maxDeviationBps == 0 {
		return nil
	}
	var diff uint64
	if newPrice > oldPrice {
		diff = newPrice - oldPrice
	} else {
		diff = oldPrice - newPrice
	}
	maxDeviation := new(big.Int).Mul(new(big.Int).SetUint64(oldPrice), big.NewInt(int64(maxDeviationBps)))
	maxDeviation.Div(maxDeviation, big.NewInt(BpsDenominator))
	if new(big.Int).SetUint64(diff).Cmp(maxDeviation) > 0 {
		return fmt.Errorf("%w: deviation too large", ErrBadPrice)
	}
	return nil
}
