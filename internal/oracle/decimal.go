package oracle

import "github.com/holiman/uint256"

var ten = uint256.NewInt(10)

// BaseUnit returns 10^decimals.
func BaseUnit(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(ten, uint256.NewInt(uint64(decimals)))
}

// RebasePrice scales a price from one decimal count to another. Up-scaling
// is lossless; down-scaling floors. Returns ErrPriceOverflow if the
// up-scaled value does not fit in 256 bits.
func RebasePrice(price *uint256.Int, fromDecimals, toDecimals uint8) (*uint256.Int, error) {
	if price == nil {
		return uint256.NewInt(0), nil
	}
	switch {
	case fromDecimals == toDecimals:
		return new(uint256.Int).Set(price), nil
	case fromDecimals < toDecimals:
		factor := BaseUnit(toDecimals - fromDecimals)
		scaled, overflow := new(uint256.Int).MulOverflow(price, factor)
		if overflow {
			return nil, ErrPriceOverflow
		}
		return scaled, nil
	default:
		factor := BaseUnit(fromDecimals - toDecimals)
		return new(uint256.Int).Div(price, factor), nil
	}
}

// mulDiv computes a*b/unit with the multiplication widened to 512 bits so
// two full-scale base-unit prices compose without premature truncation.
// Division floors.
func mulDiv(a, b, unit *uint256.Int) (*uint256.Int, error) {
	if unit == nil || unit.IsZero() {
		return nil, ErrPriceOverflow
	}
	res, overflow := new(uint256.Int).MulDivOverflow(a, b, unit)
	if overflow {
		return nil, ErrPriceOverflow
	}
	return res, nil
}
