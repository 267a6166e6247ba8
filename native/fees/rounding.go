package fees

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// PPMScale is the parts-per-million denominator; 1,000,000 is 100%.
const PPMScale = 1_000_000

// ErrAmountOutOfRange is returned for negative amounts or amounts that do not
// fit a 256-bit token word.
var ErrAmountOutOfRange = errors.New("fees: amount out of range")

var (
	hundred     = big.NewInt(100)
	fifty       = big.NewInt(50)
	tenThousand = big.NewInt(10_000)
)

// UnitsToCents divides v by 100 rounding half to even. Remainders below 50
// round down, above 50 round up, and an exact 50 rounds to the even quotient.
func UnitsToCents(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	if v.Sign() < 0 {
		out := UnitsToCents(new(big.Int).Neg(v))
		return out.Neg(out)
	}
	q, r := new(big.Int).QuoRem(v, hundred, new(big.Int))
	switch r.Cmp(fifty) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}
	return q
}

// ApplyPPM takes ppm parts-per-million of v. The product is first truncated to
// hundredths of a unit and then rounded half to even.
func ApplyPPM(v *big.Int, ppm uint64) *big.Int {
	if v == nil || ppm == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(v, new(big.Int).SetUint64(ppm))
	scaled.Quo(scaled, tenThousand)
	return UnitsToCents(scaled)
}

// CheckAmount validates that v is a non-negative value representable as a
// uint256.
func CheckAmount(v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return ErrAmountOutOfRange
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return ErrAmountOutOfRange
	}
	return nil
}
