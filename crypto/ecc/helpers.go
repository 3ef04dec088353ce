package ecc

import (
	"fmt"
	"math/big"
)

// BigToFF function returns the finite field representation of the big.Int
// provided. It uses the curve scalar field to represent the provided number.
func BigToFF(baseField, iv *big.Int) *big.Int {
	z := big.NewInt(0)
	if c := iv.Cmp(baseField); c == 0 {
		return z
	} else if c != 1 && iv.Cmp(z) != -1 {
		return iv
	}
	return z.Mod(iv, baseField)
}

// CheckInSubGroup verifies that p belongs to the prime-order subgroup of its
// curve, i.e. that order*p is the identity.
func CheckInSubGroup(p Point) error {
	q := p.New()
	q.ScalarMult(p, p.Order())
	id := p.New()
	id.SetZero()
	if !q.Equal(id) {
		return fmt.Errorf("point is not in the prime-order subgroup")
	}
	return nil
}
