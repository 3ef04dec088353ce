// Package format converts babyjubjub points between the standard twisted
// Edwards form (used by iden3) and the reduced twisted Edwards form with
// a = -1 (used by gnark-crypto). The two forms are related by scaling the x
// coordinate with a constant factor.
package format

import "math/big"

// baseField is the BN254 scalar field, base field of babyjubjub.
var baseField, _ = new(big.Int).SetString(
	"21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

// scalingFactor maps between the standard and reduced twisted Edwards x
// coordinates: xRTE = -xTE * f, xTE = -xRTE / f.
var scalingFactor, _ = new(big.Int).SetString(
	"6360561867910373094066688120553762416144456282423235903351243436111059670888", 10)

// FromTEtoRTE converts a point from standard twisted Edwards coordinates to
// reduced twisted Edwards coordinates.
func FromTEtoRTE(x, y *big.Int) (*big.Int, *big.Int) {
	negF := new(big.Int).Neg(scalingFactor)
	negF.Mod(negF, baseField)
	xRTE := new(big.Int).Mul(x, negF)
	xRTE.Mod(xRTE, baseField)
	return xRTE, y
}

// FromRTEtoTE converts a point from reduced twisted Edwards coordinates to
// standard twisted Edwards coordinates.
func FromRTEtoTE(x, y *big.Int) (*big.Int, *big.Int) {
	negF := new(big.Int).Neg(scalingFactor)
	negF.Mod(negF, baseField)
	negFInv := new(big.Int).ModInverse(negF, baseField)
	xTE := new(big.Int).Mul(x, negFInv)
	xTE.Mod(xTE, baseField)
	return xTE, y
}
