// Package ecc defines the elliptic curve group interface used by the voting
// protocol. Implementations live in subpackages and are constructed through
// the curves registry.
package ecc

import (
	"math/big"

	"github.com/vocdoni/acvote/types"
)

// Point is an element of a prime-order elliptic curve subgroup. All
// operations store their result in the receiver.
type Point interface {
	// New returns a new point of the same curve, set to the identity.
	New() Point
	// Order returns the order of the prime subgroup.
	Order() *big.Int
	// Add sets the receiver to a+b.
	Add(a, b Point)
	// SafeAdd is like Add but safe for concurrent use of the receiver.
	SafeAdd(a, b Point)
	// ScalarMult sets the receiver to scalar*a.
	ScalarMult(a Point, scalar *big.Int)
	// ScalarBaseMult sets the receiver to scalar*G.
	ScalarBaseMult(scalar *big.Int)
	// Equal reports whether the receiver and a are the same point.
	Equal(a Point) bool
	// Neg sets the receiver to -a.
	Neg(a Point)
	// SetZero sets the receiver to the identity element.
	SetZero()
	// Set sets the receiver to the value of a.
	Set(a Point)
	// SetGenerator sets the receiver to the subgroup generator.
	SetGenerator()
	// String returns a "x,y" representation in twisted Edwards
	// coordinates.
	String() string
	// Marshal packs the point into its compressed byte representation.
	Marshal() []byte
	// Unmarshal unpacks a compressed point. It fails closed on malformed
	// input: off-curve or off-subgroup points are rejected.
	Unmarshal([]byte) error
	// Point returns the affine coordinates in twisted Edwards form.
	Point() (*big.Int, *big.Int)
	// SetPoint builds a point from affine twisted Edwards coordinates.
	SetPoint(x, y *big.Int) Point
	// Type returns the curve backend identifier.
	Type() string
}

// PointEC is the JSON representation of a curve point.
type PointEC struct {
	X types.BigInt `json:"x"`
	Y types.BigInt `json:"y"`
}
