// Package bjj implements the protocol curve over the gnark-crypto babyjubjub
// arithmetic, which works in reduced twisted Edwards form. Coordinates are
// converted to the standard form at the Point()/SetPoint() boundary so both
// backends expose identical affine values.
package bjj

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	babyjubjub "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	curve "github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/ecc/format"
	"github.com/vocdoni/acvote/types"
)

const CurveType = "bjj_gnark"

var Params babyjubjub.CurveParams

// BJJ is the affine representation of the BabyJubJub group element.
type BJJ struct {
	inner *babyjubjub.PointAffine
	lock  sync.Mutex
}

func init() {
	Params = babyjubjub.GetEdwardsCurve()
}

// New creates a new BJJ point (identity element by default).
func New() curve.Point {
	p := &BJJ{inner: new(babyjubjub.PointAffine)}
	p.SetZero()
	return p
}

// New creates a new BJJ point (identity element by default).
func (g *BJJ) New() curve.Point {
	p := &BJJ{inner: new(babyjubjub.PointAffine)}
	p.SetZero()
	return p
}

// Order returns the order of the BabyJubJub curve subgroup.
func (g *BJJ) Order() *big.Int {
	return new(big.Int).Set(&Params.Order)
}

// Add performs the addition of two points and stores the result in g.
func (g *BJJ) Add(a, b curve.Point) {
	g.inner.Add(a.(*BJJ).inner, b.(*BJJ).inner)
}

// SafeAdd performs the addition of two points with a lock.
func (g *BJJ) SafeAdd(a, b curve.Point) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.Add(a, b)
}

// ScalarMult performs scalar multiplication of a point by a scalar.
func (g *BJJ) ScalarMult(a curve.Point, scalar *big.Int) {
	g.inner.ScalarMultiplication(a.(*BJJ).inner, scalar)
}

// ScalarBaseMult performs scalar multiplication using the base point.
func (g *BJJ) ScalarBaseMult(scalar *big.Int) {
	g.SetGenerator()
	g.ScalarMult(g, scalar)
}

// Equal checks if the given point is equal to the current point.
func (g *BJJ) Equal(a curve.Point) bool {
	return g.inner.Equal(a.(*BJJ).inner)
}

// Neg negates the given point and stores the result in g.
func (g *BJJ) Neg(a curve.Point) {
	g.inner.Neg(a.(*BJJ).inner)
}

// SetZero sets the current point to the identity element (0, 1).
func (g *BJJ) SetZero() {
	g.inner.X.SetZero() // X = 0
	g.inner.Y.SetOne()  // Y = 1
}

// Set sets g to the value of another point.
func (g *BJJ) Set(a curve.Point) {
	g.inner.Set(a.(*BJJ).inner)
}

// SetGenerator sets the point to the BabyJubJub generator.
func (g *BJJ) SetGenerator() {
	g.inner.Set(&Params.Base)
}

// String returns a string representation of the point in Twisted Edwards
// coordinates.
func (g *BJJ) String() string {
	x, y := g.Point()
	return fmt.Sprintf("%s,%s", x.String(), y.String())
}

// Marshal serializes the elliptic curve element into a byte slice.
func (p *BJJ) Marshal() []byte {
	return p.inner.Marshal()
}

// Unmarshal deserializes the elliptic curve element from a byte slice. It
// rejects encodings that are off-curve or outside the prime-order subgroup.
func (p *BJJ) Unmarshal(buf []byte) error {
	if err := p.inner.Unmarshal(buf); err != nil {
		return err
	}
	if !p.inner.IsOnCurve() {
		return fmt.Errorf("point is not on the curve")
	}
	return curve.CheckInSubGroup(p)
}

// MarshalJSON serializes the elliptic curve element into a JSON byte slice.
func (p *BJJ) MarshalJSON() ([]byte, error) {
	points := &curve.PointEC{}
	x, y := p.Point()
	points.X = types.BigInt(*x)
	points.Y = types.BigInt(*y)
	return json.Marshal(points)
}

// UnmarshalJSON deserializes the elliptic curve element from a JSON byte slice.
func (p *BJJ) UnmarshalJSON(buf []byte) error {
	points := &curve.PointEC{}
	if err := json.Unmarshal(buf, points); err != nil {
		return err
	}
	if p.inner == nil {
		p.inner = new(babyjubjub.PointAffine)
	}
	np := p.SetPoint(points.X.MathBigInt(), points.Y.MathBigInt())
	p.inner.Set(np.(*BJJ).inner)
	return nil
}

// Point returns the X and Y coordinates of the elliptic curve element in
// Twisted Edwards coordinates.
func (p *BJJ) Point() (*big.Int, *big.Int) {
	x, y := new(big.Int), new(big.Int)
	p.inner.X.BigInt(x)
	p.inner.Y.BigInt(y)
	return format.FromRTEtoTE(x, y)
}

// SetPoint sets the elliptic curve element from the X and Y coordinates in
// Twisted Edwards coordinates.
func (p *BJJ) SetPoint(x, y *big.Int) curve.Point {
	xRTE, yRTE := format.FromTEtoRTE(x, y)
	np := &BJJ{inner: new(babyjubjub.PointAffine)}
	np.inner.X.SetBigInt(xRTE)
	np.inner.Y.SetBigInt(yRTE)
	return np
}

func (g *BJJ) Type() string {
	return CurveType
}
