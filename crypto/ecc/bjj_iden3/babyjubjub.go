// Package bjj implements the protocol curve over the iden3 babyjubjub
// arithmetic. It is the default backend: its compressed encoding (y
// coordinate plus the sign bit of x in a single field-sized value) is the
// pack/unpack format of the wire protocol.
package bjj

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/fxamacker/cbor/v2"
	babyjubjub "github.com/iden3/go-iden3-crypto/babyjub"

	curve "github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/types"
)

const CurveType = "bjj_iden3"

// BJJ is the affine representation of the BabyJubJub group element.
type BJJ struct {
	inner *babyjubjub.Point
	lock  sync.Mutex
}

// New creates a new BJJ point (identity element by default).
func New() curve.Point {
	p := &BJJ{inner: babyjubjub.NewPoint()}
	p.SetZero()
	return p
}

func (g *BJJ) New() curve.Point {
	p := &BJJ{inner: babyjubjub.NewPoint()}
	p.SetZero()
	return p
}

func (g *BJJ) Order() *big.Int {
	return new(big.Int).Set(babyjubjub.SubOrder)
}

func (g *BJJ) Add(a, b curve.Point) {
	g.inner = g.inner.Projective().Add(a.(*BJJ).inner.Projective(), b.(*BJJ).inner.Projective()).Affine()
}

func (g *BJJ) SafeAdd(a, b curve.Point) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.Add(a, b)
}

func (g *BJJ) ScalarMult(a curve.Point, scalar *big.Int) {
	g.inner = g.inner.Mul(scalar, a.(*BJJ).inner)
}

func (g *BJJ) ScalarBaseMult(scalar *big.Int) {
	g.inner = g.inner.Mul(scalar, babyjubjub.B8)
}

// Marshal packs the point into 32 bytes: the y coordinate with the sign of x
// folded into the top bit.
func (g *BJJ) Marshal() []byte {
	b := g.inner.Compress()
	return b[:]
}

// Unmarshal unpacks a compressed point. The decompression solves the curve
// equation, so off-curve encodings are rejected; points outside the
// prime-order subgroup are rejected as well.
func (g *BJJ) Unmarshal(buf []byte) error {
	if len(buf) != 32 {
		return fmt.Errorf("invalid compressed point length: %d", len(buf))
	}
	b32 := [32]byte{}
	copy(b32[:], buf)
	if _, err := g.inner.Decompress(b32); err != nil {
		return err
	}
	return curve.CheckInSubGroup(g)
}

// MarshalJSON serializes the elliptic curve element into a JSON byte slice.
func (g *BJJ) MarshalJSON() ([]byte, error) {
	return json.Marshal([]types.BigInt{types.BigInt(*g.inner.X), types.BigInt(*g.inner.Y)})
}

// UnmarshalJSON deserializes the elliptic curve element from a JSON byte slice.
func (g *BJJ) UnmarshalJSON(buf []byte) error {
	if g.inner == nil {
		g.inner = babyjubjub.NewPoint()
	}
	var coords []types.BigInt
	if err := json.Unmarshal(buf, &coords); err != nil {
		return err
	}
	if len(coords) != 2 {
		return fmt.Errorf("expected 2 coordinates, got %d", len(coords))
	}
	g.inner.X = coords[0].MathBigInt()
	g.inner.Y = coords[1].MathBigInt()
	return nil
}

func (g *BJJ) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]*big.Int{g.inner.X, g.inner.Y})
}

func (g *BJJ) UnmarshalCBOR(buf []byte) error {
	if g.inner == nil {
		g.inner = babyjubjub.NewPoint()
	}
	var coords []*big.Int
	if err := cbor.Unmarshal(buf, &coords); err != nil {
		return err
	}
	if len(coords) != 2 {
		return fmt.Errorf("expected 2 coordinates, got %d", len(coords))
	}
	g.inner.X = coords[0]
	g.inner.Y = coords[1]
	return nil
}

func (g *BJJ) Equal(a curve.Point) bool {
	return g.inner.X.Cmp(a.(*BJJ).inner.X) == 0 && g.inner.Y.Cmp(a.(*BJJ).inner.Y) == 0
}

func (g *BJJ) Neg(a curve.Point) {
	g.Set(a)
	g.inner.X = new(big.Int).Mod(new(big.Int).Neg(g.inner.X), constantQ)
}

func (g *BJJ) SetZero() {
	g.inner.X = big.NewInt(0)
	g.inner.Y = big.NewInt(1)
}

func (g *BJJ) Set(a curve.Point) {
	g.inner.X = new(big.Int).Set(a.(*BJJ).inner.X)
	g.inner.Y = new(big.Int).Set(a.(*BJJ).inner.Y)
}

func (g *BJJ) SetGenerator() {
	gen := babyjubjub.B8
	g.inner.X = new(big.Int).Set(gen.X)
	g.inner.Y = new(big.Int).Set(gen.Y)
}

func (g *BJJ) String() string {
	return fmt.Sprintf("%s,%s", g.inner.X.String(), g.inner.Y.String())
}

func (g *BJJ) Point() (*big.Int, *big.Int) {
	return new(big.Int).Set(g.inner.X), new(big.Int).Set(g.inner.Y)
}

func (g *BJJ) SetPoint(x, y *big.Int) curve.Point {
	p := &BJJ{inner: babyjubjub.NewPoint()}
	p.inner.X = new(big.Int).Set(x)
	p.inner.Y = new(big.Int).Set(y)
	return p
}

func (g *BJJ) Type() string {
	return CurveType
}

// constantQ is the base field modulus of babyjubjub.
var constantQ, _ = new(big.Int).SetString(
	"21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)
