// Package babyjub provides the voter and coordinator key scheme: blake512
// based deterministic key derivation, poseidon-EdDSA signatures with a
// deterministic per-message nonce, and ECDH shared secrets. All public
// material is exposed as ecc.Point so the rest of the protocol stays backend
// agnostic.
package babyjub

import (
	"fmt"
	"math/big"

	bjj "github.com/iden3/go-iden3-crypto/babyjub"

	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/ecc/curves"
	"github.com/vocdoni/acvote/crypto/hash/poseidon"
	"github.com/vocdoni/acvote/types"
	"github.com/vocdoni/acvote/util"
)

// KeyPair holds a babyjubjub private key and its derived public point.
// The effective scalar is derived from the key material with the blake512
// pruning of EdDSA, reduced into the subgroup order, so distinct scalars
// never collide on one public key.
type KeyPair struct {
	priv bjj.PrivateKey
}

// GenerateKeyPair returns a KeyPair built from fresh randomness.
func GenerateKeyPair() *KeyPair {
	return &KeyPair{priv: bjj.NewRandPrivKey()}
}

// FromSeed derives a KeyPair deterministically from 32 bytes of seed
// material. The same seed always yields the same key.
func FromSeed(seed [32]byte) *KeyPair {
	k := &KeyPair{}
	copy(k.priv[:], seed[:])
	return k
}

// Scalar returns the effective private scalar of the key.
func (k *KeyPair) Scalar() *big.Int {
	return k.priv.Scalar().BigInt()
}

// PublicKey returns the public point scalar*G.
func (k *KeyPair) PublicKey() ecc.Point {
	pub := k.priv.Public()
	return curves.New(curves.CurveTypeBabyJubJub).SetPoint(pub.X, pub.Y)
}

// Signature is a poseidon-EdDSA signature.
type Signature struct {
	R8 ecc.Point
	S  *big.Int
}

// Sign produces the deterministic poseidon-EdDSA signature of msg. The
// per-message nonce is derived from the private key and the message hash, so
// a (key, message) pair always maps to the same signature.
func (k *KeyPair) Sign(msg *big.Int) *Signature {
	sig := k.priv.SignPoseidon(util.BigToFF(msg))
	return &Signature{
		R8: curves.New(curves.CurveTypeBabyJubJub).SetPoint(sig.R8.X, sig.R8.Y),
		S:  sig.S,
	}
}

// Verify checks a poseidon-EdDSA signature of msg under the given public
// point. Verification recomputes the commitment point from the signature,
// the message hash and the public key.
func Verify(pub ecc.Point, msg *big.Int, sig *Signature) bool {
	if pub == nil || sig == nil || sig.R8 == nil || sig.S == nil {
		return false
	}
	px, py := pub.Point()
	rx, ry := sig.R8.Point()
	pk := bjj.PublicKey(bjj.Point{X: px, Y: py})
	bsig := &bjj.Signature{
		R8: &bjj.Point{X: rx, Y: ry},
		S:  sig.S,
	}
	return pk.VerifyPoseidon(util.BigToFF(msg), bsig)
}

// ECDH computes the shared secret point scalar*pub. For any two keypairs a
// and b, a.ECDH(b.PublicKey()) equals b.ECDH(a.PublicKey()).
func (k *KeyPair) ECDH(pub ecc.Point) ecc.Point {
	shared := pub.New()
	shared.ScalarMult(pub, k.Scalar())
	return shared
}

// SharedKeyHash derives the poseidon hash of the ECDH secret with the given
// public key. It binds a deactivate record to the only voter able to
// recompute it.
func (k *KeyPair) SharedKeyHash(pub ecc.Point) (*big.Int, error) {
	x, y := k.ECDH(pub).Point()
	return poseidon.Hash(x, y)
}

// Nullifier derives the single-use reactivation token of the key. Spending
// it registers the key as consumed and blocks any replay.
func (k *KeyPair) Nullifier() (*big.Int, error) {
	return poseidon.Hash(k.Scalar(), types.NullifierSeed)
}

// PublicKeyFromBytes unpacks a compressed public key, failing closed on
// malformed, off-curve or off-subgroup input.
func PublicKeyFromBytes(data []byte) (ecc.Point, error) {
	p := curves.New(curves.CurveTypeBabyJubJub)
	if err := p.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return p, nil
}
