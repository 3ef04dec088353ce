package state

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/ecc/curves"
	"github.com/vocdoni/acvote/crypto/elgamal"
	"github.com/vocdoni/acvote/crypto/hash/poseidon"
	"github.com/vocdoni/acvote/types"
)

// StateLeaf is the per-voter record committed into the state tree. D1/D2
// hold the coordinates of the activation ciphertext; the all-zero sentinel
// set at sign-up counts as active.
type StateLeaf struct {
	PublicKey      ecc.Point
	Balance        *big.Int
	VoteOptionRoot *big.Int
	Nonce          uint32
	D1             [2]*big.Int
	D2             [2]*big.Int
}

// NewStateLeaf returns the leaf created at sign-up: fresh key, full balance,
// the given empty vote option root, nonce zero and the active sentinel
// ciphertext.
func NewStateLeaf(publicKey ecc.Point, balance, voteOptionRoot *big.Int) *StateLeaf {
	return &StateLeaf{
		PublicKey:      publicKey,
		Balance:        new(big.Int).Set(balance),
		VoteOptionRoot: new(big.Int).Set(voteOptionRoot),
		D1:             [2]*big.Int{big.NewInt(0), big.NewInt(0)},
		D2:             [2]*big.Int{big.NewInt(0), big.NewInt(0)},
	}
}

// Hash computes the leaf hash:
// Poseidon(Poseidon(pk.x, pk.y, balance, voRoot, nonce), Poseidon(d1.x, d1.y, d2.x, d2.y, 0)).
func (l *StateLeaf) Hash() (*big.Int, error) {
	x, y := l.PublicKey.Point()
	left, err := poseidon.Hash(x, y, l.Balance, l.VoteOptionRoot, new(big.Int).SetUint64(uint64(l.Nonce)))
	if err != nil {
		return nil, fmt.Errorf("cannot hash leaf key half: %w", err)
	}
	right, err := poseidon.Hash(l.D1[0], l.D1[1], l.D2[0], l.D2[1], big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("cannot hash leaf activation half: %w", err)
	}
	return poseidon.Hash(left, right)
}

// HasActivationCiphertext reports whether the leaf carries a real
// activation ciphertext rather than the sign-up sentinel.
func (l *StateLeaf) HasActivationCiphertext() bool {
	return l.D1[0].Sign() != 0 || l.D1[1].Sign() != 0 ||
		l.D2[0].Sign() != 0 || l.D2[1].Sign() != 0
}

// ActivationCiphertext returns the ElGamal ciphertext encoded by D1/D2. The
// second return is false for the sign-up sentinel.
func (l *StateLeaf) ActivationCiphertext() (*elgamal.Ciphertext, bool) {
	if !l.HasActivationCiphertext() {
		return nil, false
	}
	c1 := curves.New(curves.CurveTypeBabyJubJub).SetPoint(l.D1[0], l.D1[1])
	c2 := curves.New(curves.CurveTypeBabyJubJub).SetPoint(l.D2[0], l.D2[1])
	return &elgamal.Ciphertext{C1: c1, C2: c2}, true
}

// serializableLeaf is the cbor wire form of a StateLeaf.
type serializableLeaf struct {
	PublicKey []byte          `cbor:"0,keyasint"`
	Balance   *types.BigInt   `cbor:"1,keyasint"`
	VoRoot    *types.BigInt   `cbor:"2,keyasint"`
	Nonce     uint32          `cbor:"3,keyasint"`
	D         []*types.BigInt `cbor:"4,keyasint"`
}

// Marshal encodes the leaf for storage.
func (l *StateLeaf) Marshal() ([]byte, error) {
	s := serializableLeaf{
		PublicKey: l.PublicKey.Marshal(),
		Balance:   (*types.BigInt)(l.Balance),
		VoRoot:    (*types.BigInt)(l.VoteOptionRoot),
		Nonce:     l.Nonce,
		D: []*types.BigInt{
			(*types.BigInt)(l.D1[0]), (*types.BigInt)(l.D1[1]),
			(*types.BigInt)(l.D2[0]), (*types.BigInt)(l.D2[1]),
		},
	}
	return cbor.Marshal(s)
}

// Unmarshal decodes a stored leaf.
func (l *StateLeaf) Unmarshal(data []byte) error {
	s := serializableLeaf{}
	if err := cbor.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("cannot decode state leaf: %w", err)
	}
	if len(s.D) != 4 {
		return fmt.Errorf("invalid activation ciphertext length: %d", len(s.D))
	}
	pub := curves.New(curves.CurveTypeBabyJubJub)
	if err := pub.Unmarshal(s.PublicKey); err != nil {
		return fmt.Errorf("invalid stored public key: %w", err)
	}
	l.PublicKey = pub
	l.Balance = s.Balance.MathBigInt()
	l.VoteOptionRoot = s.VoRoot.MathBigInt()
	l.Nonce = s.Nonce
	l.D1 = [2]*big.Int{s.D[0].MathBigInt(), s.D[1].MathBigInt()}
	l.D2 = [2]*big.Int{s.D[2].MathBigInt(), s.D[3].MathBigInt()}
	return nil
}

// DeactivateRecord is a deactivate-tree leaf: the flag ciphertext and the
// hash of the ECDH secret that lets only the affected voter locate it.
type DeactivateRecord struct {
	C1            [2]*big.Int
	C2            [2]*big.Int
	SharedKeyHash *big.Int
}

// Hash computes the deactivate-tree leaf hash.
func (r *DeactivateRecord) Hash() (*big.Int, error) {
	return poseidon.Hash(r.C1[0], r.C1[1], r.C2[0], r.C2[1], r.SharedKeyHash)
}
