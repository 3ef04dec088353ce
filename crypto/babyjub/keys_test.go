package babyjub

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/acvote/crypto/ecc"
)

func TestKeyDerivationIsDeterministic(t *testing.T) {
	seed := [32]byte{1, 2, 3, 4}
	a := FromSeed(seed)
	b := FromSeed(seed)
	qt.Assert(t, a.Scalar().Cmp(b.Scalar()), qt.Equals, 0)
	qt.Assert(t, a.PublicKey().Equal(b.PublicKey()), qt.IsTrue)
	qt.Assert(t, ecc.CheckInSubGroup(a.PublicKey()), qt.IsNil)
}

func TestSignVerify(t *testing.T) {
	key := GenerateKeyPair()
	msg := big.NewInt(123456789)

	sig := key.Sign(msg)
	qt.Assert(t, Verify(key.PublicKey(), msg, sig), qt.IsTrue)

	// Deterministic: same key and message, same signature.
	sig2 := key.Sign(msg)
	qt.Assert(t, sig.S.Cmp(sig2.S), qt.Equals, 0)
	qt.Assert(t, sig.R8.Equal(sig2.R8), qt.IsTrue)

	// Wrong message and wrong key both fail.
	qt.Assert(t, Verify(key.PublicKey(), big.NewInt(987), sig), qt.IsFalse)
	other := GenerateKeyPair()
	qt.Assert(t, Verify(other.PublicKey(), msg, sig), qt.IsFalse)
}

func TestECDHIsSymmetric(t *testing.T) {
	for range 4 {
		a := GenerateKeyPair()
		b := GenerateKeyPair()
		ab := a.ECDH(b.PublicKey())
		ba := b.ECDH(a.PublicKey())
		qt.Assert(t, ab.Equal(ba), qt.IsTrue)

		abHash, err := a.SharedKeyHash(b.PublicKey())
		qt.Assert(t, err, qt.IsNil)
		baHash, err := b.SharedKeyHash(a.PublicKey())
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, abHash.Cmp(baHash), qt.Equals, 0)
	}
}

func TestNullifierIsStablePerKey(t *testing.T) {
	key := GenerateKeyPair()
	n1, err := key.Nullifier()
	qt.Assert(t, err, qt.IsNil)
	n2, err := key.Nullifier()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, n1.Cmp(n2), qt.Equals, 0)

	other := GenerateKeyPair()
	n3, err := other.Nullifier()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, n1.Cmp(n3), qt.Not(qt.Equals), 0)
}

func TestPublicKeyFromBytesRoundTrip(t *testing.T) {
	key := GenerateKeyPair()
	data := key.PublicKey().Marshal()
	pub, err := PublicKeyFromBytes(data)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, pub.Equal(key.PublicKey()), qt.IsTrue)

	_, err = PublicKeyFromBytes([]byte{1, 2, 3})
	qt.Assert(t, err, qt.IsNotNil)
}
