package elgamal

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/acvote/crypto/ecc/curves"
)

func TestGenerateKey(t *testing.T) {
	curve := curves.New(curves.CurveTypeBabyJubJub)
	publicKey, privateKey, err := GenerateKey(curve)
	qt.Assert(t, err, qt.IsNil)

	// publicKey = privateKey * G
	testPoint := curve.New()
	testPoint.SetGenerator()
	testPoint.ScalarMult(testPoint, privateKey)
	qt.Assert(t, testPoint.Equal(publicKey), qt.IsTrue)
}

func TestEncryptDecrypt(t *testing.T) {
	curve := curves.New(curves.CurveTypeBabyJubJub)
	publicKey, privateKey, err := GenerateKey(curve)
	qt.Assert(t, err, qt.IsNil)

	maxMessage := uint64(1000)
	for _, m := range []int64{0, 1, 42, 999} {
		msg := big.NewInt(m)
		c1, c2, k, err := Encrypt(publicKey, msg)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, k, qt.Not(qt.IsNil))

		_, recovered, err := Decrypt(publicKey, privateKey, c1, c2, maxMessage)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, recovered.Cmp(msg), qt.Equals, 0)
	}
}

func TestRerandomizePreservesPlaintext(t *testing.T) {
	curve := curves.New(curves.CurveTypeBabyJubJub)
	publicKey, privateKey, err := GenerateKey(curve)
	qt.Assert(t, err, qt.IsNil)

	msg := big.NewInt(77)
	c1, c2, _, err := Encrypt(publicKey, msg)
	qt.Assert(t, err, qt.IsNil)

	for range 3 {
		k, err := RandK()
		qt.Assert(t, err, qt.IsNil)
		r1, r2 := Rerandomize(publicKey, c1, c2, k)

		// Same plaintext under the same private key.
		_, recovered, err := Decrypt(publicKey, privateKey, r1, r2, 1000)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, recovered.Cmp(msg), qt.Equals, 0)

		// Fresh randomness: the ciphertext points moved.
		qt.Assert(t, r1.Equal(c1), qt.IsFalse)
		qt.Assert(t, r2.Equal(c2), qt.IsFalse)

		c1, c2 = r1, r2
	}
}

func TestFlagParity(t *testing.T) {
	curve := curves.New(curves.CurveTypeBabyJubJub)
	publicKey, privateKey, err := GenerateKey(curve)
	qt.Assert(t, err, qt.IsNil)

	for _, active := range []bool{true, false} {
		c1, c2, _, err := EncryptFlag(publicKey, active)
		qt.Assert(t, err, qt.IsNil)

		got, err := DecryptFlag(publicKey, privateKey, c1, c2)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, got, qt.Equals, active)

		// Parity survives rerandomization.
		k, err := RandK()
		qt.Assert(t, err, qt.IsNil)
		r1, r2 := Rerandomize(publicKey, c1, c2, k)
		got, err = DecryptFlag(publicKey, privateKey, r1, r2)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, got, qt.Equals, active)
	}
}

func TestCiphertextAddAndSerialize(t *testing.T) {
	curve := curves.New(curves.CurveTypeBabyJubJub)
	publicKey, privateKey, err := GenerateKey(curve)
	qt.Assert(t, err, qt.IsNil)

	a := NewCiphertext(curve)
	_, err = a.Encrypt(big.NewInt(10), publicKey, nil)
	qt.Assert(t, err, qt.IsNil)
	b := NewCiphertext(curve)
	_, err = b.Encrypt(big.NewInt(32), publicKey, nil)
	qt.Assert(t, err, qt.IsNil)

	sum := NewCiphertext(curve).Add(a, b)
	_, recovered, err := Decrypt(publicKey, privateKey, sum.C1, sum.C2, 1000)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, recovered.Cmp(big.NewInt(42)), qt.Equals, 0)

	data := sum.Serialize()
	back := NewCiphertext(curve)
	qt.Assert(t, back.Deserialize(data), qt.IsNil)
	qt.Assert(t, back.C1.Equal(sum.C1), qt.IsTrue)
	qt.Assert(t, back.C2.Equal(sum.C2), qt.IsTrue)
}
