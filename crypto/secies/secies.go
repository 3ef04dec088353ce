// Package secies implements a vector ECIES over the protocol curve: a list
// of field elements is encrypted to a recipient public key with a one-time
// poseidon keystream derived from an ephemeral ECDH secret. The recipient
// only needs the ephemeral public key to re-derive the stream. It is the
// end-to-end encryption layer between voters and the coordinator.
package secies

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/hash/poseidon"
	"github.com/vocdoni/acvote/types"
)

// Encrypt encrypts a vector of field elements to the recipient public key
// with a fresh ephemeral key. It returns the ciphertext vector and the
// ephemeral public key the recipient needs for decryption.
func Encrypt(message []*big.Int, recipientPub ecc.Point) ([]*big.Int, ecc.Point, error) {
	r, err := rand.Int(rand.Reader, recipientPub.Order())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ephemeral scalar: %w", err)
	}
	if r.Sign() == 0 {
		r.SetInt64(1)
	}
	return EncryptWithK(message, recipientPub, r)
}

// EncryptWithK is like Encrypt with caller-provided ephemeral randomness.
func EncryptWithK(message []*big.Int, recipientPub ecc.Point, r *big.Int) ([]*big.Int, ecc.Point, error) {
	// R = r * G
	R := recipientPub.New()
	R.ScalarBaseMult(r)
	// S = r * recipientPub
	S := recipientPub.New()
	S.ScalarMult(recipientPub, r)

	cipher, err := applyKeystream(message, S, false)
	if err != nil {
		return nil, nil, err
	}
	return cipher, R, nil
}

// Decrypt recovers the message vector from the ciphertext and the ephemeral
// public key, using the recipient private scalar.
func Decrypt(cipher []*big.Int, ephemeral ecc.Point, privateKey *big.Int) ([]*big.Int, error) {
	// S = priv * R
	S := ephemeral.New()
	S.ScalarMult(ephemeral, privateKey)
	return applyKeystream(cipher, S, true)
}

// applyKeystream adds (or subtracts) the poseidon keystream derived from the
// shared point to every element: stream_i = Poseidon(S.x, S.y, i).
func applyKeystream(in []*big.Int, shared ecc.Point, invert bool) ([]*big.Int, error) {
	sx, sy := shared.Point()
	out := make([]*big.Int, len(in))
	for i, m := range in {
		s, err := poseidon.Hash(sx, sy, big.NewInt(int64(i)))
		if err != nil {
			return nil, fmt.Errorf("keystream derivation failed: %w", err)
		}
		v := new(big.Int)
		if invert {
			v.Sub(in[i], s)
		} else {
			v.Add(m, s)
		}
		out[i] = v.Mod(v, types.FieldPrime)
	}
	return out, nil
}
