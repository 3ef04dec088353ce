package elgamal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/vocdoni/arbo"

	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/ecc/curves"
)

// sizes in bytes needed to serialize a Ciphertext
const (
	sizeCoord      = 32
	sizePoint      = 2 * sizeCoord
	SizeCiphertext = 2 * sizePoint
)

// Ciphertext represents an ElGamal encrypted message. It is a convenience
// wrapper encapsulating the two points of a ciphertext.
type Ciphertext struct {
	C1 ecc.Point `json:"c1"`
	C2 ecc.Point `json:"c2"`
}

// NewCiphertext creates a new Ciphertext on the same curve as the passed
// point. The points are initialized to the identity.
func NewCiphertext(curve ecc.Point) *Ciphertext {
	return &Ciphertext{C1: curve.New(), C2: curve.New()}
}

// Encrypt encrypts a message using the public key provided as elliptic curve
// point. The randomness k can be provided or nil to generate a new one.
func (z *Ciphertext) Encrypt(message *big.Int, publicKey ecc.Point, k *big.Int) (*Ciphertext, error) {
	var err error
	if k == nil {
		k, err = RandK()
		if err != nil {
			return nil, fmt.Errorf("elgamal encryption failed: %w", err)
		}
	}
	c1, c2, err := EncryptWithK(publicKey, message, k)
	if err != nil {
		return nil, fmt.Errorf("elgamal encryption failed: %w", err)
	}
	z.C1 = c1
	z.C2 = c2
	return z, nil
}

// Rerandomize refreshes the randomness of z into the receiver, preserving
// the plaintext. The randomizer k can be provided or nil to generate a new
// one. It returns the receiver and the randomizer used.
func (z *Ciphertext) Rerandomize(x *Ciphertext, publicKey ecc.Point, k *big.Int) (*Ciphertext, *big.Int, error) {
	var err error
	if k == nil {
		k, err = RandK()
		if err != nil {
			return nil, nil, fmt.Errorf("elgamal rerandomization failed: %w", err)
		}
	}
	z.C1, z.C2 = Rerandomize(publicKey, x.C1, x.C2, k)
	return z, k, nil
}

// Add adds two Ciphertexts homomorphically and stores the result in the
// receiver, which is also returned.
func (z *Ciphertext) Add(x, y *Ciphertext) *Ciphertext {
	z.C1.SafeAdd(x.C1, y.C1)
	z.C2.SafeAdd(x.C2, y.C2)
	return z
}

// Serialize returns a slice of SizeCiphertext bytes, representing C1.X,
// C1.Y, C2.X, C2.Y as little-endian values in twisted Edwards form.
func (z *Ciphertext) Serialize() []byte {
	var buf bytes.Buffer
	for _, p := range []ecc.Point{z.C1, z.C2} {
		x, y := p.Point()
		buf.Write(arbo.BigIntToBytes(sizeCoord, x))
		buf.Write(arbo.BigIntToBytes(sizeCoord, y))
	}
	return buf.Bytes()
}

// Deserialize reconstructs a Ciphertext from a slice of SizeCiphertext
// bytes, representing C1.X, C1.Y, C2.X, C2.Y as little-endian values in
// twisted Edwards form.
func (z *Ciphertext) Deserialize(data []byte) error {
	if len(data) != SizeCiphertext {
		return fmt.Errorf("invalid input length: got %d bytes, expected %d bytes",
			len(data), SizeCiphertext)
	}
	readPoint := func(offset int) ecc.Point {
		x := arbo.BytesToBigInt(data[offset : offset+sizeCoord])
		y := arbo.BytesToBigInt(data[offset+sizeCoord : offset+sizePoint])
		return curves.New(curves.CurveTypeBabyJubJub).SetPoint(x, y)
	}
	z.C1 = readPoint(0)
	z.C2 = readPoint(sizePoint)
	return nil
}

// Marshal converts Ciphertext to a byte slice.
func (z *Ciphertext) Marshal() ([]byte, error) {
	return json.Marshal(z)
}

// Unmarshal populates Ciphertext from a byte slice.
func (z *Ciphertext) Unmarshal(data []byte) error {
	aux := struct {
		C1 json.RawMessage `json:"c1"`
		C2 json.RawMessage `json:"c2"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c1 := curves.New(curves.CurveTypeBabyJubJub)
	c2 := curves.New(curves.CurveTypeBabyJubJub)
	if err := json.Unmarshal(aux.C1, c1); err != nil {
		return err
	}
	if err := json.Unmarshal(aux.C2, c2); err != nil {
		return err
	}
	z.C1, z.C2 = c1, c2
	return nil
}

// String returns a string representation of the Ciphertext.
func (z *Ciphertext) String() string {
	if z == nil || z.C1 == nil || z.C2 == nil {
		return "{C1: nil, C2: nil}"
	}
	return fmt.Sprintf("{C1: %s, C2: %s}", z.C1.String(), z.C2.String())
}
