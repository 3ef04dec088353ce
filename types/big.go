package types

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// BigInt is a wrapper over math/big.Int that serializes as a decimal string
// in JSON and as raw big-endian bytes in CBOR.
type BigInt big.Int

// MathBigInt converts b to a math/big.Int.
func (b *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(b)
}

// String returns the decimal representation of b.
func (b *BigInt) String() string {
	return b.MathBigInt().String()
}

// Bytes returns the big-endian byte representation of b.
func (b *BigInt) Bytes() []byte {
	return b.MathBigInt().Bytes()
}

// SetBytes interprets buf as big-endian bytes, sets b to that value and
// returns b.
func (b *BigInt) SetBytes(buf []byte) *BigInt {
	b.MathBigInt().SetBytes(buf)
	return b
}

// MarshalJSON implements the json.Marshaler interface.
func (b *BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface. It accepts both
// quoted and unquoted decimal representations.
func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if _, ok := b.MathBigInt().SetString(s, 10); !ok {
		return fmt.Errorf("cannot parse %q as a decimal number", s)
	}
	return nil
}

// MarshalCBOR implements the cbor.Marshaler interface.
func (b *BigInt) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(b.Bytes())
}

// UnmarshalCBOR implements the cbor.Unmarshaler interface.
func (b *BigInt) UnmarshalCBOR(data []byte) error {
	var buf []byte
	if err := cbor.Unmarshal(data, &buf); err != nil {
		return err
	}
	b.SetBytes(buf)
	return nil
}
