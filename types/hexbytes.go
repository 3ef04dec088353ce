package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexBytes is a byte slice that serializes as a 0x-prefixed hex string in
// JSON.
type HexBytes []byte

// String returns the 0x-prefixed hex representation of b.
func (b HexBytes) String() string {
	return "0x" + hex.EncodeToString(b)
}

// MarshalJSON implements the json.Marshaler interface.
func (b HexBytes) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface. The 0x prefix is
// optional.
func (b *HexBytes) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	s = strings.TrimPrefix(s, "0x")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("cannot decode hex string %q: %w", s, err)
	}
	*b = decoded
	return nil
}
