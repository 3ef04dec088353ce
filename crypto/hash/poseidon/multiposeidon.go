// Package poseidon wraps the iden3 poseidon permutation as the protocol
// hash. The round-constant tables are built once at package init inside the
// underlying library; every call site shares that single instance.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Hash computes the poseidon hash of up to 16 field elements at its native
// arity. It is the compression function of every protocol tree and
// commitment.
func Hash(inputs ...*big.Int) (*big.Int, error) {
	return poseidon.Hash(inputs)
}

// MustHash is like Hash but panics on invalid arity. It is meant for call
// sites with a fixed input count known at compile time.
func MustHash(inputs ...*big.Int) *big.Int {
	h, err := poseidon.Hash(inputs)
	if err != nil {
		panic(err)
	}
	return h
}

// MultiPoseidon hashes an arbitrary number of inputs (up to 256) by chunking
// them in groups of 16 and hashing the chunk hashes together.
func MultiPoseidon(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) > 256 {
		return nil, fmt.Errorf("too many inputs")
	} else if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	// calculate chunk hashes
	hashes := []*big.Int{}
	chunk := []*big.Int{}
	for _, input := range inputs {
		if len(chunk) == 16 {
			hash, err := poseidon.Hash(chunk)
			if err != nil {
				return nil, err
			}
			hashes = append(hashes, hash)
			chunk = []*big.Int{}
		}
		chunk = append(chunk, input)
	}
	// if the final chunk is not empty, hash it to get the last chunk hash
	if len(chunk) > 0 {
		hash, err := poseidon.Hash(chunk)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	// if there is only one chunk hash, return it
	if len(hashes) == 1 {
		return hashes[0], nil
	}
	// return the hash of all chunk hashes
	return poseidon.Hash(hashes)
}
