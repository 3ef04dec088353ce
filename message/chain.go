package message

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/ecc/curves"
	"github.com/vocdoni/acvote/crypto/hash/poseidon"
)

// ChainEntry is one link of the append-only message chain: the encrypted
// payload, the ephemeral public key the coordinator needs to open it, and
// the running hash binding the entry to its predecessor.
type ChainEntry struct {
	Ciphertext []*big.Int
	Ephemeral  ecc.Point
	PrevHash   *big.Int
	Hash       *big.Int
}

// EntryHash computes the chain hash of an entry from its content and the
// previous chain hash.
func EntryHash(ciphertext []*big.Int, ephemeral ecc.Point, prevHash *big.Int) (*big.Int, error) {
	ex, ey := ephemeral.Point()
	inputs := make([]*big.Int, 0, len(ciphertext)+3)
	inputs = append(inputs, ciphertext...)
	inputs = append(inputs, ex, ey, prevHash)
	return poseidon.MultiPoseidon(inputs...)
}

// Chain is a strictly append-only hash-linked sequence of encrypted
// commands. The zero value is not usable; use NewChain.
type Chain struct {
	entries []*ChainEntry
}

// NewChain returns an empty chain. The hash before any entry is zero.
func NewChain() *Chain {
	return &Chain{}
}

// Len returns the number of entries recorded.
func (c *Chain) Len() int { return len(c.entries) }

// At returns the entry at the given offset.
func (c *Chain) At(i int) (*ChainEntry, error) {
	if i < 0 || i >= len(c.entries) {
		return nil, fmt.Errorf("chain offset %d out of range (len %d)", i, len(c.entries))
	}
	return c.entries[i], nil
}

// LastHash returns the hash of the newest entry, or zero for an empty
// chain.
func (c *Chain) LastHash() *big.Int {
	return c.HashAt(len(c.entries))
}

// HashAt returns the chain hash after the first n entries: zero for n == 0,
// otherwise the hash of entry n-1. These are the recorded boundary values a
// batch must match.
func (c *Chain) HashAt(n int) *big.Int {
	if n <= 0 || len(c.entries) == 0 {
		return big.NewInt(0)
	}
	if n > len(c.entries) {
		n = len(c.entries)
	}
	return new(big.Int).Set(c.entries[n-1].Hash)
}

// Append links a new encrypted payload to the chain and returns the entry.
func (c *Chain) Append(ciphertext []*big.Int, ephemeral ecc.Point) (*ChainEntry, error) {
	prev := c.LastHash()
	hash, err := EntryHash(ciphertext, ephemeral, prev)
	if err != nil {
		return nil, fmt.Errorf("cannot hash chain entry: %w", err)
	}
	entry := &ChainEntry{
		Ciphertext: ciphertext,
		Ephemeral:  ephemeral,
		PrevHash:   prev,
		Hash:       hash,
	}
	c.entries = append(c.entries, entry)
	return entry, nil
}

// Truncate drops entries past length n. It exists only to roll back a
// partially appended batch inside one publish transaction; committed
// entries are never truncated.
func (c *Chain) Truncate(n int) {
	if n >= 0 && n < len(c.entries) {
		c.entries = c.entries[:n]
	}
}

// Slice returns the entries in [start, start+size), padded with
// deterministic no-op entries when the chain is shorter. Padding entries
// never decrypt to a valid signed command, so the folding step provably
// skips them.
func (c *Chain) Slice(start, size int) ([]*ChainEntry, error) {
	if start < 0 || start > len(c.entries) {
		return nil, fmt.Errorf("chain offset %d out of range (len %d)", start, len(c.entries))
	}
	out := make([]*ChainEntry, 0, size)
	prev := c.HashAt(start)
	for i := range size {
		if start+i < len(c.entries) {
			e := c.entries[start+i]
			out = append(out, e)
			prev = e.Hash
			continue
		}
		pad, err := PaddingEntry(prev)
		if err != nil {
			return nil, err
		}
		out = append(out, pad)
		prev = pad.Hash
	}
	return out, nil
}

// PaddingEntry builds the deterministic no-op entry used to fill a short
// batch: an all-zero ciphertext under the identity ephemeral key. Whatever
// it decrypts to fails signature validation, and a nonce-0 command can never
// be valid anyway (leaves start at nonce 0, so the first accepted command
// carries nonce 1).
func PaddingEntry(prevHash *big.Int) (*ChainEntry, error) {
	ciphertext := make([]*big.Int, PayloadLen)
	for i := range ciphertext {
		ciphertext[i] = big.NewInt(0)
	}
	ephemeral := curves.New(curves.CurveTypeBabyJubJub) // identity
	hash, err := EntryHash(ciphertext, ephemeral, prevHash)
	if err != nil {
		return nil, fmt.Errorf("cannot hash padding entry: %w", err)
	}
	return &ChainEntry{
		Ciphertext: ciphertext,
		Ephemeral:  ephemeral,
		PrevHash:   new(big.Int).Set(prevHash),
		Hash:       hash,
	}, nil
}
