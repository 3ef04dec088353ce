// Package message implements the encrypted command protocol between voters
// and the coordinator: command packing, poseidon-EdDSA signing, end-to-end
// encryption to the coordinator key, and the append-only hash-linked chains
// the ledger records.
package message

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/acvote/crypto/babyjub"
	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/ecc/curves"
	"github.com/vocdoni/acvote/crypto/hash/poseidon"
	"github.com/vocdoni/acvote/crypto/secies"
)

// Packed scalar layout, low bits first:
//
//	nonce | voterIndex<<32 | optionIndex<<64 | newVoteWeight<<96 | salt<<192
const (
	shiftVoterIndex  = 32
	shiftOptionIndex = 64
	shiftVoteWeight  = 96
	shiftSalt        = 192
	// maxSaltBits keeps the packed value inside the field.
	maxSaltBits = 61
	// maxWeightBits is the width of the newVoteWeight slot.
	maxWeightBits = 96
)

// PayloadLen is the number of field elements in an encrypted command
// payload: packed scalar, new public key coordinates and the signature.
const PayloadLen = 6

// Command is a voter intent: either a vote or a key deactivation. The set is
// closed; the folding step matches exhaustively on the two variants.
type Command interface {
	// Nonce returns the per-voter sequence number of the command.
	Nonce() uint32
	// VoterIndex returns the state leaf index the command addresses.
	VoterIndex() uint32
	// pack encodes the command into one field element plus the new public
	// key coordinates (zeroed for deactivation).
	pack() (*big.Int, *big.Int, *big.Int, error)
	sealed()
}

// VoteCommand casts NewVoteWeight credits on OptionIndex and rotates the
// leaf to NewPublicKey.
type VoteCommand struct {
	CmdNonce      uint32
	CmdVoterIndex uint32
	OptionIndex   uint32
	NewVoteWeight *big.Int
	Salt          *big.Int
	NewPublicKey  ecc.Point
}

func (v *VoteCommand) Nonce() uint32      { return v.CmdNonce }
func (v *VoteCommand) VoterIndex() uint32 { return v.CmdVoterIndex }
func (v *VoteCommand) sealed()            {}

func (v *VoteCommand) pack() (*big.Int, *big.Int, *big.Int, error) {
	if v.NewVoteWeight == nil || v.NewVoteWeight.BitLen() > maxWeightBits {
		return nil, nil, nil, fmt.Errorf("vote weight out of range")
	}
	if v.NewPublicKey == nil {
		return nil, nil, nil, fmt.Errorf("vote command requires a public key")
	}
	packed, err := packScalar(v.CmdNonce, v.CmdVoterIndex, v.OptionIndex, v.NewVoteWeight, v.Salt)
	if err != nil {
		return nil, nil, nil, err
	}
	x, y := v.NewPublicKey.Point()
	return packed, x, y, nil
}

// DeactivateCommand requests the deactivation of the voter key. It carries a
// zeroed public key slot, which is what marks it on the wire.
type DeactivateCommand struct {
	CmdNonce      uint32
	CmdVoterIndex uint32
	Salt          *big.Int
}

func (d *DeactivateCommand) Nonce() uint32      { return d.CmdNonce }
func (d *DeactivateCommand) VoterIndex() uint32 { return d.CmdVoterIndex }
func (d *DeactivateCommand) sealed()            {}

func (d *DeactivateCommand) pack() (*big.Int, *big.Int, *big.Int, error) {
	packed, err := packScalar(d.CmdNonce, d.CmdVoterIndex, 0, big.NewInt(0), d.Salt)
	if err != nil {
		return nil, nil, nil, err
	}
	return packed, big.NewInt(0), big.NewInt(0), nil
}

func packScalar(nonce, voter, option uint32, weight, salt *big.Int) (*big.Int, error) {
	if salt == nil {
		salt = big.NewInt(0)
	}
	if salt.BitLen() > maxSaltBits {
		return nil, fmt.Errorf("salt out of range: %d bits > %d", salt.BitLen(), maxSaltBits)
	}
	packed := new(big.Int).SetUint64(uint64(nonce))
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(uint64(voter)), shiftVoterIndex))
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(uint64(option)), shiftOptionIndex))
	packed.Or(packed, new(big.Int).Lsh(weight, shiftVoteWeight))
	packed.Or(packed, new(big.Int).Lsh(salt, shiftSalt))
	return packed, nil
}

// SignedCommand is a packed command with its detached signature, the form
// that travels encrypted inside a chain entry.
type SignedCommand struct {
	Packed  *big.Int
	NewKeyX *big.Int
	NewKeyY *big.Int
	Sig     *babyjub.Signature
}

// Sign packs cmd and signs its digest with the voter key.
func Sign(cmd Command, key *babyjub.KeyPair) (*SignedCommand, error) {
	packed, x, y, err := cmd.pack()
	if err != nil {
		return nil, fmt.Errorf("cannot pack command: %w", err)
	}
	digest, err := poseidon.Hash(packed, x, y)
	if err != nil {
		return nil, fmt.Errorf("cannot hash command: %w", err)
	}
	return &SignedCommand{
		Packed:  packed,
		NewKeyX: x,
		NewKeyY: y,
		Sig:     key.Sign(digest),
	}, nil
}

// Verify checks the command signature against the given public key.
func (sc *SignedCommand) Verify(pub ecc.Point) bool {
	digest, err := poseidon.Hash(sc.Packed, sc.NewKeyX, sc.NewKeyY)
	if err != nil {
		return false
	}
	return babyjub.Verify(pub, digest, sc.Sig)
}

// Command unpacks the signed command back into the tagged union. A zeroed
// new public key yields a DeactivateCommand.
func (sc *SignedCommand) Command() (Command, error) {
	mask32 := new(big.Int).SetUint64(0xffffffff)
	nonce := uint32(new(big.Int).And(sc.Packed, mask32).Uint64())
	voter := uint32(new(big.Int).And(new(big.Int).Rsh(sc.Packed, shiftVoterIndex), mask32).Uint64())
	option := uint32(new(big.Int).And(new(big.Int).Rsh(sc.Packed, shiftOptionIndex), mask32).Uint64())
	weightMask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), maxWeightBits), big.NewInt(1))
	weight := new(big.Int).And(new(big.Int).Rsh(sc.Packed, shiftVoteWeight), weightMask)
	salt := new(big.Int).Rsh(sc.Packed, shiftSalt)

	if sc.NewKeyX.Sign() == 0 && sc.NewKeyY.Sign() == 0 {
		return &DeactivateCommand{CmdNonce: nonce, CmdVoterIndex: voter, Salt: salt}, nil
	}
	pub := curves.New(curves.CurveTypeBabyJubJub).SetPoint(sc.NewKeyX, sc.NewKeyY)
	if err := ecc.CheckInSubGroup(pub); err != nil {
		return nil, fmt.Errorf("command carries an invalid public key: %w", err)
	}
	return &VoteCommand{
		CmdNonce:      nonce,
		CmdVoterIndex: voter,
		OptionIndex:   option,
		NewVoteWeight: weight,
		Salt:          salt,
		NewPublicKey:  pub,
	}, nil
}

// Encrypt seals the signed command to the coordinator public key with a
// fresh ephemeral key. The returned vector has PayloadLen elements.
func (sc *SignedCommand) Encrypt(coordinatorPub ecc.Point) ([]*big.Int, ecc.Point, error) {
	r8x, r8y := sc.Sig.R8.Point()
	payload := []*big.Int{sc.Packed, sc.NewKeyX, sc.NewKeyY, r8x, r8y, sc.Sig.S}
	return secies.Encrypt(payload, coordinatorPub)
}

// DecryptCommand opens an encrypted payload with the coordinator private
// scalar. Only the structure is recovered here; signature and semantic
// validation happen at folding time.
func DecryptCommand(cipher []*big.Int, ephemeral ecc.Point, coordinatorPriv *big.Int) (*SignedCommand, error) {
	if len(cipher) != PayloadLen {
		return nil, fmt.Errorf("invalid payload length: got %d, expected %d", len(cipher), PayloadLen)
	}
	payload, err := secies.Decrypt(cipher, ephemeral, coordinatorPriv)
	if err != nil {
		return nil, fmt.Errorf("cannot decrypt command payload: %w", err)
	}
	r8 := curves.New(curves.CurveTypeBabyJubJub).SetPoint(payload[3], payload[4])
	return &SignedCommand{
		Packed:  payload[0],
		NewKeyX: payload[1],
		NewKeyY: payload[2],
		Sig:     &babyjub.Signature{R8: r8, S: payload[5]},
	}, nil
}

// SignAndEncryptBatch signs and encrypts a sequence of intents for
// publication. Intents are processed in reverse temporal order and the
// resulting payloads returned in chain order, so after decryption the
// highest-nonce revision of a voter is seen last and overwrites earlier
// ones.
func SignAndEncryptBatch(cmds []Command, key *babyjub.KeyPair, coordinatorPub ecc.Point) ([][]*big.Int, []ecc.Point, error) {
	ciphers := make([][]*big.Int, len(cmds))
	ephemerals := make([]ecc.Point, len(cmds))
	for i := len(cmds) - 1; i >= 0; i-- {
		sc, err := Sign(cmds[i], key)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot sign command %d: %w", i, err)
		}
		cipher, eph, err := sc.Encrypt(coordinatorPub)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot encrypt command %d: %w", i, err)
		}
		ciphers[i] = cipher
		ephemerals[i] = eph
	}
	return ciphers, ephemerals, nil
}
