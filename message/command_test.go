package message

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/acvote/crypto/babyjub"
)

func TestVoteCommandRoundTrip(t *testing.T) {
	voter := babyjub.GenerateKeyPair()
	next := babyjub.GenerateKeyPair()
	cmd := &VoteCommand{
		CmdNonce:      3,
		CmdVoterIndex: 17,
		OptionIndex:   4,
		NewVoteWeight: big.NewInt(25),
		Salt:          big.NewInt(123456),
		NewPublicKey:  next.PublicKey(),
	}
	sc, err := Sign(cmd, voter)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, sc.Verify(voter.PublicKey()), qt.IsTrue)

	back, err := sc.Command()
	qt.Assert(t, err, qt.IsNil)
	vote, ok := back.(*VoteCommand)
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, vote.Nonce(), qt.Equals, uint32(3))
	qt.Assert(t, vote.VoterIndex(), qt.Equals, uint32(17))
	qt.Assert(t, vote.OptionIndex, qt.Equals, uint32(4))
	qt.Assert(t, vote.NewVoteWeight.Cmp(big.NewInt(25)), qt.Equals, 0)
	qt.Assert(t, vote.Salt.Cmp(big.NewInt(123456)), qt.Equals, 0)
	qt.Assert(t, vote.NewPublicKey.Equal(next.PublicKey()), qt.IsTrue)
}

func TestDeactivateCommandRoundTrip(t *testing.T) {
	voter := babyjub.GenerateKeyPair()
	cmd := &DeactivateCommand{CmdNonce: 1, CmdVoterIndex: 9, Salt: big.NewInt(42)}
	sc, err := Sign(cmd, voter)
	qt.Assert(t, err, qt.IsNil)

	back, err := sc.Command()
	qt.Assert(t, err, qt.IsNil)
	deact, ok := back.(*DeactivateCommand)
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, deact.Nonce(), qt.Equals, uint32(1))
	qt.Assert(t, deact.VoterIndex(), qt.Equals, uint32(9))
}

func TestPackRejectsOversizedFields(t *testing.T) {
	voter := babyjub.GenerateKeyPair()
	tooBigSalt := new(big.Int).Lsh(big.NewInt(1), 62)
	_, err := Sign(&DeactivateCommand{CmdNonce: 1, Salt: tooBigSalt}, voter)
	qt.Assert(t, err, qt.IsNotNil)

	tooBigWeight := new(big.Int).Lsh(big.NewInt(1), 97)
	_, err = Sign(&VoteCommand{
		CmdNonce:      1,
		NewVoteWeight: tooBigWeight,
		NewPublicKey:  voter.PublicKey(),
	}, voter)
	qt.Assert(t, err, qt.IsNotNil)
}

func TestEncryptDecryptCommand(t *testing.T) {
	voter := babyjub.GenerateKeyPair()
	coordinator := babyjub.GenerateKeyPair()

	cmd := &VoteCommand{
		CmdNonce:      1,
		CmdVoterIndex: 2,
		OptionIndex:   0,
		NewVoteWeight: big.NewInt(1),
		Salt:          big.NewInt(7),
		NewPublicKey:  voter.PublicKey(),
	}
	sc, err := Sign(cmd, voter)
	qt.Assert(t, err, qt.IsNil)
	cipher, ephemeral, err := sc.Encrypt(coordinator.PublicKey())
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, len(cipher), qt.Equals, PayloadLen)

	opened, err := DecryptCommand(cipher, ephemeral, coordinator.Scalar())
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, opened.Packed.Cmp(sc.Packed), qt.Equals, 0)
	qt.Assert(t, opened.Verify(voter.PublicKey()), qt.IsTrue)

	// The wrong private key opens to garbage that fails verification.
	wrong, err := DecryptCommand(cipher, ephemeral, voter.Scalar())
	if err == nil {
		qt.Assert(t, wrong.Verify(voter.PublicKey()), qt.IsFalse)
	}
}

func TestBatchKeepsChainOrder(t *testing.T) {
	voter := babyjub.GenerateKeyPair()
	coordinator := babyjub.GenerateKeyPair()
	cmds := []Command{
		&VoteCommand{CmdNonce: 1, CmdVoterIndex: 0, OptionIndex: 1,
			NewVoteWeight: big.NewInt(1), Salt: big.NewInt(11), NewPublicKey: voter.PublicKey()},
		&VoteCommand{CmdNonce: 2, CmdVoterIndex: 0, OptionIndex: 3,
			NewVoteWeight: big.NewInt(1), Salt: big.NewInt(22), NewPublicKey: voter.PublicKey()},
	}
	ciphers, ephemerals, err := SignAndEncryptBatch(cmds, voter, coordinator.PublicKey())
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, len(ciphers), qt.Equals, 2)

	// Decrypted in chain order, nonces appear ascending: the later revision
	// is seen last.
	for i, cipher := range ciphers {
		sc, err := DecryptCommand(cipher, ephemerals[i], coordinator.Scalar())
		qt.Assert(t, err, qt.IsNil)
		cmd, err := sc.Command()
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, cmd.Nonce(), qt.Equals, uint32(i+1))
	}
}
