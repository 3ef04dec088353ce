package process

import (
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/acvote/census"
	"github.com/vocdoni/acvote/circuits"
	"github.com/vocdoni/acvote/crypto/babyjub"
	"github.com/vocdoni/acvote/message"
	"github.com/vocdoni/acvote/types"
)

func testConfig(votingEnd time.Time) types.RoundConfig {
	return types.RoundConfig{
		StateTreeDepth:      2,
		VoteOptionTreeDepth: 2,
		VoteOptions:         25,
		MessageBatchSize:    5,
		TallyBatchSize:      25,
		Mode:                types.VotingModeLinear,
		Deactivation:        true,
		VotingEnd:           votingEnd,
	}
}

func newTestProcess(t *testing.T, votingEnd time.Time) (*Process, *babyjub.KeyPair) {
	t.Helper()
	coordinator := babyjub.GenerateKeyPair()
	proc, err := NewProcess(types.ProcessID{ChainID: 1, Nonce: 1},
		testConfig(votingEnd), coordinator.PublicKey(), circuits.MockVerifier{})
	qt.Assert(t, err, qt.IsNil)
	return proc, coordinator
}

func publishVote(t *testing.T, proc *Process, voter *babyjub.KeyPair, nonce, index uint32) {
	t.Helper()
	cmd := &message.VoteCommand{
		CmdNonce:      nonce,
		CmdVoterIndex: index,
		OptionIndex:   0,
		NewVoteWeight: big.NewInt(1),
		Salt:          big.NewInt(int64(nonce) + 1000),
		NewPublicKey:  voter.PublicKey(),
	}
	sc, err := message.Sign(cmd, voter)
	qt.Assert(t, err, qt.IsNil)
	ciphertext, ephemeral, err := sc.Encrypt(proc.EncryptionKey)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, proc.PublishMessage(ciphertext, ephemeral), qt.IsNil)
}

func TestSignUpRules(t *testing.T) {
	proc, _ := newTestProcess(t, time.Now().Add(time.Hour))
	voter := babyjub.GenerateKeyPair()

	index, err := proc.SignUp(voter.PublicKey(), big.NewInt(100), nil)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, index, qt.Equals, uint64(0))
	qt.Assert(t, proc.VoterCount(), qt.Equals, uint64(1))

	_, err = proc.SignUp(voter.PublicKey(), big.NewInt(100), nil)
	qt.Assert(t, err, qt.ErrorIs, ErrInvalidEncryptionKey)

	other := babyjub.GenerateKeyPair()
	index, err = proc.SignUp(other.PublicKey(), big.NewInt(50), nil)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, index, qt.Equals, uint64(1))
}

func TestPeriodGating(t *testing.T) {
	votingEnd := time.Now().Add(time.Hour)
	proc, _ := newTestProcess(t, votingEnd)
	voter := babyjub.GenerateKeyPair()
	_, err := proc.SignUp(voter.PublicKey(), big.NewInt(10), nil)
	qt.Assert(t, err, qt.IsNil)

	// Deadline not reached yet.
	qt.Assert(t, proc.StartProcessingPeriod(), qt.ErrorIs, ErrPeriod)
	qt.Assert(t, proc.Period(), qt.Equals, types.PeriodVoting)

	proc.SetClock(func() time.Time { return votingEnd.Add(time.Second) })
	qt.Assert(t, proc.StartProcessingPeriod(), qt.IsNil)
	qt.Assert(t, proc.Period(), qt.Equals, types.PeriodProcessing)

	// Voting operations close with the period.
	_, err = proc.SignUp(babyjub.GenerateKeyPair().PublicKey(), big.NewInt(10), nil)
	qt.Assert(t, err, qt.ErrorIs, ErrPeriod)

	cmd := &message.VoteCommand{
		CmdNonce:      1,
		CmdVoterIndex: 0,
		NewVoteWeight: big.NewInt(1),
		Salt:          big.NewInt(7),
		NewPublicKey:  voter.PublicKey(),
	}
	sc, err := message.Sign(cmd, voter)
	qt.Assert(t, err, qt.IsNil)
	ciphertext, ephemeral, err := sc.Encrypt(proc.EncryptionKey)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, proc.PublishMessage(ciphertext, ephemeral), qt.ErrorIs, ErrPeriod)

	// The frozen state commitment exists once processing starts.
	stateCommitment, _, _, _ := proc.Commitments()
	qt.Assert(t, stateCommitment, qt.IsNotNil)
}

func TestEphemeralKeyReuseRejected(t *testing.T) {
	proc, _ := newTestProcess(t, time.Now().Add(time.Hour))
	voter := babyjub.GenerateKeyPair()
	_, err := proc.SignUp(voter.PublicKey(), big.NewInt(10), nil)
	qt.Assert(t, err, qt.IsNil)

	cmd := &message.VoteCommand{
		CmdNonce:      1,
		CmdVoterIndex: 0,
		NewVoteWeight: big.NewInt(1),
		Salt:          big.NewInt(7),
		NewPublicKey:  voter.PublicKey(),
	}
	sc, err := message.Sign(cmd, voter)
	qt.Assert(t, err, qt.IsNil)
	ciphertext, ephemeral, err := sc.Encrypt(proc.EncryptionKey)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, proc.PublishMessage(ciphertext, ephemeral), qt.IsNil)
	err = proc.PublishMessage(ciphertext, ephemeral)
	qt.Assert(t, err, qt.ErrorIs, ErrInvalidEncryptionKey)
	qt.Assert(t, proc.VoteChainLen(), qt.Equals, 1)
}

func TestPublishBatchIsAtomic(t *testing.T) {
	proc, _ := newTestProcess(t, time.Now().Add(time.Hour))
	voter := babyjub.GenerateKeyPair()
	_, err := proc.SignUp(voter.PublicKey(), big.NewInt(10), nil)
	qt.Assert(t, err, qt.IsNil)

	batch := []message.Command{
		&message.VoteCommand{CmdNonce: 1, CmdVoterIndex: 0, NewVoteWeight: big.NewInt(1), Salt: big.NewInt(1), NewPublicKey: voter.PublicKey()},
		&message.VoteCommand{CmdNonce: 2, CmdVoterIndex: 0, NewVoteWeight: big.NewInt(2), Salt: big.NewInt(2), NewPublicKey: voter.PublicKey()},
		&message.VoteCommand{CmdNonce: 3, CmdVoterIndex: 0, NewVoteWeight: big.NewInt(3), Salt: big.NewInt(3), NewPublicKey: voter.PublicKey()},
	}
	encrypted, ephemeralKeys, err := message.SignAndEncryptBatch(batch, voter, proc.EncryptionKey)
	qt.Assert(t, err, qt.IsNil)

	// Repeating an ephemeral key inside the batch must reject the whole
	// batch without touching the chain.
	ephemeralKeys[2] = ephemeralKeys[1]
	encrypted[2] = encrypted[1]
	err = proc.PublishMessageBatch(encrypted, ephemeralKeys)
	qt.Assert(t, err, qt.ErrorIs, ErrInvalidEncryptionKey)
	qt.Assert(t, proc.VoteChainLen(), qt.Equals, 0)

	// A clean batch goes through in order.
	encrypted, ephemeralKeys, err = message.SignAndEncryptBatch(batch, voter, proc.EncryptionKey)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, proc.PublishMessageBatch(encrypted, ephemeralKeys), qt.IsNil)
	qt.Assert(t, proc.VoteChainLen(), qt.Equals, 3)
}

func TestBatchBoundaryMismatchRejected(t *testing.T) {
	votingEnd := time.Now().Add(time.Hour)
	proc, _ := newTestProcess(t, votingEnd)
	voter := babyjub.GenerateKeyPair()
	_, err := proc.SignUp(voter.PublicKey(), big.NewInt(10), nil)
	qt.Assert(t, err, qt.IsNil)
	for nonce := uint32(1); nonce <= 3; nonce++ {
		publishVote(t, proc, voter, nonce, 0)
	}
	proc.SetClock(func() time.Time { return votingEnd.Add(time.Second) })
	qt.Assert(t, proc.StartProcessingPeriod(), qt.IsNil)

	stateCommitment, deactivateCommitment, activeCommitment, _ := proc.Commitments()
	keyHash, err := circuits.CoordinatorKeyHash(proc.EncryptionKey)
	qt.Assert(t, err, qt.IsNil)

	// Claimed boundaries that do not match the recorded chain are rejected
	// even with a proof the verifier would accept for them.
	wrongStart, wrongEnd := big.NewInt(111), big.NewInt(222)
	inputs := circuits.ProcessMessagesInputs{
		PackedParams:          circuits.PackParams(5, 25, 2, false),
		CoordinatorKeyHash:    keyHash,
		BatchStartHash:        wrongStart,
		BatchEndHash:          wrongEnd,
		PrevCommitment:        stateCommitment,
		NextCommitment:        big.NewInt(999),
		DeactivateCommitment:  deactivateCommitment,
		ActiveStateCommitment: activeCommitment,
	}
	inputsHash, err := inputs.Hash()
	qt.Assert(t, err, qt.IsNil)
	proof := &circuits.Proof{PublicInputs: []*types.BigInt{(*types.BigInt)(inputsHash)}}
	err = proc.SubmitProcessBatch(big.NewInt(999), wrongStart, wrongEnd, proof)
	qt.Assert(t, err, qt.ErrorIs, ErrHashChainMismatch)

	votes, _ := proc.ProcessedCounts()
	qt.Assert(t, votes, qt.Equals, 0)
}

func TestSubmitNewKeyNullifierReplay(t *testing.T) {
	proc, _ := newTestProcess(t, time.Now().Add(time.Hour))
	keyHash, err := circuits.CoordinatorKeyHash(proc.EncryptionKey)
	qt.Assert(t, err, qt.IsNil)
	_, deactivateCommitment, _, _ := proc.Commitments()

	nullifier := big.NewInt(424242)
	newLeafHash := big.NewInt(777)
	inputs := circuits.AddNewKeyInputs{
		CoordinatorKeyHash:   keyHash,
		Nullifier:            nullifier,
		DeactivateCommitment: deactivateCommitment,
		NewLeafHash:          newLeafHash,
	}
	inputsHash, err := inputs.Hash()
	qt.Assert(t, err, qt.IsNil)
	proof := &circuits.Proof{PublicInputs: []*types.BigInt{(*types.BigInt)(inputsHash)}}

	index, err := proc.SubmitNewKey(nullifier, newLeafHash, proof)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, index, qt.Equals, uint64(0))
	qt.Assert(t, proc.NullifierUsed(nullifier), qt.IsTrue)

	_, err = proc.SubmitNewKey(nullifier, newLeafHash, proof)
	qt.Assert(t, err, qt.ErrorIs, ErrReplayedNullifier)
	qt.Assert(t, proc.VoterCount(), qt.Equals, uint64(1))
}

func TestCensusGatedSignUp(t *testing.T) {
	censusDB := census.NewCensusDB(metadb.NewTest(t))
	ref, err := censusDB.New(uuid.New())
	qt.Assert(t, err, qt.IsNil)
	voterAddr := make([]byte, types.CensusKeyMaxLen)
	voterAddr[0] = 0x42
	qt.Assert(t, ref.Insert(voterAddr, big.NewInt(100)), qt.IsNil)

	config := testConfig(time.Now().Add(time.Hour))
	config.CensusRoot = ref.Root()
	coordinator := babyjub.GenerateKeyPair()
	proc, err := NewProcess(types.ProcessID{ChainID: 1, Nonce: 2}, config,
		coordinator.PublicKey(), circuits.MockVerifier{})
	qt.Assert(t, err, qt.IsNil)

	voter := babyjub.GenerateKeyPair()
	_, err = proc.SignUp(voter.PublicKey(), big.NewInt(100), nil)
	qt.Assert(t, err, qt.ErrorIs, ErrInvalidCensusProof)

	proof, err := censusDB.ProofByRoot(ref.Root(), voterAddr)
	qt.Assert(t, err, qt.IsNil)

	// The claimed balance must equal the census weight.
	_, err = proc.SignUp(voter.PublicKey(), big.NewInt(500), proof)
	qt.Assert(t, err, qt.ErrorIs, ErrInvalidCensusProof)

	index, err := proc.SignUp(voter.PublicKey(), big.NewInt(100), proof)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, index, qt.Equals, uint64(0))
}

func TestDecodeResult(t *testing.T) {
	encoded := new(big.Int).Mul(big.NewInt(7), types.ResultsScale)
	encoded.Add(encoded, big.NewInt(21))
	votes, spent := DecodeResult(encoded)
	qt.Assert(t, votes.Cmp(big.NewInt(7)), qt.Equals, 0)
	qt.Assert(t, spent.Cmp(big.NewInt(21)), qt.Equals, 0)
}
