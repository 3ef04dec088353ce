// Package coordinator implements the off-ledger side of a voting round: it
// decrypts published messages, folds them batch by batch into the round
// state, produces the public-input bundles the proofs attest to and submits
// the resulting commitments to the ledger contract.
//
// Batches within one round fold strictly sequentially: each proof depends
// on the exact prior commitment. A Coordinator is therefore not safe for
// concurrent use; independent rounds run on independent Coordinators.
package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/log"

	"github.com/vocdoni/acvote/circuits"
	"github.com/vocdoni/acvote/crypto/babyjub"
	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/elgamal"
	"github.com/vocdoni/acvote/crypto/hash/poseidon"
	"github.com/vocdoni/acvote/message"
	"github.com/vocdoni/acvote/process"
	"github.com/vocdoni/acvote/state"
	"github.com/vocdoni/acvote/storage"
	"github.com/vocdoni/acvote/types"
	"github.com/vocdoni/acvote/util"
)

// Coordinator folds one round. It mirrors the ledger's voting-period tree
// growth exactly, so its baseline commitment matches the one the ledger
// derives when processing starts.
type Coordinator struct {
	processID types.ProcessID
	config    types.RoundConfig
	key       *babyjub.KeyPair
	state     *state.State
	store     *storage.Storage
	prover    circuits.Prover

	stateCommitment      *big.Int
	deactivateCommitment *big.Int
	activeCommitment     *big.Int
	tallyCommitment      *big.Int
	stateSalt            *big.Int
	tallySalt            *big.Int

	votes         []*big.Int
	spent         []*big.Int
	talliedLeaves uint64
}

// New creates a coordinator for a round, backed by database for state
// persistence.
func New(database db.Database, processID types.ProcessID, config types.RoundConfig,
	key *babyjub.KeyPair, prover circuits.Prover,
) (*Coordinator, error) {
	if key == nil {
		return nil, fmt.Errorf("coordinator key pair is required")
	}
	if prover == nil {
		return nil, fmt.Errorf("prover is required")
	}
	st, err := state.New(database, processID, config)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		processID:       processID,
		config:          config,
		key:             key,
		state:           st,
		store:           storage.New(database),
		prover:          prover,
		tallyCommitment: big.NewInt(0),
		votes:           make([]*big.Int, config.VoteOptions),
		spent:           make([]*big.Int, config.VoteOptions),
	}
	for i := range c.votes {
		c.votes[i] = big.NewInt(0)
		c.spent[i] = big.NewInt(0)
	}
	// Genesis commitments use a zero salt; the voting-period trees are
	// public and the ledger derives the same values independently.
	zero := big.NewInt(0)
	if c.deactivateCommitment, err = state.Commitment(st.DeactivateRoot(), zero); err != nil {
		return nil, err
	}
	if c.activeCommitment, err = state.Commitment(st.ActiveRoot(), zero); err != nil {
		return nil, err
	}
	c.stateSalt = zero
	return c, nil
}

// Resume rebuilds a coordinator from its persisted round state and the last
// stored snapshot, so folding continues where an earlier run stopped.
func Resume(database db.Database, processID types.ProcessID,
	key *babyjub.KeyPair, prover circuits.Prover,
) (*Coordinator, error) {
	if key == nil {
		return nil, fmt.Errorf("coordinator key pair is required")
	}
	if prover == nil {
		return nil, fmt.Errorf("prover is required")
	}
	store := storage.New(database)
	snap, err := store.Round(processID.Marshal())
	if err != nil {
		return nil, fmt.Errorf("cannot load round snapshot: %w", err)
	}
	if !bytes.Equal(snap.EncryptionKey, key.PublicKey().Marshal()) {
		return nil, fmt.Errorf("snapshot belongs to a different coordinator key")
	}
	st, err := state.Load(database, processID, snap.Config)
	if err != nil {
		return nil, fmt.Errorf("cannot load round state: %w", err)
	}
	c := &Coordinator{
		processID:     processID,
		config:        snap.Config,
		key:           key,
		state:         st,
		store:         store,
		prover:        prover,
		talliedLeaves: snap.TalliedLeaves,
		votes:         make([]*big.Int, snap.Config.VoteOptions),
		spent:         make([]*big.Int, snap.Config.VoteOptions),
	}
	for i := range c.votes {
		c.votes[i] = big.NewInt(0)
		c.spent[i] = big.NewInt(0)
	}
	for i, encoded := range snap.RunningResults {
		if uint64(i) >= snap.Config.VoteOptions {
			return nil, fmt.Errorf("snapshot carries %d results for %d options",
				len(snap.RunningResults), snap.Config.VoteOptions)
		}
		c.votes[i], c.spent[i] = process.DecodeResult(encoded.MathBigInt())
	}
	zero := big.NewInt(0)
	c.stateCommitment = snapshotValue(snap.StateCommitment, nil)
	c.tallyCommitment = snapshotValue(snap.TallyCommitment, zero)
	c.stateSalt = snapshotValue(snap.StateSalt, zero)
	c.tallySalt = snapshotValue(snap.TallySalt, nil)
	if c.deactivateCommitment = snapshotValue(snap.DeactivateCommitment, nil); c.deactivateCommitment == nil {
		if c.deactivateCommitment, err = state.Commitment(st.DeactivateRoot(), zero); err != nil {
			return nil, err
		}
	}
	if c.activeCommitment = snapshotValue(snap.ActiveStateCommitment, nil); c.activeCommitment == nil {
		if c.activeCommitment, err = state.Commitment(st.ActiveRoot(), zero); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func snapshotValue(v *types.BigInt, fallback *big.Int) *big.Int {
	if v == nil {
		return fallback
	}
	return v.MathBigInt()
}

// snapshot checkpoints the round after an accepted batch. The ledger-side
// commitments equal the coordinator's at this point, since the ledger just
// accepted them.
func (c *Coordinator) snapshot(proc *process.Process) error {
	stateC, deactivateC, activeC, tallyC := proc.Commitments()
	return c.store.SetRound(&storage.RoundSnapshot{
		ProcessID:             c.processID.Marshal(),
		Config:                c.config,
		Period:                proc.Period(),
		EncryptionKey:         c.key.PublicKey().Marshal(),
		StateCommitment:       (*types.BigInt)(stateC),
		DeactivateCommitment:  (*types.BigInt)(deactivateC),
		ActiveStateCommitment: (*types.BigInt)(activeC),
		TallyCommitment:       (*types.BigInt)(tallyC),
		VoteChainLen:          proc.VoteChainLen(),
		VoteChainHash:         (*types.BigInt)(proc.VoteChainHash()),
		DeactivateChainLen:    proc.DeactivateChainLen(),
		DeactivateChainHash:   (*types.BigInt)(proc.DeactivateChainHash()),
		Results:               proc.Results(),
		TalliedLeaves:         c.talliedLeaves,
		RunningResults:        toBigInts(c.encodedResults()),
		StateSalt:             (*types.BigInt)(c.stateSalt),
		TallySalt:             (*types.BigInt)(c.tallySalt),
	})
}

func toBigInts(xs []*big.Int) []*types.BigInt {
	out := make([]*types.BigInt, len(xs))
	for i, x := range xs {
		out[i] = (*types.BigInt)(x)
	}
	return out
}

// EncryptionKey returns the coordinator public key voters encrypt to.
func (c *Coordinator) EncryptionKey() ecc.Point {
	return c.key.PublicKey()
}

// State exposes the coordinator's round state, mainly for tests and for
// building reactivation requests.
func (c *Coordinator) State() *state.State {
	return c.state
}

// SignUp mirrors a ledger sign-up into the coordinator state and returns
// the leaf index, which must match the one the ledger assigned.
func (c *Coordinator) SignUp(publicKey ecc.Point, balance *big.Int) (uint64, error) {
	return c.state.AddVoter(publicKey, balance)
}

// cost converts a vote weight into spent voice credits under the round's
// voting mode.
func (c *Coordinator) cost(weight *big.Int) *big.Int {
	if c.config.Mode == types.VotingModeQuadratic {
		return new(big.Int).Mul(weight, weight)
	}
	return new(big.Int).Set(weight)
}

// sliceBoundaries returns the recorded boundary hashes of a batch window
// and how many entries of it are real (not padding).
func sliceBoundaries(entries []*message.ChainEntry, start, chainLen int) (*big.Int, *big.Int, int) {
	real := chainLen - start
	if real > len(entries) {
		real = len(entries)
	}
	startHash := entries[0].PrevHash
	endHash := startHash
	if real > 0 {
		endHash = entries[real-1].Hash
	}
	return startHash, endHash, real
}

// ProcessDeactivateBatch folds the next deactivate batch: it decrypts each
// message, verifies the signature against the addressed leaf, appends an
// even-parity credential record to the deactivate tree and flips the
// active-state flag. Invalid messages fold as no-ops.
func (c *Coordinator) ProcessDeactivateBatch(ctx context.Context, proc *process.Process) error {
	_, start := proc.ProcessedCounts()
	if start >= proc.DeactivateChainLen() {
		return fmt.Errorf("no deactivate messages pending")
	}
	entries, err := proc.DeactivateChainSlice(start)
	if err != nil {
		return err
	}
	startHash, endHash, real := sliceBoundaries(entries, start, proc.DeactivateChainLen())

	c.state.StartBatch()
	for _, entry := range entries[:real] {
		if err := c.foldDeactivate(entry); err != nil {
			log.Debugw("deactivate folded as no-op", "process", c.processID.String(), "reason", err.Error())
		}
	}
	if err := c.state.EndBatch(); err != nil {
		return err
	}

	newDeactivateSalt := util.RandomFieldElement()
	newActiveSalt := util.RandomFieldElement()
	newDeactivateCommitment, err := state.Commitment(c.state.DeactivateRoot(), newDeactivateSalt)
	if err != nil {
		return err
	}
	newActiveCommitment, err := state.Commitment(c.state.ActiveRoot(), newActiveSalt)
	if err != nil {
		return err
	}
	keyHash, err := circuits.CoordinatorKeyHash(c.key.PublicKey())
	if err != nil {
		return err
	}
	inputs := circuits.DeactivateInputs{
		CoordinatorKeyHash:       keyHash,
		BatchStartHash:           startHash,
		BatchEndHash:             endHash,
		PrevDeactivateCommitment: c.deactivateCommitment,
		NextDeactivateCommitment: newDeactivateCommitment,
		ActiveStateCommitment:    newActiveCommitment,
	}
	inputsHash, err := inputs.Hash()
	if err != nil {
		return err
	}
	proof, err := c.prover.Prove(ctx, circuits.DeactivateCircuit, entries, inputsHash)
	if err != nil {
		return fmt.Errorf("deactivate proof failed: %w", err)
	}
	if err := proc.SubmitDeactivateBatch(newDeactivateCommitment, newActiveCommitment,
		startHash, endHash, proof); err != nil {
		return err
	}
	c.deactivateCommitment = newDeactivateCommitment
	c.activeCommitment = newActiveCommitment
	log.Infow("deactivate batch folded", "process", c.processID.String(),
		"offset", start, "messages", real)
	return c.snapshot(proc)
}

// foldDeactivate applies one deactivate message or reports why it is a
// no-op.
func (c *Coordinator) foldDeactivate(entry *message.ChainEntry) error {
	sc, err := message.DecryptCommand(entry.Ciphertext, entry.Ephemeral, c.key.Scalar())
	if err != nil {
		return fmt.Errorf("undecryptable: %w", err)
	}
	cmd, err := sc.Command()
	if err != nil {
		return fmt.Errorf("malformed command: %w", err)
	}
	deact, ok := cmd.(*message.DeactivateCommand)
	if !ok {
		return fmt.Errorf("vote command on deactivate chain")
	}
	index := uint64(deact.VoterIndex())
	leaf, err := c.state.Leaf(index)
	if err != nil {
		return fmt.Errorf("unknown voter index %d", index)
	}
	if !sc.Verify(leaf.PublicKey) {
		return fmt.Errorf("bad signature for index %d", index)
	}
	if deact.Nonce() != leaf.Nonce+1 {
		return fmt.Errorf("stale nonce %d for index %d, expected %d", deact.Nonce(), index, leaf.Nonce+1)
	}
	if !c.state.IsActive(index) {
		return fmt.Errorf("voter %d already inactive", index)
	}
	sharedHash, err := c.key.SharedKeyHash(leaf.PublicKey)
	if err != nil {
		return err
	}
	// The credential record encrypts an even plaintext: rerandomized into
	// a fresh leaf it still reads active.
	c1, c2, _, err := elgamal.EncryptFlag(c.key.PublicKey(), true)
	if err != nil {
		return err
	}
	c1x, c1y := c1.Point()
	c2x, c2y := c2.Point()
	rec := &state.DeactivateRecord{
		C1:            [2]*big.Int{c1x, c1y},
		C2:            [2]*big.Int{c2x, c2y},
		SharedKeyHash: sharedHash,
	}
	if _, err := c.state.AppendDeactivateRecord(rec); err != nil {
		return err
	}
	return c.state.MarkDeactivated(index)
}

// ensureBaseline computes the coordinator's copy of the processing baseline
// commitment the first time a vote batch folds.
func (c *Coordinator) ensureBaseline() error {
	if c.stateCommitment != nil {
		return nil
	}
	commitment, err := state.Commitment(c.state.Root(), big.NewInt(0))
	if err != nil {
		return err
	}
	c.stateCommitment = commitment
	return nil
}

// ProcessVoteBatch folds the next vote message batch into the state tree
// and submits the resulting commitment. Invalid commands fold as no-ops.
func (c *Coordinator) ProcessVoteBatch(ctx context.Context, proc *process.Process) error {
	if err := c.ensureBaseline(); err != nil {
		return err
	}
	start, _ := proc.ProcessedCounts()
	if start >= proc.VoteChainLen() {
		return fmt.Errorf("no vote messages pending")
	}
	entries, err := proc.VoteChainSlice(start)
	if err != nil {
		return err
	}
	startHash, endHash, real := sliceBoundaries(entries, start, proc.VoteChainLen())

	c.state.StartBatch()
	accepted := 0
	for _, entry := range entries[:real] {
		if err := c.foldVote(entry); err != nil {
			log.Debugw("vote folded as no-op", "process", c.processID.String(), "reason", err.Error())
			continue
		}
		accepted++
	}
	if err := c.state.EndBatch(); err != nil {
		return err
	}

	newSalt := util.RandomFieldElement()
	newCommitment, err := state.Commitment(c.state.Root(), newSalt)
	if err != nil {
		return err
	}
	keyHash, err := circuits.CoordinatorKeyHash(c.key.PublicKey())
	if err != nil {
		return err
	}
	inputs := circuits.ProcessMessagesInputs{
		PackedParams:          c.packedParams(),
		CoordinatorKeyHash:    keyHash,
		BatchStartHash:        startHash,
		BatchEndHash:          endHash,
		PrevCommitment:        c.stateCommitment,
		NextCommitment:        newCommitment,
		DeactivateCommitment:  c.deactivateCommitment,
		ActiveStateCommitment: c.activeCommitment,
	}
	inputsHash, err := inputs.Hash()
	if err != nil {
		return err
	}
	proof, err := c.prover.Prove(ctx, circuits.ProcessMessagesCircuit, entries, inputsHash)
	if err != nil {
		return fmt.Errorf("process proof failed: %w", err)
	}
	if err := proc.SubmitProcessBatch(newCommitment, startHash, endHash, proof); err != nil {
		return err
	}
	c.stateCommitment = newCommitment
	c.stateSalt = newSalt
	log.Infow("vote batch folded", "process", c.processID.String(),
		"offset", start, "messages", real, "accepted", accepted)
	return c.snapshot(proc)
}

// foldVote applies one vote message or reports why it is a no-op.
func (c *Coordinator) foldVote(entry *message.ChainEntry) error {
	sc, err := message.DecryptCommand(entry.Ciphertext, entry.Ephemeral, c.key.Scalar())
	if err != nil {
		return fmt.Errorf("undecryptable: %w", err)
	}
	cmd, err := sc.Command()
	if err != nil {
		return fmt.Errorf("malformed command: %w", err)
	}
	vote, ok := cmd.(*message.VoteCommand)
	if !ok {
		return fmt.Errorf("deactivate command on vote chain")
	}
	index := uint64(vote.VoterIndex())
	leaf, err := c.state.Leaf(index)
	if err != nil {
		return fmt.Errorf("unknown voter index %d", index)
	}
	if !sc.Verify(leaf.PublicKey) {
		return fmt.Errorf("bad signature for index %d", index)
	}
	if vote.Nonce() != leaf.Nonce+1 {
		return fmt.Errorf("stale nonce %d for index %d, expected %d", vote.Nonce(), index, leaf.Nonce+1)
	}
	if uint64(vote.OptionIndex) >= c.config.VoteOptions {
		return fmt.Errorf("option %d out of range", vote.OptionIndex)
	}
	// Dual activation check: the fast active-state flag, then the
	// leaf-bound activation ciphertext parity.
	if !c.state.IsActive(index) {
		return fmt.Errorf("voter %d is deactivated", index)
	}
	if ciphertext, ok := leaf.ActivationCiphertext(); ok {
		active, err := elgamal.DecryptFlag(c.key.PublicKey(), c.key.Scalar(), ciphertext.C1, ciphertext.C2)
		if err != nil {
			return fmt.Errorf("activation ciphertext for %d: %w", index, err)
		}
		if !active {
			return fmt.Errorf("activation ciphertext of voter %d reads inactive", index)
		}
	}
	option := uint64(vote.OptionIndex)
	oldWeight, err := c.state.VoteWeight(index, option)
	if err != nil {
		return err
	}
	newBalance := new(big.Int).Add(leaf.Balance, c.cost(oldWeight))
	newBalance.Sub(newBalance, c.cost(vote.NewVoteWeight))
	if newBalance.Sign() < 0 {
		return fmt.Errorf("%w: index %d, weight %s", process.ErrBalanceExceeded, index, vote.NewVoteWeight)
	}
	return c.state.SetVote(index, option, vote.NewVoteWeight, vote.NewPublicKey, newBalance, vote.Nonce())
}

// ProcessAllDeactivateBatches folds deactivate batches until the chain is
// consumed.
func (c *Coordinator) ProcessAllDeactivateBatches(ctx context.Context, proc *process.Process) error {
	for {
		_, done := proc.ProcessedCounts()
		if done >= proc.DeactivateChainLen() {
			return nil
		}
		if err := c.ProcessDeactivateBatch(ctx, proc); err != nil {
			return err
		}
	}
}

// ProcessAllVoteBatches folds vote batches until the chain is consumed.
func (c *Coordinator) ProcessAllVoteBatches(ctx context.Context, proc *process.Process) error {
	for {
		done, _ := proc.ProcessedCounts()
		if done >= proc.VoteChainLen() {
			return nil
		}
		if err := c.ProcessVoteBatch(ctx, proc); err != nil {
			return err
		}
	}
}

// ProcessTallyBatch folds the next batch of frozen state leaves into the
// running results and submits the new tally commitment.
func (c *Coordinator) ProcessTallyBatch(ctx context.Context, proc *process.Process) error {
	if err := c.ensureBaseline(); err != nil {
		return err
	}
	total := c.state.LeafCount()
	if c.talliedLeaves >= total {
		return fmt.Errorf("all %d leaves already tallied", total)
	}
	end := c.talliedLeaves + uint64(c.config.TallyBatchSize)
	if end > total {
		end = total
	}
	// Fold the batch into local accumulators; the running results change
	// only once the ledger accepts the commitment.
	votes := make([]*big.Int, len(c.votes))
	spent := make([]*big.Int, len(c.spent))
	for i := range c.votes {
		votes[i] = new(big.Int).Set(c.votes[i])
		spent[i] = new(big.Int).Set(c.spent[i])
	}
	for i := c.talliedLeaves; i < end; i++ {
		voTree, err := c.state.VoteOptionTree(i)
		if err != nil {
			return err
		}
		for option := uint64(0); option < c.config.VoteOptions; option++ {
			weight := voTree.Leaf(option)
			if weight.Sign() == 0 {
				continue
			}
			votes[option].Add(votes[option], weight)
			spent[option].Add(spent[option], c.cost(weight))
		}
	}

	newSalt := util.RandomFieldElement()
	resultsHash, err := poseidon.MultiPoseidon(encodeResults(votes, spent)...)
	if err != nil {
		return err
	}
	newCommitment, err := poseidon.Hash(resultsHash, newSalt)
	if err != nil {
		return err
	}
	inputs := circuits.TallyInputs{
		PackedParams:        c.packedParams(),
		StateCommitment:     c.stateCommitment,
		PrevTallyCommitment: c.tallyCommitment,
		NextTallyCommitment: newCommitment,
	}
	inputsHash, err := inputs.Hash()
	if err != nil {
		return err
	}
	proof, err := c.prover.Prove(ctx, circuits.TallyCircuit, nil, inputsHash)
	if err != nil {
		return fmt.Errorf("tally proof failed: %w", err)
	}
	if err := proc.SubmitTallyBatch(newCommitment, proof); err != nil {
		return err
	}
	c.votes = votes
	c.spent = spent
	c.tallyCommitment = newCommitment
	c.tallySalt = newSalt
	c.talliedLeaves = end
	log.Infow("tally batch folded", "process", c.processID.String(), "tallied", end, "total", total)
	return c.snapshot(proc)
}

// ProcessAllTallyBatches folds tally batches until every leaf is counted.
func (c *Coordinator) ProcessAllTallyBatches(ctx context.Context, proc *process.Process) error {
	for c.talliedLeaves < c.state.LeafCount() {
		if err := c.ProcessTallyBatch(ctx, proc); err != nil {
			return err
		}
	}
	return nil
}

// encodeResults packs per-option results as votes*SCALE + spent.
func encodeResults(votes, spent []*big.Int) []*big.Int {
	encoded := make([]*big.Int, len(votes))
	for i := range votes {
		encoded[i] = new(big.Int).Mul(votes[i], types.ResultsScale)
		encoded[i].Add(encoded[i], spent[i])
	}
	return encoded
}

// encodedResults returns the running results in their packed form.
func (c *Coordinator) encodedResults() []*big.Int {
	return encodeResults(c.votes, c.spent)
}

// PublishResults opens the final tally commitment on the ledger, ending the
// round.
func (c *Coordinator) PublishResults(proc *process.Process) error {
	if c.talliedLeaves < c.state.LeafCount() {
		return fmt.Errorf("%d leaves pending tally", c.state.LeafCount()-c.talliedLeaves)
	}
	if err := proc.StopTallying(toBigInts(c.encodedResults()), c.tallySalt); err != nil {
		return err
	}
	return c.snapshot(proc)
}

func (c *Coordinator) packedParams() *big.Int {
	return circuits.PackParams(c.config.MessageBatchSize, int(c.config.VoteOptions),
		c.config.StateTreeDepth, c.config.Mode == types.VotingModeQuadratic)
}
