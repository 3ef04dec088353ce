// Package process implements the ledger-side contract of a voting round:
// sign-ups, message publication, the period state machine and the
// verification of batch proofs against recorded commitments. It never
// re-executes commands; state transitions are accepted only when the
// external proof and the hash-chain boundaries check out.
//
// During the voting period the ledger grows its own copy of the state tree
// from public leaf hashes (sign-ups and proven reactivations), so the
// processing baseline commitment is derived, not trusted. Post-baseline
// state is known only through proof-carried commitments.
package process

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.vocdoni.io/dvote/log"

	"github.com/vocdoni/acvote/census"
	"github.com/vocdoni/acvote/circuits"
	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/hash/poseidon"
	"github.com/vocdoni/acvote/message"
	"github.com/vocdoni/acvote/state"
	"github.com/vocdoni/acvote/tree"
	"github.com/vocdoni/acvote/types"
)

// genesisSalt blinds nothing: the voting-period state is public, so the
// baseline commitments are computed with a zero salt on both sides.
var genesisSalt = big.NewInt(0)

// Process is one voting round as the ledger sees it. All exported methods
// are safe for concurrent use; each mutation is atomic.
type Process struct {
	mu sync.Mutex

	ID            types.ProcessID
	Config        types.RoundConfig
	EncryptionKey ecc.Point

	period          types.Period
	voteChain       *message.Chain
	deactivateChain *message.Chain

	// signupTree accumulates the public leaf hashes of the voting period.
	signupTree  *tree.Tree
	emptyVoRoot *big.Int

	// usedEncryptionKeys guards against ephemeral key reuse across the
	// round's messages.
	usedEncryptionKeys map[string]struct{}
	usedNullifiers     map[string]struct{}
	signUpKeys         map[string]struct{}

	stateCommitment       *big.Int
	deactivateCommitment  *big.Int
	activeStateCommitment *big.Int
	tallyCommitment       *big.Int

	processedVotes      int
	processedDeactivate int
	talliedLeaves       uint64

	results []*types.BigInt

	verifier circuits.Verifier
	now      func() time.Time
}

// NewProcess creates a round in the Voting period.
func NewProcess(id types.ProcessID, config types.RoundConfig, encryptionKey ecc.Point,
	verifier circuits.Verifier,
) (*Process, error) {
	if encryptionKey == nil {
		return nil, fmt.Errorf("coordinator encryption key is required")
	}
	if err := ecc.CheckInSubGroup(encryptionKey); err != nil {
		return nil, fmt.Errorf("invalid coordinator encryption key: %w", err)
	}
	if verifier == nil {
		return nil, fmt.Errorf("proof verifier is required")
	}
	signupTree, err := tree.New(tree.Config{Depth: config.StateTreeDepth, Arity: types.TreeArity})
	if err != nil {
		return nil, fmt.Errorf("cannot create sign-up tree: %w", err)
	}
	voTree, err := tree.New(tree.Config{Depth: config.VoteOptionTreeDepth, Arity: types.TreeArity})
	if err != nil {
		return nil, fmt.Errorf("cannot create vote option tree: %w", err)
	}
	// Empty deactivate and active-state trees share the sign-up tree's
	// shape; appended zero leaves do not move an all-zero root, so both
	// genesis roots stay valid through the whole voting period.
	zeroRoot := signupTree.Root()
	deactivateCommitment, err := state.Commitment(zeroRoot, genesisSalt)
	if err != nil {
		return nil, err
	}
	activeCommitment, err := state.Commitment(zeroRoot, genesisSalt)
	if err != nil {
		return nil, err
	}
	p := &Process{
		ID:                    id,
		Config:                config,
		EncryptionKey:         encryptionKey,
		period:                types.PeriodVoting,
		voteChain:             message.NewChain(),
		deactivateChain:       message.NewChain(),
		signupTree:            signupTree,
		emptyVoRoot:           voTree.Root(),
		usedEncryptionKeys:    make(map[string]struct{}),
		usedNullifiers:        make(map[string]struct{}),
		signUpKeys:            make(map[string]struct{}),
		deactivateCommitment:  deactivateCommitment,
		activeStateCommitment: activeCommitment,
		tallyCommitment:       big.NewInt(0),
		verifier:              verifier,
		now:                   time.Now,
	}
	return p, nil
}

// SetClock overrides the time source, used by tests to cross the voting
// deadline deterministically.
func (p *Process) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// Period returns the current round period.
func (p *Process) Period() types.Period {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.period
}

// SignUp registers a voter public key with a voice credit balance and
// returns the assigned leaf index. For census gated rounds the caller must
// provide an inclusion proof and the balance must equal the census weight.
func (p *Process) SignUp(publicKey ecc.Point, balance *big.Int, censusProof *types.CensusProof) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.period != types.PeriodVoting {
		return 0, fmt.Errorf("%w: sign-up requires %s, round is %s", ErrPeriod, types.PeriodVoting, p.period)
	}
	if err := ecc.CheckInSubGroup(publicKey); err != nil {
		return 0, fmt.Errorf("%w: sign-up key not in subgroup", ErrInvalidEncryptionKey)
	}
	keyID := string(publicKey.Marshal())
	if _, used := p.signUpKeys[keyID]; used {
		return 0, fmt.Errorf("%w: key already signed up", ErrInvalidEncryptionKey)
	}
	if len(p.Config.CensusRoot) > 0 {
		if censusProof == nil {
			return 0, fmt.Errorf("%w: round is census gated", ErrInvalidCensusProof)
		}
		if !bytes.Equal(censusProof.Root, p.Config.CensusRoot) {
			return 0, fmt.Errorf("%w: proof root does not match round census", ErrInvalidCensusProof)
		}
		valid, err := census.VerifyProof(censusProof)
		if err != nil || !valid {
			return 0, ErrInvalidCensusProof
		}
		if censusProof.Weight.MathBigInt().Cmp(balance) != 0 {
			return 0, fmt.Errorf("%w: balance %s does not match census weight %s",
				ErrInvalidCensusProof, balance, censusProof.Weight)
		}
	}
	leafHash, err := state.NewStateLeaf(publicKey, balance, p.emptyVoRoot).Hash()
	if err != nil {
		return 0, err
	}
	index, err := p.signupTree.AppendLeaf(leafHash)
	if err != nil {
		return 0, fmt.Errorf("round is full: %w", err)
	}
	p.signUpKeys[keyID] = struct{}{}
	log.Debugw("voter signed up", "process", p.ID.String(), "index", index)
	return index, nil
}

// VoterCount returns the number of state leaves created so far.
func (p *Process) VoterCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signupTree.LeafCount()
}

// validateMessage checks the per-message admission rules shared by single
// and batch publication. Caller holds the lock.
func (p *Process) validateMessage(ciphertext []*big.Int, ephemeral ecc.Point) (string, error) {
	if p.period != types.PeriodVoting {
		return "", fmt.Errorf("%w: publishing requires %s, round is %s", ErrPeriod, types.PeriodVoting, p.period)
	}
	if len(ciphertext) != message.PayloadLen {
		return "", fmt.Errorf("invalid ciphertext length: %d", len(ciphertext))
	}
	if err := ecc.CheckInSubGroup(ephemeral); err != nil {
		return "", fmt.Errorf("%w: ephemeral key not in subgroup", ErrInvalidEncryptionKey)
	}
	keyID := string(ephemeral.Marshal())
	if _, used := p.usedEncryptionKeys[keyID]; used {
		return "", fmt.Errorf("%w: ephemeral key already used", ErrInvalidEncryptionKey)
	}
	return keyID, nil
}

// PublishMessage validates and appends one encrypted vote message to the
// round's message chain.
func (p *Process) PublishMessage(ciphertext []*big.Int, ephemeral ecc.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	keyID, err := p.validateMessage(ciphertext, ephemeral)
	if err != nil {
		return err
	}
	if _, err := p.voteChain.Append(ciphertext, ephemeral); err != nil {
		return err
	}
	p.usedEncryptionKeys[keyID] = struct{}{}
	return nil
}

// PublishMessageBatch appends several messages atomically: every message is
// validated and chained before the batch is visible, and any failure leaves
// the chain untouched.
func (p *Process) PublishMessageBatch(ciphertexts [][]*big.Int, ephemerals []ecc.Point) error {
	if len(ciphertexts) != len(ephemerals) {
		return fmt.Errorf("mismatched batch lengths: %d ciphertexts, %d keys", len(ciphertexts), len(ephemerals))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	keyIDs := make([]string, len(ciphertexts))
	seen := make(map[string]struct{}, len(ciphertexts))
	for i := range ciphertexts {
		keyID, err := p.validateMessage(ciphertexts[i], ephemerals[i])
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if _, dup := seen[keyID]; dup {
			return fmt.Errorf("message %d: %w: ephemeral key repeated in batch", i, ErrInvalidEncryptionKey)
		}
		seen[keyID] = struct{}{}
		keyIDs[i] = keyID
	}
	rollback := p.voteChain.Len()
	for i := range ciphertexts {
		if _, err := p.voteChain.Append(ciphertexts[i], ephemerals[i]); err != nil {
			p.voteChain.Truncate(rollback)
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	for _, keyID := range keyIDs {
		p.usedEncryptionKeys[keyID] = struct{}{}
	}
	return nil
}

// PublishDeactivateMessage validates and appends one encrypted deactivate
// message to the round's deactivate chain.
func (p *Process) PublishDeactivateMessage(ciphertext []*big.Int, ephemeral ecc.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	keyID, err := p.validateMessage(ciphertext, ephemeral)
	if err != nil {
		return err
	}
	if _, err := p.deactivateChain.Append(ciphertext, ephemeral); err != nil {
		return err
	}
	p.usedEncryptionKeys[keyID] = struct{}{}
	return nil
}

// VoteChainLen returns the number of published vote messages.
func (p *Process) VoteChainLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voteChain.Len()
}

// DeactivateChainLen returns the number of published deactivate messages.
func (p *Process) DeactivateChainLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deactivateChain.Len()
}

// VoteChainHash returns the head hash of the vote chain.
func (p *Process) VoteChainHash() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voteChain.LastHash()
}

// DeactivateChainHash returns the head hash of the deactivate chain.
func (p *Process) DeactivateChainHash() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deactivateChain.LastHash()
}

// VoteChainSlice returns one batch-sized window of the vote chain, padded
// with no-op entries past the end.
func (p *Process) VoteChainSlice(start int) ([]*message.ChainEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voteChain.Slice(start, p.Config.MessageBatchSize)
}

// DeactivateChainSlice returns one batch-sized window of the deactivate
// chain, padded with no-op entries past the end.
func (p *Process) DeactivateChainSlice(start int) ([]*message.ChainEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deactivateChain.Slice(start, p.Config.MessageBatchSize)
}

// ProcessedCounts returns how many vote and deactivate messages have been
// consumed by accepted batches.
func (p *Process) ProcessedCounts() (votes, deactivates int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processedVotes, p.processedDeactivate
}

// StartProcessingPeriod moves the round from Voting to Processing once the
// voting deadline has passed, freezing the sign-up tree into the baseline
// state commitment.
func (p *Process) StartProcessingPeriod() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.period != types.PeriodVoting {
		return fmt.Errorf("%w: cannot start processing from %s", ErrPeriod, p.period)
	}
	if now := p.now(); now.Before(p.Config.VotingEnd) {
		return fmt.Errorf("%w: voting ends at %s, now is %s", ErrPeriod,
			p.Config.VotingEnd.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	commitment, err := state.Commitment(p.signupTree.Root(), genesisSalt)
	if err != nil {
		return err
	}
	p.stateCommitment = commitment
	p.period = types.PeriodProcessing
	log.Infow("processing period started", "process", p.ID.String(),
		"voters", p.signupTree.LeafCount(), "messages", p.voteChain.Len(),
		"deactivations", p.deactivateChain.Len())
	return nil
}

// boundary returns the recorded hash-chain boundaries of the next batch of
// a chain: the hash before entry `from` and the hash after consuming up to
// batchSize entries.
func boundary(chain *message.Chain, from, batchSize int) (*big.Int, *big.Int, int) {
	end := from + batchSize
	if end > chain.Len() {
		end = chain.Len()
	}
	return chain.HashAt(from), chain.HashAt(end), end - from
}

// SubmitDeactivateBatch verifies and applies the fold of one deactivate
// message batch: new deactivate and active-state commitments, anchored to
// the recorded chain boundaries. Accepted during Voting, so voters can
// reactivate within the round, and during Processing for the remainder.
func (p *Process) SubmitDeactivateBatch(newDeactivateCommitment, newActiveStateCommitment *big.Int,
	batchStartHash, batchEndHash *big.Int, proof *circuits.Proof,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.period != types.PeriodVoting && p.period != types.PeriodProcessing {
		return fmt.Errorf("%w: deactivate batches end at %s, round is %s", ErrPeriod,
			types.PeriodProcessing, p.period)
	}
	if p.processedDeactivate >= p.deactivateChain.Len() {
		return fmt.Errorf("%w: deactivate chain fully consumed", ErrHashChainMismatch)
	}
	wantStart, wantEnd, consumed := boundary(p.deactivateChain, p.processedDeactivate, p.Config.MessageBatchSize)
	if wantStart.Cmp(batchStartHash) != 0 || wantEnd.Cmp(batchEndHash) != 0 {
		return fmt.Errorf("%w: deactivate batch at offset %d", ErrHashChainMismatch, p.processedDeactivate)
	}
	keyHash, err := circuits.CoordinatorKeyHash(p.EncryptionKey)
	if err != nil {
		return err
	}
	inputs := circuits.DeactivateInputs{
		CoordinatorKeyHash:       keyHash,
		BatchStartHash:           batchStartHash,
		BatchEndHash:             batchEndHash,
		PrevDeactivateCommitment: p.deactivateCommitment,
		NextDeactivateCommitment: newDeactivateCommitment,
		ActiveStateCommitment:    newActiveStateCommitment,
	}
	inputsHash, err := inputs.Hash()
	if err != nil {
		return err
	}
	if err := p.verifier.Verify(circuits.DeactivateCircuit, proof, inputsHash); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	p.deactivateCommitment = newDeactivateCommitment
	p.activeStateCommitment = newActiveStateCommitment
	p.processedDeactivate += consumed
	return nil
}

// SubmitProcessBatch verifies and applies the fold of one vote message
// batch into a new state commitment. Deactivate batches must be fully
// consumed first so votes fold against a settled active-state tree.
func (p *Process) SubmitProcessBatch(newStateCommitment *big.Int,
	batchStartHash, batchEndHash *big.Int, proof *circuits.Proof,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.period != types.PeriodProcessing {
		return fmt.Errorf("%w: batch submission requires %s, round is %s", ErrPeriod, types.PeriodProcessing, p.period)
	}
	if p.processedDeactivate < p.deactivateChain.Len() {
		return fmt.Errorf("%w: %d deactivate messages pending", ErrPeriod,
			p.deactivateChain.Len()-p.processedDeactivate)
	}
	if p.processedVotes >= p.voteChain.Len() {
		return fmt.Errorf("%w: message chain fully consumed", ErrHashChainMismatch)
	}
	wantStart, wantEnd, consumed := boundary(p.voteChain, p.processedVotes, p.Config.MessageBatchSize)
	if wantStart.Cmp(batchStartHash) != 0 || wantEnd.Cmp(batchEndHash) != 0 {
		return fmt.Errorf("%w: vote batch at offset %d", ErrHashChainMismatch, p.processedVotes)
	}
	keyHash, err := circuits.CoordinatorKeyHash(p.EncryptionKey)
	if err != nil {
		return err
	}
	inputs := circuits.ProcessMessagesInputs{
		PackedParams:          p.packedParams(),
		CoordinatorKeyHash:    keyHash,
		BatchStartHash:        batchStartHash,
		BatchEndHash:          batchEndHash,
		PrevCommitment:        p.stateCommitment,
		NextCommitment:        newStateCommitment,
		DeactivateCommitment:  p.deactivateCommitment,
		ActiveStateCommitment: p.activeStateCommitment,
	}
	inputsHash, err := inputs.Hash()
	if err != nil {
		return err
	}
	if err := p.verifier.Verify(circuits.ProcessMessagesCircuit, proof, inputsHash); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	p.stateCommitment = newStateCommitment
	p.processedVotes += consumed
	return nil
}

// SubmitNewKey verifies a key reactivation: a fresh nullifier plus a proof
// binding it to the current deactivate commitment and a new leaf hash,
// which the ledger appends to the sign-up tree.
func (p *Process) SubmitNewKey(nullifier, newLeafHash *big.Int, proof *circuits.Proof) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.period != types.PeriodVoting {
		return 0, fmt.Errorf("%w: reactivation requires %s, round is %s", ErrPeriod, types.PeriodVoting, p.period)
	}
	nullID := nullifier.String()
	if _, used := p.usedNullifiers[nullID]; used {
		return 0, ErrReplayedNullifier
	}
	keyHash, err := circuits.CoordinatorKeyHash(p.EncryptionKey)
	if err != nil {
		return 0, err
	}
	inputs := circuits.AddNewKeyInputs{
		CoordinatorKeyHash:   keyHash,
		Nullifier:            nullifier,
		DeactivateCommitment: p.deactivateCommitment,
		NewLeafHash:          newLeafHash,
	}
	inputsHash, err := inputs.Hash()
	if err != nil {
		return 0, err
	}
	if err := p.verifier.Verify(circuits.AddNewKeyCircuit, proof, inputsHash); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	index, err := p.signupTree.AppendLeaf(newLeafHash)
	if err != nil {
		return 0, fmt.Errorf("round is full: %w", err)
	}
	p.usedNullifiers[nullID] = struct{}{}
	log.Debugw("key reactivated", "process", p.ID.String(), "index", index)
	return index, nil
}

// NullifierUsed reports whether a reactivation nullifier has already been
// consumed.
func (p *Process) NullifierUsed(nullifier *big.Int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, used := p.usedNullifiers[nullifier.String()]
	return used
}

// StopProcessingPeriod moves the round from Processing to Tallying once
// both chains are fully consumed.
func (p *Process) StopProcessingPeriod() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.period != types.PeriodProcessing {
		return fmt.Errorf("%w: cannot stop processing from %s", ErrPeriod, p.period)
	}
	if p.processedDeactivate < p.deactivateChain.Len() || p.processedVotes < p.voteChain.Len() {
		return fmt.Errorf("%w: %d vote and %d deactivate messages pending", ErrPeriod,
			p.voteChain.Len()-p.processedVotes, p.deactivateChain.Len()-p.processedDeactivate)
	}
	p.period = types.PeriodTallying
	log.Infow("tallying period started", "process", p.ID.String())
	return nil
}

// SubmitTallyBatch verifies and applies the fold of one batch of frozen
// state leaves into the running tally commitment.
func (p *Process) SubmitTallyBatch(newTallyCommitment *big.Int, proof *circuits.Proof) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.period != types.PeriodTallying {
		return fmt.Errorf("%w: tally submission requires %s, round is %s", ErrPeriod, types.PeriodTallying, p.period)
	}
	if p.talliedLeaves >= p.signupTree.LeafCount() {
		return fmt.Errorf("%w: all %d leaves already tallied", ErrPeriod, p.talliedLeaves)
	}
	inputs := circuits.TallyInputs{
		PackedParams:        p.packedParams(),
		StateCommitment:     p.stateCommitment,
		PrevTallyCommitment: p.tallyCommitment,
		NextTallyCommitment: newTallyCommitment,
	}
	inputsHash, err := inputs.Hash()
	if err != nil {
		return err
	}
	if err := p.verifier.Verify(circuits.TallyCircuit, proof, inputsHash); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	p.tallyCommitment = newTallyCommitment
	consumed := uint64(p.Config.TallyBatchSize)
	if remaining := p.signupTree.LeafCount() - p.talliedLeaves; consumed > remaining {
		consumed = remaining
	}
	p.talliedLeaves += consumed
	return nil
}

// StopTallying publishes the per-option encoded results and ends the round.
// The results and salt must reopen the final tally commitment.
func (p *Process) StopTallying(results []*types.BigInt, salt *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.period != types.PeriodTallying {
		return fmt.Errorf("%w: cannot publish results from %s", ErrPeriod, p.period)
	}
	if p.talliedLeaves < p.signupTree.LeafCount() {
		return fmt.Errorf("%w: %d leaves pending tally", ErrPeriod, p.signupTree.LeafCount()-p.talliedLeaves)
	}
	if uint64(len(results)) != p.Config.VoteOptions {
		return fmt.Errorf("expected %d results, got %d", p.Config.VoteOptions, len(results))
	}
	opening := make([]*big.Int, len(results))
	for i, r := range results {
		opening[i] = r.MathBigInt()
	}
	resultsHash, err := poseidon.MultiPoseidon(opening...)
	if err != nil {
		return err
	}
	commitment, err := poseidon.Hash(resultsHash, salt)
	if err != nil {
		return err
	}
	if commitment.Cmp(p.tallyCommitment) != 0 {
		return fmt.Errorf("%w: results do not open the tally commitment", ErrInvalidProof)
	}
	p.results = results
	p.period = types.PeriodEnded
	log.Infow("round ended", "process", p.ID.String(), "options", len(results))
	return nil
}

// Results returns the published per-option encoded results, nil until the
// round has ended.
func (p *Process) Results() []*types.BigInt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

// DecodeResult splits one encoded per-option result into the vote count and
// the spent weight.
func DecodeResult(encoded *big.Int) (votes, spent *big.Int) {
	votes = new(big.Int)
	spent = new(big.Int)
	votes.DivMod(encoded, types.ResultsScale, spent)
	return votes, spent
}

// Commitments returns the current state, deactivate, active-state and tally
// commitments. The state commitment is nil until processing starts.
func (p *Process) Commitments() (state, deactivate, activeState, tally *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateCommitment, p.deactivateCommitment, p.activeStateCommitment, p.tallyCommitment
}

func (p *Process) packedParams() *big.Int {
	return circuits.PackParams(p.Config.MessageBatchSize, int(p.Config.VoteOptions),
		p.Config.StateTreeDepth, p.Config.Mode == types.VotingModeQuadratic)
}
