package circuits

import (
	"math/big"

	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/hash/poseidon"
)

// CoordinatorKeyHash reduces the coordinator encryption key to the single
// field element the circuits consume.
func CoordinatorKeyHash(key ecc.Point) (*big.Int, error) {
	x, y := key.Point()
	return poseidon.Hash(x, y)
}

// ProcessMessagesInputs is the public-input bundle of the process-messages
// circuit. Field order is fixed by the circuit and must not change.
type ProcessMessagesInputs struct {
	PackedParams          *big.Int
	CoordinatorKeyHash    *big.Int
	BatchStartHash        *big.Int
	BatchEndHash          *big.Int
	PrevCommitment        *big.Int
	NextCommitment        *big.Int
	DeactivateCommitment  *big.Int
	ActiveStateCommitment *big.Int
}

// Hash folds the bundle into the single aggregate public input.
func (i *ProcessMessagesInputs) Hash() (*big.Int, error) {
	return poseidon.MultiPoseidon(
		i.PackedParams,
		i.CoordinatorKeyHash,
		i.BatchStartHash,
		i.BatchEndHash,
		i.PrevCommitment,
		i.NextCommitment,
		i.DeactivateCommitment,
		i.ActiveStateCommitment,
	)
}

// DeactivateInputs is the public-input bundle of the deactivate-processing
// circuit.
type DeactivateInputs struct {
	CoordinatorKeyHash       *big.Int
	BatchStartHash           *big.Int
	BatchEndHash             *big.Int
	PrevDeactivateCommitment *big.Int
	NextDeactivateCommitment *big.Int
	ActiveStateCommitment    *big.Int
}

func (i *DeactivateInputs) Hash() (*big.Int, error) {
	return poseidon.MultiPoseidon(
		i.CoordinatorKeyHash,
		i.BatchStartHash,
		i.BatchEndHash,
		i.PrevDeactivateCommitment,
		i.NextDeactivateCommitment,
		i.ActiveStateCommitment,
	)
}

// AddNewKeyInputs is the public-input bundle of the add-new-key circuit.
// The nullifier is the replay guard; the deactivate commitment anchors the
// record the voter proves membership of; the new leaf hash is public so the
// ledger can append it to its sign-up tree without learning the key link.
type AddNewKeyInputs struct {
	CoordinatorKeyHash   *big.Int
	Nullifier            *big.Int
	DeactivateCommitment *big.Int
	NewLeafHash          *big.Int
}

func (i *AddNewKeyInputs) Hash() (*big.Int, error) {
	return poseidon.MultiPoseidon(
		i.CoordinatorKeyHash,
		i.Nullifier,
		i.DeactivateCommitment,
		i.NewLeafHash,
	)
}

// TallyInputs is the public-input bundle of the tally circuit.
type TallyInputs struct {
	PackedParams        *big.Int
	StateCommitment     *big.Int
	PrevTallyCommitment *big.Int
	NextTallyCommitment *big.Int
}

func (i *TallyInputs) Hash() (*big.Int, error) {
	return poseidon.MultiPoseidon(
		i.PackedParams,
		i.StateCommitment,
		i.PrevTallyCommitment,
		i.NextTallyCommitment,
	)
}

// PackParams packs the round shape parameters consumed by the
// process-messages and tally circuits into one field element:
// batchSize | voteOptions<<16 | stateTreeDepth<<32 | quadratic<<40.
func PackParams(batchSize, voteOptions, stateTreeDepth int, quadratic bool) *big.Int {
	packed := new(big.Int).SetUint64(uint64(batchSize))
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(uint64(voteOptions)), 16))
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(uint64(stateTreeDepth)), 32))
	if quadratic {
		packed.Or(packed, new(big.Int).Lsh(big.NewInt(1), 40))
	}
	return packed
}
