package coordinator

import (
	"context"
	"fmt"
	"math/big"

	"go.vocdoni.io/dvote/log"

	"github.com/vocdoni/acvote/circuits"
	"github.com/vocdoni/acvote/crypto/babyjub"
	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/ecc/curves"
	"github.com/vocdoni/acvote/crypto/elgamal"
	"github.com/vocdoni/acvote/process"
	"github.com/vocdoni/acvote/state"
	"github.com/vocdoni/acvote/types"
)

// ReactivationRequest is what a deactivated voter submits to continue under
// a fresh key: a single-use nullifier derived from the old scalar, the new
// public key and the credential ciphertext rerandomized by the voter. The
// balance claim is attested by the reactivation proof.
type ReactivationRequest struct {
	Nullifier    *big.Int
	NewPublicKey ecc.Point
	D1           [2]*big.Int
	D2           [2]*big.Int
	Balance      *big.Int
}

// BuildReactivation is the voter-side construction of a reactivation
// request. The voter locates their deactivate record by the shared key
// hash, rerandomizes its ciphertext so the result is unlinkable to the
// record, and derives the nullifier from the old key.
func BuildReactivation(oldKey *babyjub.KeyPair, newPublicKey, coordinatorPub ecc.Point,
	record *state.DeactivateRecord, balance *big.Int,
) (*ReactivationRequest, error) {
	sharedHash, err := oldKey.SharedKeyHash(coordinatorPub)
	if err != nil {
		return nil, err
	}
	if sharedHash.Cmp(record.SharedKeyHash) != 0 {
		return nil, fmt.Errorf("deactivate record is not addressed to this key")
	}
	k, err := elgamal.RandK()
	if err != nil {
		return nil, err
	}
	c1 := curves.New(curves.CurveTypeBabyJubJub).SetPoint(record.C1[0], record.C1[1])
	c2 := curves.New(curves.CurveTypeBabyJubJub).SetPoint(record.C2[0], record.C2[1])
	d1, d2 := elgamal.Rerandomize(coordinatorPub, c1, c2, k)
	nullifier, err := oldKey.Nullifier()
	if err != nil {
		return nil, err
	}
	d1x, d1y := d1.Point()
	d2x, d2y := d2.Point()
	return &ReactivationRequest{
		Nullifier:    nullifier,
		NewPublicKey: newPublicKey,
		D1:           [2]*big.Int{d1x, d1y},
		D2:           [2]*big.Int{d2x, d2y},
		Balance:      new(big.Int).Set(balance),
	}, nil
}

// AddNewKey validates a reactivation request, submits the proof to the
// ledger and, once accepted, appends the new leaf to the coordinator state.
// The new leaf inherits the claimed balance and carries the rerandomized,
// even-parity activation ciphertext.
func (c *Coordinator) AddNewKey(ctx context.Context, proc *process.Process, req *ReactivationRequest) (uint64, error) {
	if proc.NullifierUsed(req.Nullifier) {
		return 0, process.ErrReplayedNullifier
	}
	used, err := c.store.HasNullifier(c.processID.Marshal(), (*types.BigInt)(req.Nullifier))
	if err != nil {
		return 0, err
	}
	if used {
		return 0, process.ErrReplayedNullifier
	}
	if err := ecc.CheckInSubGroup(req.NewPublicKey); err != nil {
		return 0, fmt.Errorf("new public key not in subgroup: %w", err)
	}
	c1 := curves.New(curves.CurveTypeBabyJubJub).SetPoint(req.D1[0], req.D1[1])
	c2 := curves.New(curves.CurveTypeBabyJubJub).SetPoint(req.D2[0], req.D2[1])
	active, err := elgamal.DecryptFlag(c.key.PublicKey(), c.key.Scalar(), c1, c2)
	if err != nil {
		return 0, fmt.Errorf("cannot decrypt activation ciphertext: %w", err)
	}
	if !active {
		return 0, fmt.Errorf("activation ciphertext reads inactive")
	}

	voRoot, err := c.state.EmptyVoteOptionRoot()
	if err != nil {
		return 0, err
	}
	leaf := &state.StateLeaf{
		PublicKey:      req.NewPublicKey,
		Balance:        new(big.Int).Set(req.Balance),
		VoteOptionRoot: voRoot,
		D1:             req.D1,
		D2:             req.D2,
	}
	leafHash, err := leaf.Hash()
	if err != nil {
		return 0, err
	}
	keyHash, err := circuits.CoordinatorKeyHash(c.key.PublicKey())
	if err != nil {
		return 0, err
	}
	inputs := circuits.AddNewKeyInputs{
		CoordinatorKeyHash:   keyHash,
		Nullifier:            req.Nullifier,
		DeactivateCommitment: c.deactivateCommitment,
		NewLeafHash:          leafHash,
	}
	inputsHash, err := inputs.Hash()
	if err != nil {
		return 0, err
	}
	proof, err := c.prover.Prove(ctx, circuits.AddNewKeyCircuit, req, inputsHash)
	if err != nil {
		return 0, fmt.Errorf("reactivation proof failed: %w", err)
	}
	ledgerIndex, err := proc.SubmitNewKey(req.Nullifier, leafHash, proof)
	if err != nil {
		return 0, err
	}
	// The ledger accepted the leaf; only now mutate the coordinator state.
	c.state.StartBatch()
	index, err := c.state.AddKeyLeaf(leaf)
	if err != nil {
		return 0, err
	}
	if err := c.state.EndBatch(); err != nil {
		return 0, err
	}
	if ledgerIndex != index {
		return 0, fmt.Errorf("leaf index mismatch: coordinator %d, ledger %d", index, ledgerIndex)
	}
	if err := c.store.AddNullifier(c.processID.Marshal(), (*types.BigInt)(req.Nullifier)); err != nil {
		return 0, err
	}
	if err := c.snapshot(proc); err != nil {
		return 0, err
	}
	log.Infow("key reactivated", "process", c.processID.String(), "index", index)
	return index, nil
}
