// Package circuits defines the contract with the external proving system:
// the circuit identifiers, the ordered public-input bundles each circuit
// consumes and the verifier interface the ledger side calls. The constraint
// systems themselves are external; this package only reproduces their
// public-input packing.
package circuits

import (
	"context"
	"fmt"
	"math/big"

	"github.com/vocdoni/acvote/types"
)

// CircuitType identifies one of the protocol circuits.
type CircuitType string

const (
	// ProcessMessagesCircuit attests the fold of one vote message batch.
	ProcessMessagesCircuit CircuitType = "process-messages"
	// TallyCircuit attests the fold of one tally batch over the frozen state.
	TallyCircuit CircuitType = "tally"
	// DeactivateCircuit attests the fold of one deactivate message batch.
	DeactivateCircuit CircuitType = "deactivate-processing"
	// AddNewKeyCircuit attests a single key reactivation.
	AddNewKeyCircuit CircuitType = "add-new-key"
)

// Proof is an opaque succinct proof plus the public signals it was produced
// for. The first public signal is always the aggregate inputs hash.
type Proof struct {
	Data         types.HexBytes  `json:"data"`
	PublicInputs []*types.BigInt `json:"publicInputs"`
}

// InputsHash returns the aggregate public-input hash the proof commits to.
func (p *Proof) InputsHash() (*big.Int, error) {
	if len(p.PublicInputs) == 0 {
		return nil, fmt.Errorf("proof carries no public inputs")
	}
	return p.PublicInputs[0].MathBigInt(), nil
}

// Verifier checks a proof for a circuit against the expected aggregate
// inputs hash. Implementations must reject any proof whose public signals
// disagree with inputsHash.
type Verifier interface {
	Verify(circuit CircuitType, proof *Proof, inputsHash *big.Int) error
}

// Prover produces a proof for a circuit from an already-assembled witness.
// Proving is long-running; ctx cancellation must abort it.
type Prover interface {
	Prove(ctx context.Context, circuit CircuitType, witness any, inputsHash *big.Int) (*Proof, error)
}
