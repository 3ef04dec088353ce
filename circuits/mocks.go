package circuits

import (
	"context"
	"fmt"
	"math/big"

	"github.com/vocdoni/acvote/types"
)

// MockProver emits proofs that carry only the aggregate inputs hash. It
// stands in for the real proving system in tests and local folding runs.
type MockProver struct{}

func (MockProver) Prove(ctx context.Context, circuit CircuitType, _ any, inputsHash *big.Int) (*Proof, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return &Proof{
		Data:         []byte(circuit),
		PublicInputs: []*types.BigInt{(*types.BigInt)(inputsHash)},
	}, nil
}

// MockVerifier accepts any proof whose first public signal matches the
// expected inputs hash.
type MockVerifier struct{}

func (MockVerifier) Verify(circuit CircuitType, proof *Proof, inputsHash *big.Int) error {
	got, err := proof.InputsHash()
	if err != nil {
		return err
	}
	if got.Cmp(inputsHash) != 0 {
		return fmt.Errorf("circuit %s: public inputs hash mismatch", circuit)
	}
	return nil
}
