package circuits

import (
	"encoding/json"
	"fmt"
	"math/big"

	rapidtypes "github.com/iden3/go-rapidsnark/types"
	"github.com/iden3/go-rapidsnark/verifier"
)

// Groth16Verifier verifies proofs with rapidsnark verification keys, one
// per circuit. Proof.Data must hold the snarkjs JSON proof encoding.
type Groth16Verifier struct {
	keys map[CircuitType][]byte
}

// NewGroth16Verifier builds a verifier from the verification keys of the
// circuits it should accept.
func NewGroth16Verifier(keys map[CircuitType][]byte) *Groth16Verifier {
	return &Groth16Verifier{keys: keys}
}

// Verify checks the proof for the given circuit and that its first public
// signal equals inputsHash.
func (v *Groth16Verifier) Verify(circuit CircuitType, proof *Proof, inputsHash *big.Int) error {
	vk, ok := v.keys[circuit]
	if !ok {
		return fmt.Errorf("no verification key for circuit %s", circuit)
	}
	got, err := proof.InputsHash()
	if err != nil {
		return err
	}
	if got.Cmp(inputsHash) != 0 {
		return fmt.Errorf("public inputs hash mismatch: got %s, want %s", got, inputsHash)
	}
	proofData := rapidtypes.ProofData{}
	if err := json.Unmarshal(proof.Data, &proofData); err != nil {
		return fmt.Errorf("cannot decode proof data: %w", err)
	}
	signals := make([]string, len(proof.PublicInputs))
	for i, s := range proof.PublicInputs {
		signals[i] = s.MathBigInt().String()
	}
	zkp := rapidtypes.ZKProof{
		Proof:      &proofData,
		PubSignals: signals,
	}
	if err := verifier.VerifyGroth16(zkp, vk); err != nil {
		return fmt.Errorf("proof verification failed: %w", err)
	}
	return nil
}
