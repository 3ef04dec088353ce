package circuits

import (
	"context"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestPackParams(t *testing.T) {
	packed := PackParams(5, 25, 2, false)
	qt.Assert(t, packed.Uint64(), qt.Equals, uint64(5)|uint64(25)<<16|uint64(2)<<32)

	quadratic := PackParams(5, 25, 2, true)
	qt.Assert(t, quadratic.Uint64(), qt.Equals, packed.Uint64()|uint64(1)<<40)
}

func TestInputsHashBindsEveryField(t *testing.T) {
	base := ProcessMessagesInputs{
		PackedParams:          big.NewInt(1),
		CoordinatorKeyHash:    big.NewInt(2),
		BatchStartHash:        big.NewInt(3),
		BatchEndHash:          big.NewInt(4),
		PrevCommitment:        big.NewInt(5),
		NextCommitment:        big.NewInt(6),
		DeactivateCommitment:  big.NewInt(7),
		ActiveStateCommitment: big.NewInt(8),
	}
	baseHash, err := base.Hash()
	qt.Assert(t, err, qt.IsNil)

	mutations := []func(*ProcessMessagesInputs){
		func(i *ProcessMessagesInputs) { i.PackedParams = big.NewInt(100) },
		func(i *ProcessMessagesInputs) { i.CoordinatorKeyHash = big.NewInt(100) },
		func(i *ProcessMessagesInputs) { i.BatchStartHash = big.NewInt(100) },
		func(i *ProcessMessagesInputs) { i.BatchEndHash = big.NewInt(100) },
		func(i *ProcessMessagesInputs) { i.PrevCommitment = big.NewInt(100) },
		func(i *ProcessMessagesInputs) { i.NextCommitment = big.NewInt(100) },
		func(i *ProcessMessagesInputs) { i.DeactivateCommitment = big.NewInt(100) },
		func(i *ProcessMessagesInputs) { i.ActiveStateCommitment = big.NewInt(100) },
	}
	for n, mutate := range mutations {
		inputs := base
		mutate(&inputs)
		hash, err := inputs.Hash()
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, hash.Cmp(baseHash), qt.Not(qt.Equals), 0,
			qt.Commentf("mutation %d did not move the hash", n))
	}
}

func TestMockProverVerifierRoundTrip(t *testing.T) {
	inputs := AddNewKeyInputs{
		CoordinatorKeyHash:   big.NewInt(1),
		Nullifier:            big.NewInt(2),
		DeactivateCommitment: big.NewInt(3),
		NewLeafHash:          big.NewInt(4),
	}
	inputsHash, err := inputs.Hash()
	qt.Assert(t, err, qt.IsNil)

	proof, err := MockProver{}.Prove(context.Background(), AddNewKeyCircuit, nil, inputsHash)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, MockVerifier{}.Verify(AddNewKeyCircuit, proof, inputsHash), qt.IsNil)

	// Any disagreement on the aggregate hash fails verification.
	other := new(big.Int).Add(inputsHash, big.NewInt(1))
	qt.Assert(t, MockVerifier{}.Verify(AddNewKeyCircuit, proof, other), qt.IsNotNil)

	proof.PublicInputs = nil
	qt.Assert(t, MockVerifier{}.Verify(AddNewKeyCircuit, proof, inputsHash), qt.IsNotNil)
}
