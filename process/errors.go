package process

import "fmt"

var (
	// ErrPeriod is returned when an operation is attempted outside the
	// period that allows it.
	ErrPeriod = fmt.Errorf("operation not allowed in current period")
	// ErrInvalidEncryptionKey is returned when a message's ephemeral
	// encryption key was already used or is not in the curve subgroup.
	ErrInvalidEncryptionKey = fmt.Errorf("invalid or reused encryption key")
	// ErrInvalidProof is returned when the external verifier rejects a
	// batch proof.
	ErrInvalidProof = fmt.Errorf("invalid proof")
	// ErrHashChainMismatch is returned when a batch's claimed boundary
	// hashes disagree with the recorded chain.
	ErrHashChainMismatch = fmt.Errorf("batch boundary does not match recorded chain")
	// ErrBalanceExceeded marks a vote that spends more voice credits than
	// the leaf holds. Inside a batch it folds as a no-op.
	ErrBalanceExceeded = fmt.Errorf("vote weight exceeds remaining balance")
	// ErrReplayedNullifier is returned on a second reactivation attempt
	// with an already consumed nullifier.
	ErrReplayedNullifier = fmt.Errorf("nullifier already consumed")
	// ErrInvalidCensusProof is returned at sign-up when the provided
	// census inclusion proof does not verify against the round's root.
	ErrInvalidCensusProof = fmt.Errorf("invalid census proof")
)
