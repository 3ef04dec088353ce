package types

import (
	"time"
)

// VotingMode selects how vote weight is spent against the voter balance.
type VotingMode uint8

const (
	// VotingModeLinear spends weight credits for a weight vote.
	VotingModeLinear VotingMode = iota
	// VotingModeQuadratic spends weight^2 credits for a weight vote.
	VotingModeQuadratic
)

// RoundConfig holds the immutable parameters of a voting round, fixed at
// creation time and hashed into every proof of the round.
type RoundConfig struct {
	StateTreeDepth      int        `json:"stateTreeDepth"      cbor:"0,keyasint,omitempty"`
	VoteOptionTreeDepth int        `json:"voteOptionTreeDepth" cbor:"1,keyasint,omitempty"`
	VoteOptions         uint64     `json:"voteOptions"         cbor:"2,keyasint,omitempty"`
	MessageBatchSize    int        `json:"messageBatchSize"    cbor:"3,keyasint,omitempty"`
	TallyBatchSize      int        `json:"tallyBatchSize"      cbor:"5,keyasint,omitempty"`
	Mode                VotingMode `json:"mode"                cbor:"6,keyasint,omitempty"`
	// Deactivation enables the key deactivation / reactivation scheme for
	// the round.
	Deactivation bool `json:"deactivation" cbor:"7,keyasint,omitempty"`
	// CensusRoot, when set, requires a census inclusion proof at sign-up.
	CensusRoot HexBytes `json:"censusRoot,omitempty" cbor:"8,keyasint,omitempty"`
	// VotingEnd is the earliest time the round may leave the voting
	// period.
	VotingEnd time.Time `json:"votingEnd" cbor:"9,keyasint,omitempty"`
}

// DefaultRoundConfig returns a RoundConfig with the protocol default tree
// depths and batch sizes, linear voting and deactivation enabled.
func DefaultRoundConfig(votingEnd time.Time) RoundConfig {
	return RoundConfig{
		StateTreeDepth:      DefaultStateTreeDepth,
		VoteOptionTreeDepth: DefaultVoteOptionTreeDepth,
		VoteOptions:         TreeArity * TreeArity,
		MessageBatchSize:    DefaultMessageBatchSize,
		TallyBatchSize:      DefaultTallyBatchSize,
		Mode:                VotingModeLinear,
		Deactivation:        true,
		VotingEnd:           votingEnd,
	}
}

// MaxVoters returns the state tree capacity of the round.
func (rc *RoundConfig) MaxVoters() int {
	n := 1
	for range rc.StateTreeDepth {
		n *= TreeArity
	}
	return n
}
