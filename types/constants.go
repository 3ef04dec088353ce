package types

import "math/big"

const (
	// CensusTreeMaxLevels is the maximum number of levels in the census merkle tree.
	CensusTreeMaxLevels = 160
	// CensusKeyMaxLen is the maximum length of a census key in bytes.
	CensusKeyMaxLen = CensusTreeMaxLevels / 8

	// TreeArity is the branching factor of every protocol merkle tree.
	TreeArity = 5
	// DefaultStateTreeDepth is the default depth of the per-round state
	// tree (TreeArity^depth leaves).
	DefaultStateTreeDepth = 2
	// DefaultVoteOptionTreeDepth is the default depth of the per-voter
	// vote option tree.
	DefaultVoteOptionTreeDepth = 2
	// DefaultMessageBatchSize is the number of chain entries folded by a
	// single processing proof.
	DefaultMessageBatchSize = 5
	// DefaultTallyBatchSize is the number of state leaves folded by a
	// single tally proof.
	DefaultTallyBatchSize = TreeArity * TreeArity
)

var (
	// FieldPrime is the scalar field of BN254, the base field of the
	// babyjubjub curve. Every value stored or hashed by the protocol is
	// reduced into it.
	FieldPrime, _ = new(big.Int).SetString(
		"21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

	// NullifierSeed is the protocol constant hashed together with a private
	// scalar to derive the single-use reactivation nullifier.
	NullifierSeed, _ = new(big.Int).SetString("1444992409218394441042", 10)

	// ResultsScale encodes the per-option published result as
	// votes*ResultsScale + spentWeight. The spent weight of an option can
	// never reach ResultsScale, so both values decode unambiguously.
	ResultsScale = new(big.Int).Lsh(big.NewInt(1), 128)
)
