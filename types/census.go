package types

// CensusProof is a proof of inclusion in the eligibility census tree. It is
// provided by the voter at sign-up when the round is census gated.
type CensusProof struct {
	Root     HexBytes `json:"root"`
	Key      HexBytes `json:"key"`
	Value    HexBytes `json:"value"`
	Siblings HexBytes `json:"siblings"`
	Weight   *BigInt  `json:"weight"`
}
