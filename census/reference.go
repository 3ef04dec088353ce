package census

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/arbo"
)

// CensusRef is a reference to one census tree. All access to the underlying
// arbo tree and its cached root goes through treeMu.
type CensusRef struct {
	ID          uuid.UUID
	MaxLevels   int
	HashType    string
	LastUsed    time.Time
	currentRoot []byte
	tree        *arbo.Tree `gob:"-"`
	treeMu      sync.Mutex `gob:"-"`
	// onRootChange reindexes the census in the owning CensusDB after a
	// mutation moves the root.
	onRootChange func(newRoot []byte) `gob:"-"`
}

// Insert adds one voter key with its voice credit balance.
func (cr *CensusRef) Insert(key []byte, weight *big.Int) error {
	cr.treeMu.Lock()
	if err := cr.tree.Add(key, arbo.BigIntToBytes(arbo.HashFunctionPoseidon.Len(), weight)); err != nil {
		cr.treeMu.Unlock()
		return err
	}
	newRoot, err := cr.tree.Root()
	cr.treeMu.Unlock()
	if err != nil {
		return err
	}
	if cr.onRootChange != nil {
		cr.onRootChange(newRoot)
	}
	return nil
}

// InsertBatch adds a batch of voter keys with their balances.
func (cr *CensusRef) InsertBatch(keys, values [][]byte) ([]arbo.Invalid, error) {
	cr.treeMu.Lock()
	invalid, err := cr.tree.AddBatch(keys, values)
	if err != nil {
		cr.treeMu.Unlock()
		return invalid, err
	}
	newRoot, err := cr.tree.Root()
	cr.treeMu.Unlock()
	if err != nil {
		return invalid, err
	}
	if cr.onRootChange != nil {
		cr.onRootChange(newRoot)
	}
	return invalid, nil
}

// Root returns the current census tree root.
func (cr *CensusRef) Root() []byte {
	cr.treeMu.Lock()
	defer cr.treeMu.Unlock()
	root, err := cr.tree.Root()
	if err != nil {
		return nil
	}
	return root
}

// Size returns the number of voters in the census.
func (cr *CensusRef) Size() int {
	cr.treeMu.Lock()
	defer cr.treeMu.Unlock()
	size, err := cr.tree.GetNLeafs()
	if err != nil {
		return 0
	}
	return size
}

// GenProof generates an inclusion proof for the given voter key. It returns
// the stored key, value, packed siblings and an inclusion flag.
func (cr *CensusRef) GenProof(key []byte) ([]byte, []byte, []byte, bool, error) {
	cr.treeMu.Lock()
	defer cr.treeMu.Unlock()
	return cr.tree.GenProof(key)
}
