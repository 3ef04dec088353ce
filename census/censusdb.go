// Package census keeps the voter eligibility trees. A census is an arbo
// merkle tree mapping a voter public key to its voice credit balance; sign
// ups are gated by an inclusion proof against a published census root.
package census

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/arbo"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/vocdoni/acvote/types"
)

const (
	censusDBprefix          = "cs_"
	censusDBreferencePrefix = "cr_"
)

var (
	// ErrCensusNotFound is returned when a census is not found in the database.
	ErrCensusNotFound = fmt.Errorf("census not found in the local database")
	// ErrCensusAlreadyExists is returned by New() if the census already exists.
	ErrCensusAlreadyExists = fmt.Errorf("census already exists in the local database")
	// ErrKeyNotFound is returned when a key is not found in the merkle tree.
	ErrKeyNotFound = fmt.Errorf("key not found")

	defaultHashFunction = arbo.HashFunctionPoseidon
)

func rootKey(root []byte) string {
	return hex.EncodeToString(root)
}

// CensusDB is a persistent database of census trees with an in-memory index
// from tree root to census ID.
type CensusDB struct {
	mu           sync.RWMutex
	db           db.Database
	loadedCensus map[uuid.UUID]*CensusRef
	rootIndex    map[string]uuid.UUID
}

// NewCensusDB creates a new CensusDB on top of the given key-value database.
func NewCensusDB(database db.Database) *CensusDB {
	return &CensusDB{
		db:           database,
		loadedCensus: make(map[uuid.UUID]*CensusRef),
		rootIndex:    make(map[string]uuid.UUID),
	}
}

// New creates a new census tree and registers it under censusID.
func (c *CensusDB) New(censusID uuid.UUID) (*CensusRef, error) {
	key := append([]byte(censusDBreferencePrefix), censusID[:]...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.loadedCensus[censusID]; exists {
		return nil, ErrCensusAlreadyExists
	}
	if _, err := c.db.Get(key); err == nil {
		return nil, ErrCensusAlreadyExists
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return nil, err
	}

	ref := &CensusRef{
		ID:        censusID,
		MaxLevels: types.CensusTreeMaxLevels,
		HashType:  string(defaultHashFunction.Type()),
		LastUsed:  time.Now(),
		onRootChange: func(newRoot []byte) {
			c.reindexRoot(censusID, newRoot)
		},
	}
	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(c.db, censusPrefix(censusID)),
		MaxLevels:    types.CensusTreeMaxLevels,
		HashFunction: defaultHashFunction,
	})
	if err != nil {
		return nil, err
	}
	ref.tree = tree
	root, err := tree.Root()
	if err != nil {
		return nil, err
	}
	ref.currentRoot = root

	if err := c.writeReference(ref); err != nil {
		return nil, err
	}
	c.loadedCensus[censusID] = ref
	c.rootIndex[rootKey(root)] = censusID
	return ref, nil
}

func (c *CensusDB) writeReference(ref *CensusRef) error {
	key := append([]byte(censusDBreferencePrefix), ref.ID[:]...)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ref); err != nil {
		return err
	}
	wtx := c.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(key, buf.Bytes()); err != nil {
		return err
	}
	return wtx.Commit()
}

// Exists returns true if the censusID exists in the local database.
func (c *CensusDB) Exists(censusID uuid.UUID) bool {
	c.mu.RLock()
	_, exists := c.loadedCensus[censusID]
	c.mu.RUnlock()
	if exists {
		return true
	}
	key := append([]byte(censusDBreferencePrefix), censusID[:]...)
	_, err := c.db.Get(key)
	return err == nil
}

// Load returns a census from memory or from the persistent database.
func (c *CensusDB) Load(censusID uuid.UUID) (*CensusRef, error) {
	c.mu.RLock()
	if ref, exists := c.loadedCensus[censusID]; exists {
		c.mu.RUnlock()
		return ref, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	key := append([]byte(censusDBreferencePrefix), censusID[:]...)
	b, err := c.db.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %x", ErrCensusNotFound, censusID)
		}
		return nil, err
	}
	var ref CensusRef
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ref); err != nil {
		return nil, err
	}
	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(c.db, censusPrefix(censusID)),
		MaxLevels:    ref.MaxLevels,
		HashFunction: defaultHashFunction,
	})
	if err != nil {
		return nil, err
	}
	ref.tree = tree
	root, err := tree.Root()
	if err != nil {
		return nil, err
	}
	ref.currentRoot = root
	ref.onRootChange = func(newRoot []byte) {
		c.reindexRoot(censusID, newRoot)
	}
	ref.LastUsed = time.Now()
	if err := c.writeReference(&ref); err != nil {
		return nil, err
	}
	c.loadedCensus[censusID] = &ref
	c.rootIndex[rootKey(root)] = censusID
	return &ref, nil
}

// ProofByRoot finds a census by its tree root and generates an inclusion
// proof for the given voter key.
func (c *CensusDB) ProofByRoot(root, leafKey []byte) (*types.CensusProof, error) {
	c.mu.RLock()
	censusID, exists := c.rootIndex[rootKey(root)]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no census found with the provided root")
	}
	ref, err := c.Load(censusID)
	if err != nil {
		return nil, err
	}
	key, value, siblings, inclusion, err := ref.GenProof(leafKey)
	if err != nil {
		return nil, err
	}
	if !inclusion {
		return nil, ErrKeyNotFound
	}
	return &types.CensusProof{
		Root:     root,
		Key:      key,
		Value:    value,
		Siblings: siblings,
		Weight:   (*types.BigInt)(arbo.BytesToBigInt(value)),
	}, nil
}

// VerifyProof checks a census inclusion proof against its claimed root.
func VerifyProof(proof *types.CensusProof) (bool, error) {
	return arbo.CheckProof(defaultHashFunction, proof.Key, proof.Value, proof.Root, proof.Siblings)
}

func (c *CensusDB) reindexRoot(censusID uuid.UUID, newRoot []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, exists := c.loadedCensus[censusID]
	if !exists {
		return
	}
	oldKey := rootKey(ref.currentRoot)
	newKey := rootKey(newRoot)
	if oldKey == newKey {
		return
	}
	ref.currentRoot = append([]byte(nil), newRoot...)
	delete(c.rootIndex, oldKey)
	c.rootIndex[newKey] = censusID
}

func censusPrefix(censusID uuid.UUID) []byte {
	return append([]byte(censusDBprefix), censusID[:]...)
}
