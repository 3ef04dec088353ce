package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/vocdoni/acvote/crypto/ecc"
	"github.com/vocdoni/acvote/crypto/hash/poseidon"
	"github.com/vocdoni/acvote/tree"
	"github.com/vocdoni/acvote/types"
)

var (
	statePrefix        = []byte("st_")
	leafPrefix         = []byte("lf_")
	deactivatePrefix   = []byte("dc_")
	votePrefix         = []byte("vw_")
	activePrefix       = []byte("ac_")
	metaKeyCount       = []byte("count")
	metaKeyDeactivates = []byte("deactivates")
)

// State holds the full cryptographic state of one voting round: the quinary
// state tree over leaf hashes, one vote option tree per voter, the
// deactivate tree of flag ciphertext records and the active-state tree of
// plaintext deactivation marks. Leaves are persisted under a process
// prefixed database; mutations between StartBatch and EndBatch land in a
// single write transaction.
type State struct {
	db        db.Database
	dbTx      db.WriteTx
	processID types.ProcessID
	config    types.RoundConfig

	stateTree      *tree.Tree
	activeTree     *tree.Tree
	deactivateTree *tree.Tree
	voteTrees      map[uint64]*tree.Tree
	leaves         map[uint64]*StateLeaf
	deactivates    []*DeactivateRecord

	leafCount       uint64
	deactivateCount uint64
}

// New creates an empty round state on top of database, scoped by processID.
func New(database db.Database, processID types.ProcessID, config types.RoundConfig) (*State, error) {
	pdb := prefixeddb.NewPrefixedDatabase(database, append(statePrefix, processID.Marshal()...))
	stateTree, err := tree.New(tree.Config{Depth: config.StateTreeDepth, Arity: types.TreeArity})
	if err != nil {
		return nil, fmt.Errorf("cannot create state tree: %w", err)
	}
	activeTree, err := tree.New(tree.Config{Depth: config.StateTreeDepth, Arity: types.TreeArity})
	if err != nil {
		return nil, fmt.Errorf("cannot create active state tree: %w", err)
	}
	deactivateTree, err := tree.New(tree.Config{Depth: config.StateTreeDepth, Arity: types.TreeArity})
	if err != nil {
		return nil, fmt.Errorf("cannot create deactivate tree: %w", err)
	}
	return &State{
		db:             pdb,
		processID:      processID,
		config:         config,
		stateTree:      stateTree,
		activeTree:     activeTree,
		deactivateTree: deactivateTree,
		voteTrees:      map[uint64]*tree.Tree{},
		leaves:         map[uint64]*StateLeaf{},
	}, nil
}

// Load rebuilds a round state from its persisted leaves, vote weights,
// active-state marks and deactivate records.
func Load(database db.Database, processID types.ProcessID, config types.RoundConfig) (*State, error) {
	s, err := New(database, processID, config)
	if err != nil {
		return nil, err
	}
	countBytes, err := s.db.Get(metaKeyCount)
	if err != nil {
		return nil, fmt.Errorf("cannot read leaf count: %w", err)
	}
	count := binary.BigEndian.Uint64(countBytes)
	for i := uint64(0); i < count; i++ {
		data, err := s.db.Get(leafKey(i))
		if err != nil {
			return nil, fmt.Errorf("cannot read leaf %d: %w", i, err)
		}
		leaf := &StateLeaf{}
		if err := leaf.Unmarshal(data); err != nil {
			return nil, fmt.Errorf("cannot decode leaf %d: %w", i, err)
		}
		if err := s.mountLeaf(i, leaf); err != nil {
			return nil, err
		}
	}
	s.leafCount = count
	if err := s.loadVoteWeights(); err != nil {
		return nil, err
	}
	if err := s.loadActiveMarks(); err != nil {
		return nil, err
	}
	if err := s.loadDeactivateRecords(); err != nil {
		return nil, err
	}
	return s, nil
}

// mountLeaf installs a leaf in memory and in the state tree with an empty
// vote option tree; stored weights are replayed afterwards.
func (s *State) mountLeaf(index uint64, leaf *StateLeaf) error {
	voTree, err := tree.New(tree.Config{Depth: s.config.VoteOptionTreeDepth, Arity: types.TreeArity})
	if err != nil {
		return fmt.Errorf("cannot create vote option tree: %w", err)
	}
	s.voteTrees[index] = voTree
	s.leaves[index] = leaf
	hash, err := leaf.Hash()
	if err != nil {
		return err
	}
	return s.stateTree.UpdateLeaf(index, hash)
}

// loadVoteWeights replays the persisted vote option leaves into the
// per-voter trees and checks each rebuilt root against the one committed in
// the state leaf.
func (s *State) loadVoteWeights() error {
	var iterErr error
	if err := s.db.Iterate(votePrefix, func(k, v []byte) bool {
		if len(k) != 16 {
			iterErr = fmt.Errorf("malformed vote weight key of length %d", len(k))
			return false
		}
		index := binary.BigEndian.Uint64(k[:8])
		option := binary.BigEndian.Uint64(k[8:])
		voTree, ok := s.voteTrees[index]
		if !ok {
			iterErr = fmt.Errorf("vote weight for unknown voter %d", index)
			return false
		}
		if err := voTree.UpdateLeaf(option, new(big.Int).SetBytes(v)); err != nil {
			iterErr = fmt.Errorf("cannot replay vote option %d of voter %d: %w", option, index, err)
			return false
		}
		return true
	}); err != nil {
		return fmt.Errorf("cannot iterate vote weights: %w", err)
	}
	if iterErr != nil {
		return iterErr
	}
	for index, leaf := range s.leaves {
		if s.voteTrees[index].Root().Cmp(leaf.VoteOptionRoot) != 0 {
			return fmt.Errorf("vote option root mismatch for voter %d", index)
		}
	}
	return nil
}

// loadActiveMarks replays the persisted active-state tree flips.
func (s *State) loadActiveMarks() error {
	var iterErr error
	if err := s.db.Iterate(activePrefix, func(k, _ []byte) bool {
		if len(k) != 8 {
			iterErr = fmt.Errorf("malformed active mark key of length %d", len(k))
			return false
		}
		index := binary.BigEndian.Uint64(k)
		if err := s.activeTree.UpdateLeaf(index, big.NewInt(1)); err != nil {
			iterErr = fmt.Errorf("cannot replay active mark of voter %d: %w", index, err)
			return false
		}
		return true
	}); err != nil {
		return fmt.Errorf("cannot iterate active marks: %w", err)
	}
	return iterErr
}

// loadDeactivateRecords rebuilds the deactivate tree from the stored flag
// ciphertext records.
func (s *State) loadDeactivateRecords() error {
	countBytes, err := s.db.Get(metaKeyDeactivates)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("cannot read deactivate count: %w", err)
	}
	count := binary.BigEndian.Uint64(countBytes)
	for i := uint64(0); i < count; i++ {
		data, err := s.db.Get(deactivateKey(i))
		if err != nil {
			return fmt.Errorf("cannot read deactivate record %d: %w", i, err)
		}
		rec, err := unmarshalDeactivateRecord(data)
		if err != nil {
			return fmt.Errorf("cannot decode deactivate record %d: %w", i, err)
		}
		hash, err := rec.Hash()
		if err != nil {
			return err
		}
		if _, err := s.deactivateTree.AppendLeaf(hash); err != nil {
			return err
		}
		s.deactivates = append(s.deactivates, rec)
	}
	s.deactivateCount = count
	return nil
}

// StartBatch opens the write transaction that collects the mutations of one
// batch fold.
func (s *State) StartBatch() {
	if s.dbTx == nil {
		s.dbTx = s.db.WriteTx()
	}
}

// EndBatch commits the pending batch mutations.
func (s *State) EndBatch() error {
	if s.dbTx == nil {
		return fmt.Errorf("no batch in progress")
	}
	if err := s.dbTx.Set(metaKeyCount, uint64Bytes(s.leafCount)); err != nil {
		return fmt.Errorf("cannot store leaf count: %w", err)
	}
	if err := s.dbTx.Set(metaKeyDeactivates, uint64Bytes(s.deactivateCount)); err != nil {
		return fmt.Errorf("cannot store deactivate count: %w", err)
	}
	if err := s.dbTx.Commit(); err != nil {
		return fmt.Errorf("cannot commit state batch: %w", err)
	}
	s.dbTx = nil
	return nil
}

func leafKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return append(leafPrefix, key...)
}

func voteKey(index, option uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], index)
	binary.BigEndian.PutUint64(key[8:], option)
	return append(votePrefix, key...)
}

func activeKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return append(activePrefix, key...)
}

func deactivateKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return append(deactivatePrefix, key...)
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// persist writes key/value through the open batch transaction, or in a
// standalone transaction together with the current counters.
func (s *State) persist(key, value []byte) error {
	if s.dbTx != nil {
		return s.dbTx.Set(key, value)
	}
	tx := s.db.WriteTx()
	defer tx.Discard()
	if err := tx.Set(key, value); err != nil {
		return err
	}
	if err := tx.Set(metaKeyCount, uint64Bytes(s.leafCount)); err != nil {
		return err
	}
	if err := tx.Set(metaKeyDeactivates, uint64Bytes(s.deactivateCount)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *State) storeLeaf(index uint64, leaf *StateLeaf) error {
	data, err := leaf.Marshal()
	if err != nil {
		return err
	}
	return s.persist(leafKey(index), data)
}

// AddVoter appends a fresh sign-up leaf for publicKey with the given voice
// credit balance. It returns the assigned voter index.
func (s *State) AddVoter(publicKey ecc.Point, balance *big.Int) (uint64, error) {
	if s.leafCount >= s.stateTree.Capacity() {
		return 0, fmt.Errorf("state tree is full: %d voters", s.leafCount)
	}
	index := s.leafCount
	voTree, err := tree.New(tree.Config{Depth: s.config.VoteOptionTreeDepth, Arity: types.TreeArity})
	if err != nil {
		return 0, fmt.Errorf("cannot create vote option tree: %w", err)
	}
	leaf := NewStateLeaf(publicKey, balance, voTree.Root())
	hash, err := leaf.Hash()
	if err != nil {
		return 0, err
	}
	if _, err := s.stateTree.AppendLeaf(hash); err != nil {
		return 0, err
	}
	if _, err := s.activeTree.AppendLeaf(big.NewInt(0)); err != nil {
		return 0, err
	}
	s.voteTrees[index] = voTree
	s.leaves[index] = leaf
	s.leafCount++
	if err := s.storeLeaf(index, leaf); err != nil {
		return 0, err
	}
	return index, nil
}

// Leaf returns the state leaf at index.
func (s *State) Leaf(index uint64) (*StateLeaf, error) {
	leaf, ok := s.leaves[index]
	if !ok {
		return nil, fmt.Errorf("no state leaf at index %d", index)
	}
	return leaf, nil
}

// VoteOptionTree returns the vote option tree of the voter at index.
func (s *State) VoteOptionTree(index uint64) (*tree.Tree, error) {
	voTree, ok := s.voteTrees[index]
	if !ok {
		return nil, fmt.Errorf("no vote option tree for index %d", index)
	}
	return voTree, nil
}

// VoteWeight returns the weight currently recorded for a vote option of the
// voter at index.
func (s *State) VoteWeight(index, option uint64) (*big.Int, error) {
	voTree, err := s.VoteOptionTree(index)
	if err != nil {
		return nil, err
	}
	return voTree.Leaf(option), nil
}

// SetVote overwrites one vote option leaf of the voter at index and updates
// the state leaf with the voter's new key, balance and nonce.
func (s *State) SetVote(index, option uint64, weight *big.Int,
	newKey ecc.Point, newBalance *big.Int, newNonce uint32,
) error {
	leaf, err := s.Leaf(index)
	if err != nil {
		return err
	}
	voTree, err := s.VoteOptionTree(index)
	if err != nil {
		return err
	}
	if err := voTree.UpdateLeaf(option, weight); err != nil {
		return fmt.Errorf("cannot update vote option %d: %w", option, err)
	}
	if err := s.persist(voteKey(index, option), weight.Bytes()); err != nil {
		return fmt.Errorf("cannot store vote option %d: %w", option, err)
	}
	leaf.PublicKey = newKey
	leaf.Balance = new(big.Int).Set(newBalance)
	leaf.VoteOptionRoot = voTree.Root()
	leaf.Nonce = newNonce
	return s.refreshLeaf(index, leaf)
}

// IsActive reports the active-state tree mark of the voter at index. A zero
// leaf means no processed deactivation targets the voter.
func (s *State) IsActive(index uint64) bool {
	return s.activeTree.Leaf(index).Sign() == 0
}

// MarkDeactivated flips the active-state tree leaf of the voter at index.
func (s *State) MarkDeactivated(index uint64) error {
	if err := s.activeTree.UpdateLeaf(index, big.NewInt(1)); err != nil {
		return err
	}
	return s.persist(activeKey(index), []byte{1})
}

// AppendDeactivateRecord inserts a flag ciphertext record into the
// deactivate tree.
func (s *State) AppendDeactivateRecord(rec *DeactivateRecord) (uint64, error) {
	hash, err := rec.Hash()
	if err != nil {
		return 0, err
	}
	index, err := s.deactivateTree.AppendLeaf(hash)
	if err != nil {
		return 0, fmt.Errorf("cannot append deactivate record: %w", err)
	}
	s.deactivates = append(s.deactivates, rec)
	s.deactivateCount++
	data, err := marshalDeactivateRecord(rec)
	if err != nil {
		return 0, err
	}
	if err := s.persist(deactivateKey(index), data); err != nil {
		return 0, err
	}
	return index, nil
}

// DeactivateRecordAt returns the deactivate record at index.
func (s *State) DeactivateRecordAt(index uint64) (*DeactivateRecord, error) {
	if index >= uint64(len(s.deactivates)) {
		return nil, fmt.Errorf("no deactivate record at index %d", index)
	}
	return s.deactivates[index], nil
}

// EmptyVoteOptionRoot returns the root of a vote option tree with no votes,
// the root a reactivation leaf starts from.
func (s *State) EmptyVoteOptionRoot() (*big.Int, error) {
	voTree, err := tree.New(tree.Config{Depth: s.config.VoteOptionTreeDepth, Arity: types.TreeArity})
	if err != nil {
		return nil, fmt.Errorf("cannot create vote option tree: %w", err)
	}
	return voTree.Root(), nil
}

// AddKeyLeaf appends a reactivation leaf carrying a rerandomized activation
// ciphertext and returns its voter index.
func (s *State) AddKeyLeaf(leaf *StateLeaf) (uint64, error) {
	if s.leafCount >= s.stateTree.Capacity() {
		return 0, fmt.Errorf("state tree is full: %d voters", s.leafCount)
	}
	index := s.leafCount
	voTree, err := tree.New(tree.Config{Depth: s.config.VoteOptionTreeDepth, Arity: types.TreeArity})
	if err != nil {
		return 0, fmt.Errorf("cannot create vote option tree: %w", err)
	}
	leaf.VoteOptionRoot = voTree.Root()
	hash, err := leaf.Hash()
	if err != nil {
		return 0, err
	}
	if _, err := s.stateTree.AppendLeaf(hash); err != nil {
		return 0, err
	}
	if _, err := s.activeTree.AppendLeaf(big.NewInt(0)); err != nil {
		return 0, err
	}
	s.voteTrees[index] = voTree
	s.leaves[index] = leaf
	s.leafCount++
	if err := s.storeLeaf(index, leaf); err != nil {
		return 0, err
	}
	return index, nil
}

func (s *State) refreshLeaf(index uint64, leaf *StateLeaf) error {
	hash, err := leaf.Hash()
	if err != nil {
		return err
	}
	if err := s.stateTree.UpdateLeaf(index, hash); err != nil {
		return err
	}
	return s.storeLeaf(index, leaf)
}

// LeafCount returns the number of state leaves.
func (s *State) LeafCount() uint64 { return s.leafCount }

// DeactivateCount returns the number of deactivate records.
func (s *State) DeactivateCount() uint64 { return s.deactivateCount }

// Root returns the state tree root.
func (s *State) Root() *big.Int { return s.stateTree.Root() }

// ActiveRoot returns the active-state tree root.
func (s *State) ActiveRoot() *big.Int { return s.activeTree.Root() }

// DeactivateRoot returns the deactivate tree root.
func (s *State) DeactivateRoot() *big.Int { return s.deactivateTree.Root() }

// StateTree exposes the underlying state tree, mainly to produce inclusion
// paths for circuit inputs.
func (s *State) StateTree() *tree.Tree { return s.stateTree }

// Commitment binds a tree root with a blinding salt.
func Commitment(root, salt *big.Int) (*big.Int, error) {
	return poseidon.Hash(root, salt)
}

func marshalDeactivateRecord(rec *DeactivateRecord) ([]byte, error) {
	s := []*types.BigInt{
		(*types.BigInt)(rec.C1[0]), (*types.BigInt)(rec.C1[1]),
		(*types.BigInt)(rec.C2[0]), (*types.BigInt)(rec.C2[1]),
		(*types.BigInt)(rec.SharedKeyHash),
	}
	return cbor.Marshal(s)
}

func unmarshalDeactivateRecord(data []byte) (*DeactivateRecord, error) {
	var s []*types.BigInt
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("cannot decode deactivate record: %w", err)
	}
	if len(s) != 5 {
		return nil, fmt.Errorf("invalid deactivate record length: %d", len(s))
	}
	return &DeactivateRecord{
		C1:            [2]*big.Int{s[0].MathBigInt(), s[1].MathBigInt()},
		C2:            [2]*big.Int{s[2].MathBigInt(), s[3].MathBigInt()},
		SharedKeyHash: s[4].MathBigInt(),
	}, nil
}
