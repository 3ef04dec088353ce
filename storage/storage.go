// Package storage persists round artifacts in a prefixed key-value store.
// The following prefixes are used:
//   - 'r/' for round snapshots
//   - 'n/' for consumed nullifiers
//
// Snapshots are encoded with deterministic cbor so equal rounds always
// produce equal bytes.
package storage

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/vocdoni/acvote/types"
)

var (
	roundPrefix     = []byte("r/")
	nullifierPrefix = []byte("n/")

	// ErrNotFound is returned when the requested artifact does not exist.
	ErrNotFound = fmt.Errorf("artifact not found")
)

// encOptions is the deterministic cbor mode shared by all snapshots.
var encMode, _ = cbor.CoreDetEncOptions().EncMode()

// RoundSnapshot is the persisted view of one round: the commitments, chain
// boundaries and results the ledger exposes, plus the coordinator checkpoint
// (tally progress, running results and salts) needed to resume folding after
// a restart.
type RoundSnapshot struct {
	ProcessID             types.HexBytes    `cbor:"0,keyasint"`
	Config                types.RoundConfig `cbor:"1,keyasint"`
	Period                types.Period      `cbor:"2,keyasint"`
	EncryptionKey         types.HexBytes    `cbor:"3,keyasint"`
	StateCommitment       *types.BigInt     `cbor:"4,keyasint,omitempty"`
	DeactivateCommitment  *types.BigInt     `cbor:"5,keyasint,omitempty"`
	ActiveStateCommitment *types.BigInt     `cbor:"6,keyasint,omitempty"`
	TallyCommitment       *types.BigInt     `cbor:"7,keyasint,omitempty"`
	VoteChainLen          int               `cbor:"8,keyasint"`
	VoteChainHash         *types.BigInt     `cbor:"9,keyasint,omitempty"`
	DeactivateChainLen    int               `cbor:"10,keyasint"`
	DeactivateChainHash   *types.BigInt     `cbor:"11,keyasint,omitempty"`
	Results               []*types.BigInt   `cbor:"12,keyasint,omitempty"`
	TalliedLeaves         uint64            `cbor:"13,keyasint"`
	RunningResults        []*types.BigInt   `cbor:"14,keyasint,omitempty"`
	StateSalt             *types.BigInt     `cbor:"15,keyasint,omitempty"`
	TallySalt             *types.BigInt     `cbor:"16,keyasint,omitempty"`
}

// Storage wraps the key-value database with typed accessors.
type Storage struct {
	db db.Database
}

// New creates a Storage on top of database.
func New(database db.Database) *Storage {
	return &Storage{db: database}
}

// Close closes the underlying database.
func (s *Storage) Close() {
	s.db.Close()
}

// SetRound stores a round snapshot keyed by its process ID.
func (s *Storage) SetRound(snapshot *RoundSnapshot) error {
	data, err := encMode.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("cannot encode round snapshot: %w", err)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), roundPrefix)
	defer wTx.Discard()
	if err := wTx.Set(snapshot.ProcessID, data); err != nil {
		return err
	}
	return wTx.Commit()
}

// Round retrieves the snapshot of the round with the given process ID.
func (s *Storage) Round(processID types.HexBytes) (*RoundSnapshot, error) {
	rTx := prefixeddb.NewPrefixedReader(s.db, roundPrefix)
	data, err := rTx.Get(processID)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	snapshot := &RoundSnapshot{}
	if err := cbor.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("cannot decode round snapshot: %w", err)
	}
	return snapshot, nil
}

// ListRounds returns the process IDs of all stored rounds.
func (s *Storage) ListRounds() ([]types.HexBytes, error) {
	var ids []types.HexBytes
	rTx := prefixeddb.NewPrefixedReader(s.db, roundPrefix)
	err := rTx.Iterate(nil, func(k, _ []byte) bool {
		ids = append(ids, append(types.HexBytes{}, k...))
		return true
	})
	return ids, err
}

// AddNullifier records a consumed reactivation nullifier for a process.
func (s *Storage) AddNullifier(processID types.HexBytes, nullifier *types.BigInt) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), nullifierPrefix)
	defer wTx.Discard()
	key := append(append([]byte{}, processID...), nullifier.Bytes()...)
	if err := wTx.Set(key, []byte{1}); err != nil {
		return err
	}
	return wTx.Commit()
}

// HasNullifier reports whether a nullifier was already consumed for a
// process.
func (s *Storage) HasNullifier(processID types.HexBytes, nullifier *types.BigInt) (bool, error) {
	rTx := prefixeddb.NewPrefixedReader(s.db, nullifierPrefix)
	key := append(append([]byte{}, processID...), nullifier.Bytes()...)
	if _, err := rTx.Get(key); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
