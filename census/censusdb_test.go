package census

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/acvote/types"
)

func voterKey(b byte) []byte {
	key := make([]byte, types.CensusKeyMaxLen)
	key[0] = b
	return key
}

func TestCensusLifecycle(t *testing.T) {
	c := qt.New(t)
	db := metadb.NewTest(t)
	censusDB := NewCensusDB(db)

	censusID := uuid.New()
	c.Assert(censusDB.Exists(censusID), qt.IsFalse)

	ref, err := censusDB.New(censusID)
	c.Assert(err, qt.IsNil)
	c.Assert(ref, qt.IsNotNil)
	c.Assert(censusDB.Exists(censusID), qt.IsTrue)

	_, err = censusDB.New(censusID)
	c.Assert(err, qt.ErrorIs, ErrCensusAlreadyExists)

	loaded, err := censusDB.Load(censusID)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.ID, qt.Equals, censusID)

	_, err = censusDB.Load(uuid.New())
	c.Assert(err, qt.ErrorIs, ErrCensusNotFound)
}

func TestCensusProofs(t *testing.T) {
	c := qt.New(t)
	db := metadb.NewTest(t)
	censusDB := NewCensusDB(db)

	censusID := uuid.New()
	ref, err := censusDB.New(censusID)
	c.Assert(err, qt.IsNil)

	weights := map[byte]int64{1: 10, 2: 25, 3: 50}
	for b, w := range weights {
		c.Assert(ref.Insert(voterKey(b), big.NewInt(w)), qt.IsNil)
	}
	c.Assert(ref.Size(), qt.Equals, 3)

	root := ref.Root()
	c.Assert(root, qt.Not(qt.HasLen), 0)

	for b, w := range weights {
		proof, err := censusDB.ProofByRoot(root, voterKey(b))
		c.Assert(err, qt.IsNil)
		c.Assert(proof.Weight.MathBigInt().Cmp(big.NewInt(w)), qt.Equals, 0)
		valid, err := VerifyProof(proof)
		c.Assert(err, qt.IsNil)
		c.Assert(valid, qt.IsTrue)

		// A proof does not transfer to another root.
		proof.Root = append(types.HexBytes{}, proof.Root...)
		proof.Root[0] ^= 0xff
		valid, _ = VerifyProof(proof)
		c.Assert(valid, qt.IsFalse)
	}

	_, err = censusDB.ProofByRoot(root, voterKey(9))
	c.Assert(err, qt.IsNotNil)
}

func TestCensusRootReindex(t *testing.T) {
	c := qt.New(t)
	db := metadb.NewTest(t)
	censusDB := NewCensusDB(db)

	ref, err := censusDB.New(uuid.New())
	c.Assert(err, qt.IsNil)
	c.Assert(ref.Insert(voterKey(1), big.NewInt(5)), qt.IsNil)
	firstRoot := append([]byte{}, ref.Root()...)

	c.Assert(ref.Insert(voterKey(2), big.NewInt(5)), qt.IsNil)
	secondRoot := ref.Root()
	c.Assert(string(firstRoot) == string(secondRoot), qt.IsFalse)

	// Only the latest root resolves to the census.
	_, err = censusDB.ProofByRoot(secondRoot, voterKey(1))
	c.Assert(err, qt.IsNil)
	_, err = censusDB.ProofByRoot(firstRoot, voterKey(1))
	c.Assert(err, qt.IsNotNil)
}
