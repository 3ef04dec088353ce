package storage

import (
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/acvote/types"
)

func testSnapshot(processID types.HexBytes) *RoundSnapshot {
	return &RoundSnapshot{
		ProcessID:             processID,
		Config:                types.DefaultRoundConfig(time.Unix(1893456000, 0).UTC()),
		Period:                types.PeriodProcessing,
		EncryptionKey:         types.HexBytes{0xca, 0xfe},
		StateCommitment:       (*types.BigInt)(big.NewInt(1111)),
		DeactivateCommitment:  (*types.BigInt)(big.NewInt(2222)),
		ActiveStateCommitment: (*types.BigInt)(big.NewInt(3333)),
		TallyCommitment:       (*types.BigInt)(big.NewInt(0)),
		VoteChainLen:          12,
		VoteChainHash:         (*types.BigInt)(big.NewInt(4444)),
		DeactivateChainLen:    2,
		DeactivateChainHash:   (*types.BigInt)(big.NewInt(5555)),
	}
}

func TestRoundSnapshotRoundTrip(t *testing.T) {
	st := New(metadb.NewTest(t))
	processID := types.HexBytes{0x01, 0x02, 0x03}

	_, err := st.Round(processID)
	qt.Assert(t, err, qt.ErrorIs, ErrNotFound)

	snapshot := testSnapshot(processID)
	qt.Assert(t, st.SetRound(snapshot), qt.IsNil)

	got, err := st.Round(processID)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, got.Period, qt.Equals, types.PeriodProcessing)
	qt.Assert(t, got.VoteChainLen, qt.Equals, 12)
	qt.Assert(t, got.StateCommitment.MathBigInt().Cmp(big.NewInt(1111)), qt.Equals, 0)
	qt.Assert(t, got.DeactivateChainHash.MathBigInt().Cmp(big.NewInt(5555)), qt.Equals, 0)
	qt.Assert(t, got.Config.StateTreeDepth, qt.Equals, snapshot.Config.StateTreeDepth)

	// Overwriting keeps one snapshot per round.
	snapshot.Period = types.PeriodEnded
	snapshot.Results = []*types.BigInt{(*types.BigInt)(big.NewInt(77))}
	qt.Assert(t, st.SetRound(snapshot), qt.IsNil)
	got, err = st.Round(processID)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, got.Period, qt.Equals, types.PeriodEnded)
	qt.Assert(t, got.Results, qt.HasLen, 1)

	ids, err := st.ListRounds()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, ids, qt.HasLen, 1)
	qt.Assert(t, ids[0], qt.DeepEquals, processID)
}

func TestNullifierPersistence(t *testing.T) {
	st := New(metadb.NewTest(t))
	processID := types.HexBytes{0xaa}
	otherID := types.HexBytes{0xbb}
	nullifier := (*types.BigInt)(big.NewInt(987654321))

	used, err := st.HasNullifier(processID, nullifier)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, used, qt.IsFalse)

	qt.Assert(t, st.AddNullifier(processID, nullifier), qt.IsNil)
	used, err = st.HasNullifier(processID, nullifier)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, used, qt.IsTrue)

	// Nullifiers are scoped per process.
	used, err = st.HasNullifier(otherID, nullifier)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, used, qt.IsFalse)
}
