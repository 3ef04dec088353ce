package types

import "fmt"

// Period is one phase of a round lifecycle. Transitions are strictly
// forward-only: Voting -> Processing -> Tallying -> Ended.
type Period uint8

const (
	PeriodVoting Period = iota
	PeriodProcessing
	PeriodTallying
	PeriodEnded
)

// String returns the human readable name of the period.
func (p Period) String() string {
	switch p {
	case PeriodVoting:
		return "voting"
	case PeriodProcessing:
		return "processing"
	case PeriodTallying:
		return "tallying"
	case PeriodEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Next returns the period that follows p. Ended is terminal.
func (p Period) Next() Period {
	if p >= PeriodEnded {
		return PeriodEnded
	}
	return p + 1
}
