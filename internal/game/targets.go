package game

import (
	"fmt"
	"strconv"
	"strings"
)

type TargetKind int

const (
	TargetStraight TargetKind = iota
	TargetRow
	TargetDozen
	TargetOutside
)

// Outside bets, indexed as on the betting table.
const (
	OutsideLow = iota
	OutsideEven
	OutsideBlue
	OutsidePurple
	OutsideOdd
	OutsideHigh
)

// Multipliers include the returned stake.
const (
	StraightMultiplier = 36
	RowMultiplier      = 3
	DozenMultiplier    = 3
	OutsideMultiplier  = 2
)

// Target is a parsed betting-table cell id:
// num-N, row-R-2x1, dozen-D or outside-I.
type Target struct {
	ID    string
	Kind  TargetKind
	Index int
}

func ParseTarget(id string) (Target, error) {
	bad := fmt.Errorf("unknown bet target %q", id)

	kind, rest, ok := strings.Cut(id, "-")
	if !ok {
		return Target{}, bad
	}

	t := Target{ID: id}
	switch kind {
	case "num":
		t.Kind = TargetStraight
	case "row":
		t.Kind = TargetRow
		if rest, ok = strings.CutSuffix(rest, "-2x1"); !ok {
			return Target{}, bad
		}
	case "dozen":
		t.Kind = TargetDozen
	case "outside":
		t.Kind = TargetOutside
	default:
		return Target{}, bad
	}

	n, err := strconv.Atoi(rest)
	if err != nil || strconv.Itoa(n) != rest {
		return Target{}, bad
	}
	t.Index = n

	var max, min int
	switch t.Kind {
	case TargetStraight:
		min, max = 0, MaxNumber
	case TargetRow:
		min, max = 0, 2
	case TargetDozen:
		min, max = 1, 3
	case TargetOutside:
		min, max = OutsideLow, OutsideHigh
	}
	if n < min || n > max {
		return Target{}, bad
	}
	return t, nil
}

// Covers reports whether the target wins when n is drawn.
func (t Target) Covers(n int) bool {
	if t.Kind == TargetStraight {
		return t.Index == n
	}
	if n == 0 {
		return false
	}

	switch t.Kind {
	case TargetRow:
		// row 0 is the top row of the table (3, 6, ... 36).
		return n%3 == (3-t.Index)%3
	case TargetDozen:
		return (n-1)/12 == t.Index-1
	case TargetOutside:
		o, _ := OutcomeFor(n)
		switch t.Index {
		case OutsideLow:
			return o.Range == RangeLow
		case OutsideEven:
			return o.Parity == ParityEven
		case OutsideBlue:
			return o.Color == ColorBlue
		case OutsidePurple:
			return o.Color == ColorPurple
		case OutsideOdd:
			return o.Parity == ParityOdd
		case OutsideHigh:
			return o.Range == RangeHigh
		}
	}
	return false
}

func (t Target) Multiplier() int64 {
	switch t.Kind {
	case TargetStraight:
		return StraightMultiplier
	case TargetRow:
		return RowMultiplier
	case TargetDozen:
		return DozenMultiplier
	default:
		return OutsideMultiplier
	}
}

// WagerPayout is the total credited for placements when n is drawn.
// Placements with unparsable targets pay nothing.
func WagerPayout(placements []Placement, n int) int64 {
	var payout int64
	for _, p := range placements {
		t, err := ParseTarget(p.ID)
		if err != nil {
			continue
		}
		if t.Covers(n) {
			payout += p.Total * t.Multiplier()
		}
	}
	return payout
}
