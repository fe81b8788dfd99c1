// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package unit

import "fmt"

// Sequence is a unit's conflict-resolution outcome. Good units may degrade to
// TempBad while a doublespend is contested, and to FinalBad once the competing
// branch wins. FinalBad is terminal.
type Sequence uint8

const (
	Good Sequence = iota
	TempBad
	FinalBad
)

func (s Sequence) String() string {
	switch s {
	case Good:
		return "good"
	case TempBad:
		return "temp-bad"
	case FinalBad:
		return "final-bad"
	default:
		return fmt.Sprintf("unknown sequence %d", uint8(s))
	}
}

// Valid reports whether [s] is a known sequence value.
func (s Sequence) Valid() bool {
	return s <= FinalBad
}
