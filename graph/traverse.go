// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package graph

import (
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
)

// DefaultTraversalLimit caps how many units a single graph walk may touch.
// Deep walks run on explicit worklists, never on the call stack, and
// exceeding the ceiling is a GraphError, not a stack fault.
const DefaultTraversalLimit = 1 << 20

// Ancestry walks the parent closure of [startID], starting at the unit
// itself, breadth-first. [visit] returns whether the walk should keep
// expanding past the visited unit's parents. The walk fails with
// ErrTraversalLimit once more than [limit] units were visited.
func (s *Store) Ancestry(startID ids.ID, limit int, visit func(unitID ids.ID) (bool, error)) error {
	if limit <= 0 {
		limit = DefaultTraversalLimit
	}

	seen := set.Of(startID)
	worklist := []ids.ID{startID}
	visited := 0
	for len(worklist) > 0 {
		unitID := worklist[0]
		worklist = worklist[1:]

		visited++
		if visited > limit {
			return fmt.Errorf("%w: ancestry of %s past %d units", ErrTraversalLimit, startID, limit)
		}

		expand, err := visit(unitID)
		if err != nil {
			return err
		}
		if !expand {
			continue
		}

		u, err := s.GetUnit(unitID)
		if err != nil {
			return err
		}
		for _, parentID := range u.ParentIDs {
			if seen.Contains(parentID) {
				continue
			}
			seen.Add(parentID)
			worklist = append(worklist, parentID)
		}
	}
	return nil
}

// IsIncluded reports whether [ancestorID] is in the ancestry closure of
// [descendantID], the unit itself included. Levels bound the search: a unit
// at or below the candidate ancestor's level cannot have it in its history.
func (s *Store) IsIncluded(ancestorID, descendantID ids.ID, limit int) (bool, error) {
	if ancestorID == descendantID {
		return true, nil
	}
	ancestorProps, err := s.Props(ancestorID)
	if err != nil {
		return false, err
	}

	found := false
	err = s.Ancestry(descendantID, limit, func(unitID ids.ID) (bool, error) {
		if unitID == ancestorID {
			found = true
			return false, nil
		}
		props, err := s.Props(unitID)
		if err != nil {
			return false, err
		}
		return props.Level > ancestorProps.Level, nil
	})
	return found, err
}
