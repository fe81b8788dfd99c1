// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"

	"github.com/luxfi/dagchain/graph"
	"github.com/luxfi/dagchain/unit"
)

var (
	ErrNotIncluded = errors.New("unit is not included by any of the later units")
	ErrBrokenProof = errors.New("inclusion proof does not link up")
	ErrEmptyProof  = errors.New("inclusion proof has no units")
)

// Proof shows that a unit is included by a later unit without transferring
// the whole graph: a chain of serialized units, each a parent of the one
// before it, from one of the later units down to the target. Any node can
// re-derive and verify it from the units alone.
type Proof struct {
	Path [][]byte `serialize:"true" json:"path"`
}

// ProveInclusion builds an inclusion proof for [unitID] from the first of
// [laterIDs] whose ancestry contains it.
func (e *Engine) ProveInclusion(unitID ids.ID, laterIDs []ids.ID) (*Proof, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	targetProps, err := e.store.Props(unitID)
	if err != nil {
		return nil, err
	}
	for _, laterID := range laterIDs {
		path, err := e.pathToAncestor(laterID, unitID, targetProps.Level)
		if err != nil {
			return nil, err
		}
		if path == nil {
			continue
		}
		proof := &Proof{Path: make([][]byte, len(path))}
		for i, pathID := range path {
			u, err := e.store.GetUnit(pathID)
			if err != nil {
				return nil, err
			}
			proof.Path[i] = u.Bytes()
		}
		return proof, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotIncluded, unitID)
}

// pathToAncestor finds a parent-link path from [fromID] down to [targetID],
// breadth-first in parent order so every node derives the same path. Returns
// nil without error when the target is not in the ancestry.
func (e *Engine) pathToAncestor(fromID, targetID ids.ID, targetLevel uint64) ([]ids.ID, error) {
	limit := e.cfg.TraversalLimit
	if limit <= 0 {
		limit = graph.DefaultTraversalLimit
	}

	predecessor := make(map[ids.ID]ids.ID)
	seen := set.Of(fromID)
	worklist := []ids.ID{fromID}
	visited := 0
	for len(worklist) > 0 {
		unitID := worklist[0]
		worklist = worklist[1:]

		visited++
		if visited > limit {
			return nil, fmt.Errorf("%w: proof search from %s past %d units", graph.ErrTraversalLimit, fromID, limit)
		}

		if unitID == targetID {
			path := []ids.ID{unitID}
			for unitID != fromID {
				unitID = predecessor[unitID]
				path = append(path, unitID)
			}
			// Reverse: the proof runs from the later unit down to the target.
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path, nil
		}

		props, err := e.store.Props(unitID)
		if err != nil {
			return nil, err
		}
		if props.Level <= targetLevel {
			continue
		}
		u, err := e.store.GetUnit(unitID)
		if err != nil {
			return nil, err
		}
		for _, parentID := range u.ParentIDs {
			if seen.Contains(parentID) {
				continue
			}
			seen.Add(parentID)
			predecessor[parentID] = unitID
			worklist = append(worklist, parentID)
		}
	}
	return nil, nil
}

// VerifyProof checks an inclusion proof against only the units it carries:
// the first unit must be one of [laterIDs], each following unit must be a
// parent of the one before it, and the last must hash to [targetID]. No
// store, no trust in the prover.
func VerifyProof(proof *Proof, targetID ids.ID, laterIDs []ids.ID) error {
	if proof == nil || len(proof.Path) == 0 {
		return ErrEmptyProof
	}

	units := make([]*unit.Unit, len(proof.Path))
	for i, b := range proof.Path {
		u, err := unit.Parse(b)
		if err != nil {
			return fmt.Errorf("%w: unit %d: %s", ErrBrokenProof, i, err)
		}
		units[i] = u
	}

	head := units[0].ID()
	validHead := false
	for _, laterID := range laterIDs {
		if laterID == head {
			validHead = true
			break
		}
	}
	if !validHead {
		return fmt.Errorf("%w: head %s is not a later unit", ErrBrokenProof, head)
	}

	for i := 0; i+1 < len(units); i++ {
		childID := units[i+1].ID()
		linked := false
		for _, parentID := range units[i].ParentIDs {
			if parentID == childID {
				linked = true
				break
			}
		}
		if !linked {
			return fmt.Errorf("%w: %s does not reference %s", ErrBrokenProof, units[i].ID(), childID)
		}
	}

	if last := units[len(units)-1].ID(); last != targetID {
		return fmt.Errorf("%w: proof ends at %s, want %s", ErrBrokenProof, last, targetID)
	}
	return nil
}
