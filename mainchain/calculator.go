// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mainchain derives the canonical backbone of the DAG: it assigns
// each unit its deterministic best parent, level and witnessed level, and
// re-walks the main-chain tail as the tip moves.
package mainchain

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/dagchain/graph"
	"github.com/luxfi/dagchain/unit"
	"github.com/luxfi/dagchain/witness"
)

var ErrNoCandidates = errors.New("no best-parent candidates")

// ChooseBestParent picks the single best unit among [candidates]: highest
// witnessed level, then lowest level, then smallest unit ID. The order is
// total and depends only on ancestor data, so every node picks the same unit.
func ChooseBestParent(candidates map[ids.ID]unit.Props) (ids.ID, error) {
	if len(candidates) == 0 {
		return ids.Empty, ErrNoCandidates
	}
	var (
		bestID    ids.ID
		bestProps unit.Props
		chosen    bool
	)
	for candidateID, props := range candidates {
		if !chosen || betterParent(candidateID, props, bestID, bestProps) {
			bestID = candidateID
			bestProps = props
			chosen = true
		}
	}
	return bestID, nil
}

func betterParent(aID ids.ID, a unit.Props, bID ids.ID, b unit.Props) bool {
	if a.WitnessedLevel != b.WitnessedLevel {
		return a.WitnessedLevel > b.WitnessedLevel
	}
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	return bytes.Compare(aID[:], bID[:]) < 0
}

// betterTip orders free units competing to end the main chain: highest
// witnessed level, then highest level, then smallest unit ID. Unlike the
// best-parent order, ties on witnessed level go to the more advanced chain,
// so a fresh unit cannot take the backbone from a grown one it never saw.
func betterTip(aID ids.ID, a unit.Props, bID ids.ID, b unit.Props) bool {
	if a.WitnessedLevel != b.WitnessedLevel {
		return a.WitnessedLevel > b.WitnessedLevel
	}
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	return bytes.Compare(aID[:], bID[:]) < 0
}

// Calculator computes the graph metrics assigned once at insertion.
type Calculator struct {
	store *graph.Store
	list  *witness.List
	limit int
	log   log.Logger
}

func NewCalculator(store *graph.Store, list *witness.List, limit int, logger log.Logger) *Calculator {
	if limit <= 0 {
		limit = graph.DefaultTraversalLimit
	}
	return &Calculator{
		store: store,
		list:  list,
		limit: limit,
		log:   logger,
	}
}

// ComputeProps derives the insertion-time consensus state of [u]: level,
// best parent and witnessed level. The unit's parents must already be stored;
// a missing parent is a GraphError and nothing is computed.
func (c *Calculator) ComputeProps(u *unit.Unit) (unit.Props, error) {
	parents := make(map[ids.ID]unit.Props, len(u.ParentIDs))
	maxParentLevel := uint64(0)
	for _, parentID := range u.ParentIDs {
		props, err := c.store.Props(parentID)
		if errors.Is(err, graph.ErrUnknownUnit) {
			return unit.Props{}, fmt.Errorf("%w: %s needs %s", graph.ErrMissingParent, u.ID(), parentID)
		}
		if err != nil {
			return unit.Props{}, err
		}
		parents[parentID] = props
		if props.Level > maxParentLevel {
			maxParentLevel = props.Level
		}
	}

	bestParent, err := ChooseBestParent(parents)
	if err != nil {
		return unit.Props{}, fmt.Errorf("%w: %s", err, u.ID())
	}
	witnessedLevel, err := c.witnessedLevel(u, bestParent, maxParentLevel+1)
	if err != nil {
		return unit.Props{}, err
	}
	return unit.Props{
		Level:          maxParentLevel + 1,
		WitnessedLevel: witnessedLevel,
		BestParent:     bestParent,
		Sequence:       unit.Good,
	}, nil
}

// witnessedLevel walks the best-parent chain of [u] recording, per witness,
// the highest level at which that witness authored a unit in the chain. The
// witnessed level is the level at the majority rank of those records: more
// than half the witness list vouches for at least that level.
func (c *Calculator) witnessedLevel(u *unit.Unit, bestParent ids.ID, level uint64) (uint64, error) {
	perWitness := make(map[ids.ShortID]uint64, c.list.Size())

	record := func(authors []ids.ShortID, level uint64) {
		for _, author := range authors {
			if !c.list.Contains(author) {
				continue
			}
			if existing, ok := perWitness[author]; !ok || level > existing {
				perWitness[author] = level
			}
		}
	}

	// The unit's own authors vouch at its own level, ancestors at theirs.
	record(u.Authors, level)
	current := bestParent
	steps := 0
	for {
		steps++
		if steps > c.limit {
			return 0, fmt.Errorf("%w: witnessed-level walk from %s past %d units", graph.ErrTraversalLimit, u.ID(), c.limit)
		}
		ancestor, err := c.store.GetUnit(current)
		if err != nil {
			return 0, err
		}
		props, err := c.store.Props(current)
		if err != nil {
			return 0, err
		}
		record(ancestor.Authors, props.Level)
		if len(perWitness) == c.list.Size() || ancestor.IsGenesis() {
			break
		}
		current = props.BestParent
	}

	rank := c.list.MajorityRank()
	if len(perWitness) < rank {
		return 0, nil
	}
	levels := make([]uint64, 0, len(perWitness))
	for _, level := range perWitness {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool {
		return levels[i] > levels[j]
	})
	return levels[rank-1], nil
}
