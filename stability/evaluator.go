// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stability decides when a main-chain unit is irreversibly final: no
// alternative branch, however it grows, can displace it. The exact comparison
// is protocol-versioned by MCI; both formulas stay computable and the one
// matching the MCI under evaluation is applied, never the node's latest.
package stability

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/dagchain/graph"
	"github.com/luxfi/dagchain/witness"
)

// ErrOutOfOrder means stability was asked for an MCI that is not the lowest
// unstable one. MCIs stabilize strictly in order; skipping is a bug.
var ErrOutOfOrder = errors.New("stability must be evaluated at the lowest unstable MCI")

// Params are the protocol constants of the stability rules.
type Params struct {
	// WitnessQuorum is the number of distinct witnesses that must author
	// main-chain units at or above a candidate before it may stabilize.
	// Zero means the majority rank of the active witness list.
	WitnessQuorum int

	// UpgradeMCI is the protocol upgrade boundary: MCIs below it are judged
	// with the legacy alt-branch bound (plain level), MCIs at or above it
	// with the current one (witnessed level plus uncommitted-witness count).
	UpgradeMCI uint64

	// TraversalLimit caps every graph walk the evaluator performs.
	TraversalLimit int
}

// Evaluator answers "is the unit at this MCI final" without simulating the
// future. It never returns a false positive: ties and missing information
// stay unstable.
type Evaluator struct {
	store    *graph.Store
	schedule *witness.Schedule
	params   Params
	log      log.Logger
}

func NewEvaluator(store *graph.Store, schedule *witness.Schedule, params Params, logger log.Logger) *Evaluator {
	if params.TraversalLimit <= 0 {
		params.TraversalLimit = graph.DefaultTraversalLimit
	}
	return &Evaluator{
		store:    store,
		schedule: schedule,
		params:   params,
		log:      logger,
	}
}

type mcEntry struct {
	unitID         ids.ID
	witnessAuthors []ids.ShortID
	witnessedLevel uint64
}

// Evaluate reports whether the main-chain unit at [mci] can be called stable.
// [mci] must be the lowest not-yet-stable MCI.
func (e *Evaluator) Evaluate(mci uint64) (bool, error) {
	lastStable, err := e.store.LastStableMCI()
	if err != nil {
		return false, err
	}
	if mci <= lastStable {
		return true, nil
	}
	if mci != lastStable+1 {
		return false, fmt.Errorf("%w: asked for %d, next is %d", ErrOutOfOrder, mci, lastStable+1)
	}

	candidateID, err := e.store.MainChainUnitAt(mci)
	if err == database.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	list := e.schedule.ListAt(mci)
	quorum := e.params.WitnessQuorum
	if quorum <= 0 {
		quorum = list.MajorityRank()
	}

	tail, err := e.mainChainTail(mci, list)
	if err != nil {
		return false, err
	}

	support := set.NewSet[ids.ShortID](list.Size())
	for _, entry := range tail {
		support.Add(entry.witnessAuthors...)
	}
	if support.Len() < quorum {
		return false, nil
	}

	predID, err := e.store.MainChainUnitAt(mci - 1)
	if err != nil {
		return false, err
	}
	altRoots, err := e.altBranchRoots(predID, candidateID)
	if err != nil {
		return false, err
	}
	maxAltLevel, maxAltWL, err := e.altBranchBounds(altRoots)
	if err != nil {
		return false, err
	}

	// A fresh best child of the unit below the candidate can always still be
	// produced, whether or not one is in the store yet. Folding that potential
	// root into the bounds makes the verdict a function of the unit set alone:
	// a node that saw such a rival and a node that did not judge identically.
	predProps, err := e.store.Props(predID)
	if err != nil {
		return false, err
	}
	if freshLevel := predProps.Level + 1; freshLevel > maxAltLevel {
		maxAltLevel = freshLevel
	}
	if predProps.WitnessedLevel > maxAltWL {
		maxAltWL = predProps.WitnessedLevel
	}

	// When no rival has outgrown what a fresh root could offer anyway, the
	// witness support gathered above settles the position.
	if maxAltLevel <= predProps.Level+1 && maxAltWL <= predProps.WitnessedLevel {
		return true, nil
	}

	minMCWL, ok := minMainChainWitnessedLevel(tail[1:], list)
	if !ok {
		return false, nil
	}

	if mci < e.params.UpgradeMCI {
		// Legacy rule: the chain's committed witnessed level must be beyond
		// any level an alternative branch has reached.
		return minMCWL > maxAltLevel, nil
	}
	// Current rule: the alternative branch's witnessed level is the bound,
	// and the witnesses not yet committed to this chain must be too few to
	// ever lift it past ours.
	uncommitted := list.Size() - support.Len()
	return minMCWL > maxAltWL && uncommitted < quorum, nil
}

// mainChainTail collects the main-chain units from [mci] up to the tip.
func (e *Evaluator) mainChainTail(mci uint64, list *witness.List) ([]mcEntry, error) {
	var tail []mcEntry
	for i := mci; ; i++ {
		unitID, err := e.store.MainChainUnitAt(i)
		if err == database.ErrNotFound {
			return tail, nil
		}
		if err != nil {
			return nil, err
		}
		u, err := e.store.GetUnit(unitID)
		if err != nil {
			return nil, err
		}
		props, err := e.store.Props(unitID)
		if err != nil {
			return nil, err
		}
		var witnessAuthors []ids.ShortID
		for _, author := range u.Authors {
			if list.Contains(author) {
				witnessAuthors = append(witnessAuthors, author)
			}
		}
		tail = append(tail, mcEntry{
			unitID:         unitID,
			witnessAuthors: witnessAuthors,
			witnessedLevel: props.WitnessedLevel,
		})
	}
}

// minMainChainWitnessedLevel walks the chain above the candidate from the tip
// downward, collecting witness-authored units until a majority of distinct
// witnesses is reached, and returns the minimum witnessed level among them.
// Reports false when the chain does not yet carry a witness majority.
func minMainChainWitnessedLevel(above []mcEntry, list *witness.List) (uint64, bool) {
	collected := set.NewSet[ids.ShortID](list.Size())
	minWL := uint64(0)
	have := false
	for i := len(above) - 1; i >= 0; i-- {
		entry := above[i]
		if len(entry.witnessAuthors) == 0 {
			continue
		}
		if !have || entry.witnessedLevel < minWL {
			minWL = entry.witnessedLevel
			have = true
		}
		collected.Add(entry.witnessAuthors...)
		if collected.Len() >= list.MajorityRank() {
			return minWL, true
		}
	}
	return 0, false
}

// altBranchRoots finds the units that could still seed an alternative main
// chain at the candidate's position: the other best children of the chain's
// unit right below it.
func (e *Evaluator) altBranchRoots(parentID, candidateID ids.ID) ([]ids.ID, error) {
	children, err := e.store.Children(parentID)
	if err != nil {
		return nil, err
	}
	var roots []ids.ID
	for _, childID := range children {
		if childID == candidateID {
			continue
		}
		props, err := e.store.Props(childID)
		if err != nil {
			return nil, err
		}
		if props.BestParent == parentID {
			roots = append(roots, childID)
		}
	}
	return roots, nil
}

// altBranchBounds walks every alternative branch (best-child links only, the
// only links a competing main chain can use) and returns the highest level
// and witnessed level observed on any of them.
func (e *Evaluator) altBranchBounds(roots []ids.ID) (uint64, uint64, error) {
	var (
		maxLevel uint64
		maxWL    uint64
	)
	seen := set.NewSet[ids.ID](len(roots))
	worklist := append([]ids.ID(nil), roots...)
	seen.Add(roots...)
	visited := 0
	for len(worklist) > 0 {
		unitID := worklist[0]
		worklist = worklist[1:]

		visited++
		if visited > e.params.TraversalLimit {
			return 0, 0, fmt.Errorf("%w: alternative branch walk past %d units", graph.ErrTraversalLimit, e.params.TraversalLimit)
		}

		props, err := e.store.Props(unitID)
		if err != nil {
			return 0, 0, err
		}
		if props.Level > maxLevel {
			maxLevel = props.Level
		}
		if props.WitnessedLevel > maxWL {
			maxWL = props.WitnessedLevel
		}

		children, err := e.store.Children(unitID)
		if err != nil {
			return 0, 0, err
		}
		for _, childID := range children {
			if seen.Contains(childID) {
				continue
			}
			childProps, err := e.store.Props(childID)
			if err != nil {
				return 0, 0, err
			}
			if childProps.BestParent != unitID {
				continue
			}
			seen.Add(childID)
			worklist = append(worklist, childID)
		}
	}
	return maxLevel, maxWL, nil
}
