// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package conflicts resolves units spending the same upstream resource.
// Graph inclusion order decides, never arrival order: the included spender
// wins, divergent spenders stay provisionally accepted until one branch
// stabilizes, and the loser's invalidation propagates to everything that
// spent its outputs.
package conflicts

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/dagchain/graph"
	"github.com/luxfi/dagchain/unit"
)

var (
	// ErrForeignResource means a unit spends an output that is not in its
	// own ancestry. The validation gate should have refused it.
	ErrForeignResource = errors.New("unit spends a resource outside its ancestry")

	// ErrConflictingStable means two spenders of one resource are both
	// stable and good. The stabilization order makes this impossible; seeing
	// it is a consensus bug and the write must halt.
	ErrConflictingStable = errors.New("conflicting spenders are both stable")
)

// Resolver decides conflict verdicts against the graph store. All its
// mutations are staged on the store's version layer; the caller owns the
// commit boundary.
type Resolver struct {
	store *graph.Store
	limit int
	log   log.Logger
}

func New(store *graph.Store, limit int, logger log.Logger) *Resolver {
	if limit <= 0 {
		limit = graph.DefaultTraversalLimit
	}
	return &Resolver{
		store: store,
		limit: limit,
		log:   logger,
	}
}

// ClassifyNew returns the sequence a not-yet-stored unit starts with, plus
// the resources it leaves contested. The unit's parents must already be
// stored. Degrades existing good rivals to temp-bad as a side effect.
func (r *Resolver) ClassifyNew(u *unit.Unit) (unit.Sequence, []ids.ID, error) {
	seq := unit.Good
	var contested []ids.ID
	for _, resourceID := range u.Inputs {
		producerID, err := r.store.Producer(resourceID)
		if err != nil {
			return 0, nil, err
		}
		included, err := r.includedViaParents(producerID, u)
		if err != nil {
			return 0, nil, err
		}
		if !included {
			return 0, nil, fmt.Errorf("%w: %s spends %s", ErrForeignResource, u.ID(), resourceID)
		}
		producerProps, err := r.store.Props(producerID)
		if err != nil {
			return 0, nil, err
		}
		if producerProps.Sequence == unit.FinalBad {
			// Spending a dead unit's output is dead on arrival.
			seq = unit.FinalBad
			continue
		}

		rivals, err := r.store.Spenders(resourceID)
		if err != nil {
			return 0, nil, err
		}
		for _, rivalID := range rivals {
			rivalProps, err := r.store.Props(rivalID)
			if err != nil {
				return 0, nil, err
			}
			if rivalProps.Sequence == unit.FinalBad {
				continue
			}
			rivalIncluded, err := r.includedViaParents(rivalID, u)
			if err != nil {
				return 0, nil, err
			}
			if rivalIncluded || rivalProps.Stable {
				// The rival already won, by inclusion or by finality.
				seq = unit.FinalBad
				continue
			}
			if seq != unit.FinalBad {
				seq = unit.TempBad
			}
			contested = append(contested, resourceID)
			if rivalProps.Sequence == unit.Good {
				if err := r.store.SetSequence(rivalID, unit.TempBad); err != nil {
					return 0, nil, err
				}
			}
		}
	}
	return seq, contested, nil
}

// includedViaParents reports whether [ancestorID] is in the ancestry of the
// not-yet-stored unit [u], i.e. included by at least one of its parents.
func (r *Resolver) includedViaParents(ancestorID ids.ID, u *unit.Unit) (bool, error) {
	for _, parentID := range u.ParentIDs {
		included, err := r.store.IsIncluded(ancestorID, parentID, r.limit)
		if err != nil {
			return false, err
		}
		if included {
			return true, nil
		}
	}
	return false, nil
}

// ResolveAtStabilization settles every still-contested unit among [unitIDs],
// the units at the MCI being stabilized in their deterministic commit order.
// The first contested spender to stabilize wins; every rival that has not
// stabilized before it turns final-bad, transitively. Runs inside the
// caller's staged transaction so a verdict is never partially applied.
func (r *Resolver) ResolveAtStabilization(mci uint64, unitIDs []ids.ID) error {
	for _, unitID := range unitIDs {
		props, err := r.store.Props(unitID)
		if err != nil {
			return err
		}
		if props.Sequence != unit.TempBad {
			continue
		}
		if err := r.settleWinner(unitID); err != nil {
			return err
		}
		r.log.Info("resolved contested spend",
			"winner", unitID,
			"mci", mci,
		)
	}
	return nil
}

func (r *Resolver) settleWinner(winnerID ids.ID) error {
	if err := r.store.SetSequence(winnerID, unit.Good); err != nil {
		return err
	}
	winner, err := r.store.GetUnit(winnerID)
	if err != nil {
		return err
	}
	for _, resourceID := range winner.Inputs {
		rivals, err := r.store.Spenders(resourceID)
		if err != nil {
			return err
		}
		for _, rivalID := range rivals {
			if rivalID == winnerID {
				continue
			}
			rivalProps, err := r.store.Props(rivalID)
			if err != nil {
				return err
			}
			if rivalProps.Sequence == unit.FinalBad {
				continue
			}
			if rivalProps.Stable {
				return fmt.Errorf("%w: %s and %s both spend %s",
					ErrConflictingStable, winnerID, rivalID, resourceID)
			}
			if err := r.invalidate(rivalID); err != nil {
				return err
			}
		}
	}
	return nil
}

// invalidate flips [seedID] final-bad and walks the spend graph downstream on
// an explicit worklist, flipping every unit that consumed an output of an
// invalidated unit.
func (r *Resolver) invalidate(seedID ids.ID) error {
	seen := set.Of(seedID)
	worklist := []ids.ID{seedID}
	visited := 0
	for len(worklist) > 0 {
		unitID := worklist[0]
		worklist = worklist[1:]

		visited++
		if visited > r.limit {
			return fmt.Errorf("%w: final-bad propagation from %s past %d units", graph.ErrTraversalLimit, seedID, r.limit)
		}

		if err := r.store.SetSequence(unitID, unit.FinalBad); err != nil {
			return err
		}
		u, err := r.store.GetUnit(unitID)
		if err != nil {
			return err
		}
		for _, resourceID := range u.OutputIDs() {
			spenders, err := r.store.Spenders(resourceID)
			if err != nil {
				return err
			}
			for _, spenderID := range spenders {
				if seen.Contains(spenderID) {
					continue
				}
				seen.Add(spenderID)
				props, err := r.store.Props(spenderID)
				if err != nil {
					return err
				}
				if props.Sequence == unit.FinalBad {
					continue
				}
				worklist = append(worklist, spenderID)
			}
		}
	}
	r.log.Info("propagated final-bad", "seed", seedID, "units", visited)
	return nil
}
