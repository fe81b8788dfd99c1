// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/luxfi/dagchain/unit"
)

// advance stabilizes MCIs strictly in increasing order, starting at the
// lowest unstable one, for as long as the evaluator agrees. The caller owns
// the lock and the commit boundary; everything here is staged.
func (e *Engine) advance() (uint64, error) {
	lastStable, err := e.store.LastStableMCI()
	if err != nil {
		return 0, err
	}
	for {
		next := lastStable + 1
		stable, err := e.eval.Evaluate(next)
		if err != nil {
			return 0, err
		}
		if !stable {
			return lastStable, nil
		}
		if err := e.stabilize(next); err != nil {
			return 0, err
		}
		lastStable = next
	}
}

// stabilize commits one MCI: settle its conflicts, flip its units stable and
// move the stability point. Runs entirely inside the staged transaction the
// caller opened; a failure at any step leaves nothing applied.
func (e *Engine) stabilize(mci uint64) error {
	if err := e.step("begin", mci); err != nil {
		return err
	}
	mcUnitID, err := e.store.MainChainUnitAt(mci)
	if err == database.ErrNotFound {
		return fmt.Errorf("%w: evaluator stabilized MCI %d with no main-chain unit", ErrInvariantViolated, mci)
	}
	if err != nil {
		return err
	}
	unitIDs, err := e.store.UnitsAtMCI(mci)
	if err != nil {
		return err
	}
	ordered := orderForCommit(mcUnitID, unitIDs)

	if err := e.step("resolve_conflicts", mci); err != nil {
		return err
	}
	if err := e.resolver.ResolveAtStabilization(mci, ordered); err != nil {
		return err
	}

	if err := e.step("flip_stable", mci); err != nil {
		return err
	}
	for _, unitID := range ordered {
		props, err := e.store.Props(unitID)
		if err != nil {
			return err
		}
		if props.Sequence == unit.TempBad {
			return fmt.Errorf("%w: %s still contested at stabilization of MCI %d",
				ErrInvariantViolated, unitID, mci)
		}
		if props.Sequence == unit.FinalBad {
			e.metrics.conflictsFinalized.Inc()
		}
		if err := e.store.SetStable(unitID); err != nil {
			return err
		}
	}

	if err := e.step("advance_point", mci); err != nil {
		return err
	}
	if err := e.store.SetLastStableMCI(mci); err != nil {
		return err
	}
	e.metrics.stabilityAdvances.Inc()
	e.metrics.lastStableMCI.Set(float64(mci))
	e.log.Info("stabilized main chain index",
		"mci", mci,
		"mcUnit", mcUnitID,
		"units", len(ordered),
	)
	return nil
}

// orderForCommit fixes the deterministic commit order of an MCI's units: the
// main-chain unit first, then every included unit by ascending ID.
func orderForCommit(mcUnitID ids.ID, unitIDs []ids.ID) []ids.ID {
	rest := make([]ids.ID, 0, len(unitIDs))
	for _, unitID := range unitIDs {
		if unitID != mcUnitID {
			rest = append(rest, unitID)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		return bytes.Compare(rest[i][:], rest[j][:]) < 0
	})
	return append([]ids.ID{mcUnitID}, rest...)
}

func (e *Engine) step(name string, mci uint64) error {
	if e.beforeStep == nil {
		return nil
	}
	return e.beforeStep(name, mci)
}
