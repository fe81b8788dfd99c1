// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mainchain

import (
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/dagchain/graph"
	"github.com/luxfi/dagchain/unit"
)

// Walker re-derives the main-chain tail above the last stable MCI. Best-parent
// links are immutable, so the chain only moves because the best tip moves; the
// walk never touches units at or below the stability point.
type Walker struct {
	store *graph.Store
	limit int
	log   log.Logger
}

func NewWalker(store *graph.Store, limit int, logger log.Logger) *Walker {
	if limit <= 0 {
		limit = graph.DefaultTraversalLimit
	}
	return &Walker{
		store: store,
		limit: limit,
		log:   logger,
	}
}

// Rebuild recomputes main-chain membership and MCIs for every unstable unit.
// Units on the new chain get ascending MCIs from the stability point; units
// newly included by a main-chain unit get that unit's MCI; units that fell
// off the chain lose their assignment until a later walk picks them back up.
func (w *Walker) Rebuild() error {
	lastStable, err := w.store.LastStableMCI()
	if err != nil {
		return err
	}

	anchorID, err := w.store.MainChainUnitAt(lastStable)
	if err != nil {
		return err
	}
	path, err := w.bestAttachedPath(anchorID)
	if err != nil {
		return err
	}
	if err := w.clearUnstableTail(lastStable); err != nil {
		return err
	}

	mci := lastStable
	for i := len(path) - 1; i >= 0; i-- {
		mci++
		if err := w.assign(path[i], mci); err != nil {
			return err
		}
	}
	return nil
}

// bestAttachedPath picks the best free unit whose best-parent chain reaches
// the stability anchor and returns its unstable descent, tip first. Tips on
// branches frozen out below the anchor can never carry the chain again, so
// they are skipped, not rejected; when no tip attaches the tail is empty.
func (w *Walker) bestAttachedPath(anchorID ids.ID) ([]ids.ID, error) {
	tips, err := w.store.Tips()
	if err != nil {
		return nil, err
	}
	var (
		bestID    ids.ID
		bestProps unit.Props
		bestPath  []ids.ID
		found     bool
	)
	for _, tipID := range tips {
		props, err := w.store.Props(tipID)
		if err != nil {
			return nil, err
		}
		if found && !betterTip(tipID, props, bestID, bestProps) {
			continue
		}
		path, attached, err := w.descend(tipID, anchorID)
		if err != nil {
			return nil, err
		}
		if !attached {
			w.log.Debug("tip detached from stability anchor",
				"tip", tipID,
				"anchor", anchorID,
			)
			continue
		}
		bestID = tipID
		bestProps = props
		bestPath = path
		found = true
	}
	return bestPath, nil
}

// descend follows best-parent links from the tip down to the first stable
// unit and returns the unstable path, tip first. attached reports whether
// that unit is the stability anchor; a descent ending on any other stable
// unit belongs to a branch frozen out below the stability point.
func (w *Walker) descend(tipID ids.ID, anchorID ids.ID) ([]ids.ID, bool, error) {
	var path []ids.ID
	current := tipID
	for {
		if len(path) > w.limit {
			return nil, false, fmt.Errorf("%w: main-chain descent past %d units", graph.ErrTraversalLimit, w.limit)
		}
		if current == anchorID {
			return path, true, nil
		}
		props, err := w.store.Props(current)
		if err != nil {
			return nil, false, err
		}
		if props.Stable {
			return nil, false, nil
		}
		path = append(path, current)
		current = props.BestParent
	}
}

// clearUnstableTail drops every unstable MCI assignment so the new walk can
// reassign from scratch. Assignments at or below the stability point are
// frozen and never visited.
func (w *Walker) clearUnstableTail(lastStable uint64) error {
	for mci := lastStable + 1; ; mci++ {
		unitIDs, err := w.store.UnitsAtMCI(mci)
		if err != nil {
			return err
		}
		if len(unitIDs) == 0 {
			return nil
		}
		for _, unitID := range unitIDs {
			if err := w.store.ClearMainChain(unitID); err != nil {
				return err
			}
		}
	}
}

// assign puts [mcID] on the main chain at [mci] and gives the same MCI to
// every ancestor first included here: everything reachable through parents
// that no lower main-chain unit already covers.
func (w *Walker) assign(mcID ids.ID, mci uint64) error {
	if err := w.store.SetMainChain(mcID, mci, true); err != nil {
		return err
	}
	return w.store.Ancestry(mcID, w.limit, func(unitID ids.ID) (bool, error) {
		if unitID == mcID {
			return true, nil
		}
		props, err := w.store.Props(unitID)
		if err != nil {
			return false, err
		}
		if props.Stable || props.HasMCI {
			return false, nil
		}
		if err := w.store.SetMainChain(unitID, mci, false); err != nil {
			return false, err
		}
		return true, nil
	})
}

// MainChainTip returns the highest assigned MCI, or the stability point when
// the chain has no unstable tail.
func (w *Walker) MainChainTip() (uint64, error) {
	lastStable, err := w.store.LastStableMCI()
	if err != nil {
		return 0, err
	}
	tip := lastStable
	for {
		if _, err := w.store.MainChainUnitAt(tip + 1); err == database.ErrNotFound {
			return tip, nil
		} else if err != nil {
			return 0, err
		}
		tip++
	}
}
