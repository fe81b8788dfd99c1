// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package unit

import "github.com/luxfi/ids"

// Props is the consensus state tracked per unit. Level, WitnessedLevel and
// BestParent are assigned once at insertion and never change. MCI and
// OnMainChain float while the unit is unstable, Stable flips false->true
// exactly once, and Sequence only ever degrades.
type Props struct {
	Level          uint64 `serialize:"true" json:"level"`
	WitnessedLevel uint64 `serialize:"true" json:"witnessedLevel"`
	BestParent     ids.ID `serialize:"true" json:"bestParent"`

	HasMCI      bool   `serialize:"true" json:"hasMCI"`
	MCI         uint64 `serialize:"true" json:"mci"`
	OnMainChain bool   `serialize:"true" json:"onMainChain"`

	Stable   bool     `serialize:"true" json:"stable"`
	Sequence Sequence `serialize:"true" json:"sequence"`
}

// MainChainIndex returns the unit's MCI, or false if none is assigned yet.
func (p *Props) MainChainIndex() (uint64, bool) {
	return p.MCI, p.HasMCI
}
