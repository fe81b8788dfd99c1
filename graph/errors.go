// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package graph

import "errors"

// These are the graph-level rejection reasons. They mean the unit (or the
// walk) is malformed relative to the stored DAG; they never mutate state.
var (
	ErrMissingParent      = errors.New("unit references a parent not in the graph store")
	ErrParentlessUnit     = errors.New("non-genesis unit has no parents")
	ErrUnknownUnit        = errors.New("unit is not in the graph store")
	ErrTraversalLimit     = errors.New("graph traversal exceeded its node ceiling")
	ErrSequenceRegression = errors.New("sequence may not revert from final-bad")
	ErrStableMutation     = errors.New("main-chain state of a stable unit may not change")
)
