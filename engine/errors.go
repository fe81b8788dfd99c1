// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import "errors"

var (
	// ErrInvariantViolated marks a consensus invariant failing under the
	// protocol's own rules: a bug or a mismatched protocol-version formula.
	// The write halts and rolls back; the engine stays on its last valid
	// committed state.
	ErrInvariantViolated = errors.New("consensus invariant violated")

	ErrClosed = errors.New("engine is closed")
)
