// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package witness tracks the ordered witness list and its MCI-scheduled
// replacements. Witness authorship is what the stability rules count.
package witness

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/ids"
)

var (
	ErrEmptyList        = errors.New("witness list is empty")
	ErrDuplicateWitness = errors.New("witness list contains a duplicate address")
	ErrStaleActivation  = errors.New("witness list activation is not above the last stable MCI")
	ErrActivationOrder  = errors.New("witness list activations must strictly increase")
)

// List is a fixed, ordered set of witness addresses. It is immutable; a
// changed list is a new List activated through a Schedule.
type List struct {
	addrs []ids.ShortID
	index map[ids.ShortID]int
}

// NewList builds a list from the given addresses, preserving their order.
func NewList(addrs []ids.ShortID) (*List, error) {
	if len(addrs) == 0 {
		return nil, ErrEmptyList
	}
	index := make(map[ids.ShortID]int, len(addrs))
	for i, addr := range addrs {
		if _, ok := index[addr]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateWitness, addr)
		}
		index[addr] = i
	}
	return &List{
		addrs: addrs,
		index: index,
	}, nil
}

// Size returns the number of witnesses on the list.
func (l *List) Size() int {
	return len(l.addrs)
}

// Contains reports whether [addr] is a witness on this list.
func (l *List) Contains(addr ids.ShortID) bool {
	_, ok := l.index[addr]
	return ok
}

// Addresses returns the witnesses in list order.
func (l *List) Addresses() []ids.ShortID {
	addrs := make([]ids.ShortID, len(l.addrs))
	copy(addrs, l.addrs)
	return addrs
}

// MajorityRank is the number of distinct witnesses that constitutes a
// majority of this list: more than half.
func (l *List) MajorityRank() int {
	return len(l.addrs)/2 + 1
}

type step struct {
	activation uint64
	list       *List
}

// Schedule maps MCIs to the witness list in effect at that MCI. A list change
// is carried by a unit and only takes effect once that unit is stable, so a
// new step may only be scheduled for MCIs above the stability point.
type Schedule struct {
	mu    sync.RWMutex
	steps []step
}

// NewSchedule starts a schedule with [initial] in effect from MCI 0.
func NewSchedule(initial *List) *Schedule {
	return &Schedule{
		steps: []step{{activation: 0, list: initial}},
	}
}

// ScheduleChange activates [list] for every MCI at or above [activation].
// [lastStable] is the caller's current stability point; the activation must be
// strictly above it so already-final decisions keep their list.
func (s *Schedule) ScheduleChange(activation uint64, list *List, lastStable uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if activation <= lastStable {
		return fmt.Errorf("%w: activation %d, last stable %d", ErrStaleActivation, activation, lastStable)
	}
	if last := s.steps[len(s.steps)-1]; activation <= last.activation {
		return fmt.Errorf("%w: activation %d, latest %d", ErrActivationOrder, activation, last.activation)
	}
	s.steps = append(s.steps, step{activation: activation, list: list})
	return nil
}

// ListAt returns the witness list in effect for the given MCI. The lookup is
// by the MCI being evaluated, never by the node's latest list.
func (s *Schedule) ListAt(mci uint64) *List {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.steps) - 1; i >= 0; i-- {
		if s.steps[i].activation <= mci {
			return s.steps[i].list
		}
	}
	return s.steps[0].list
}
