// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mainchain

import (
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dagchain/graph"
	"github.com/luxfi/dagchain/unit"
	"github.com/luxfi/dagchain/witness"
)

var (
	w1 = ids.ShortID{0x10}
	w2 = ids.ShortID{0x11}
	w3 = ids.ShortID{0x12}
)

func testList(t *testing.T) *witness.List {
	t.Helper()
	list, err := witness.NewList([]ids.ShortID{w1, w2, w3})
	require.NoError(t, err)
	return list
}

func buildUnit(t *testing.T, parents []ids.ID, author ids.ShortID, tag string) *unit.Unit {
	t.Helper()
	u, err := unit.New(parents, []ids.ShortID{author}, nil, nil, []byte(tag))
	require.NoError(t, err)
	return u
}

// newTestGraph bootstraps a store whose genesis is authored by w1.
func newTestGraph(t *testing.T) (*graph.Store, *unit.Unit) {
	t.Helper()
	genesis := buildUnit(t, nil, w1, "genesis")
	store, err := graph.New(memdb.New(), genesis, 16, log.NoLog{})
	require.NoError(t, err)
	return store, genesis
}

// compute derives the unit's props through the calculator and stores it.
func compute(t *testing.T, store *graph.Store, calc *Calculator, u *unit.Unit) unit.Props {
	t.Helper()
	props, err := calc.ComputeProps(u)
	require.NoError(t, err)
	require.NoError(t, store.AddUnit(u, props))
	return props
}

func TestChooseBestParent(t *testing.T) {
	require := require.New(t)

	_, err := ChooseBestParent(nil)
	require.ErrorIs(err, ErrNoCandidates)

	low := ids.ID{0x01}
	high := ids.ID{0x02}

	// Highest witnessed level wins.
	got, err := ChooseBestParent(map[ids.ID]unit.Props{
		low:  {Level: 1, WitnessedLevel: 3},
		high: {Level: 5, WitnessedLevel: 2},
	})
	require.NoError(err)
	require.Equal(low, got)

	// Equal witnessed level: lowest level wins.
	got, err = ChooseBestParent(map[ids.ID]unit.Props{
		low:  {Level: 4, WitnessedLevel: 2},
		high: {Level: 3, WitnessedLevel: 2},
	})
	require.NoError(err)
	require.Equal(high, got)

	// Full tie: smallest ID wins.
	got, err = ChooseBestParent(map[ids.ID]unit.Props{
		low:  {Level: 3, WitnessedLevel: 2},
		high: {Level: 3, WitnessedLevel: 2},
	})
	require.NoError(err)
	require.Equal(low, got)
}

func TestComputeProps(t *testing.T) {
	require := require.New(t)
	store, genesis := newTestGraph(t)
	calc := NewCalculator(store, testList(t), 0, log.NoLog{})

	// w2 at level 1: only {w2:1, w1:0} vouch, rank 2 of 3 selects level 0.
	u1 := buildUnit(t, []ids.ID{genesis.ID()}, w2, "u1")
	props := compute(t, store, calc, u1)
	require.Equal(uint64(1), props.Level)
	require.Equal(genesis.ID(), props.BestParent)
	require.Zero(props.WitnessedLevel)
	require.Equal(unit.Good, props.Sequence)

	// w3 at level 2: {w3:2, w2:1, w1:0}, rank 2 selects level 1.
	u2 := buildUnit(t, []ids.ID{u1.ID()}, w3, "u2")
	props = compute(t, store, calc, u2)
	require.Equal(uint64(2), props.Level)
	require.Equal(u1.ID(), props.BestParent)
	require.Equal(uint64(1), props.WitnessedLevel)

	// A non-witness author adds nothing to the witnessed level.
	outsider := buildUnit(t, []ids.ID{u2.ID()}, ids.ShortID{0x99}, "outsider")
	props = compute(t, store, calc, outsider)
	require.Equal(uint64(3), props.Level)
	require.Equal(uint64(1), props.WitnessedLevel)
}

func TestComputePropsMissingParent(t *testing.T) {
	store, _ := newTestGraph(t)
	calc := NewCalculator(store, testList(t), 0, log.NoLog{})

	orphan := buildUnit(t, []ids.ID{{0xde, 0xad}}, w2, "orphan")
	_, err := calc.ComputeProps(orphan)
	require.ErrorIs(t, err, graph.ErrMissingParent)
}

func TestComputePropsTraversalLimit(t *testing.T) {
	require := require.New(t)
	store, genesis := newTestGraph(t)
	unbounded := NewCalculator(store, testList(t), 0, log.NoLog{})

	u1 := buildUnit(t, []ids.ID{genesis.ID()}, ids.ShortID{0x99}, "u1")
	compute(t, store, unbounded, u1)

	bounded := NewCalculator(store, testList(t), 1, log.NoLog{})
	u2 := buildUnit(t, []ids.ID{u1.ID()}, ids.ShortID{0x98}, "u2")
	_, err := bounded.ComputeProps(u2)
	require.ErrorIs(err, graph.ErrTraversalLimit)
}
