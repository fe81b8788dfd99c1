// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stability

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

func witnessAddrs(n int) []ids.ShortID {
	addrs := make([]ids.ShortID, n)
	for i := range addrs {
		addrs[i] = ids.ShortID{byte(i + 1)}
	}
	return addrs
}

func buildUnit(t *testing.T, parents []ids.ID, author ids.ShortID, tag string) *unit.Unit {
	t.Helper()
	u, err := unit.New(parents, []ids.ShortID{author}, nil, nil, []byte(tag))
	require.NoError(t, err)
	return u
}

func addWithProps(t *testing.T, store *graph.Store, u *unit.Unit, level, wl uint64, bestParent ids.ID) {
	t.Helper()
	require.NoError(t, store.AddUnit(u, unit.Props{
		Level:          level,
		WitnessedLevel: wl,
		BestParent:     bestParent,
		Sequence:       unit.Good,
	}))
}

func newTestEvaluator(t *testing.T, witnesses []ids.ShortID, params Params) (*Evaluator, *graph.Store, *unit.Unit) {
	t.Helper()
	genesis := buildUnit(t, nil, witnesses[0], "genesis")
	store, err := graph.New(memdb.New(), genesis, 16, log.NoLog{})
	require.NoError(t, err)
	list, err := witness.NewList(witnesses)
	require.NoError(t, err)
	return NewEvaluator(store, witness.NewSchedule(list), params, log.NoLog{}), store, genesis
}

func TestEvaluateOrder(t *testing.T) {
	require := require.New(t)
	eval, _, _ := newTestEvaluator(t, witnessAddrs(3), Params{})

	// The stability point itself is already stable.
	stable, err := eval.Evaluate(0)
	require.NoError(err)
	require.True(stable)

	// Skipping ahead of the lowest unstable MCI is refused.
	_, err = eval.Evaluate(2)
	require.ErrorIs(err, ErrOutOfOrder)

	// No main-chain unit assigned yet: not stable, not an error.
	stable, err = eval.Evaluate(1)
	require.NoError(err)
	require.False(stable)
}

func TestEvaluateWitnessSupport(t *testing.T) {
	require := require.New(t)
	witnesses := witnessAddrs(3)
	eval, store, genesis := newTestEvaluator(t, witnesses, Params{})

	// Chain of witness units with no competing branch: stability is purely a
	// question of how many distinct witnesses sit at or above the candidate.
	u1 := buildUnit(t, []ids.ID{genesis.ID()}, witnesses[1], "u1")
	addWithProps(t, store, u1, 1, 0, genesis.ID())
	require.NoError(store.SetMainChain(u1.ID(), 1, true))

	stable, err := eval.Evaluate(1)
	require.NoError(err)
	require.False(stable)

	u2 := buildUnit(t, []ids.ID{u1.ID()}, witnesses[2], "u2")
	addWithProps(t, store, u2, 2, 1, u1.ID())
	require.NoError(store.SetMainChain(u2.ID(), 2, true))

	stable, err = eval.Evaluate(1)
	require.NoError(err)
	require.True(stable)
}

func TestEvaluateAltBranchFormulas(t *testing.T) {
	require := require.New(t)
	witnesses := witnessAddrs(5)

	// Both protocol variants judge the same graph; only the upgrade boundary
	// differs between the two evaluators.
	legacy, store, genesis := newTestEvaluator(t, witnesses, Params{
		WitnessQuorum: 2,
		UpgradeMCI:    1 << 32,
	})
	current := NewEvaluator(store, witness.NewSchedule(mustList(t, witnesses)), Params{
		WitnessQuorum: 2,
		UpgradeMCI:    0,
	}, log.NoLog{})

	// Candidate a at MCI 1 with a rival branch rooted at b that has already
	// grown past what a fresh child of genesis could offer.
	a := buildUnit(t, []ids.ID{genesis.ID()}, witnesses[1], "a")
	addWithProps(t, store, a, 1, 0, genesis.ID())
	require.NoError(store.SetMainChain(a.ID(), 1, true))

	b := buildUnit(t, []ids.ID{genesis.ID()}, ids.ShortID{0x99}, "b")
	addWithProps(t, store, b, 1, 0, genesis.ID())
	b2 := buildUnit(t, []ids.ID{b.ID()}, ids.ShortID{0x98}, "b2")
	addWithProps(t, store, b2, 2, 0, b.ID())

	// Two witness units above the candidate: not yet a witness majority on
	// the chain, so neither formula can settle anything.
	c := buildUnit(t, []ids.ID{a.ID()}, witnesses[2], "c")
	addWithProps(t, store, c, 2, 2, a.ID())
	require.NoError(store.SetMainChain(c.ID(), 2, true))
	d := buildUnit(t, []ids.ID{c.ID()}, witnesses[3], "d")
	addWithProps(t, store, d, 3, 3, c.ID())
	require.NoError(store.SetMainChain(d.ID(), 3, true))

	stable, err := legacy.Evaluate(1)
	require.NoError(err)
	require.False(stable)

	// Two more chain units complete a witness majority above the candidate
	// without committing new witnesses. The chain's minimum witnessed level
	// (3) beats the rival branch's level (2), so the legacy rule stabilizes;
	// the current rule still refuses because 2 of the 5 witnesses are
	// uncommitted and could lift the rival branch.
	e := buildUnit(t, []ids.ID{d.ID()}, witnesses[1], "e")
	addWithProps(t, store, e, 4, 4, d.ID())
	require.NoError(store.SetMainChain(e.ID(), 4, true))
	f := buildUnit(t, []ids.ID{e.ID()}, witnesses[2], "f")
	addWithProps(t, store, f, 5, 5, e.ID())
	require.NoError(store.SetMainChain(f.ID(), 5, true))

	stable, err = legacy.Evaluate(1)
	require.NoError(err)
	require.True(stable)

	stable, err = current.Evaluate(1)
	require.NoError(err)
	require.False(stable)

	// The rival branch reaches the chain's minimum witnessed level: the
	// legacy bound flips back to unstable too.
	b3 := buildUnit(t, []ids.ID{b2.ID()}, ids.ShortID{0x97}, "b3")
	addWithProps(t, store, b3, 3, 0, b2.ID())

	stable, err = legacy.Evaluate(1)
	require.NoError(err)
	require.False(stable)
}

func TestEvaluateRivalGrowth(t *testing.T) {
	require := require.New(t)
	witnesses := witnessAddrs(3)
	eval, store, genesis := newTestEvaluator(t, witnesses, Params{})

	u1 := buildUnit(t, []ids.ID{genesis.ID()}, witnesses[1], "u1")
	addWithProps(t, store, u1, 1, 0, genesis.ID())
	require.NoError(store.SetMainChain(u1.ID(), 1, true))
	u2 := buildUnit(t, []ids.ID{u1.ID()}, witnesses[2], "u2")
	addWithProps(t, store, u2, 2, 1, u1.ID())
	require.NoError(store.SetMainChain(u2.ID(), 2, true))

	// A fresh rival of the candidate offers no more than the rival every
	// node must already assume possible, so the verdict does not move.
	r := buildUnit(t, []ids.ID{genesis.ID()}, ids.ShortID{0x99}, "r")
	addWithProps(t, store, r, 1, 0, genesis.ID())

	stable, err := eval.Evaluate(1)
	require.NoError(err)
	require.True(stable)

	// Once the rival branch grows beyond a fresh root, witness support alone
	// no longer settles the position.
	r2 := buildUnit(t, []ids.ID{r.ID()}, ids.ShortID{0x98}, "r2")
	addWithProps(t, store, r2, 2, 0, r.ID())

	stable, err = eval.Evaluate(1)
	require.NoError(err)
	require.False(stable)

	// A second witness lands above the candidate and the chain's witnessed
	// level pulls ahead of the rival's: the position settles again.
	u3 := buildUnit(t, []ids.ID{u2.ID()}, witnesses[1], "u3")
	addWithProps(t, store, u3, 3, 2, u2.ID())
	require.NoError(store.SetMainChain(u3.ID(), 3, true))

	stable, err = eval.Evaluate(1)
	require.NoError(err)
	require.True(stable)
}

func mustList(t *testing.T, addrs []ids.ShortID) *witness.List {
	t.Helper()
	list, err := witness.NewList(addrs)
	require.NoError(t, err)
	return list
}
