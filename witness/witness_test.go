// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package witness

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func testAddrs(n int) []ids.ShortID {
	addrs := make([]ids.ShortID, n)
	for i := range addrs {
		addrs[i] = ids.ShortID{byte(i + 1)}
	}
	return addrs
}

func TestNewList(t *testing.T) {
	require := require.New(t)

	_, err := NewList(nil)
	require.ErrorIs(err, ErrEmptyList)

	addr := ids.ShortID{1}
	_, err = NewList([]ids.ShortID{addr, addr})
	require.ErrorIs(err, ErrDuplicateWitness)

	list, err := NewList(testAddrs(12))
	require.NoError(err)
	require.Equal(12, list.Size())
	require.True(list.Contains(ids.ShortID{1}))
	require.False(list.Contains(ids.ShortID{42}))
	require.Equal(testAddrs(12), list.Addresses())
}

func TestMajorityRank(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{size: 1, want: 1},
		{size: 2, want: 2},
		{size: 3, want: 2},
		{size: 12, want: 7},
	}
	for _, test := range tests {
		list, err := NewList(testAddrs(test.size))
		require.NoError(t, err)
		require.Equal(t, test.want, list.MajorityRank())
	}
}

func TestSchedule(t *testing.T) {
	require := require.New(t)

	initial, err := NewList(testAddrs(3))
	require.NoError(err)
	replacement, err := NewList(testAddrs(5))
	require.NoError(err)

	schedule := NewSchedule(initial)
	require.Equal(initial, schedule.ListAt(0))
	require.Equal(initial, schedule.ListAt(1000))

	// A change may not activate at or below the stability point.
	err = schedule.ScheduleChange(5, replacement, 5)
	require.ErrorIs(err, ErrStaleActivation)

	require.NoError(schedule.ScheduleChange(10, replacement, 4))
	require.Equal(initial, schedule.ListAt(9))
	require.Equal(replacement, schedule.ListAt(10))
	require.Equal(replacement, schedule.ListAt(11))

	// Activations must strictly increase.
	err = schedule.ScheduleChange(10, initial, 4)
	require.ErrorIs(err, ErrActivationOrder)
}
