// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"errors"

	"github.com/luxfi/metric"
)

type metrics struct {
	unitsIngested      metric.Counter
	unitsRejected      metric.Counter
	conflictsDetected  metric.Counter
	conflictsFinalized metric.Counter
	stabilityAdvances  metric.Counter
	lastStableMCI      metric.Gauge
}

func newMetrics(registerer metric.Registerer) (*metrics, error) {
	if _, ok := registerer.(metric.Registry); !ok {
		return nil, errors.New("registerer must implement metric.Registry")
	}

	m := &metrics{}
	m.unitsIngested = metric.NewCounter(metric.CounterOpts{
		Name: "units_ingested",
		Help: "Number of units accepted into the unit graph",
	})
	m.unitsRejected = metric.NewCounter(metric.CounterOpts{
		Name: "units_rejected",
		Help: "Number of units rejected at the graph boundary",
	})
	m.conflictsDetected = metric.NewCounter(metric.CounterOpts{
		Name: "conflicts_detected",
		Help: "Number of contested resources observed at ingest",
	})
	m.conflictsFinalized = metric.NewCounter(metric.CounterOpts{
		Name: "conflicts_finalized",
		Help: "Number of units flipped final-bad by conflict resolution",
	})
	m.stabilityAdvances = metric.NewCounter(metric.CounterOpts{
		Name: "stability_advances",
		Help: "Number of MCIs stabilized",
	})
	m.lastStableMCI = metric.NewGauge(metric.GaugeOpts{
		Name: "last_stable_mci",
		Help: "The last stable main chain index",
	})
	return m, nil
}
