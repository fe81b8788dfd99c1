// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine is the DAG main-chain consensus engine: it ingests
// structurally-valid units, maintains the canonical main chain, and advances
// the stability point. It is a library consumed by a node process; transport,
// signature checking and contract evaluation live elsewhere.
//
// Writes are serialized by a single global lock and staged on a version layer
// over the store, so every ingest or stabilization advance commits whole or
// rolls back whole, and the lock is released on every exit path.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/dagchain/conflicts"
	"github.com/luxfi/dagchain/graph"
	"github.com/luxfi/dagchain/mainchain"
	"github.com/luxfi/dagchain/stability"
	"github.com/luxfi/dagchain/unit"
	"github.com/luxfi/dagchain/witness"
)

// Config carries everything the engine needs besides its database.
type Config struct {
	// Genesis is the parentless root of the DAG, stable at MCI 0.
	Genesis *unit.Unit

	// Witnesses is the witness list in effect from MCI 0.
	Witnesses *witness.List

	// Stability holds the protocol constants of the stability rules.
	Stability stability.Params

	// TraversalLimit caps every graph walk. Zero means the default ceiling.
	TraversalLimit int

	// CacheSize bounds the unit and props caches. Zero means the default.
	CacheSize int
}

func (c Config) Validate() error {
	switch {
	case c.Genesis == nil:
		return fmt.Errorf("config needs a genesis unit")
	case !c.Genesis.IsGenesis():
		return fmt.Errorf("genesis unit %s has parents", c.Genesis.ID())
	case len(c.Genesis.Inputs) != 0:
		return fmt.Errorf("genesis unit %s spends inputs", c.Genesis.ID())
	case c.Witnesses == nil:
		return fmt.Errorf("config needs a witness list")
	}
	return nil
}

// Engine ties the store, calculator, walker, evaluator and resolver together
// under one global write lock.
type Engine struct {
	cfg      Config
	store    *graph.Store
	calc     *mainchain.Calculator
	walker   *mainchain.Walker
	eval     *stability.Evaluator
	resolver *conflicts.Resolver
	schedule *witness.Schedule
	metrics  *metrics
	log      log.Logger

	// mu is the global write lock: exactly one in-flight write, any number
	// of point-in-time readers.
	mu     sync.RWMutex
	closed bool

	// beforeStep is a test seam for fault injection inside the stabilization
	// writer. Nil in production.
	beforeStep func(step string, mci uint64) error
}

// New opens the engine over [db], bootstrapping the genesis unit if the
// database is fresh.
func New(cfg Config, db database.Database, logger log.Logger, registerer metric.Registerer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}
	store, err := graph.New(db, cfg.Genesis, cfg.CacheSize, logger)
	if err != nil {
		return nil, err
	}
	schedule := witness.NewSchedule(cfg.Witnesses)
	e := &Engine{
		cfg:      cfg,
		store:    store,
		calc:     mainchain.NewCalculator(store, cfg.Witnesses, cfg.TraversalLimit, logger),
		walker:   mainchain.NewWalker(store, cfg.TraversalLimit, logger),
		eval:     stability.NewEvaluator(store, schedule, cfg.Stability, logger),
		resolver: conflicts.New(store, cfg.TraversalLimit, logger),
		schedule: schedule,
		metrics:  m,
		log:      logger,
	}
	lastStable, err := store.LastStableMCI()
	if err != nil {
		return nil, err
	}
	m.lastStableMCI.Set(float64(lastStable))
	return e, nil
}

// AddUnit ingests one structurally-valid unit: computes its graph metrics,
// classifies its conflicts, re-walks the main-chain tail and advances the
// stability point as far as it will go. The whole ingest is one atomic
// commit. A unit already in the store is a no-op. Cancellation is checked
// only at the boundary; once the write starts it runs to completion or rolls
// back entirely.
func (e *Engine) AddUnit(ctx context.Context, u *unit.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	added, err := e.ingest(u)
	if err != nil {
		e.store.Abort()
		e.metrics.unitsRejected.Inc()
		return err
	}
	if err := e.store.Commit(); err != nil {
		e.store.Abort()
		return err
	}
	if added {
		e.metrics.unitsIngested.Inc()
	}
	return nil
}

// ingest stages one unit and everything that follows from it. added reports
// whether the unit was new; a duplicate stages nothing.
func (e *Engine) ingest(u *unit.Unit) (added bool, err error) {
	unitID := u.ID()
	switch ok, err := e.store.Has(unitID); {
	case err != nil:
		return false, err
	case ok:
		return false, nil
	}

	props, err := e.calc.ComputeProps(u)
	if err != nil {
		return false, err
	}
	seq, contested, err := e.resolver.ClassifyNew(u)
	if err != nil {
		return false, err
	}
	props.Sequence = seq
	if err := e.store.AddUnit(u, props); err != nil {
		return false, err
	}
	if len(contested) > 0 {
		e.metrics.conflictsDetected.Add(float64(len(contested)))
		e.log.Info("unit enters contested",
			"unit", unitID,
			"resources", len(contested),
		)
	}
	e.log.Debug("unit ingested",
		"unit", unitID,
		"level", props.Level,
		"witnessedLevel", props.WitnessedLevel,
		"sequence", props.Sequence,
	)

	if err := e.walker.Rebuild(); err != nil {
		return false, err
	}
	_, err = e.advance()
	return err == nil, err
}

// AdvanceStability re-runs the stability check without ingesting anything and
// returns the stability point it reached. The advance is one atomic unit of
// work across however many MCIs it covers.
func (e *Engine) AdvanceStability(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}

	advancedTo, err := e.advance()
	if err != nil {
		e.store.Abort()
		return 0, err
	}
	if err := e.store.Commit(); err != nil {
		e.store.Abort()
		return 0, err
	}
	return advancedTo, nil
}

// IsStable reports whether the unit is irreversibly final.
func (e *Engine) IsStable(unitID ids.ID) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	props, err := e.store.Props(unitID)
	if err != nil {
		return false, err
	}
	return props.Stable, nil
}

// MainChainIndex returns the unit's MCI; ok is false while none is assigned.
func (e *Engine) MainChainIndex(unitID ids.ID) (mci uint64, ok bool, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	props, err := e.store.Props(unitID)
	if err != nil {
		return 0, false, err
	}
	mci, ok = props.MainChainIndex()
	return mci, ok, nil
}

// StabilityPoint returns the last stable MCI.
func (e *Engine) StabilityPoint() (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.LastStableMCI()
}

// WitnessedLevel returns the unit's witnessed level.
func (e *Engine) WitnessedLevel(unitID ids.ID) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	props, err := e.store.Props(unitID)
	if err != nil {
		return 0, err
	}
	return props.WitnessedLevel, nil
}

// Sequence returns the unit's conflict outcome.
func (e *Engine) Sequence(unitID ids.ID) (unit.Sequence, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	props, err := e.store.Props(unitID)
	if err != nil {
		return 0, err
	}
	return props.Sequence, nil
}

// ScheduleWitnessChange activates [list] for MCIs at or above [activation].
// The unit carrying the change must be stable before its list may take
// effect, so the activation must be above the current stability point.
func (e *Engine) ScheduleWitnessChange(activation uint64, list *witness.List) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	lastStable, err := e.store.LastStableMCI()
	if err != nil {
		return err
	}
	return e.schedule.ScheduleChange(activation, list, lastStable)
}

// Close releases the store. In-flight readers finish first.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.store.Close()
}
