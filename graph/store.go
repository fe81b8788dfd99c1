// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package graph is the durable, indexed store of units and their
// parent/child, spender and main-chain-index edges. All mutation is staged on
// a version layer and only reaches the underlying database on Commit, so a
// multi-step consensus write either lands whole or not at all.
package graph

import (
	"fmt"

	"github.com/luxfi/cache"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/dagchain/unit"
)

const defaultCacheSize = 2048

var (
	unitPrefix     = []byte("unit")
	propsPrefix    = []byte("props")
	childPrefix    = []byte("child")
	spenderPrefix  = []byte("spender")
	producerPrefix = []byte("producer")
	mciPrefix      = []byte("mci")
	mcUnitPrefix   = []byte("mcunit")
	tipPrefix      = []byte("tip")
	statePrefix    = []byte("state")

	lastStableKey = []byte("last_stable_mci")
	genesisKey    = []byte("genesis")
)

// Store holds the unit graph. The zero value is not usable; construct with
// New, which bootstraps the genesis unit as the stable root at MCI 0.
type Store struct {
	vdb *versiondb.Database

	unitDB     database.Database
	propsDB    database.Database
	childDB    database.Database
	spenderDB  database.Database
	producerDB database.Database
	mciDB      database.Database
	mcUnitDB   database.Database
	tipDB      database.Database
	stateDB    database.Database

	unitCache  *cache.LRU[ids.ID, *unit.Unit]
	propsCache *cache.LRU[ids.ID, unit.Props]

	genesisID ids.ID
	log       log.Logger
}

// New opens a store over [db]. On first open the store is bootstrapped with
// [genesis] as the stable main-chain root; on later opens [genesis] must match
// the stored root.
func New(db database.Database, genesis *unit.Unit, cacheSize int, logger log.Logger) (*Store, error) {
	if !genesis.IsGenesis() {
		return nil, fmt.Errorf("%w: genesis unit must be parentless", ErrParentlessUnit)
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	vdb := versiondb.New(db)
	s := &Store{
		vdb:        vdb,
		unitDB:     prefixdb.New(unitPrefix, vdb),
		propsDB:    prefixdb.New(propsPrefix, vdb),
		childDB:    prefixdb.New(childPrefix, vdb),
		spenderDB:  prefixdb.New(spenderPrefix, vdb),
		producerDB: prefixdb.New(producerPrefix, vdb),
		mciDB:      prefixdb.New(mciPrefix, vdb),
		mcUnitDB:   prefixdb.New(mcUnitPrefix, vdb),
		tipDB:      prefixdb.New(tipPrefix, vdb),
		stateDB:    prefixdb.New(statePrefix, vdb),
		unitCache:  &cache.LRU[ids.ID, *unit.Unit]{Size: cacheSize},
		propsCache: &cache.LRU[ids.ID, unit.Props]{Size: cacheSize},
		genesisID:  genesis.ID(),
		log:        logger,
	}

	storedGenesis, err := database.GetID(s.stateDB, genesisKey)
	switch err {
	case nil:
		if storedGenesis != genesis.ID() {
			return nil, fmt.Errorf("stored genesis %s does not match %s", storedGenesis, genesis.ID())
		}
		return s, nil
	case database.ErrNotFound:
		if err := s.bootstrap(genesis); err != nil {
			s.vdb.Abort()
			return nil, err
		}
		return s, s.vdb.Commit()
	default:
		return nil, err
	}
}

func (s *Store) bootstrap(genesis *unit.Unit) error {
	props := unit.Props{
		HasMCI:      true,
		MCI:         0,
		OnMainChain: true,
		Stable:      true,
		Sequence:    unit.Good,
	}
	if err := s.putUnit(genesis, props); err != nil {
		return err
	}
	if err := s.tipDB.Put(s.genesisID[:], nil); err != nil {
		return err
	}
	if err := s.markMCI(s.genesisID, 0, true); err != nil {
		return err
	}
	if err := database.PutUInt64(s.stateDB, lastStableKey, 0); err != nil {
		return err
	}
	if err := database.PutID(s.stateDB, genesisKey, s.genesisID); err != nil {
		return err
	}
	s.log.Info("bootstrapped unit graph", "genesis", s.genesisID)
	return nil
}

// GenesisID returns the ID of the DAG's root unit.
func (s *Store) GenesisID() ids.ID {
	return s.genesisID
}

// Has reports whether the unit is already stored.
func (s *Store) Has(unitID ids.ID) (bool, error) {
	if _, ok := s.unitCache.Get(unitID); ok {
		return true, nil
	}
	return s.unitDB.Has(unitID[:])
}

// GetUnit returns the stored unit, or ErrUnknownUnit.
func (s *Store) GetUnit(unitID ids.ID) (*unit.Unit, error) {
	if u, ok := s.unitCache.Get(unitID); ok {
		return u, nil
	}
	b, err := s.unitDB.Get(unitID[:])
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
	}
	if err != nil {
		return nil, err
	}
	u, err := unit.Parse(b)
	if err != nil {
		return nil, err
	}
	s.unitCache.Put(unitID, u)
	return u, nil
}

// Props returns a copy of the unit's consensus state, or ErrUnknownUnit.
func (s *Store) Props(unitID ids.ID) (unit.Props, error) {
	if p, ok := s.propsCache.Get(unitID); ok {
		return p, nil
	}
	b, err := s.propsDB.Get(unitID[:])
	if err == database.ErrNotFound {
		return unit.Props{}, fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
	}
	if err != nil {
		return unit.Props{}, err
	}
	p := unit.Props{}
	if _, err := unit.Codec.Unmarshal(b, &p); err != nil {
		return unit.Props{}, err
	}
	s.propsCache.Put(unitID, p)
	return p, nil
}

// AddUnit stores [u] with its computed consensus state and indexes its edges.
// Adding a unit that is already stored is a no-op. Adding a unit whose parents
// are not all stored fails with ErrMissingParent and stages nothing.
func (s *Store) AddUnit(u *unit.Unit, props unit.Props) error {
	unitID := u.ID()
	switch ok, err := s.Has(unitID); {
	case err != nil:
		return err
	case ok:
		return nil
	}
	if u.IsGenesis() {
		return fmt.Errorf("%w: second genesis %s", ErrParentlessUnit, unitID)
	}
	for _, parentID := range u.ParentIDs {
		switch ok, err := s.Has(parentID); {
		case err != nil:
			return err
		case !ok:
			return fmt.Errorf("%w: %s needs %s", ErrMissingParent, unitID, parentID)
		}
	}

	if err := s.putUnit(u, props); err != nil {
		return err
	}
	for _, parentID := range u.ParentIDs {
		if err := s.childDB.Put(edgeKey(parentID, unitID), nil); err != nil {
			return err
		}
		if err := s.tipDB.Delete(parentID[:]); err != nil {
			return err
		}
	}
	return s.tipDB.Put(unitID[:], nil)
}

func (s *Store) putUnit(u *unit.Unit, props unit.Props) error {
	unitID := u.ID()
	if err := s.unitDB.Put(unitID[:], u.Bytes()); err != nil {
		return err
	}
	if err := s.writeProps(unitID, props); err != nil {
		return err
	}
	for i, resourceID := range u.OutputIDs() {
		if err := database.PutID(s.producerDB, resourceID[:], unitID); err != nil {
			return fmt.Errorf("failed to index output %d of %s: %w", i, unitID, err)
		}
	}
	for _, resourceID := range u.Inputs {
		if err := s.spenderDB.Put(edgeKey(resourceID, unitID), nil); err != nil {
			return err
		}
	}
	s.unitCache.Put(unitID, u)
	return nil
}

func (s *Store) writeProps(unitID ids.ID, props unit.Props) error {
	b, err := unit.Codec.Marshal(unit.CodecVersion, &props)
	if err != nil {
		return err
	}
	if err := s.propsDB.Put(unitID[:], b); err != nil {
		return err
	}
	s.propsCache.Put(unitID, props)
	return nil
}

// Children returns the IDs of every stored unit referencing [unitID] as a
// parent.
func (s *Store) Children(unitID ids.ID) ([]ids.ID, error) {
	return s.scanEdges(s.childDB, unitID)
}

// Spenders returns the IDs of every stored unit consuming [resourceID].
func (s *Store) Spenders(resourceID ids.ID) ([]ids.ID, error) {
	return s.scanEdges(s.spenderDB, resourceID)
}

// Producer returns the unit that produced [resourceID], or ErrUnknownUnit if
// the resource is not an output of any stored unit.
func (s *Store) Producer(resourceID ids.ID) (ids.ID, error) {
	producerID, err := database.GetID(s.producerDB, resourceID[:])
	if err == database.ErrNotFound {
		return ids.Empty, fmt.Errorf("%w: no producer for resource %s", ErrUnknownUnit, resourceID)
	}
	return producerID, err
}

// Tips returns the free (childless) units of the DAG.
func (s *Store) Tips() ([]ids.ID, error) {
	iter := s.tipDB.NewIterator()
	defer iter.Release()

	var tips []ids.ID
	for iter.Next() {
		tipID, err := ids.ToID(iter.Key())
		if err != nil {
			return nil, err
		}
		tips = append(tips, tipID)
	}
	return tips, iter.Error()
}

// LastStableMCI returns the stability point: every MCI at or below it is
// final.
func (s *Store) LastStableMCI() (uint64, error) {
	return database.GetUInt64(s.stateDB, lastStableKey)
}

// SetLastStableMCI advances the stability point. It never moves backwards.
func (s *Store) SetLastStableMCI(mci uint64) error {
	current, err := s.LastStableMCI()
	if err != nil {
		return err
	}
	if mci < current {
		return fmt.Errorf("%w: stability point %d -> %d", ErrStableMutation, current, mci)
	}
	return database.PutUInt64(s.stateDB, lastStableKey, mci)
}

// MainChainUnitAt returns the unit on the main chain at [mci], or
// database.ErrNotFound if the chain does not reach that index.
func (s *Store) MainChainUnitAt(mci uint64) (ids.ID, error) {
	return database.GetID(s.mcUnitDB, database.PackUInt64(mci))
}

// UnitsAtMCI returns every unit assigned [mci], on chain or included.
func (s *Store) UnitsAtMCI(mci uint64) ([]ids.ID, error) {
	prefix := database.PackUInt64(mci)
	iter := s.mciDB.NewIteratorWithPrefix(prefix)
	defer iter.Release()

	var unitIDs []ids.ID
	for iter.Next() {
		unitID, err := ids.ToID(iter.Key()[len(prefix):])
		if err != nil {
			return nil, err
		}
		unitIDs = append(unitIDs, unitID)
	}
	return unitIDs, iter.Error()
}

// SetMainChain assigns [mci] to the unit, marking it as the main-chain unit
// at that index when [onMainChain] is set. Stable assignments are frozen.
func (s *Store) SetMainChain(unitID ids.ID, mci uint64, onMainChain bool) error {
	props, err := s.Props(unitID)
	if err != nil {
		return err
	}
	if props.Stable {
		if props.MCI != mci || props.OnMainChain != onMainChain {
			return fmt.Errorf("%w: %s", ErrStableMutation, unitID)
		}
		return nil
	}
	if props.HasMCI {
		if err := s.unmarkMCI(unitID, props.MCI, props.OnMainChain); err != nil {
			return err
		}
	}
	props.HasMCI = true
	props.MCI = mci
	props.OnMainChain = onMainChain
	if err := s.writeProps(unitID, props); err != nil {
		return err
	}
	return s.markMCI(unitID, mci, onMainChain)
}

// ClearMainChain removes the unit's MCI assignment. Only legal while the unit
// is unstable, during a main-chain tail re-walk.
func (s *Store) ClearMainChain(unitID ids.ID) error {
	props, err := s.Props(unitID)
	if err != nil {
		return err
	}
	if props.Stable {
		return fmt.Errorf("%w: %s", ErrStableMutation, unitID)
	}
	if !props.HasMCI {
		return nil
	}
	if err := s.unmarkMCI(unitID, props.MCI, props.OnMainChain); err != nil {
		return err
	}
	props.HasMCI = false
	props.MCI = 0
	props.OnMainChain = false
	return s.writeProps(unitID, props)
}

func (s *Store) markMCI(unitID ids.ID, mci uint64, onMainChain bool) error {
	marker := []byte{0}
	if onMainChain {
		marker = []byte{1}
		if err := database.PutID(s.mcUnitDB, database.PackUInt64(mci), unitID); err != nil {
			return err
		}
	}
	return s.mciDB.Put(mciKey(mci, unitID), marker)
}

func (s *Store) unmarkMCI(unitID ids.ID, mci uint64, onMainChain bool) error {
	if onMainChain {
		if err := s.mcUnitDB.Delete(database.PackUInt64(mci)); err != nil {
			return err
		}
	}
	return s.mciDB.Delete(mciKey(mci, unitID))
}

// SetStable flips the unit stable. The flip is one-way.
func (s *Store) SetStable(unitID ids.ID) error {
	props, err := s.Props(unitID)
	if err != nil {
		return err
	}
	if props.Stable {
		return nil
	}
	props.Stable = true
	return s.writeProps(unitID, props)
}

// SetSequence updates the unit's conflict outcome. FinalBad is terminal; any
// attempt to revert it is an invariant violation.
func (s *Store) SetSequence(unitID ids.ID, seq unit.Sequence) error {
	props, err := s.Props(unitID)
	if err != nil {
		return err
	}
	if props.Sequence == seq {
		return nil
	}
	if props.Sequence == unit.FinalBad {
		return fmt.Errorf("%w: %s -> %s on %s", ErrSequenceRegression, props.Sequence, seq, unitID)
	}
	props.Sequence = seq
	return s.writeProps(unitID, props)
}

// Commit lands every staged write on the underlying database.
func (s *Store) Commit() error {
	return s.vdb.Commit()
}

// Abort drops every staged write and invalidates the caches, which may hold
// staged values.
func (s *Store) Abort() {
	s.vdb.Abort()
	s.unitCache.Flush()
	s.propsCache.Flush()
}

// Close releases the version layer. The underlying database stays open; it
// belongs to the caller.
func (s *Store) Close() error {
	return s.vdb.Close()
}

func edgeKey(from, to ids.ID) []byte {
	key := make([]byte, len(from)+len(to))
	copy(key, from[:])
	copy(key[len(from):], to[:])
	return key
}

func mciKey(mci uint64, unitID ids.ID) []byte {
	packed := database.PackUInt64(mci)
	key := make([]byte, len(packed)+len(unitID))
	copy(key, packed)
	copy(key[len(packed):], unitID[:])
	return key
}

func (s *Store) scanEdges(db database.Database, from ids.ID) ([]ids.ID, error) {
	iter := db.NewIteratorWithPrefix(from[:])
	defer iter.Release()

	var unitIDs []ids.ID
	for iter.Next() {
		unitID, err := ids.ToID(iter.Key()[len(from):])
		if err != nil {
			return nil, err
		}
		unitIDs = append(unitIDs, unitID)
	}
	return unitIDs, iter.Error()
}
