// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package unit defines the immutable ledger entry of the DAG and the mutable
// consensus state tracked for it.
package unit

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"
)

// MaxParents bounds the number of parents a single unit may reference.
const MaxParents = 16

var (
	ErrNoAuthors       = errors.New("unit has no authors")
	ErrTooManyParents  = fmt.Errorf("unit references more than %d parents", MaxParents)
	ErrDuplicateParent = errors.New("unit references the same parent twice")
	ErrDuplicateInput  = errors.New("unit spends the same input twice")
)

// Output is a resource produced by a unit. Its identity is derived from the
// producing unit and the output index, never from a running counter.
type Output struct {
	Owner  ids.ShortID `serialize:"true" json:"owner"`
	Amount uint64      `serialize:"true" json:"amount"`
}

// Unit is one immutable entry in the DAG. All fields are fixed at creation;
// the unit is identified by the hash of its serialized form.
type Unit struct {
	ParentIDs []ids.ID      `serialize:"true" json:"parentIDs"`
	Authors   []ids.ShortID `serialize:"true" json:"authors"`
	Inputs    []ids.ID      `serialize:"true" json:"inputs"`
	Outputs   []Output      `serialize:"true" json:"outputs"`
	Payload   []byte        `serialize:"true" json:"payload"`

	id    ids.ID
	bytes []byte
}

// New builds a unit, serializes it, and derives its content hash ID.
func New(parentIDs []ids.ID, authors []ids.ShortID, inputs []ids.ID, outputs []Output, payload []byte) (*Unit, error) {
	u := &Unit{
		ParentIDs: parentIDs,
		Authors:   authors,
		Inputs:    inputs,
		Outputs:   outputs,
		Payload:   payload,
	}
	if err := u.Verify(); err != nil {
		return nil, err
	}
	return u, u.initialize()
}

// Parse deserializes a unit and recomputes its ID from the raw bytes.
func Parse(b []byte) (*Unit, error) {
	u := &Unit{}
	if _, err := Codec.Unmarshal(b, u); err != nil {
		return nil, err
	}
	if err := u.Verify(); err != nil {
		return nil, err
	}
	u.bytes = b
	u.id = hash.ComputeHash256Array(b)
	return u, nil
}

func (u *Unit) initialize() error {
	b, err := Codec.Marshal(CodecVersion, u)
	if err != nil {
		return fmt.Errorf("failed to serialize unit: %w", err)
	}
	u.bytes = b
	u.id = hash.ComputeHash256Array(b)
	return nil
}

// Verify checks the structural shape of the unit. Signature and fee checks
// belong to the validation gate, not here.
func (u *Unit) Verify() error {
	switch {
	case len(u.Authors) == 0:
		return ErrNoAuthors
	case len(u.ParentIDs) > MaxParents:
		return ErrTooManyParents
	}
	seen := make(map[ids.ID]struct{}, len(u.ParentIDs))
	for _, parentID := range u.ParentIDs {
		if _, ok := seen[parentID]; ok {
			return ErrDuplicateParent
		}
		seen[parentID] = struct{}{}
	}
	spent := make(map[ids.ID]struct{}, len(u.Inputs))
	for _, inputID := range u.Inputs {
		if _, ok := spent[inputID]; ok {
			return ErrDuplicateInput
		}
		spent[inputID] = struct{}{}
	}
	return nil
}

// ID returns the content hash identifying this unit.
func (u *Unit) ID() ids.ID {
	return u.id
}

// Bytes returns the serialized form of this unit.
func (u *Unit) Bytes() []byte {
	return u.bytes
}

// IsGenesis reports whether this is the parentless root of the DAG.
func (u *Unit) IsGenesis() bool {
	return len(u.ParentIDs) == 0
}

// OutputID derives the resource ID of output [index] of unit [unitID].
func OutputID(unitID ids.ID, index uint32) ids.ID {
	b := make([]byte, len(unitID)+4)
	copy(b, unitID[:])
	binary.BigEndian.PutUint32(b[len(unitID):], index)
	return hash.ComputeHash256Array(b)
}

// OutputIDs lists the resource IDs of every output [u] produces.
func (u *Unit) OutputIDs() []ids.ID {
	outputIDs := make([]ids.ID, len(u.Outputs))
	for i := range u.Outputs {
		outputIDs[i] = OutputID(u.id, uint32(i))
	}
	return outputIDs
}
