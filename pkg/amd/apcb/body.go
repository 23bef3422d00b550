// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Body interpreters overlay an entry's body with a schema. They never
// mutate lengths themselves: to change the number of elements, the caller
// resizes the entry first (Group.ResizeEntryBy) and then rewrites the body.
//
// Go has no structural-layout control over arbitrary types the way a
// systems language does, so these are not zero-copy overlays; they decode
// into a value copy on Get and re-encode on Set, via encoding/binary,
// exactly like every other wire struct in this package.

// BodyAsStruct decodes an entry's body as a single fixed-layout value of
// type T. Returns ErrSchemaMismatch if context_type is not
// ContextTypeStruct or the body length does not equal binary.Size(T).
func BodyAsStruct[T any](e Entry) (T, error) {
	var v T
	if err := e.checkValid(); err != nil {
		return v, err
	}
	if e.ContextType() != ContextTypeStruct {
		return v, ErrSchemaMismatch{Reason: fmt.Sprintf("entry 0x%x has context_type %d, not Struct", e.EntryID(), e.ContextType())}
	}
	body := e.BodyBytes()
	if len(body) != binary.Size(v) {
		return v, ErrSchemaMismatch{Reason: fmt.Sprintf("body length %d does not match schema size %d", len(body), binary.Size(v))}
	}
	err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &v)
	return v, err
}

// SetBodyAsStruct re-encodes v over an entry's existing body in place.
// Returns ErrSchemaMismatch under the same conditions as BodyAsStruct.
func SetBodyAsStruct[T any](e Entry, v T) error {
	if err := e.checkValid(); err != nil {
		return err
	}
	if e.ContextType() != ContextTypeStruct {
		return ErrSchemaMismatch{Reason: fmt.Sprintf("entry 0x%x has context_type %d, not Struct", e.EntryID(), e.ContextType())}
	}
	body := e.BodyBytes()
	if len(body) != binary.Size(v) {
		return ErrSchemaMismatch{Reason: fmt.Sprintf("body length %d does not match schema size %d", len(body), binary.Size(v))}
	}
	return writeFixedBuffer(body, v)
}

// StructArrayView overlays an entry's body as an indexable array of
// identically laid-out elements.
type StructArrayView[T any] struct {
	entry    Entry
	elemSize int
}

// BodyAsStructArray returns a StructArrayView over the entry's body.
// Returns ErrSchemaMismatch if context_type is not ContextTypeStruct or the
// body length is not a multiple of binary.Size(T).
func BodyAsStructArray[T any](e Entry) (StructArrayView[T], error) {
	var zero T
	if err := e.checkValid(); err != nil {
		return StructArrayView[T]{}, err
	}
	if e.ContextType() != ContextTypeStruct {
		return StructArrayView[T]{}, ErrSchemaMismatch{Reason: fmt.Sprintf("entry 0x%x has context_type %d, not Struct", e.EntryID(), e.ContextType())}
	}
	elemSize := binary.Size(zero)
	if elemSize <= 0 {
		return StructArrayView[T]{}, ErrSchemaMismatch{Reason: "element schema has no fixed binary size"}
	}
	if len(e.BodyBytes())%elemSize != 0 {
		return StructArrayView[T]{}, ErrSchemaMismatch{Reason: fmt.Sprintf("body length %d is not a multiple of element stride %d", len(e.BodyBytes()), elemSize)}
	}
	return StructArrayView[T]{entry: e, elemSize: elemSize}, nil
}

// Len returns the number of elements.
func (a StructArrayView[T]) Len() int {
	return len(a.entry.BodyBytes()) / a.elemSize
}

// Get decodes the i-th element.
func (a StructArrayView[T]) Get(i int) (T, error) {
	var v T
	if i < 0 || i >= a.Len() {
		return v, fmt.Errorf("index %d out of range [0, %d)", i, a.Len())
	}
	body := a.entry.BodyBytes()
	err := binary.Read(bytes.NewReader(body[i*a.elemSize:(i+1)*a.elemSize]), binary.LittleEndian, &v)
	return v, err
}

// Set re-encodes the i-th element in place.
func (a StructArrayView[T]) Set(i int, v T) error {
	if i < 0 || i >= a.Len() {
		return fmt.Errorf("index %d out of range [0, %d)", i, a.Len())
	}
	body := a.entry.BodyBytes()
	return writeFixedBuffer(body[i*a.elemSize:(i+1)*a.elemSize], v)
}

// SequenceIterator steps through a struct-sequence body: a concatenation of
// tagged variable-length records, each prefixed by its own 16-bit length
// (length includes the prefix itself).
type SequenceIterator struct {
	body   []byte
	offset int
}

// BodyAsStructSequence returns a SequenceIterator over the entry's body.
// Returns ErrSchemaMismatch if context_type is not ContextTypeStruct.
func BodyAsStructSequence(e Entry) (*SequenceIterator, error) {
	if err := e.checkValid(); err != nil {
		return nil, err
	}
	if e.ContextType() != ContextTypeStruct {
		return nil, ErrSchemaMismatch{Reason: fmt.Sprintf("entry 0x%x has context_type %d, not Struct", e.EntryID(), e.ContextType())}
	}
	return &SequenceIterator{body: e.BodyBytes()}, nil
}

// Next returns the next element's raw bytes (length prefix included), or
// ok=false when the sequence is exhausted. Returns ErrSequenceBroken on
// underflow or an inconsistent element header.
func (it *SequenceIterator) Next() (elem []byte, ok bool, err error) {
	if it.offset == len(it.body) {
		return nil, false, nil
	}
	if it.offset+2 > len(it.body) {
		return nil, false, ErrSequenceBroken{Offset: it.offset, Reason: "not enough bytes left for an element length prefix"}
	}
	length := int(binary.LittleEndian.Uint16(it.body[it.offset:]))
	if length < 2 {
		return nil, false, ErrSequenceBroken{Offset: it.offset, Reason: "element length prefix must be at least 2"}
	}
	if it.offset+length > len(it.body) {
		return nil, false, ErrSequenceBroken{Offset: it.offset, Reason: fmt.Sprintf("element length %d exceeds remaining body bytes", length)}
	}
	elem = it.body[it.offset : it.offset+length]
	it.offset += length
	return elem, true, nil
}

// InsertStructEntry is a convenience wrapper that computes payload_size from
// a typed value and copies it into the freshly spliced entry body.
func InsertStructEntry[T any](g Group, entryID EntryID, instanceID, boardInstanceMask uint16, priorityMask PriorityMask, value T) error {
	size := binary.Size(value)
	if size <= 0 {
		return ErrSchemaMismatch{Reason: "value has no fixed binary size"}
	}
	if err := g.InsertEntry(entryID, instanceID, boardInstanceMask, ContextTypeStruct, uint32(size), priorityMask, EntryParams{}); err != nil {
		return err
	}
	// InsertEntry spliced the buffer, so g must be re-derived from the root.
	g, err := g.root.Group(g.GroupID())
	if err != nil {
		return err
	}
	e, err := g.EntryExact(entryID, instanceID, boardInstanceMask)
	if err != nil {
		return err
	}
	return writeFixedBuffer(e.BodyBytes(), value)
}

// InsertStructArrayAsEntry is a convenience wrapper that computes
// payload_size from a typed slice and copies its elements into the freshly
// spliced entry body.
func InsertStructArrayAsEntry[T any](g Group, entryID EntryID, instanceID, boardInstanceMask uint16, priorityMask PriorityMask, values []T) error {
	var zero T
	elemSize := binary.Size(zero)
	if elemSize <= 0 {
		return ErrSchemaMismatch{Reason: "element schema has no fixed binary size"}
	}
	size := elemSize * len(values)
	params := EntryParams{UnitSize: uint8(elemSize)}
	if err := g.InsertEntry(entryID, instanceID, boardInstanceMask, ContextTypeStruct, uint32(size), priorityMask, params); err != nil {
		return err
	}
	g, err := g.root.Group(g.GroupID())
	if err != nil {
		return err
	}
	e, err := g.EntryExact(entryID, instanceID, boardInstanceMask)
	if err != nil {
		return err
	}
	view, err := BodyAsStructArray[T](e)
	if err != nil {
		return err
	}
	for i, v := range values {
		if err := view.Set(i, v); err != nil {
			return err
		}
	}
	return nil
}

// InsertStructSequenceAsEntry is a convenience wrapper that inserts a
// pre-encoded struct-sequence body (each element already carrying its own
// length prefix, see SequenceIterator) as a new entry.
func InsertStructSequenceAsEntry(g Group, entryID EntryID, instanceID, boardInstanceMask uint16, priorityMask PriorityMask, body []byte) error {
	if err := g.InsertEntry(entryID, instanceID, boardInstanceMask, ContextTypeStruct, uint32(len(body)), priorityMask, EntryParams{}); err != nil {
		return err
	}
	g, err := g.root.Group(g.GroupID())
	if err != nil {
		return err
	}
	e, err := g.EntryExact(entryID, instanceID, boardInstanceMask)
	if err != nil {
		return err
	}
	copy(e.BodyBytes(), body)
	return nil
}
