// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var entryHeaderSize = uint32(binary.Size(entryHeader{}))

// entrySizeFieldOffset is entryHeader's Size field offset within the header:
// GroupID(2) + EntryID(2).
const entrySizeFieldOffset = 4

// EntryParams carries the fields of an entry header beyond the ones every
// caller of InsertEntry already names positionally. Zero value is fine for
// an opaque or struct entry; InsertEntry fixes UnitSize/KeySize/KeyPos to
// the only values ContextTypeTokens permits regardless of what is passed
// here.
type EntryParams struct {
	ContextFormat ContextFormat
	UnitSize      uint8
	KeySize       uint8
	KeyPos        uint8
}

// Entry is a view over one entry's sub-region: its header plus its body.
// It is valid only until the next mutation on the Root it was obtained
// from; using it afterwards returns ErrIteratorInvalidated.
type Entry struct {
	root        *Root
	offset      uint32 // absolute offset of the entry header
	groupOffset uint32 // absolute offset of the enclosing group header
	generation  uint64
}

func (e Entry) checkValid() error {
	if e.generation != e.root.generation {
		return ErrIteratorInvalidated{}
	}
	return nil
}

func (e Entry) header() entryHeader {
	var eh entryHeader
	_ = binary.Read(bytes.NewReader(e.root.buf[e.offset:]), binary.LittleEndian, &eh)
	return eh
}

// EntryID returns the entry's 16-bit identifier.
func (e Entry) EntryID() EntryID { return e.header().EntryID }

// InstanceID returns the entry's instance number.
func (e Entry) InstanceID() uint16 { return e.header().InstanceID }

// BoardInstanceMask returns the entry's board-variant applicability bitmap.
func (e Entry) BoardInstanceMask() uint16 { return e.header().BoardInstanceMask }

// ContextType returns the entry's body interpretation discriminant.
func (e Entry) ContextType() ContextType { return e.header().ContextType }

// ContextFormat returns the entry's context format qualifier.
func (e Entry) ContextFormat() ContextFormat { return e.header().ContextFormat }

// UnitSize returns the byte stride of one body element.
func (e Entry) UnitSize() uint8 { return e.header().UnitSize }

// PriorityMask returns the entry's combined priority levels.
func (e Entry) PriorityMask() PriorityMask { return e.header().PriorityMask }

// Size returns the total size of the entry, header included.
func (e Entry) Size() uint16 { return e.header().Size }

func (e Entry) bodyRange() (uint32, uint32) {
	h := e.header()
	start := e.offset + entryHeaderSize
	end := e.offset + uint32(h.Size)
	return start, end
}

// BodyBytes returns the entry's body as a slice sharing storage with the
// root buffer: writes through it mutate the blob directly without changing
// its length. Use ResizeEntryBy first to change the body's length. Returns
// nil if the entry was obtained before a splice on the same Root and is no
// longer valid; callers that need the reason should call checkValid-gated
// accessors such as Tokens or BodyAsStruct instead.
func (e Entry) BodyBytes() []byte {
	if e.checkValid() != nil {
		return nil
	}
	start, end := e.bodyRange()
	return e.root.buf[start:end]
}

// BodyBytesMut is an alias of BodyBytes kept for shared/exclusive naming
// parity.
func (e Entry) BodyBytesMut() []byte { return e.BodyBytes() }

func (e Entry) ancestors() []ancestorSize {
	return []ancestorSize{
		{offset: int(e.offset + entrySizeFieldOffset), is32: false},
		{offset: int(e.groupOffset + sizeOfGroupFieldOffset), is32: true},
	}
}

// EntryIterator is a forward-only, non-restartable, lazy cursor over a
// group's entries.
type EntryIterator struct {
	root        *Root
	groupOffset uint32
	offset      uint32
	end         uint32
	generation  uint64
}

// Next returns the next entry, or ok=false when the iterator is exhausted.
func (it *EntryIterator) Next() (entry Entry, ok bool, err error) {
	if it.generation != it.root.generation {
		return Entry{}, false, ErrIteratorInvalidated{}
	}
	if it.offset >= it.end {
		return Entry{}, false, nil
	}
	e := Entry{root: it.root, offset: it.offset, groupOffset: it.groupOffset, generation: it.generation}
	it.offset += uint32(e.header().Size)
	return e, true, nil
}

// Entries returns a forward iterator over every entry in the group.
func (g Group) Entries() (*EntryIterator, error) {
	if err := g.checkValid(); err != nil {
		return nil, err
	}
	start, end := g.entriesRegion()
	return &EntryIterator{root: g.root, groupOffset: g.offset, offset: start, end: end, generation: g.generation}, nil
}

// EntriesMut is an alias of Entries kept for shared/exclusive naming parity.
func (g Group) EntriesMut() (*EntryIterator, error) { return g.Entries() }

// EntryExact returns the entry matching the exact (entryID, instanceID,
// boardInstanceMask) triple, or ErrEntryNotFound.
func (g Group) EntryExact(entryID EntryID, instanceID, boardInstanceMask uint16) (Entry, error) {
	it, err := g.Entries()
	if err != nil {
		return Entry{}, err
	}
	for {
		e, ok, err := it.Next()
		if err != nil {
			return Entry{}, err
		}
		if !ok {
			return Entry{}, ErrEntryNotFound{EntryID: entryID, InstanceID: instanceID, BoardInstanceMask: boardInstanceMask}
		}
		if e.EntryID() == entryID && e.InstanceID() == instanceID && e.BoardInstanceMask() == boardInstanceMask {
			return e, nil
		}
	}
}

// EntryCompatible returns the first entry whose entry_id matches, whose
// stored instance_id equals instanceID, and whose stored board mask
// intersects requestedMask, or ErrEntryNotFound.
func (g Group) EntryCompatible(entryID EntryID, instanceID, requestedMask uint16) (Entry, error) {
	it, err := g.Entries()
	if err != nil {
		return Entry{}, err
	}
	for {
		e, ok, err := it.Next()
		if err != nil {
			return Entry{}, err
		}
		if !ok {
			return Entry{}, ErrEntryNotFound{EntryID: entryID, InstanceID: instanceID, BoardInstanceMask: requestedMask}
		}
		if e.EntryID() == entryID && e.InstanceID() == instanceID && e.BoardInstanceMask()&requestedMask != 0 {
			return e, nil
		}
	}
}

// InsertEntry appends a new entry at the end of the group's entries region
// with a zero-filled body of payloadSize bytes. Returns ErrDuplicateKey if
// an entry with the same (entryID, instanceID, boardInstanceMask) already
// exists in the group.
func (g Group) InsertEntry(
	entryID EntryID,
	instanceID, boardInstanceMask uint16,
	contextType ContextType,
	payloadSize uint32,
	priorityMask PriorityMask,
	params EntryParams,
) error {
	if err := g.checkValid(); err != nil {
		return err
	}
	if _, err := g.EntryExact(entryID, instanceID, boardInstanceMask); err == nil {
		return ErrDuplicateKey{Kind: "entry", Key: stringerString(fmt.Sprintf("id=0x%x,instance=0x%x,mask=0x%x", entryID, instanceID, boardInstanceMask))}
	} else if _, ok := err.(ErrEntryNotFound); !ok {
		return err
	}

	if contextType == ContextTypeTokens {
		if payloadSize%8 != 0 {
			return ErrTokenEntryInvalid{EntryID: entryID, Reason: "payload size must be a multiple of 8"}
		}
		params = EntryParams{ContextFormat: ContextFormatSortAsc, UnitSize: 8, KeySize: 4, KeyPos: 0}
	}

	_, end := g.entriesRegion()
	totalSize := entryHeaderSize + payloadSize
	if totalSize > 0xFFFF {
		return ErrOutOfSpace{Requested: totalSize, Capacity: 0xFFFF}
	}

	if err := g.root.splice(end, 0, totalSize, g.ancestors()); err != nil {
		return err
	}

	eh := entryHeader{
		GroupID:           groupID(g.GroupID()),
		EntryID:           entryID,
		Size:              uint16(totalSize),
		InstanceID:        instanceID,
		ContextType:       contextType,
		ContextFormat:     params.ContextFormat,
		UnitSize:          params.UnitSize,
		PriorityMask:      priorityMask,
		KeySize:           params.KeySize,
		KeyPos:            params.KeyPos,
		BoardInstanceMask: boardInstanceMask,
	}
	return writeFixedBuffer(g.root.buf[end:], eh)
}

// DeleteEntry removes the entry matching the exact (entryID, instanceID,
// boardInstanceMask) triple. Returns ErrEntryNotFound if absent.
func (g Group) DeleteEntry(entryID EntryID, instanceID, boardInstanceMask uint16) error {
	e, err := g.EntryExact(entryID, instanceID, boardInstanceMask)
	if err != nil {
		return err
	}
	return g.root.splice(e.offset, uint32(e.Size()), 0, g.ancestors())
}

// ResizeEntryBy splices delta bytes at the end of the entry's body; delta
// may be negative to shrink. Returns ErrEntryNotFound if absent, or
// ErrOutOfSpace if growing would exceed the buffer's capacity.
func (g Group) ResizeEntryBy(entryID EntryID, instanceID, boardInstanceMask uint16, delta int32) error {
	e, err := g.EntryExact(entryID, instanceID, boardInstanceMask)
	if err != nil {
		return err
	}
	_, end := e.bodyRange()
	if delta >= 0 {
		return e.root.splice(end, 0, uint32(delta), e.ancestors())
	}
	return e.root.splice(end+uint32(delta), uint32(-delta), 0, e.ancestors())
}
