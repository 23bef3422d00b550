// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var groupHeaderSize = uint32(binary.Size(groupHeader{}))

// sizeOfGroupFieldOffset is groupHeader's SizeOfGroup field offset within
// the header: Signature(4) + GroupID(2) + SizeOfHeader(2) + Version(2) + Reserved(2).
const sizeOfGroupFieldOffset = 12

// Group is a view over one group's sub-region: its header plus its entries.
// It is valid only until the next mutation on the Root it was obtained
// from; using it afterwards returns ErrIteratorInvalidated.
type Group struct {
	root       *Root
	offset     uint32 // absolute offset of the group header
	generation uint64
}

func (g Group) checkValid() error {
	if g.generation != g.root.generation {
		return ErrIteratorInvalidated{}
	}
	return nil
}

func (g Group) header() groupHeader {
	var gh groupHeader
	_ = binary.Read(bytes.NewReader(g.root.buf[g.offset:]), binary.LittleEndian, &gh)
	return gh
}

// GroupID returns the group's 16-bit identifier.
func (g Group) GroupID() uint16 { return uint16(g.header().GroupID) }

// Signature returns the group's 4-byte ASCII signature, e.g. "PSPG".
func (g Group) Signature() string { return g.header().Signature.String() }

// Size returns the total size of the group, header included.
func (g Group) Size() uint32 { return g.header().SizeOfGroup }

func (g Group) entriesRegion() (uint32, uint32) {
	h := g.header()
	start := g.offset + groupHeaderSize
	end := g.offset + h.SizeOfGroup
	return start, end
}

func (g Group) ancestors() []ancestorSize {
	return []ancestorSize{{offset: int(g.offset + sizeOfGroupFieldOffset), is32: true}}
}

// GroupIterator is a forward-only, non-restartable, lazy cursor over groups.
// It never allocates and holds only an offset plus the generation it was
// created at; stepping it after any mutation on the Root returns
// ErrIteratorInvalidated.
type GroupIterator struct {
	root       *Root
	offset     uint32
	end        uint32
	generation uint64
}

// Next returns the next group, or ok=false when the iterator is exhausted.
func (it *GroupIterator) Next() (group Group, ok bool, err error) {
	if it.generation != it.root.generation {
		return Group{}, false, ErrIteratorInvalidated{}
	}
	if it.offset >= it.end {
		return Group{}, false, nil
	}
	g := Group{root: it.root, offset: it.offset, generation: it.generation}
	it.offset += g.header().SizeOfGroup
	return g, true, nil
}

// Groups returns a forward iterator over every group in the blob.
func (r *Root) Groups() *GroupIterator {
	return &GroupIterator{root: r, offset: uint32(r.headerSize), end: r.usedSize(), generation: r.generation}
}

// GroupsMut is an alias of Groups kept for parity with a shared/exclusive
// iterator naming convention; Go has no borrow-checker distinction between
// the two, so both return the same type and rely on the generation counter
// for invalidation.
func (r *Root) GroupsMut() *GroupIterator { return r.Groups() }

// Group returns the first group matching groupID, or ErrGroupNotFound.
func (r *Root) Group(id uint16) (Group, error) {
	it := r.Groups()
	for {
		g, ok, err := it.Next()
		if err != nil {
			return Group{}, err
		}
		if !ok {
			return Group{}, ErrGroupNotFound{GroupID: groupID(id)}
		}
		if g.GroupID() == id {
			return g, nil
		}
	}
}

// GroupMut is an alias of Group kept for shared/exclusive naming parity.
func (r *Root) GroupMut(id uint16) (Group, error) { return r.Group(id) }

// InsertGroup appends a new, empty group with the given id and 4-byte ASCII
// signature. Returns ErrDuplicateKey if a group with that id already
// exists.
func (r *Root) InsertGroup(id uint16, signature string) error {
	if _, err := r.Group(id); err == nil {
		return ErrDuplicateKey{Kind: "group", Key: stringerString(fmt.Sprintf("0x%x", id))}
	} else if _, ok := err.(ErrGroupNotFound); !ok {
		return err
	}

	var sig groupID4CC
	copy(sig[:], signature)

	at := r.usedSize()
	if err := r.splice(at, 0, groupHeaderSize, nil); err != nil {
		return err
	}

	gh := groupHeader{
		Signature:    sig,
		GroupID:      groupID(id),
		SizeOfHeader: uint16(groupHeaderSize),
		Version:      1,
		SizeOfGroup:  groupHeaderSize,
	}
	return writeFixedBuffer(r.buf[at:], gh)
}

// DeleteGroup removes the group matching groupID and every entry it
// contains. Returns ErrGroupNotFound if absent.
func (r *Root) DeleteGroup(id uint16) error {
	g, err := r.Group(id)
	if err != nil {
		return err
	}
	return r.splice(g.offset, g.Size(), 0, nil)
}
