// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

import (
	"encoding/binary"
	"fmt"
)

// ancestorSize is one length field on the chain of containers enclosing a
// spliced region: a group's SizeOfGroup field, or an entry's Size field.
// The splicer adjusts every ancestor by the same delta so that, after a
// splice, every containing region's declared size again matches its actual
// byte extent.
type ancestorSize struct {
	// offset is the byte offset, within the Root's buffer, of the 16 or
	// 32 bit length field to adjust.
	offset int
	is32   bool
}

func (a ancestorSize) add(buf []byte, delta int32) {
	if a.is32 {
		v := int32(binary.LittleEndian.Uint32(buf[a.offset:])) + delta
		binary.LittleEndian.PutUint32(buf[a.offset:], uint32(v))
		return
	}
	v := int32(binary.LittleEndian.Uint16(buf[a.offset:])) + delta
	binary.LittleEndian.PutUint16(buf[a.offset:], uint16(v))
}

// splice is the single primitive every mutator reduces to. It removes
// removeLen bytes at offset at, inserts insertLen zero-filled bytes in their
// place, and adjusts used_size and every ancestor length field in ancestors
// by the same (insertLen - removeLen) delta. ancestors must be given
// innermost-first; order does not otherwise matter since each field is
// independent.
//
// Preconditions are checked before anything is mutated: a failure leaves
// the buffer byte-for-byte unchanged.
func (r *Root) splice(at, removeLen, insertLen uint32, ancestors []ancestorSize) error {
	used := r.usedSize()
	if at+removeLen > used {
		return fmt.Errorf("splice range [%d, %d) exceeds used_size %d", at, at+removeLen, used)
	}
	newUsed := used - removeLen + insertLen
	if newUsed > uint32(len(r.buf)) {
		return ErrOutOfSpace{Requested: newUsed, Capacity: len(r.buf)}
	}

	tailStart := at + removeLen
	tail := r.buf[tailStart:used]
	dst := r.buf[at+insertLen : at+insertLen+uint32(len(tail))]
	copy(dst, tail) // memmove-safe: Go's copy tolerates overlapping slices

	// dst starts at at+insertLen, so [at, at+insertLen) is untouched by the
	// copy above and safe to zero-fill as the freshly inserted window.
	for i := at; i < at+insertLen; i++ {
		r.buf[i] = 0
	}
	if newUsed < used {
		// the blob shrank; clear the bytes now beyond the new used_size so
		// no stale data lingers past the logical end of the blob.
		for i := newUsed; i < used; i++ {
			r.buf[i] = 0
		}
	}

	delta := int32(insertLen) - int32(removeLen)
	for _, anc := range ancestors {
		anc.add(r.buf, delta)
	}
	r.setUsedSize(newUsed)
	r.bumpGeneration()
	return nil
}
