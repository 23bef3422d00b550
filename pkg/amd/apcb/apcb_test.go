// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

func newEmptyV2Blob(t *testing.T, capacity int) []byte {
	t.Helper()
	buf := make([]byte, capacity)
	h := headerV2{
		Signature:    headerV2Signature,
		SizeOfHeader: uint16(binary.Size(headerV2{})),
		Version:      0x12,
		SizeOfAPCB:   uint32(binary.Size(headerV2{})),
	}
	require.NoError(t, writeFixedBuffer(buf, h))
	require.NoError(t, UpdateChecksum(buf))
	return buf
}

func TestLoadZeroBufferIsVersionMismatch(t *testing.T) {
	buf := make([]byte, 8192)
	_, err := Load(buf, DefaultLoadOptions())
	require.Error(t, err)
	require.IsType(t, ErrVersionMismatch{}, err)
}

func TestInsertGroupYieldsOneEmptyGroup(t *testing.T) {
	buf := newEmptyV2Blob(t, 8192)
	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)

	require.NoError(t, root.InsertGroup(0x1701, "PSPG"))

	it := root.Groups()
	g, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint16(0x1701), g.GroupID())
	require.Equal(t, "PSPG", g.Signature())

	entryIt, err := g.Entries()
	require.NoError(t, err)
	_, ok, err = entryIt.Next()
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func mustGroupWithTokenEntry(t *testing.T) (*Root, Group) {
	t.Helper()
	buf := newEmptyV2Blob(t, 8192)
	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)
	require.NoError(t, root.InsertGroup(0x1701, "PSPG"))
	g, err := root.Group(0x1701)
	require.NoError(t, err)
	require.NoError(t, g.InsertEntry(TokenEntryByte, 0, 0xFFFF, ContextTypeTokens, 0, 0, EntryParams{}))
	g, err = root.Group(0x1701)
	require.NoError(t, err)
	return root, g
}

func TestInsertTokenThenGet(t *testing.T) {
	root, g := mustGroupWithTokenEntry(t)

	e, err := g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err := e.Tokens()
	require.NoError(t, err)

	require.NoError(t, tl.Insert(0x42, 1))

	// Insert spliced the buffer, bumping the root's generation; g, e and tl
	// captured before it must be re-derived from the root before reuse.
	g, err = root.Group(0x1701)
	require.NoError(t, err)
	e, err = g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err = e.Tokens()
	require.NoError(t, err)
	v, err := tl.Get(0x42)
	require.NoError(t, err)
	require.Equal(t, uint32(1), v)
}

func TestDuplicateTokenInsertLeavesBufferUnchanged(t *testing.T) {
	root, g := mustGroupWithTokenEntry(t)
	e, err := g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err := e.Tokens()
	require.NoError(t, err)
	require.NoError(t, tl.Insert(0x42, 1))

	g, err = root.Group(0x1701)
	require.NoError(t, err)

	before := append([]byte(nil), root.buf...)

	e, err = g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err = e.Tokens()
	require.NoError(t, err)
	err = tl.Insert(0x42, 2)
	require.Error(t, err)
	require.IsType(t, ErrDuplicateKey{}, err)

	require.True(t, bytes.Equal(before, root.buf))
}

func TestInsertThenDeleteTokenRoundTripsBytes(t *testing.T) {
	root, g := mustGroupWithTokenEntry(t)
	before := append([]byte(nil), root.buf...)

	e, err := g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err := e.Tokens()
	require.NoError(t, err)
	require.NoError(t, tl.Insert(0x42, 1))

	g, err = root.Group(0x1701)
	require.NoError(t, err)
	e, err = g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err = e.Tokens()
	require.NoError(t, err)
	require.NoError(t, tl.Delete(0x42))

	require.True(t, bytes.Equal(before, root.buf))

	g, err = root.Group(0x1701)
	require.NoError(t, err)
	e, err = g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err = e.Tokens()
	require.NoError(t, err)
	_, err = tl.Get(0x42)
	require.Error(t, err)
	require.IsType(t, ErrTokenNotFound{}, err)
}

func TestDeleteNonexistentTokenFails(t *testing.T) {
	_, g := mustGroupWithTokenEntry(t)
	e, err := g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err := e.Tokens()
	require.NoError(t, err)

	err = tl.Delete(0x99)
	require.Error(t, err)
	require.IsType(t, ErrTokenNotFound{}, err)
}

func TestTokensIterateInAscendingOrder(t *testing.T) {
	root, g := mustGroupWithTokenEntry(t)
	e, err := g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err := e.Tokens()
	require.NoError(t, err)
	require.NoError(t, tl.Insert(0x10, 1))

	g, err = root.Group(0x1701)
	require.NoError(t, err)
	e, err = g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err = e.Tokens()
	require.NoError(t, err)
	require.NoError(t, tl.Insert(0x30, 3))

	g, err = root.Group(0x1701)
	require.NoError(t, err)
	e, err = g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err = e.Tokens()
	require.NoError(t, err)
	require.NoError(t, tl.Insert(0x20, 2))

	g, err = root.Group(0x1701)
	require.NoError(t, err)
	e, err = g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err = e.Tokens()
	require.NoError(t, err)

	var ids []TokenID
	it := tl.Iter()
	for {
		id, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	require.Equal(t, []TokenID{0x10, 0x20, 0x30}, ids)
}

func TestTokenKindValueWidths(t *testing.T) {
	cases := []struct {
		name    string
		entryID EntryID
		value   uint32
	}{
		{"Bool", TokenEntryBool, 0x1},
		{"Word", TokenEntryWord, 0xBEEF},
		{"DWord", TokenEntryDWord, 0xDEADBEEF},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := newEmptyV2Blob(t, 8192)
			root, err := Load(buf, DefaultLoadOptions())
			require.NoError(t, err)
			require.NoError(t, root.InsertGroup(0x1701, "PSPG"))
			g, err := root.Group(0x1701)
			require.NoError(t, err)
			require.NoError(t, g.InsertEntry(c.entryID, 0, 0xFFFF, ContextTypeTokens, 0, 0, EntryParams{}))

			g, err = root.Group(0x1701)
			require.NoError(t, err)
			e, err := g.EntryExact(c.entryID, 0, 0xFFFF)
			require.NoError(t, err)
			tl, err := e.Tokens()
			require.NoError(t, err)
			require.NoError(t, tl.Insert(0x42, c.value))

			g, err = root.Group(0x1701)
			require.NoError(t, err)
			e, err = g.EntryExact(c.entryID, 0, 0xFFFF)
			require.NoError(t, err)
			tl, err = e.Tokens()
			require.NoError(t, err)
			v, err := tl.Get(0x42)
			require.NoError(t, err)
			require.Equal(t, c.value, v)

			// SetValue rewrites in place without resizing or reordering, so
			// the same tl/e remain valid afterwards.
			newValue := c.value &^ 0x1
			require.NoError(t, tl.SetValue(0x42, newValue))
			v, err = tl.Get(0x42)
			require.NoError(t, err)
			require.Equal(t, newValue, v)
		})
	}
}

func TestValueOutOfRangeForTokenKind(t *testing.T) {
	_, g := mustGroupWithTokenEntry(t)
	e, err := g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err := e.Tokens()
	require.NoError(t, err)

	err = tl.Insert(0x42, 0x100) // a Byte token only has 8 significant bits
	require.Error(t, err)
	require.IsType(t, ErrValueOutOfRange{}, err)
}

func TestUpdateChecksumIsZeroSumAndChangesInstance(t *testing.T) {
	root, g := mustGroupWithTokenEntry(t)
	e, err := g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	tl, err := e.Tokens()
	require.NoError(t, err)
	require.NoError(t, tl.Insert(0x42, 1))

	before := root.Header().UniqueAPCBInstance()
	require.NoError(t, root.UpdateChecksum())
	require.NotEqual(t, before, root.Header().UniqueAPCBInstance())

	used := root.Header().UsedSize()
	var sum uint32
	for _, b := range root.buf[:used] {
		sum += uint32(b)
	}
	require.Equal(t, uint32(0), sum%256)
}

func TestLoadRejectsInvalidChecksum(t *testing.T) {
	buf := newEmptyV2Blob(t, 8192)
	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)
	require.NoError(t, root.UpdateChecksum())

	// Corrupt a byte inside the checksummed region without refreshing
	// checksum_byte.
	buf[20]++

	_, err = Load(buf, LoadOptions{CheckChecksum: true})
	require.Error(t, err)
	require.IsType(t, ErrChecksumInvalid{}, err)
}

func TestInsertThenDeleteGroupRoundTripsBytes(t *testing.T) {
	buf := newEmptyV2Blob(t, 8192)
	before := append([]byte(nil), buf...)

	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)
	require.NoError(t, root.InsertGroup(0x1701, "PSPG"))
	require.NoError(t, root.DeleteGroup(0x1701))

	require.True(t, bytes.Equal(before, root.buf))
}

func TestInsertGroupOutOfSpaceLeavesBufferUnchanged(t *testing.T) {
	buf := newEmptyV2Blob(t, int(binary.Size(headerV2{})))
	before := append([]byte(nil), buf...)

	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)

	err = root.InsertGroup(0x1701, "PSPG")
	require.Error(t, err)
	require.IsType(t, ErrOutOfSpace{}, err)
	require.True(t, bytes.Equal(before, root.buf))
}

func TestDeleteEntryRemovesEntry(t *testing.T) {
	root, g := mustGroupWithTokenEntry(t)

	require.NoError(t, g.DeleteEntry(TokenEntryByte, 0, 0xFFFF))

	g, err := root.Group(0x1701)
	require.NoError(t, err)
	_, err = g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.Error(t, err)
	require.IsType(t, ErrEntryNotFound{}, err)

	it, err := g.Entries()
	require.NoError(t, err)
	_, ok, err := it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteNonexistentEntryFails(t *testing.T) {
	_, g := mustGroupWithTokenEntry(t)

	err := g.DeleteEntry(TokenEntryByte, 1, 0xFFFF)
	require.Error(t, err)
	require.IsType(t, ErrEntryNotFound{}, err)
}

func TestResizeEntryByGrowsAndShrinksBody(t *testing.T) {
	buf := newEmptyV2Blob(t, 8192)
	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)
	require.NoError(t, root.InsertGroup(0x2001, "PSPB"))
	g, err := root.Group(0x2001)
	require.NoError(t, err)
	require.NoError(t, g.InsertEntry(0x1, 0, 0xFFFF, ContextTypeStruct, 4, 0, EntryParams{}))

	g, err = root.Group(0x2001)
	require.NoError(t, err)
	e, err := g.EntryExact(0x1, 0, 0xFFFF)
	require.NoError(t, err)
	require.Equal(t, 4, len(e.BodyBytes()))

	require.NoError(t, g.ResizeEntryBy(0x1, 0, 0xFFFF, 4))
	g, err = root.Group(0x2001)
	require.NoError(t, err)
	e, err = g.EntryExact(0x1, 0, 0xFFFF)
	require.NoError(t, err)
	require.Equal(t, 8, len(e.BodyBytes()))

	require.NoError(t, g.ResizeEntryBy(0x1, 0, 0xFFFF, -8))
	g, err = root.Group(0x2001)
	require.NoError(t, err)
	e, err = g.EntryExact(0x1, 0, 0xFFFF)
	require.NoError(t, err)
	require.Equal(t, 0, len(e.BodyBytes()))
}

func TestResizeEntryByOutOfSpaceLeavesBufferUnchanged(t *testing.T) {
	buf := newEmptyV2Blob(t, int(binary.Size(headerV2{}))+int(entryHeaderSize)+int(groupHeaderSize)+4)
	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)
	require.NoError(t, root.InsertGroup(0x2001, "PSPB"))
	g, err := root.Group(0x2001)
	require.NoError(t, err)
	require.NoError(t, g.InsertEntry(0x1, 0, 0xFFFF, ContextTypeStruct, 4, 0, EntryParams{}))

	g, err = root.Group(0x2001)
	require.NoError(t, err)
	before := append([]byte(nil), root.buf...)

	err = g.ResizeEntryBy(0x1, 0, 0xFFFF, 4096)
	require.Error(t, err)
	require.IsType(t, ErrOutOfSpace{}, err)
	require.True(t, bytes.Equal(before, root.buf))
}

func TestIteratorInvalidatedAfterMutation(t *testing.T) {
	root, g := mustGroupWithTokenEntry(t)

	it, err := g.Entries()
	require.NoError(t, err)
	_, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, root.InsertGroup(0x1801, "TEST"))

	_, _, err = it.Next()
	require.Error(t, err)
	require.IsType(t, ErrIteratorInvalidated{}, err)
}

func TestLoadCollectAllErrorsAggregatesTokenEntryInvalid(t *testing.T) {
	buf := newEmptyV2Blob(t, 8192)
	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)
	require.NoError(t, root.InsertGroup(0x1701, "PSPG"))
	g, err := root.Group(0x1701)
	require.NoError(t, err)

	// Two token entries, each carrying two records in descending order --
	// deliberately broken without going through TokenList.Insert, which
	// would refuse to build such a list.
	require.NoError(t, g.InsertEntry(TokenEntryByte, 0, 0xFFFF, ContextTypeTokens, 16, 0, EntryParams{}))
	g, err = root.Group(0x1701)
	require.NoError(t, err)
	e1, err := g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)
	body1 := e1.BodyBytes()
	binary.LittleEndian.PutUint32(body1[0:4], 0x30)
	binary.LittleEndian.PutUint32(body1[4:8], 1)
	binary.LittleEndian.PutUint32(body1[8:12], 0x10)
	binary.LittleEndian.PutUint32(body1[12:16], 2)

	require.NoError(t, g.InsertEntry(TokenEntryWord, 0, 0xFFFF, ContextTypeTokens, 16, 0, EntryParams{}))
	g, err = root.Group(0x1701)
	require.NoError(t, err)
	e2, err := g.EntryExact(TokenEntryWord, 0, 0xFFFF)
	require.NoError(t, err)
	body2 := e2.BodyBytes()
	binary.LittleEndian.PutUint32(body2[0:4], 0x30)
	binary.LittleEndian.PutUint32(body2[4:8], 1)
	binary.LittleEndian.PutUint32(body2[8:12], 0x10)
	binary.LittleEndian.PutUint32(body2[12:16], 2)

	// Without CollectAllErrors, Load aborts on the first invalid token entry
	// and returns its ErrTokenEntryInvalid.
	_, err = Load(root.buf, LoadOptions{StrictTokenOrdering: true})
	require.Error(t, err)
	var tokenErr ErrTokenEntryInvalid
	require.True(t, errors.As(err, &tokenErr))

	_, err = Load(root.buf, LoadOptions{StrictTokenOrdering: true, CollectAllErrors: true})
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	require.Len(t, merr.Errors, 2)
	for _, sub := range merr.Errors {
		require.IsType(t, ErrTokenEntryInvalid{}, sub)
	}
}

func TestStructBodyRoundTrip(t *testing.T) {
	type payload struct {
		A uint32
		B uint16
	}

	buf := newEmptyV2Blob(t, 8192)
	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)
	require.NoError(t, root.InsertGroup(0x2000, "PSPB"))
	g, err := root.Group(0x2000)
	require.NoError(t, err)

	require.NoError(t, InsertStructEntry[payload](g, 0x1, 0, 0xFFFF, 0, payload{A: 7, B: 9}))

	g, err = root.Group(0x2000)
	require.NoError(t, err)
	e, err := g.EntryExact(0x1, 0, 0xFFFF)
	require.NoError(t, err)
	v, err := BodyAsStruct[payload](e)
	require.NoError(t, err)
	require.Equal(t, payload{A: 7, B: 9}, v)
}

func TestStructArrayBodyRoundTrip(t *testing.T) {
	type elem struct {
		X uint16
		Y uint16
	}

	buf := newEmptyV2Blob(t, 8192)
	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)
	require.NoError(t, root.InsertGroup(0x2002, "PSPA"))
	g, err := root.Group(0x2002)
	require.NoError(t, err)

	values := []elem{{X: 1, Y: 2}, {X: 3, Y: 4}, {X: 5, Y: 6}}
	require.NoError(t, InsertStructArrayAsEntry[elem](g, 0x1, 0, 0xFFFF, 0, values))

	g, err = root.Group(0x2002)
	require.NoError(t, err)
	e, err := g.EntryExact(0x1, 0, 0xFFFF)
	require.NoError(t, err)

	view, err := BodyAsStructArray[elem](e)
	require.NoError(t, err)
	require.Equal(t, 3, view.Len())
	for i, want := range values {
		got, err := view.Get(i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	require.NoError(t, view.Set(1, elem{X: 9, Y: 9}))
	got, err := view.Get(1)
	require.NoError(t, err)
	require.Equal(t, elem{X: 9, Y: 9}, got)
}

// TestStructArrayBodyRejectsTokenEntry guards against viewing a
// ContextTypeTokens entry's sorted (token_id, value) body as a struct array:
// a token body's length is always a multiple of 8, which would otherwise
// pass an 8-byte element-stride check silently and let a caller corrupt the
// strictly-ascending token invariant through an unrelated interpreter.
func TestStructArrayBodyRejectsTokenEntry(t *testing.T) {
	_, g := mustGroupWithTokenEntry(t)
	e, err := g.EntryExact(TokenEntryByte, 0, 0xFFFF)
	require.NoError(t, err)

	_, err = BodyAsStructArray[tokenRecord](e)
	require.Error(t, err)
	require.IsType(t, ErrSchemaMismatch{}, err)
}

func TestStructSequenceBodyIteratesElements(t *testing.T) {
	buf := newEmptyV2Blob(t, 8192)
	root, err := Load(buf, DefaultLoadOptions())
	require.NoError(t, err)
	require.NoError(t, root.InsertGroup(0x2003, "PSPS"))
	g, err := root.Group(0x2003)
	require.NoError(t, err)

	// Two tagged records; each length prefix includes itself.
	body := []byte{
		4, 0, 0xAA, 0xBB,
		6, 0, 0x01, 0x02, 0x03, 0x04,
	}
	require.NoError(t, InsertStructSequenceAsEntry(g, 0x1, 0, 0xFFFF, 0, body))

	g, err = root.Group(0x2003)
	require.NoError(t, err)
	e, err := g.EntryExact(0x1, 0, 0xFFFF)
	require.NoError(t, err)

	it, err := BodyAsStructSequence(e)
	require.NoError(t, err)

	elem1, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{4, 0, 0xAA, 0xBB}, elem1)

	elem2, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{6, 0, 0x01, 0x02, 0x03, 0x04}, elem2)

	_, ok, err = it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}
