// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

import (
	"encoding/binary"
	"fmt"
	"sort"
)

const tokenRecordSize = 8

// TokenList is a view over a Tokens-context entry's body, treated as a
// sorted array of (token_id, value) records of uniform 8-byte stride.
type TokenList struct {
	entry Entry
	kind  tokenKind
}

// Tokens returns a TokenList view over the entry's body. Returns
// ErrSchemaMismatch if the entry's context_type is not ContextTypeTokens.
func (e Entry) Tokens() (TokenList, error) {
	if err := e.checkValid(); err != nil {
		return TokenList{}, err
	}
	if e.ContextType() != ContextTypeTokens {
		return TokenList{}, ErrSchemaMismatch{Reason: fmt.Sprintf("entry 0x%x has context_type %d, not Tokens", e.EntryID(), e.ContextType())}
	}
	return TokenList{entry: e, kind: tokenKind(e.EntryID())}, nil
}

func (t TokenList) body() []byte { return t.entry.BodyBytes() }

// Len returns the number of tokens in the list.
func (t TokenList) Len() int { return len(t.body()) / tokenRecordSize }

func (t TokenList) recordAt(i int) tokenRecord {
	b := t.body()[i*tokenRecordSize:]
	return tokenRecord{
		ID:    TokenID(binary.LittleEndian.Uint32(b[0:4])),
		Value: binary.LittleEndian.Uint32(b[4:8]),
	}
}

// locate performs a binary search by token_id. If found, index is the
// matching slot. Otherwise index is the insertion point that keeps the
// list strictly ascending.
func (t TokenList) locate(id TokenID) (index int, found bool) {
	n := t.Len()
	i := sort.Search(n, func(i int) bool { return t.recordAt(i).ID >= id })
	if i < n && t.recordAt(i).ID == id {
		return i, true
	}
	return i, false
}

// Get returns the width-truncated value of token id, or ErrTokenNotFound.
func (t TokenList) Get(id TokenID) (uint32, error) {
	if err := t.entry.checkValid(); err != nil {
		return 0, err
	}
	i, found := t.locate(id)
	if !found {
		return 0, ErrTokenNotFound{TokenID: id}
	}
	return t.recordAt(i).Value & t.kind.mask(), nil
}

// Insert adds a new (id, value) record, keeping the list sorted. Returns
// ErrDuplicateKey if id is already present, or ErrValueOutOfRange if value
// has bits set beyond the entry's token-kind width.
func (t TokenList) Insert(id TokenID, value uint32) error {
	if err := t.entry.checkValid(); err != nil {
		return err
	}
	if value&^t.kind.mask() != 0 {
		return ErrValueOutOfRange{Value: value, Kind: t.kind}
	}
	i, found := t.locate(id)
	if found {
		return ErrDuplicateKey{Kind: "token", Key: stringerString(fmt.Sprintf("0x%x", id))}
	}

	bodyStart, _ := t.entry.bodyRange()
	at := bodyStart + uint32(i*tokenRecordSize)
	if err := t.entry.root.splice(at, 0, tokenRecordSize, t.entry.ancestors()); err != nil {
		return err
	}

	rec := tokenRecord{ID: id, Value: value}
	return writeFixedBuffer(t.entry.root.buf[at:], rec)
}

// Delete removes the record for id, keeping the list sorted. Returns
// ErrTokenNotFound if absent.
func (t TokenList) Delete(id TokenID) error {
	if err := t.entry.checkValid(); err != nil {
		return err
	}
	i, found := t.locate(id)
	if !found {
		return ErrTokenNotFound{TokenID: id}
	}
	bodyStart, _ := t.entry.bodyRange()
	at := bodyStart + uint32(i*tokenRecordSize)
	return t.entry.root.splice(at, tokenRecordSize, 0, t.entry.ancestors())
}

// SetValue overwrites the value of an existing token in place; the list's
// length and order are unaffected. Returns ErrTokenNotFound if absent, or
// ErrValueOutOfRange if value exceeds the entry's token-kind width.
func (t TokenList) SetValue(id TokenID, value uint32) error {
	if err := t.entry.checkValid(); err != nil {
		return err
	}
	if value&^t.kind.mask() != 0 {
		return ErrValueOutOfRange{Value: value, Kind: t.kind}
	}
	i, found := t.locate(id)
	if !found {
		return ErrTokenNotFound{TokenID: id}
	}
	bodyStart, _ := t.entry.bodyRange()
	at := bodyStart + uint32(i*tokenRecordSize) + 4
	binary.LittleEndian.PutUint32(t.entry.root.buf[at:], value)
	return nil
}

// TokenIterator is a forward-only, non-restartable, lazy cursor over a
// token list's records, yielded in ascending token_id order.
type TokenIterator struct {
	list       TokenList
	index      int
	generation uint64
}

// Iter returns a forward iterator over the token list.
func (t TokenList) Iter() *TokenIterator {
	return &TokenIterator{list: t, generation: t.entry.generation}
}

// Next returns the next token as (id, width-truncated value), or ok=false
// when the iterator is exhausted.
func (it *TokenIterator) Next() (id TokenID, value uint32, ok bool, err error) {
	if it.generation != it.list.entry.root.generation {
		return 0, 0, false, ErrIteratorInvalidated{}
	}
	if it.index >= it.list.Len() {
		return 0, 0, false, nil
	}
	rec := it.list.recordAt(it.index)
	it.index++
	return rec.ID, rec.Value & it.list.kind.mask(), true, nil
}
