// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

import "fmt"

// ErrVersionMismatch indicates the header's declared version is outside the
// set this engine supports (currently V2 and V3).
type ErrVersionMismatch struct {
	SizeOfHeader uint16
}

func (err ErrVersionMismatch) Error() string {
	return fmt.Sprintf("unsupported APCB header (declared header size '%d'): signature or header size matches neither V2 nor V3", err.SizeOfHeader)
}

// ErrSizeOutOfRange indicates used_size is outside [header_size, len(buffer)].
type ErrSizeOutOfRange struct {
	UsedSize   uint32
	HeaderSize uint16
	BufferLen  int
}

func (err ErrSizeOutOfRange) Error() string {
	return fmt.Sprintf("used_size '%d' is out of range [%d, %d]", err.UsedSize, err.HeaderSize, err.BufferLen)
}

// ErrStructureBroken indicates a group or entry region's exact-consumption
// invariant was violated while walking the blob.
type ErrStructureBroken struct {
	Where string
	Err   error
}

func (err ErrStructureBroken) Error() string {
	return fmt.Sprintf("structure broken while walking %s: %s", err.Where, err.Err)
}

func (err ErrStructureBroken) Unwrap() error { return err.Err }

// ErrTokenEntryInvalid indicates a Tokens-context entry violates the token
// list invariants (unit size, key size/position, ascending order).
type ErrTokenEntryInvalid struct {
	EntryID EntryID
	Reason  string
}

func (err ErrTokenEntryInvalid) Error() string {
	return fmt.Sprintf("token entry '0x%x' is invalid: %s", err.EntryID, err.Reason)
}

// ErrChecksumInvalid indicates the header checksum does not validate.
type ErrChecksumInvalid struct {
	Expected uint8
	Actual   uint8
}

func (err ErrChecksumInvalid) Error() string {
	return fmt.Sprintf("checksum mismatch: expected '0x%x', got '0x%x'", err.Expected, err.Actual)
}

// ErrGroupNotFound indicates no group matches the requested group_id.
type ErrGroupNotFound struct {
	GroupID groupID
}

func (err ErrGroupNotFound) Error() string {
	return fmt.Sprintf("group '0x%x' not found", err.GroupID)
}

// ErrEntryNotFound indicates no entry matches the requested key.
type ErrEntryNotFound struct {
	EntryID           EntryID
	InstanceID        uint16
	BoardInstanceMask uint16
}

func (err ErrEntryNotFound) Error() string {
	return fmt.Sprintf("entry (id=0x%x, instance=0x%x, mask=0x%x) not found", err.EntryID, err.InstanceID, err.BoardInstanceMask)
}

// ErrTokenNotFound indicates no token matches the requested token_id.
type ErrTokenNotFound struct {
	TokenID TokenID
}

func (err ErrTokenNotFound) Error() string {
	return fmt.Sprintf("token '0x%x' not found", err.TokenID)
}

// ErrDuplicateKey indicates an insertion would violate a uniqueness invariant.
type ErrDuplicateKey struct {
	Kind string
	Key  fmt.Stringer
}

func (err ErrDuplicateKey) Error() string {
	return fmt.Sprintf("duplicate %s key: %s", err.Kind, err.Key)
}

// ErrOutOfSpace indicates a mutation would grow used_size beyond the buffer's capacity.
type ErrOutOfSpace struct {
	Requested uint32
	Capacity  int
}

func (err ErrOutOfSpace) Error() string {
	return fmt.Sprintf("mutation requires '%d' bytes but buffer capacity is '%d'", err.Requested, err.Capacity)
}

// ErrValueOutOfRange indicates a token value exceeds its kind's effective width.
type ErrValueOutOfRange struct {
	Value uint32
	Kind  tokenKind
}

func (err ErrValueOutOfRange) Error() string {
	return fmt.Sprintf("value '0x%x' exceeds the width of token kind '%d'", err.Value, err.Kind)
}

// ErrSchemaMismatch indicates a typed body interpretation disagrees with the
// entry's actual size or context_type.
type ErrSchemaMismatch struct {
	Reason string
}

func (err ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch: %s", err.Reason)
}

// ErrSequenceBroken indicates a struct-sequence body underflowed or declared
// an inconsistent element header.
type ErrSequenceBroken struct {
	Offset int
	Reason string
}

func (err ErrSequenceBroken) Error() string {
	return fmt.Sprintf("struct sequence broken at offset %d: %s", err.Offset, err.Reason)
}

// ErrIteratorInvalidated indicates a live iterator was stepped after the
// buffer it borrows was mutated. Go has no borrow checker, so this is the
// engine's runtime enforcement of single-writer-xor-many-readers, via a
// generation counter on the root.
type ErrIteratorInvalidated struct{}

func (err ErrIteratorInvalidated) Error() string {
	return "iterator used after the underlying buffer was mutated"
}

type stringerString string

func (s stringerString) String() string { return string(s) }
