// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package apcb edits the AGESA PSP Configuration Blob (APCB) directly inside
// a caller-owned byte buffer: no heap copy, no auxiliary allocation. It
// parses the Header -> Groups -> Entries -> (Tokens | raw body | struct
// body) hierarchy, and exposes mutators that splice and resize those
// regions in place while preserving every size, ordering and checksum
// invariant the format requires.
package apcb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
//
// APCB config consists of groups, each holding a number of entries. Entries have an ID, an instance ID,
// a board instance mask and a body whose interpretation is selected by context_type: raw bytes, a typed
// struct/struct array/struct sequence, or (most commonly) a sorted list of 8-byte (token_id, value) tokens.
//
// Below is an example of an APCB with a single group holding two token entries:
// | header | group header | entry header | <tokenID, tokenValue> ... | entry header | <tokenID, tokenValue> ... |
//
////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type headerVersion uint8

const (
	headerVersionV2 headerVersion = 2
	headerVersionV3 headerVersion = 3
)

// LoadOptions configures Load's validation behavior.
type LoadOptions struct {
	// CheckChecksum verifies the header checksum during Load. Default false,
	// matching callers that load a blob in order to repair it.
	CheckChecksum bool
	// StrictTokenOrdering rejects a blob whose token entries are not
	// strictly ascending by token_id. Default true; real AGESA firmware
	// never produces such a blob, so this should only ever be disabled for
	// forensics on an already-broken image.
	StrictTokenOrdering bool
	// CollectAllErrors makes Load continue past a single invalid token
	// entry (aggregating every ErrTokenEntryInvalid it finds via
	// go-multierror) instead of stopping at the first one. Structural
	// breaks in the group/entry walk always abort immediately: once the
	// byte offsets are untrustworthy there is nothing left to collect.
	CollectAllErrors bool
}

// DefaultLoadOptions returns the options Load uses when none are given.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{StrictTokenOrdering: true}
}

// Root is the handle returned by Load. It borrows the caller's buffer for
// the duration of the load-scope: every Group, Entry and TokenList view is
// created by navigating from the Root and is only valid until the next
// mutation (see the generation counter discussion in errors.go).
type Root struct {
	buf        []byte
	version    headerVersion
	headerSize uint16
	generation uint64
}

// Load binds buf, parses and validates the header and the group/entry
// structure, and returns a Root positioned at the start of the groups
// region. No bytes are mutated by Load itself.
func Load(buf []byte, options LoadOptions) (*Root, error) {
	v2Size := uint16(binary.Size(headerV2{}))
	v3Size := uint16(binary.Size(headerV3{}))

	if len(buf) < int(v2Size) {
		return nil, ErrSizeOutOfRange{UsedSize: 0, HeaderSize: v2Size, BufferLen: len(buf)}
	}

	var v2 headerV2
	if err := binary.Read(bytes.NewReader(buf[:v2Size]), binary.LittleEndian, &v2); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if v2.Signature != headerV2Signature {
		return nil, ErrVersionMismatch{SizeOfHeader: v2.SizeOfHeader}
	}

	root := &Root{buf: buf}

	switch v2.SizeOfHeader {
	case v2Size:
		root.version = headerVersionV2
		root.headerSize = v2Size
	case v3Size:
		if len(buf) < int(v3Size) {
			return nil, ErrSizeOutOfRange{UsedSize: 0, HeaderSize: v3Size, BufferLen: len(buf)}
		}
		var v3 headerV3
		if err := binary.Read(bytes.NewReader(buf[:v3Size]), binary.LittleEndian, &v3); err != nil {
			return nil, fmt.Errorf("failed to read V3 header extension: %w", err)
		}
		if v3.Signature2 != headerV3Signature || v3.SignatureEnding != headerV3EndingSignature {
			return nil, ErrVersionMismatch{SizeOfHeader: v2.SizeOfHeader}
		}
		root.version = headerVersionV3
		root.headerSize = v3Size
	default:
		return nil, ErrVersionMismatch{SizeOfHeader: v2.SizeOfHeader}
	}

	if v2.SizeOfAPCB < uint32(root.headerSize) || v2.SizeOfAPCB > uint32(len(buf)) {
		return nil, ErrSizeOutOfRange{UsedSize: v2.SizeOfAPCB, HeaderSize: root.headerSize, BufferLen: len(buf)}
	}

	if err := root.validateStructure(options); err != nil {
		return nil, err
	}

	if options.CheckChecksum {
		if err := root.verifyChecksum(); err != nil {
			return nil, err
		}
	}

	return root, nil
}

// validateStructure walks every group and entry exactly once, checking that
// each region is consumed exactly (no gaps, no overlaps) and, for token
// entries, that the token list itself is well-formed.
func (r *Root) validateStructure(options LoadOptions) error {
	used := r.usedSize()
	groupsRegion := r.buf[r.headerSize:used]

	var errs *multierror.Error

	var consumed uint32
	for consumed < uint32(len(groupsRegion)) {
		var gh groupHeader
		if err := binary.Read(bytes.NewReader(groupsRegion[consumed:]), binary.LittleEndian, &gh); err != nil {
			return ErrStructureBroken{Where: "groups", Err: err}
		}
		if gh.SizeOfGroup < groupHeaderSize {
			return ErrStructureBroken{Where: "groups", Err: fmt.Errorf("group size '%d' smaller than group header size '%d'", gh.SizeOfGroup, groupHeaderSize)}
		}
		if consumed+gh.SizeOfGroup > uint32(len(groupsRegion)) {
			return ErrStructureBroken{Where: "groups", Err: fmt.Errorf("group size '%d' exceeds remaining bytes '%d'", gh.SizeOfGroup, uint32(len(groupsRegion))-consumed)}
		}

		entriesRegion := groupsRegion[consumed+groupHeaderSize : consumed+gh.SizeOfGroup]
		if err := r.validateEntries(entriesRegion, entryHeaderSize, options, &errs); err != nil {
			if tokenErr, ok := err.(ErrTokenEntryInvalid); ok {
				return tokenErr
			}
			return ErrStructureBroken{Where: "entries", Err: err}
		}

		consumed += gh.SizeOfGroup
	}
	if consumed != uint32(len(groupsRegion)) {
		return ErrStructureBroken{Where: "groups", Err: fmt.Errorf("walking groups consumed '%d' of '%d' bytes", consumed, len(groupsRegion))}
	}

	return errs.ErrorOrNil()
}

func (r *Root) validateEntries(region []byte, entryHeaderSize uint32, options LoadOptions, errs **multierror.Error) error {
	var consumed uint32
	for consumed < uint32(len(region)) {
		var eh entryHeader
		if err := binary.Read(bytes.NewReader(region[consumed:]), binary.LittleEndian, &eh); err != nil {
			return err
		}
		if uint32(eh.Size) < entryHeaderSize {
			return fmt.Errorf("entry size '%d' smaller than entry header size '%d'", eh.Size, entryHeaderSize)
		}
		if consumed+uint32(eh.Size) > uint32(len(region)) {
			return fmt.Errorf("entry size '%d' exceeds remaining bytes '%d'", eh.Size, uint32(len(region))-consumed)
		}

		if eh.ContextType == ContextTypeTokens {
			body := region[consumed+entryHeaderSize : consumed+uint32(eh.Size)]
			if err := validateTokenEntry(eh, body, options.StrictTokenOrdering); err != nil {
				wrapped := ErrTokenEntryInvalid{EntryID: eh.EntryID, Reason: err.Error()}
				if options.CollectAllErrors {
					*errs = multierror.Append(*errs, wrapped)
				} else {
					return wrapped
				}
			}
		}

		consumed += uint32(eh.Size)
	}
	if consumed != uint32(len(region)) {
		return fmt.Errorf("walking entries consumed '%d' of '%d' bytes", consumed, len(region))
	}
	return nil
}

func validateTokenEntry(eh entryHeader, body []byte, strictOrdering bool) error {
	if eh.UnitSize != 8 {
		return fmt.Errorf("unit_size must be 8, got '%d'", eh.UnitSize)
	}
	if eh.KeySize != 4 {
		return fmt.Errorf("key_size must be 4, got '%d'", eh.KeySize)
	}
	if eh.KeyPos != 0 {
		return fmt.Errorf("key_pos must be 0, got '%d'", eh.KeyPos)
	}
	if len(body)%8 != 0 {
		return fmt.Errorf("token body length '%d' is not a multiple of 8", len(body))
	}
	if !strictOrdering {
		return nil
	}
	var prev TokenID
	for i := 0; i < len(body); i += 8 {
		id := TokenID(binary.LittleEndian.Uint32(body[i:]))
		if i > 0 && id <= prev {
			return fmt.Errorf("token_ids are not strictly ascending: '0x%x' follows '0x%x'", id, prev)
		}
		prev = id
	}
	return nil
}

func (r *Root) usedSize() uint32 {
	return binary.LittleEndian.Uint32(r.buf[8:12])
}

func (r *Root) setUsedSize(v uint32) {
	binary.LittleEndian.PutUint32(r.buf[8:12], v)
}

func (r *Root) bumpGeneration() {
	r.generation++
}

// Header exposes the fixed-size header prefix.
type Header struct {
	root *Root
}

// Header returns a view over the blob's header.
func (r *Root) Header() Header {
	return Header{root: r}
}

// Version returns 2 or 3.
func (h Header) Version() int {
	if h.root.version == headerVersionV3 {
		return 3
	}
	return 2
}

// HeaderSize returns H, the size in bytes of the fixed header prefix.
func (h Header) HeaderSize() uint16 {
	return h.root.headerSize
}

// UsedSize returns the total number of meaningful bytes in the blob.
func (h Header) UsedSize() uint32 {
	return h.root.usedSize()
}

// Capacity returns the length of the underlying buffer, C.
func (h Header) Capacity() int {
	return len(h.root.buf)
}

// UniqueAPCBInstance returns the header's monotonic instance tag.
func (h Header) UniqueAPCBInstance() uint32 {
	return binary.LittleEndian.Uint32(h.root.buf[12:16])
}

// ChecksumByte returns the header's checksum byte.
func (h Header) ChecksumByte() uint8 {
	return h.root.buf[16]
}

func (h Header) setUniqueAPCBInstance(v uint32) {
	binary.LittleEndian.PutUint32(h.root.buf[12:16], v)
}

func (h Header) setChecksumByte(v uint8) {
	h.root.buf[16] = v
}
