// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

//
// Wire layout of the APCB container. See: AgesaPkg/Addendum/Apcb/Inc/GN/ApcbV3TokenUid.h,
// AgesaModulePkg/Library/ApcbLibV3/CoreApcbInterface.c and
// AgesaPkg/Addendum/Apcb/Inc/CommonV3/ApcbV3Arch.h for the upstream AGESA definitions this
// mirrors byte-for-byte.
//

type headerSignature uint32

const (
	headerV2Signature       headerSignature = 0x42435041 // ASCII "APCB"
	headerV3Signature       headerSignature = 0x32424345 // ASCII "ECB2"
	headerV3EndingSignature headerSignature = 0x41424342 // ASCII "BCPA"
)

// headerV2 is the fixed-size V2 header prefix shared by every supported
// APCB version; a V3 blob embeds this verbatim as its first field.
type headerV2 struct {
	// ASCII "APCB", 'A' is LSB
	Signature headerSignature
	// SizeOfHeader is the declared size of the header, used to tell V2
	// from V3 blobs apart: it equals binary.Size(headerV2{}) for a V2
	// blob and binary.Size(headerV3{}) for a V3 blob.
	SizeOfHeader uint16
	// Version, BCD. Version 1.2 is 0x12
	Version uint16
	// SizeOfAPCB is the total number of meaningful bytes in the blob (used_size)
	SizeOfAPCB uint32
	// UniqueAPCBInstance is re-randomized by UpdateChecksum on every save
	UniqueAPCBInstance uint32
	// CheckSumByte is chosen so the arithmetic sum of [0, SizeOfAPCB) is 0 mod 256
	CheckSumByte uint8
	// Reserved1 is reserved, should be zeros
	Reserved1 [3]uint8
	// Reserved2 is reserved, should be zeros
	Reserved2 [3]uint32
}

// headerV3 adds an extended prefix on top of headerV2. The extra fields
// carry no semantics this engine cares about; they are preserved verbatim
// across every mutation.
type headerV3 struct {
	V2Header headerV2

	// Signature2 is "ECB2", 'E' is LSB
	Signature2 headerSignature
	// ReservedFixed1 fixed with 0. To be compatible with groupHeader.GroupID
	ReservedFixed1 uint16
	// ReservedFixed2 fixed with 0x10. To be compatible with groupHeader.SizeOfHeader
	ReservedFixed2 uint16

	// StructVersion integer. 0x12 is Version 18.
	StructVersion uint16
	// DataVersion 0x100 is Version 256.
	DataVersion uint16
	// SizeOfExtendedHeader is size of the extended header (headerV3 minus headerV2)
	SizeOfExtendedHeader uint32

	// ReservedFixed3 fixed with 0. To be compatible with entryHeader.GroupID
	ReservedFixed3 uint16
	// ReservedFixed4 fixed with 0xFFFF. To be compatible with entryHeader.EntryID
	ReservedFixed4 uint16
	// ReservedFixed5 fixed with 64d, 0x40. To be compatible with entryHeader.Size
	ReservedFixed5 uint16
	// ReservedFixed6 fixed with 0x0000. To be compatible with entryHeader.InstanceID
	ReservedFixed6 uint16
	// Reserved3 should be zeros
	Reserved3 [2]uint32

	// DataOffset defines data starting offset, fixed at 88d (0x58)
	DataOffset uint16

	// HeaderCheckSum is reserved, should be zero in practice
	HeaderCheckSum uint8
	// Reserved4 should be zeros
	Reserved4 uint8
	// Reserved5 should be zeros
	Reserved5 [3]uint32

	// IntegritySignature is a 32 byte APCB integrity signature
	IntegritySignature [32]uint8
	// Reserved6 should be zeros
	Reserved6 [3]uint32
	// SignatureEnding is ASCII "BCPA", marks the end of the header
	SignatureEnding headerSignature
}

// groupHeader precedes every group's entries region.
type groupHeader struct {
	// ASCII signature, e.g. "PSPG"
	Signature groupID4CC
	GroupID   groupID
	// SizeOfHeader is the size of this header, in bytes
	SizeOfHeader uint16
	// Version, BCD. Version 1.2 is 0x12
	Version uint16
	Reserved uint16
	// SizeOfGroup is the total size of the group (header + entries), in bytes
	SizeOfGroup uint32
}

// groupID4CC is a 4-byte ASCII group signature, e.g. "PSPG".
type groupID4CC [4]byte

func (s groupID4CC) String() string {
	return string(s[:])
}

// groupID identifies a group.
type groupID uint16

// TokensGroupID is the well-known group ID that carries token entries.
const TokensGroupID groupID = 0x3000

// ContextType discriminates an entry's body interpretation.
type ContextType uint8

// Supported context types.
const (
	ContextTypeStruct     ContextType = 0
	ContextTypeParameters ContextType = 1
	ContextTypeTokens     ContextType = 2
)

// ContextFormat further qualifies ContextType, e.g. the sort order of a
// struct array keyed body.
type ContextFormat uint8

// Supported context formats.
const (
	ContextFormatNativeRaw  ContextFormat = 0
	ContextFormatSortAsc    ContextFormat = 1
	ContextFormatSortDesc   ContextFormat = 2
)

// entryHeader precedes every entry's body.
type entryHeader struct {
	GroupID groupID
	EntryID EntryID
	// Size is the total size of the entry (header + body), in bytes
	Size       uint16
	InstanceID uint16

	ContextType   ContextType
	ContextFormat ContextFormat
	// UnitSize is the byte stride of one body element; must be 8 for ContextTypeTokens
	UnitSize     uint8
	PriorityMask PriorityMask
	// KeySize is the sorting key size, applicable when ContextFormat != NativeRaw
	KeySize uint8
	// KeyPos is the sorting key's byte offset within one unit
	KeyPos uint8
	// BoardInstanceMask selects which board variants the entry applies to
	BoardInstanceMask uint16
}

// EntryID identifies an entry's purpose within a group. For a Tokens-context
// entry, the AGESA wire format overloads this field to also carry the
// token-kind (width) shared by every record the entry holds -- see
// tokenKind below.
type EntryID uint16

// tokenKind is a token's storage width. It is derived from the containing
// entry's EntryID, which for ContextTypeTokens entries is one of the four
// values below (mirrors AGESA's APCB_TOKEN_TYPE).
type tokenKind uint16

// Supported token widths.
const (
	tokenKindBool  tokenKind = 0
	tokenKindByte  tokenKind = 1
	tokenKindWord  tokenKind = 2
	tokenKindDWord tokenKind = 4
)

// Well-known EntryID values for the four kinds of token entry. Entry.Tokens
// does not check the EntryID: a token entry with any other EntryID is
// treated as DWord width.
const (
	TokenEntryBool  EntryID = EntryID(tokenKindBool)
	TokenEntryByte  EntryID = EntryID(tokenKindByte)
	TokenEntryWord  EntryID = EntryID(tokenKindWord)
	TokenEntryDWord EntryID = EntryID(tokenKindDWord)
)

func (k tokenKind) mask() uint32 {
	switch k {
	case tokenKindBool:
		return 0x1
	case tokenKindByte:
		return 0xFF
	case tokenKindWord:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}

// tokenRecord is one 8-byte (token_id, value) record inside a token entry's body.
type tokenRecord struct {
	ID    TokenID
	Value uint32
}

// TokenID is a unique token identifier within a token entry.
type TokenID uint32

// See: AgesaPkg/Addendum/Apcb/Inc/GN/ApcbV3TokenUid.h -- a handful of
// well-known IDs kept for diagnostics; the full catalogue of typed body
// structs is intentionally not reproduced here.
const (
	TokenIDPSPMeasureConfig   TokenID = 0xDD3AD029
	TokenIDPSPEnableDebugMode TokenID = 0xD1091CD0
	TokenIDPSPErrorDisplay    TokenID = 0xDC33FF21
	TokenIDPSPStopOnError     TokenID = 0xE7024A21
)

// GetTokenIDString returns the literal name of well-known token IDs, or an
// empty string for anything outside the small diagnostic catalogue above.
func GetTokenIDString(tokenID TokenID) string {
	switch tokenID {
	case TokenIDPSPMeasureConfig:
		return "APCB_TOKEN_UID_PSP_MEASURE_CONFIG"
	case TokenIDPSPEnableDebugMode:
		return "APCB_TOKEN_UID_PSP_ENABLE_DEBUG_MODE"
	case TokenIDPSPErrorDisplay:
		return "APCB_TOKEN_UID_PSP_ERROR_DISPLAY"
	case TokenIDPSPStopOnError:
		return "APCB_TOKEN_UID_PSP_STOP_ON_ERROR"
	}
	return ""
}
