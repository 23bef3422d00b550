// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

import (
	"encoding/binary"
	"fmt"
)

// UpdateChecksum re-randomizes unique_apcb_instance and rewrites
// checksum_byte so that the arithmetic sum of buf[0, used_size) is zero mod
// 256. It is pure: given a buffer that already loaded successfully, it
// cannot fail.
//
// It operates directly on the raw buffer rather than through a Root: the
// used_size/instance/checksum fields live at the same fixed offsets in
// every supported header version, so no full structural parse is needed.
func UpdateChecksum(buf []byte) error {
	const headerV2PrefixLen = 17 // offset of CheckSumByte (16) + 1
	if len(buf) < headerV2PrefixLen {
		return fmt.Errorf("buffer too small to carry an APCB header: %d bytes", len(buf))
	}
	used := binary.LittleEndian.Uint32(buf[8:12])
	if used < headerV2PrefixLen || int(used) > len(buf) {
		return ErrSizeOutOfRange{UsedSize: used, HeaderSize: headerV2PrefixLen, BufferLen: len(buf)}
	}

	instance := binary.LittleEndian.Uint32(buf[12:16])
	binary.LittleEndian.PutUint32(buf[12:16], instance+1)

	buf[16] = 0
	var sum uint32
	for _, b := range buf[:used] {
		sum += uint32(b)
	}
	buf[16] = uint8((256 - sum%256) % 256)
	return nil
}

// UpdateChecksum is the Root-bound convenience form of the package-level
// UpdateChecksum.
func (r *Root) UpdateChecksum() error {
	return UpdateChecksum(r.buf)
}

func (r *Root) verifyChecksum() error {
	used := r.usedSize()
	var sum uint32
	for _, b := range r.buf[:used] {
		sum += uint32(b)
	}
	if sum%256 != 0 {
		return ErrChecksumInvalid{Expected: 0, Actual: uint8(sum % 256)}
	}
	return nil
}
