// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

import (
	"encoding/binary"
	"io"
)

// fixedSizeBuffer is an io.Writer over a fixed-capacity slice; writing past
// its end is reported as io.EOF instead of growing, since every write here
// targets a window a splice has already sized exactly.
type fixedSizeBuffer struct {
	buffer []byte
	offset int
}

func newFixedSizeBuffer(buf []byte) io.Writer {
	return &fixedSizeBuffer{buffer: buf}
}

func (fb *fixedSizeBuffer) Write(p []byte) (int, error) {
	remain := fb.buffer[fb.offset:]
	n := copy(remain, p)
	fb.offset += n
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func writeFixedBuffer(buf []byte, v interface{}) error {
	return binary.Write(newFixedSizeBuffer(buf), binary.LittleEndian, v)
}
