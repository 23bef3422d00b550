// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commands

import (
	"fmt"
	"os"

	"github.com/u-root/u-root/pkg/uio"
)

// LoadImage reads the APCB blob at path into memory. When padTo is nonzero
// and larger than the file's own length, the returned buffer is grown to
// padTo bytes so a mutating command has somewhere to splice into -- growing
// a file in place isn't possible the way growing a slice is.
func LoadImage(path string, padTo int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open '%s': %w", path, err)
	}
	defer f.Close()

	buf, err := uio.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read '%s': %w", path, err)
	}
	if padTo > len(buf) {
		grown := make([]byte, padTo)
		copy(grown, buf)
		buf = grown
	}
	return buf, nil
}

// SaveImage writes buf back to path, truncating any previous content.
func SaveImage(path string, buf []byte) error {
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("unable to write '%s': %w", path, err)
	}
	return nil
}
