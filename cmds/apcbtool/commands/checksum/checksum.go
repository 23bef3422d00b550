// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package checksum

import (
	"fmt"

	"github.com/oxidecomputer/amd-apcb/cmds/apcbtool/commands"
	"github.com/oxidecomputer/amd-apcb/pkg/amd/apcb"
)

var _ commands.Command = (*Command)(nil)

// Command implements "apcbtool checksum": it recomputes checksum_byte (and
// re-randomizes unique_apcb_instance) in place, without touching anything
// else in the image.
type Command struct {
	APCBPath string `short:"f" long:"apcb" description:"path to an APCB image" required:"true"`
	Verify   bool   `long:"verify" description:"only verify the checksum, do not rewrite the image"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "recomputes or verifies an APCB image's checksum"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return ""
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}

	buf, err := commands.LoadImage(cmd.APCBPath, 0)
	if err != nil {
		return err
	}

	if cmd.Verify {
		if _, err := apcb.Load(buf, apcb.LoadOptions{CheckChecksum: true, StrictTokenOrdering: true}); err != nil {
			return fmt.Errorf("checksum verification failed: %w", err)
		}
		fmt.Println("checksum OK")
		return nil
	}

	if _, err := apcb.Load(buf, apcb.DefaultLoadOptions()); err != nil {
		return fmt.Errorf("unable to load APCB image '%s': %w", cmd.APCBPath, err)
	}
	if err := apcb.UpdateChecksum(buf); err != nil {
		return fmt.Errorf("unable to update checksum: %w", err)
	}
	return commands.SaveImage(cmd.APCBPath, buf)
}
