// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dumpentries

import (
	"fmt"
	"os"

	"github.com/oxidecomputer/amd-apcb/cmds/apcbtool/commands"
	"github.com/oxidecomputer/amd-apcb/pkg/amd/apcb"
	"github.com/oxidecomputer/amd-apcb/pkg/amd/apcb/inspect"
)

var _ commands.Command = (*Command)(nil)

// Command implements "apcbtool dump-entries".
type Command struct {
	APCBPath string `short:"f" long:"apcb" description:"path to an APCB image" required:"true"`
	GroupID  uint16 `short:"g" long:"group" description:"group_id to list entries of" required:"true"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "lists every entry of one group in an APCB image"
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
	root, err := apcb.Load(buf, apcb.DefaultLoadOptions())
	if err != nil {
		return fmt.Errorf("unable to load APCB image '%s': %w", cmd.APCBPath, err)
	}
	return inspect.DumpEntries(os.Stdout, root, cmd.GroupID)
}
