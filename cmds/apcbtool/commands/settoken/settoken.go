// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package settoken

import (
	"fmt"

	"github.com/oxidecomputer/amd-apcb/cmds/apcbtool/commands"
	"github.com/oxidecomputer/amd-apcb/pkg/amd/apcb"
	"github.com/oxidecomputer/amd-apcb/pkg/log"
)

var _ commands.Command = (*Command)(nil)

// Command implements "apcbtool set-token": it sets a token's value if the
// token already exists, or inserts it if not, creating the group and the
// token entry too if neither exists yet.
type Command struct {
	APCBPath          string `short:"f" long:"apcb" description:"path to an APCB image" required:"true"`
	GroupID           uint16 `short:"g" long:"group" description:"group_id the entry belongs to" required:"true"`
	GroupSignature    string `long:"group-signature" description:"4-character signature to use if the group must be created"`
	EntryID           uint16 `short:"e" long:"entry" description:"entry_id of the token-list entry, also selects the token's value width (0=Bool,1=Byte,2=Word,4=DWord)" required:"true"`
	InstanceID        uint16 `long:"instance" description:"instance_id of the entry"`
	BoardInstanceMask uint16 `long:"mask" description:"board_instance_mask of the entry" default:"65535"`
	TokenID           uint32 `short:"t" long:"token" description:"token_id to set" required:"true"`
	Value             uint32 `short:"v" long:"value" description:"value to write" required:"true"`
	GrowBy            int    `long:"grow-by" description:"extra bytes to pad the image by if it must grow" default:"4096"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "sets (inserting if necessary) one token in an APCB image"
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
	// Pad the buffer beyond used_size so mutators have room to splice into;
	// Load only ever looks at the [0, used_size) prefix, so the extra
	// capacity is invisible to it.
	buf = append(buf, make([]byte, cmd.GrowBy)...)

	root, err := apcb.Load(buf, apcb.DefaultLoadOptions())
	if err != nil {
		return fmt.Errorf("unable to load APCB image '%s': %w", cmd.APCBPath, err)
	}

	g, err := root.Group(cmd.GroupID)
	if _, notFound := err.(apcb.ErrGroupNotFound); notFound {
		sig := cmd.GroupSignature
		if sig == "" {
			sig = "USER"
		}
		log.Warnf("group 0x%04x not present, creating it with signature %q", cmd.GroupID, sig)
		if err := root.InsertGroup(cmd.GroupID, sig); err != nil {
			return fmt.Errorf("unable to create group 0x%04x: %w", cmd.GroupID, err)
		}
		g, err = root.Group(cmd.GroupID)
	}
	if err != nil {
		return fmt.Errorf("unable to locate group 0x%04x: %w", cmd.GroupID, err)
	}

	e, err := g.EntryExact(apcb.EntryID(cmd.EntryID), cmd.InstanceID, cmd.BoardInstanceMask)
	if _, notFound := err.(apcb.ErrEntryNotFound); notFound {
		log.Warnf("entry 0x%04x not present in group 0x%04x, creating it", cmd.EntryID, cmd.GroupID)
		if err := g.InsertEntry(apcb.EntryID(cmd.EntryID), cmd.InstanceID, cmd.BoardInstanceMask, apcb.ContextTypeTokens, 0, 0, apcb.EntryParams{}); err != nil {
			return fmt.Errorf("unable to create entry 0x%04x: %w", cmd.EntryID, err)
		}
		// InsertEntry spliced the buffer, so g must be re-derived from root.
		if g, err = root.Group(cmd.GroupID); err == nil {
			e, err = g.EntryExact(apcb.EntryID(cmd.EntryID), cmd.InstanceID, cmd.BoardInstanceMask)
		}
	}
	if err != nil {
		return fmt.Errorf("unable to locate entry 0x%04x: %w", cmd.EntryID, err)
	}

	tl, err := e.Tokens()
	if err != nil {
		return fmt.Errorf("entry 0x%04x is not a token-list entry: %w", cmd.EntryID, err)
	}

	if err := tl.SetValue(apcb.TokenID(cmd.TokenID), cmd.Value); err != nil {
		if _, notFound := err.(apcb.ErrTokenNotFound); !notFound {
			return fmt.Errorf("unable to set token 0x%08x: %w", cmd.TokenID, err)
		}
		if err := tl.Insert(apcb.TokenID(cmd.TokenID), cmd.Value); err != nil {
			return fmt.Errorf("unable to insert token 0x%08x: %w", cmd.TokenID, err)
		}
	}

	if err := root.UpdateChecksum(); err != nil {
		return fmt.Errorf("unable to update checksum: %w", err)
	}

	usedSize := int(root.Header().UsedSize())
	if err := commands.SaveImage(cmd.APCBPath, buf[:usedSize]); err != nil {
		return err
	}
	return nil
}
