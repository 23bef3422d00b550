// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// apcbtool inspects and edits an AGESA PSP Configuration Blob (APCB) image
// file in place. The file must hold the APCB itself, starting with its header.
//
// Synopsis:
//     apcbtool dump-groups -f APCB_FILE
//     apcbtool dump-entries -f APCB_FILE -g GROUP_ID
//     apcbtool dump-tokens -f APCB_FILE -g GROUP_ID -e ENTRY_ID
//     apcbtool set-token -f APCB_FILE -g GROUP_ID -e ENTRY_ID -t TOKEN_ID -v VALUE
//     apcbtool checksum -f APCB_FILE [--verify]
package main

import (
	"log"

	"github.com/jessevdk/go-flags"

	"github.com/oxidecomputer/amd-apcb/cmds/apcbtool/commands"
	"github.com/oxidecomputer/amd-apcb/cmds/apcbtool/commands/checksum"
	"github.com/oxidecomputer/amd-apcb/cmds/apcbtool/commands/dumpentries"
	"github.com/oxidecomputer/amd-apcb/cmds/apcbtool/commands/dumpgroups"
	"github.com/oxidecomputer/amd-apcb/cmds/apcbtool/commands/dumptokens"
	"github.com/oxidecomputer/amd-apcb/cmds/apcbtool/commands/settoken"
)

var knownCommands = map[string]commands.Command{
	"dump-groups":  &dumpgroups.Command{},
	"dump-entries": &dumpentries.Command{},
	"dump-tokens":  &dumptokens.Command{},
	"set-token":    &settoken.Command{},
	"checksum":     &checksum.Command{},
}

func main() {
	flagsParser := flags.NewParser(nil, flags.Default)
	for name, command := range knownCommands {
		if _, err := flagsParser.AddCommand(name, command.ShortDescription(), command.LongDescription(), command); err != nil {
			panic(err)
		}
	}

	if _, err := flagsParser.Parse(); err != nil {
		log.Fatal(err)
	}
}
