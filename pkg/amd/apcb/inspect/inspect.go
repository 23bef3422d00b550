// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inspect renders a loaded APCB blob as human-readable tables. It is
// a convenience layer on top of pkg/amd/apcb: nothing here mutates the blob,
// and the core package never imports it back.
package inspect

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/camelcase"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/transform"

	"github.com/oxidecomputer/amd-apcb/pkg/amd/apcb"
	"github.com/oxidecomputer/amd-apcb/pkg/log"
)

// asciiTransformer replaces every byte outside the printable ASCII range
// with '.', the way a hex-dump tool renders its side-by-side text column.
// Group and header signatures are nominally ASCII (e.g. "APCB", "ECB2") but
// a corrupt or still-being-edited blob can carry garbage bytes there, and
// this package must never choke on that -- it is a read side, not a
// validator.
type asciiTransformer struct{}

// Transform implements transform.Transformer.
func (asciiTransformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	if len(dst) < len(src) {
		return 0, 0, transform.ErrShortDst
	}
	for i, b := range src {
		if b < 0x20 || b > 0x7e {
			dst[i] = '.'
		} else {
			dst[i] = b
		}
	}
	return len(src), len(src), nil
}

// Reset implements transform.Transformer.
func (asciiTransformer) Reset() {}

// ASCIISignature renders a raw signature string so it is always safe to
// print, substituting '.' for any byte that is not printable ASCII.
func ASCIISignature(sig string) string {
	out, _, err := transform.String(asciiTransformer{}, sig)
	if err != nil {
		log.Warnf("could not render signature %q: %v", sig, err)
		return strings.Repeat(".", len(sig))
	}
	return out
}

// humanizeFieldName turns a Go exported field name like "BoardInstanceMask"
// into the table-header form "Board Instance Mask".
func humanizeFieldName(name string) string {
	return strings.Join(camelcase.Split(name), " ")
}

// DumpGroups renders every group in root as a table to w.
func DumpGroups(w *os.File, root *apcb.Root) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("APCB Groups")
	t.AppendHeader(table.Row{
		humanizeFieldName("GroupID"),
		humanizeFieldName("Signature"),
		humanizeFieldName("SizeOfGroup"),
	})

	it := root.Groups()
	for {
		g, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("walking groups: %w", err)
		}
		if !ok {
			break
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("0x%04x", g.GroupID()),
			ASCIISignature(g.Signature()),
			humanize.IBytes(uint64(g.Size())),
		})
	}
	t.Render()
	return nil
}

// DumpEntries renders every entry of the group identified by groupID as a
// table to w. Returns apcb.ErrGroupNotFound if no such group exists.
func DumpEntries(w *os.File, root *apcb.Root, groupID uint16) error {
	g, err := root.Group(groupID)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Entries of group 0x%04x", groupID))
	t.AppendHeader(table.Row{
		humanizeFieldName("EntryID"),
		humanizeFieldName("InstanceID"),
		humanizeFieldName("BoardInstanceMask"),
		humanizeFieldName("ContextType"),
		humanizeFieldName("PriorityMask"),
		humanizeFieldName("Size"),
	})

	it, err := g.Entries()
	if err != nil {
		return err
	}
	for {
		e, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("walking entries of group 0x%04x: %w", groupID, err)
		}
		if !ok {
			break
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("0x%04x", uint16(e.EntryID())),
			fmt.Sprintf("0x%04x", e.InstanceID()),
			fmt.Sprintf("0x%04x", e.BoardInstanceMask()),
			contextTypeName(e.ContextType()),
			e.PriorityMask().String(),
			humanize.IBytes(uint64(e.Size())),
		})
	}
	t.Render()
	return nil
}

func contextTypeName(ct apcb.ContextType) string {
	switch ct {
	case apcb.ContextTypeStruct:
		return "Struct"
	case apcb.ContextTypeParameters:
		return "Parameters"
	case apcb.ContextTypeTokens:
		return "Tokens"
	default:
		return fmt.Sprintf("0x%x", uint8(ct))
	}
}

// DumpTokens renders the token list of the entry matching (entryID,
// instanceID, boardInstanceMask) within groupID as a table to w.
func DumpTokens(w *os.File, root *apcb.Root, groupID uint16, entryID apcb.EntryID, instanceID, boardInstanceMask uint16) error {
	g, err := root.Group(groupID)
	if err != nil {
		return err
	}
	e, err := g.EntryExact(entryID, instanceID, boardInstanceMask)
	if err != nil {
		return err
	}
	tl, err := e.Tokens()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Tokens of entry 0x%04x in group 0x%04x", uint16(entryID), groupID))
	t.AppendHeader(table.Row{"Token ID", "Name", "Value"})

	it := tl.Iter()
	for {
		id, value, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("walking tokens: %w", err)
		}
		if !ok {
			break
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("0x%08x", uint32(id)),
			apcb.GetTokenIDString(id),
			fmt.Sprintf("0x%x", value),
		})
	}
	t.Render()
	return nil
}
