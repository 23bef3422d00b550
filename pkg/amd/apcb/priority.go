// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apcb

import (
	"fmt"
	"strings"
)

// See: AgesaPkg/Addendum/Apcb/Inc/CommonV3/ApcbV3Priority.h
//
// An APCB token may be saved in different instances or purpose levels and
// can have instances of the token at multiple purpose levels. These purpose
// levels provide a hierarchy of priority such that a token entry at one
// purpose level can be added to override the same token value set at a lower
// purpose level. The classic example is a priority system such that
// ADMIN -> DEBUGGING -> NORMAL, which means something occurring at a higher
// priority level would override another at a lower one.

// PriorityLevel describes an APCB token priority level (APCB_PRIORITY_LEVEL
// in AGESA source code).
type PriorityLevel uint8

// Defines the existing APCB token priority levels.
const (
	PriorityLevelHardForce    PriorityLevel = 1
	PriorityLevelHigh         PriorityLevel = 2
	PriorityLevelMedium       PriorityLevel = 3
	PriorityLevelEventLogging PriorityLevel = 4
	PriorityLevelLow          PriorityLevel = 5
	PriorityLevelDefault      PriorityLevel = 6
)

func (pl PriorityLevel) String() string {
	switch pl {
	case PriorityLevelHardForce:
		return "HardForce"
	case PriorityLevelHigh:
		return "High"
	case PriorityLevelMedium:
		return "Medium"
	case PriorityLevelEventLogging:
		return "EventLogging"
	case PriorityLevelLow:
		return "Low"
	case PriorityLevelDefault:
		return "Default"
	}
	return fmt.Sprintf("PriorityLevel_%d", pl)
}

// PriorityMask specifies a combined set of PriorityLevels.
type PriorityMask uint8

func (m PriorityMask) String() string {
	var s strings.Builder
	for level := PriorityLevelHardForce; level <= PriorityLevelDefault; level++ {
		flag := uint8(1 << (uint8(level) - 1))
		if uint8(m)&flag != 0 {
			if s.Len() > 0 {
				s.WriteString("|")
			}
			s.WriteString(level.String())
		}
	}
	if s.Len() == 0 {
		return "none"
	}
	return s.String()
}

// CreatePriorityMask combines PriorityLevels into a PriorityMask.
func CreatePriorityMask(levels ...PriorityLevel) PriorityMask {
	var result uint8
	for _, l := range levels {
		result |= 1 << (uint8(l) - 1)
	}
	return PriorityMask(result)
}
