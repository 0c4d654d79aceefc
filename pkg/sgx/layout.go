// Copyright 2023 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sgx

import (
	"encoding/binary"
	"fmt"
)

// Layout table dimensions.
const (
	// SizeofLayout is the size of one layout-table slot.
	SizeofLayout = 32

	// LayoutEntryNum is the fixed capacity of the layout table. The
	// descriptor's layout_num gives the authoritative count of valid
	// slots and may never exceed this.
	LayoutEntryNum = 43
)

// LayoutGroupFlag marks a slot id as a group descriptor. Group ids always
// carry the flag; entry ids never do.
const LayoutGroupFlag uint16 = 1 << 12

// Layout region ids.
const (
	LayoutIDHeapMin        uint16 = 1
	LayoutIDHeapInit       uint16 = 2
	LayoutIDHeapMax        uint16 = 3
	LayoutIDTcs            uint16 = 4
	LayoutIDTd             uint16 = 5
	LayoutIDSsa            uint16 = 6
	LayoutIDStackMax       uint16 = 7
	LayoutIDStackMin       uint16 = 8
	LayoutIDThreadGroup    uint16 = LayoutGroupFlag | 9
	LayoutIDGuard          uint16 = 10
	LayoutIDHeapDynMin     uint16 = 11
	LayoutIDHeapDynInit    uint16 = 12
	LayoutIDHeapDynMax     uint16 = 13
	LayoutIDTcsDyn         uint16 = 14
	LayoutIDTdDyn          uint16 = 15
	LayoutIDSsaDyn         uint16 = 16
	LayoutIDStackDynMax    uint16 = 17
	LayoutIDStackDynMin    uint16 = 18
	LayoutIDThreadGroupDyn uint16 = LayoutGroupFlag | 19
	LayoutIDRsrvMin        uint16 = 20
	LayoutIDRsrvInit       uint16 = 21
	LayoutIDRsrvMax        uint16 = 22
	LayoutIDUserRegion     uint16 = 23
)

// Layout entry attribute bits.
const (
	PageAttrEadd       uint16 = 1 << 0
	PageAttrEextend    uint16 = 1 << 1
	PageAttrEremove    uint16 = 1 << 2
	PageAttrPostAdd    uint16 = 1 << 3
	PageAttrPostRemove uint16 = 1 << 4
	PageAttrDynThread  uint16 = 1 << 5
	PageDirGrowDown    uint16 = 1 << 6

	PageAttrAddOnly   = PageAttrEadd
	PageAttrAddExtend = PageAttrEadd | PageAttrEextend
)

// IsGroupID returns true if id names a group descriptor.
func IsGroupID(id uint16) bool {
	return id&LayoutGroupFlag != 0
}

// LayoutIDName returns a printable name for a layout id.
func LayoutIDName(id uint16) string {
	names := map[uint16]string{
		LayoutIDHeapMin:        "heap-min",
		LayoutIDHeapInit:       "heap-init",
		LayoutIDHeapMax:        "heap-max",
		LayoutIDTcs:            "tcs",
		LayoutIDTd:             "td",
		LayoutIDSsa:            "ssa",
		LayoutIDStackMax:       "stack-max",
		LayoutIDStackMin:       "stack-min",
		LayoutIDThreadGroup:    "thread-group",
		LayoutIDGuard:          "guard",
		LayoutIDHeapDynMin:     "heap-dyn-min",
		LayoutIDHeapDynInit:    "heap-dyn-init",
		LayoutIDHeapDynMax:     "heap-dyn-max",
		LayoutIDTcsDyn:         "tcs-dyn",
		LayoutIDTdDyn:          "td-dyn",
		LayoutIDSsaDyn:         "ssa-dyn",
		LayoutIDStackDynMax:    "stack-dyn-max",
		LayoutIDStackDynMin:    "stack-dyn-min",
		LayoutIDThreadGroupDyn: "thread-group-dyn",
		LayoutIDRsrvMin:        "rsrv-min",
		LayoutIDRsrvInit:       "rsrv-init",
		LayoutIDRsrvMax:        "rsrv-max",
		LayoutIDUserRegion:     "user-region",
	}
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("id(%#x)", id)
}

// LayoutEntry describes one memory region of the enclave image.
type LayoutEntry struct {
	ID            uint16
	Attributes    uint16
	PageCount     uint32
	RVA           uint64
	ContentSize   uint32
	ContentOffset uint32
	SIFlags       SecInfoFlags
}

// LayoutGroup describes a repeated block of layout entries: the EntryCount
// slots that follow the group descriptor are instantiated LoadTimes times,
// with repetition k placed LoadStep*k bytes beyond the entries' declared
// RVAs.
type LayoutGroup struct {
	ID         uint16
	EntryCount uint16
	LoadTimes  uint32
	LoadStep   uint64
}

// Layout is one decoded layout-table slot. The wire format is a union of
// LayoutEntry and LayoutGroup disambiguated solely by the group flag bit of
// the shared leading id field; decoding inspects the flag once and
// populates exactly one variant.
type Layout struct {
	// Entry is non-nil iff the slot is a plain entry.
	Entry *LayoutEntry

	// Group is non-nil iff the slot is a group descriptor.
	Group *LayoutGroup
}

// ID returns the slot id regardless of variant.
func (l Layout) ID() uint16 {
	if l.Group != nil {
		return l.Group.ID
	}
	return l.Entry.ID
}

// UnmarshalLayout decodes one layout-table slot.
//
// Preconditions: len(src) >= SizeofLayout.
func UnmarshalLayout(src []byte) Layout {
	id := binary.LittleEndian.Uint16(src[0:])
	if IsGroupID(id) {
		return Layout{Group: &LayoutGroup{
			ID:         id,
			EntryCount: binary.LittleEndian.Uint16(src[2:]),
			LoadTimes:  binary.LittleEndian.Uint32(src[4:]),
			LoadStep:   binary.LittleEndian.Uint64(src[8:]),
		}}
	}
	return Layout{Entry: &LayoutEntry{
		ID:            id,
		Attributes:    binary.LittleEndian.Uint16(src[2:]),
		PageCount:     binary.LittleEndian.Uint32(src[4:]),
		RVA:           binary.LittleEndian.Uint64(src[8:]),
		ContentSize:   binary.LittleEndian.Uint32(src[16:]),
		ContentOffset: binary.LittleEndian.Uint32(src[20:]),
		SIFlags:       SecInfoFlags(binary.LittleEndian.Uint64(src[24:])),
	}}
}

// MarshalLayout encodes one layout-table slot.
//
// Preconditions: len(dst) >= SizeofLayout; exactly one variant of l is
// populated.
func MarshalLayout(l Layout, dst []byte) {
	clear(dst[:SizeofLayout])
	switch {
	case l.Group != nil:
		binary.LittleEndian.PutUint16(dst[0:], l.Group.ID)
		binary.LittleEndian.PutUint16(dst[2:], l.Group.EntryCount)
		binary.LittleEndian.PutUint32(dst[4:], l.Group.LoadTimes)
		binary.LittleEndian.PutUint64(dst[8:], l.Group.LoadStep)
	case l.Entry != nil:
		binary.LittleEndian.PutUint16(dst[0:], l.Entry.ID)
		binary.LittleEndian.PutUint16(dst[2:], l.Entry.Attributes)
		binary.LittleEndian.PutUint32(dst[4:], l.Entry.PageCount)
		binary.LittleEndian.PutUint64(dst[8:], l.Entry.RVA)
		binary.LittleEndian.PutUint32(dst[16:], l.Entry.ContentSize)
		binary.LittleEndian.PutUint32(dst[20:], l.Entry.ContentOffset)
		binary.LittleEndian.PutUint64(dst[24:], uint64(l.Entry.SIFlags))
	default:
		panic("marshal of empty layout slot")
	}
}
