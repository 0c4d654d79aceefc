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

package enclave

import (
	"fmt"
	"math"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

// Region is one resolved memory region of the enclave image.
type Region struct {
	ID         uint16
	Attributes uint16
	RVA        uint64
	PageCount  uint32
	SIFlags    sgx.SecInfoFlags
}

// Size returns the region's extent in bytes.
func (r Region) Size() uint64 {
	return uint64(r.PageCount) * sgx.PageSize
}

// End returns the RVA one past the region.
func (r Region) End() uint64 {
	return r.RVA + r.Size()
}

// String implements fmt.Stringer.String.
func (r Region) String() string {
	return fmt.Sprintf("%-16s [%#010x, %#010x) %s", sgx.LayoutIDName(r.ID), r.RVA, r.End(), r.SIFlags)
}

// LayoutTable is a read-only view over the enclave's layout descriptors.
//
// A group descriptor governs the EntryCount plain entries that follow it
// in the table: those entries are instantiated LoadTimes times, with
// repetition k advancing each entry's RVA by LoadStep*k. A plain entry not
// covered by a group is consumed once.
type LayoutTable struct {
	slots []sgx.Layout
}

// NewLayoutTable validates slots and returns the table view. Malformed
// descriptors are a loader contract violation and abort: the table is
// produced by the signer and consumed before any application code runs,
// so there is no caller that could recover.
func NewLayoutTable(slots []sgx.Layout) *LayoutTable {
	if len(slots) > sgx.LayoutEntryNum {
		panic(fmt.Sprintf("enclave: layout count %d exceeds table capacity %d", len(slots), sgx.LayoutEntryNum))
	}
	for i := 0; i < len(slots); {
		l := slots[i]
		if l.Group == nil {
			i++
			continue
		}
		g := l.Group
		if g.EntryCount == 0 {
			panic(fmt.Sprintf("enclave: layout group %#x at slot %d is empty", g.ID, i))
		}
		if i+1+int(g.EntryCount) > len(slots) {
			panic(fmt.Sprintf("enclave: layout group %#x at slot %d covers %d entries but only %d slots remain",
				g.ID, i, g.EntryCount, len(slots)-i-1))
		}
		if g.LoadTimes == 0 {
			panic(fmt.Sprintf("enclave: layout group %#x at slot %d has zero load count", g.ID, i))
		}
		// The step of the last repetition must itself be representable;
		// a wrapped product would alias earlier repetitions.
		if g.LoadStep != 0 && uint64(g.LoadTimes-1) > math.MaxUint64/g.LoadStep {
			panic(fmt.Sprintf("enclave: layout group %#x at slot %d overflows the address space", g.ID, i))
		}
		last := uint64(g.LoadTimes-1) * g.LoadStep
		for _, e := range slots[i+1 : i+1+int(g.EntryCount)] {
			if e.Group != nil {
				panic(fmt.Sprintf("enclave: layout group %#x at slot %d covers a nested group %#x", g.ID, i, e.Group.ID))
			}
			// The last repetition must still resolve to an in-range RVA.
			if e.Entry.RVA > math.MaxUint64-last {
				panic(fmt.Sprintf("enclave: layout group %#x at slot %d overflows the address space", g.ID, i))
			}
		}
		i += 1 + int(g.EntryCount)
	}
	return &LayoutTable{slots: slots}
}

// Len returns the number of table slots.
func (t *LayoutTable) Len() int {
	return len(t.slots)
}

// Slots returns the raw descriptor slots.
func (t *LayoutTable) Slots() []sgx.Layout {
	return t.slots
}

// Regions resolves the table to the full sequence of memory regions, with
// group-covered entries expanded for every repetition.
func (t *LayoutTable) Regions() []Region {
	var out []Region
	for i := 0; i < len(t.slots); {
		l := t.slots[i]
		if l.Group == nil {
			out = append(out, entryRegion(l.Entry, 0))
			i++
			continue
		}
		g := l.Group
		entries := t.slots[i+1 : i+1+int(g.EntryCount)]
		for k := uint32(0); k < g.LoadTimes; k++ {
			step := g.LoadStep * uint64(k)
			for _, e := range entries {
				out = append(out, entryRegion(e.Entry, step))
			}
		}
		i += 1 + int(g.EntryCount)
	}
	return out
}

// RegionsByID returns the resolved regions whose id matches.
func (t *LayoutTable) RegionsByID(id uint16) []Region {
	var out []Region
	for _, r := range t.Regions() {
		if r.ID == id {
			out = append(out, r)
		}
	}
	return out
}

func entryRegion(e *sgx.LayoutEntry, step uint64) Region {
	return Region{
		ID:         e.ID,
		Attributes: e.Attributes,
		RVA:        e.RVA + step,
		PageCount:  e.PageCount,
		SIFlags:    e.SIFlags,
	}
}

// ParseLayoutBlob decodes a raw layout table: a sequence of 32-byte slots.
// Truncated input is an ordinary error; contract violations inside the
// decoded table abort, as for NewLayoutTable.
func ParseLayoutBlob(b []byte) (*LayoutTable, error) {
	if len(b) == 0 || len(b)%sgx.SizeofLayout != 0 {
		return nil, fmt.Errorf("layout blob of %d bytes is not a whole number of %d-byte slots", len(b), sgx.SizeofLayout)
	}
	n := len(b) / sgx.SizeofLayout
	if n > sgx.LayoutEntryNum {
		return nil, fmt.Errorf("layout blob holds %d slots; table capacity is %d", n, sgx.LayoutEntryNum)
	}
	slots := make([]sgx.Layout, 0, n)
	for i := 0; i < n; i++ {
		slots = append(slots, sgx.UnmarshalLayout(b[i*sgx.SizeofLayout:]))
	}
	return NewLayoutTable(slots), nil
}
