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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

func entrySlot(id uint16, rva uint64, pages uint32) sgx.Layout {
	return sgx.Layout{Entry: &sgx.LayoutEntry{
		ID:        id,
		PageCount: pages,
		RVA:       rva,
		SIFlags:   sgx.SIFlagsReg,
	}}
}

func groupSlot(count uint16, times uint32, step uint64) sgx.Layout {
	return sgx.Layout{Group: &sgx.LayoutGroup{
		ID:         sgx.LayoutIDThreadGroup,
		EntryCount: count,
		LoadTimes:  times,
		LoadStep:   step,
	}}
}

func TestRegionsExpandsGroups(t *testing.T) {
	table := NewLayoutTable([]sgx.Layout{
		entrySlot(sgx.LayoutIDHeapInit, 0x10000, 16),
		groupSlot(2, 3, 0x1000),
		entrySlot(sgx.LayoutIDTcs, 0x20000, 1),
		entrySlot(sgx.LayoutIDTd, 0x21000, 1),
		entrySlot(sgx.LayoutIDGuard, 0x40000, 16),
	})

	got := table.Regions()

	// One heap region, 3 repetitions of the 2 covered entries, one trailing
	// guard region.
	if gotLen, wantLen := len(got), 1+3*2+1; gotLen != wantLen {
		t.Fatalf("len(Regions()) = %d, want %d", gotLen, wantLen)
	}

	want := []Region{
		{ID: sgx.LayoutIDHeapInit, RVA: 0x10000, PageCount: 16, SIFlags: sgx.SIFlagsReg},
		{ID: sgx.LayoutIDTcs, RVA: 0x20000, PageCount: 1, SIFlags: sgx.SIFlagsReg},
		{ID: sgx.LayoutIDTd, RVA: 0x21000, PageCount: 1, SIFlags: sgx.SIFlagsReg},
		{ID: sgx.LayoutIDTcs, RVA: 0x21000, PageCount: 1, SIFlags: sgx.SIFlagsReg},
		{ID: sgx.LayoutIDTd, RVA: 0x22000, PageCount: 1, SIFlags: sgx.SIFlagsReg},
		{ID: sgx.LayoutIDTcs, RVA: 0x22000, PageCount: 1, SIFlags: sgx.SIFlagsReg},
		{ID: sgx.LayoutIDTd, RVA: 0x23000, PageCount: 1, SIFlags: sgx.SIFlagsReg},
		{ID: sgx.LayoutIDGuard, RVA: 0x40000, PageCount: 16, SIFlags: sgx.SIFlagsReg},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Regions() mismatch (-want +got):\n%s", diff)
	}

	// Repetition k of a covered entry sits exactly LoadStep*k past its
	// declared RVA.
	tcs := table.RegionsByID(sgx.LayoutIDTcs)
	for k, r := range tcs {
		if want := uint64(0x20000) + 0x1000*uint64(k); r.RVA != want {
			t.Errorf("tcs repetition %d at %#x, want %#x", k, r.RVA, want)
		}
	}
}

func TestRegionsUngroupedEntryConsumedOnce(t *testing.T) {
	table := NewLayoutTable([]sgx.Layout{
		groupSlot(1, 2, 0x1000),
		entrySlot(sgx.LayoutIDSsa, 0x30000, 2),
		entrySlot(sgx.LayoutIDGuard, 0x50000, 16),
	})
	if got, want := len(table.RegionsByID(sgx.LayoutIDSsa)), 2; got != want {
		t.Errorf("covered entry resolved %d times, want %d", got, want)
	}
	if got, want := len(table.RegionsByID(sgx.LayoutIDGuard)), 1; got != want {
		t.Errorf("uncovered entry resolved %d times, want %d", got, want)
	}
}

func TestNewLayoutTableRejects(t *testing.T) {
	for _, test := range []struct {
		name  string
		slots []sgx.Layout
	}{
		{
			name: "group covering past end",
			slots: []sgx.Layout{
				groupSlot(2, 1, 0),
				entrySlot(sgx.LayoutIDTcs, 0x20000, 1),
			},
		},
		{
			name: "empty group",
			slots: []sgx.Layout{
				groupSlot(0, 1, 0),
			},
		},
		{
			name: "zero load count",
			slots: []sgx.Layout{
				groupSlot(1, 0, 0),
				entrySlot(sgx.LayoutIDTcs, 0x20000, 1),
			},
		},
		{
			name: "nested group",
			slots: []sgx.Layout{
				groupSlot(1, 1, 0),
				groupSlot(1, 1, 0),
				entrySlot(sgx.LayoutIDTcs, 0x20000, 1),
			},
		},
		{
			name: "rva overflow at last repetition",
			slots: []sgx.Layout{
				groupSlot(1, 3, 1 << 63),
				entrySlot(sgx.LayoutIDTcs, 0x20000, 1),
			},
		},
		{
			// (loadTimes-1)*loadStep wraps to exactly zero, so a guard that
			// only checked the final addition would admit repetitions that
			// alias repetition 0.
			name: "repetition step wraps the address space",
			slots: []sgx.Layout{
				groupSlot(1, 5, 1 << 62),
				entrySlot(sgx.LayoutIDTcs, 0x20000, 1),
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("NewLayoutTable accepted a malformed table")
				}
			}()
			NewLayoutTable(test.slots)
		})
	}
}

func TestParseLayoutBlob(t *testing.T) {
	slots := []sgx.Layout{
		entrySlot(sgx.LayoutIDHeapInit, 0x10000, 16),
		groupSlot(1, 4, 0x2000),
		entrySlot(sgx.LayoutIDTcs, 0x20000, 1),
	}
	blob := make([]byte, len(slots)*sgx.SizeofLayout)
	for i, l := range slots {
		sgx.MarshalLayout(l, blob[i*sgx.SizeofLayout:])
	}

	table, err := ParseLayoutBlob(blob)
	if err != nil {
		t.Fatalf("ParseLayoutBlob: %v", err)
	}
	if got, want := table.Len(), len(slots); got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
	if got, want := len(table.RegionsByID(sgx.LayoutIDTcs)), 4; got != want {
		t.Errorf("tcs resolved %d times, want %d", got, want)
	}

	if _, err := ParseLayoutBlob(blob[:sgx.SizeofLayout-1]); err == nil {
		t.Error("ParseLayoutBlob accepted a truncated blob")
	}
	if _, err := ParseLayoutBlob(make([]byte, (sgx.LayoutEntryNum+1)*sgx.SizeofLayout)); err == nil {
		t.Error("ParseLayoutBlob accepted an oversized blob")
	}
}
