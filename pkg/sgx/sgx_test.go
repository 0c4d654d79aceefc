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
	"bytes"
	"testing"
)

func TestPageRounding(t *testing.T) {
	for _, test := range []struct {
		v     uint64
		round uint64
		trim  uint64
	}{
		{0, 0, 0},
		{1, PageSize, 0},
		{PageSize, PageSize, PageSize},
		{PageSize + 1, 2 * PageSize, PageSize},
	} {
		if got := RoundToPage(test.v); got != test.round {
			t.Errorf("RoundToPage(%#x) = %#x, want %#x", test.v, got, test.round)
		}
		if got := TrimToPage(test.v); got != test.trim {
			t.Errorf("TrimToPage(%#x) = %#x, want %#x", test.v, got, test.trim)
		}
	}
	if got, want := RoundToGuardPage(GuardPageSize+1), uint64(2*GuardPageSize); got != want {
		t.Errorf("RoundToGuardPage(%#x) = %#x, want %#x", GuardPageSize+1, got, want)
	}
}

func TestTcsRoundTrip(t *testing.T) {
	in := Tcs{
		Flags:    TcsFlagDbgOptIn,
		Ossa:     0x52000,
		Cssa:     1,
		Nssa:     2,
		Oentry:   0x1000,
		OfsBase:  0x60000,
		OgsBase:  0x60000,
		OfsLimit: 0xffffffff,
		OgsLimit: 0xffffffff,
	}
	buf := make([]byte, SizeofTcs)
	in.MarshalBytes(buf)
	var out Tcs
	out.UnmarshalBytes(buf)
	if out != in {
		t.Errorf("round trip: got %+v, want %+v", out, in)
	}
	// The reserved tail past the template is architecturally zero.
	if tail := buf[TcsTemplateSize:]; !bytes.Equal(tail, make([]byte, len(tail))) {
		t.Error("reserved TCS tail is not zero")
	}
	if got, want := in.Template(), [TcsTemplateSize]byte(buf[:TcsTemplateSize]); got != want {
		t.Error("Template() does not match the marshaled prefix")
	}
}

func TestTdsRoundTrip(t *testing.T) {
	in := Tds{
		SelfAddr:      0x70000,
		LastSP:        0x4f000,
		StackBase:     0x4f000,
		StackLimit:    0x10000,
		FirstSSAGpr:   0x52e48,
		StackGuard:    0xdead5a5adead5a5a,
		XsaveSize:     0xe38,
		ExceptionFlag: -1,
		StackCommit:   0x10000,
	}
	buf := make([]byte, SizeofTds)
	in.MarshalBytes(buf)
	var out Tds
	out.UnmarshalBytes(buf)
	if out != in {
		t.Errorf("round trip: got %+v, want %+v", out, in)
	}
}

func TestTdsStackPredicates(t *testing.T) {
	tds := Tds{
		StackBase:  0x4f000,
		StackLimit: 0x10000,
	}
	if got, want := tds.StackSize(), uint64(0x4f000-0x10000+StaticStackSize); got != want {
		t.Errorf("StackSize() = %#x, want %#x", got, want)
	}
	for _, test := range []struct {
		addr uint64
		size uint64
		want bool
	}{
		{0x10000, 0x1000, true},
		{0x4e000, 0x1000, true}, // ends exactly at the top
		{0x4e008, 0x1000, false},
		{0xf000, 0x1000, false}, // below the limit
	} {
		if got := tds.IsStackAddr(test.addr, test.size); got != test.want {
			t.Errorf("IsStackAddr(%#x, %#x) = %t, want %t", test.addr, test.size, got, test.want)
		}
	}
	if tds.IsValidSP(0x20004) {
		t.Error("IsValidSP accepted an unaligned stack pointer")
	}
	if !tds.IsValidSP(0x20008) {
		t.Error("IsValidSP rejected an aligned in-stack pointer")
	}
}

func TestTcsPolicy(t *testing.T) {
	if !TcsPolicyBind.Valid() || !TcsPolicyUnbind.Valid() {
		t.Error("architectural policies reported invalid")
	}
	if TcsPolicy(2).Valid() {
		t.Error("policy 2 reported valid")
	}
	if got, want := TcsPolicyUnbind.String(), "unbind"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
