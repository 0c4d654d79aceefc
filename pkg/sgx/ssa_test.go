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
	"testing"
)

func TestExitInfoPacking(t *testing.T) {
	var e ExitInfo
	e.SetVector(VectorPF)
	e.SetExitType(ExitTypeHardware)
	e.SetValid(1)

	if got, want := e.Vector(), uint32(VectorPF); got != want {
		t.Errorf("Vector() = %d, want %d", got, want)
	}
	if got, want := e.ExitType(), uint32(ExitTypeHardware); got != want {
		t.Errorf("ExitType() = %#b, want %#b", got, want)
	}
	if got, want := e.Valid(), uint32(1); got != want {
		t.Errorf("Valid() = %d, want %d", got, want)
	}
	if got, want := uint32(e), uint32(0x80000000|ExitTypeHardware<<8|VectorPF); got != want {
		t.Errorf("packed word = %#x, want %#x", got, want)
	}
}

func TestExitInfoFieldIndependence(t *testing.T) {
	var e ExitInfo
	e.SetVector(VectorGP)
	e.SetExitType(ExitTypeSoftware)
	e.SetValid(1)

	// Rewriting one field must not disturb the others.
	e.SetVector(VectorUD)
	if got, want := e.ExitType(), uint32(ExitTypeSoftware); got != want {
		t.Errorf("after SetVector: ExitType() = %#b, want %#b", got, want)
	}
	if got, want := e.Valid(), uint32(1); got != want {
		t.Errorf("after SetVector: Valid() = %d, want %d", got, want)
	}
	e.SetValid(0)
	if got, want := e.Vector(), uint32(VectorUD); got != want {
		t.Errorf("after SetValid: Vector() = %d, want %d", got, want)
	}
}

func TestExitInfoIsException(t *testing.T) {
	for _, test := range []struct {
		name  string
		typ   uint32
		valid uint32
		want  bool
	}{
		{"hardware valid", ExitTypeHardware, 1, true},
		{"hardware invalid", ExitTypeHardware, 0, false},
		{"software valid", ExitTypeSoftware, 1, false},
		{"zero word", 0, 0, false},
	} {
		t.Run(test.name, func(t *testing.T) {
			var e ExitInfo
			e.SetVector(VectorPF)
			e.SetExitType(test.typ)
			e.SetValid(test.valid)
			if got := e.IsException(); got != test.want {
				t.Errorf("IsException() = %t, want %t", got, test.want)
			}
		})
	}
}

func TestSsaGprRoundTrip(t *testing.T) {
	in := SsaGpr{
		Rax:       0x1111,
		Rsp:       0xdeadbeef,
		Rip:       0x401000,
		RspU:      0x7fff0000,
		AexNotify: 1,
		Fs:        0x1000,
		Gs:        0x2000,
	}
	in.ExitInfo.SetVector(VectorDB)
	in.ExitInfo.SetExitType(ExitTypeHardware)
	in.ExitInfo.SetValid(1)

	buf := make([]byte, SizeofSsaGpr)
	in.MarshalBytes(buf)
	var out SsaGpr
	out.UnmarshalBytes(buf)
	if out != in {
		t.Errorf("round trip: got %+v, want %+v", out, in)
	}
	if got, want := buf[SsaGprAexNotifyOffset], uint8(1); got != want {
		t.Errorf("AEX-notify byte = %d, want %d", got, want)
	}
}
