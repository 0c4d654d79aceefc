// Copyright 2024 The gVisor Authors.
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

// Package aex reads and edits the state save area frame written on an
// asynchronous enclave exit.
//
// A Frame navigates the thread's first SSA frame through the pointers the
// TD publishes: the GPR region at FirstSSAGpr, the XSAVE region of exactly
// XsaveSize bytes at FirstSSAXsave, and the MISC EXINFO record immediately
// below the GPRs. Exception handlers use it to inspect the interrupted
// register state and to rewrite it before ERESUME.
package aex

import (
	"encoding/binary"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/enclave"
	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

// Frame is a view over one thread's first SSA frame.
type Frame struct {
	arena *enclave.Arena
	tds   sgx.Tds
}

// NewFrame builds the SSA view for the thread whose TD is tds.
//
// Preconditions: tds was read through a bound ThreadControl, so its SSA
// pointers were derived from a validated TCS.
func NewFrame(arena *enclave.Arena, tds sgx.Tds) *Frame {
	return &Frame{arena: arena, tds: tds}
}

// GPR reads the saved register snapshot.
func (f *Frame) GPR() sgx.SsaGpr {
	var gpr sgx.SsaGpr
	gpr.UnmarshalBytes(f.arena.MustBytes(f.tds.FirstSSAGpr, sgx.SizeofSsaGpr))
	return gpr
}

// SetGPR replaces the saved register snapshot. The processor restores it
// wholesale on ERESUME.
func (f *Frame) SetGPR(gpr *sgx.SsaGpr) {
	gpr.MarshalBytes(f.arena.MustBytes(f.tds.FirstSSAGpr, sgx.SizeofSsaGpr))
}

// ExitInfo reads the EXITINFO word without decoding the rest of the GPRs.
func (f *Frame) ExitInfo() sgx.ExitInfo {
	b := f.arena.MustBytes(f.tds.FirstSSAGpr+sgx.SsaGprExitInfoOffset, 4)
	return sgx.ExitInfo(binary.LittleEndian.Uint32(b))
}

// SetExitInfo rewrites the EXITINFO word in place, leaving the surrounding
// register snapshot untouched.
func (f *Frame) SetExitInfo(info sgx.ExitInfo) {
	b := f.arena.MustBytes(f.tds.FirstSSAGpr+sgx.SsaGprExitInfoOffset, 4)
	binary.LittleEndian.PutUint32(b, uint32(info))
}

// XsaveArea returns the frame's XSAVE region: exactly the XsaveSize bytes
// the TD declares, starting at FirstSSAXsave.
func (f *Frame) XsaveArea() []byte {
	return f.arena.MustBytes(f.tds.FirstSSAXsave, f.tds.XsaveSize)
}

// MiscExInfo reads the MISC EXINFO record below the GPRs. It returns false
// when the frame does not record a valid hardware exception, since the
// record is undefined for any other exit.
func (f *Frame) MiscExInfo() (sgx.MiscExInfo, bool) {
	if !f.ExitInfo().IsException() {
		return sgx.MiscExInfo{}, false
	}
	var misc sgx.MiscExInfo
	misc.UnmarshalBytes(f.arena.MustBytes(f.tds.FirstSSAGpr-sgx.SizeofMiscExInfo, sgx.SizeofMiscExInfo))
	return misc, true
}
