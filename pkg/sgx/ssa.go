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

// Sizes and offsets within the GPR region of an SSA frame.
const (
	SizeofSsaGpr     = 184
	SizeofMiscExInfo = 16

	// SsaGprExitInfoOffset is the byte offset of the EXITINFO word within
	// the GPR region.
	SsaGprExitInfoOffset = 160

	// SsaGprAexNotifyOffset is the byte offset of the AEX-notify byte.
	SsaGprAexNotifyOffset = 167
)

// SsaGpr is the GPRSGX region of one State Save Area frame: the register
// snapshot written by the processor on an asynchronous enclave exit (AEX)
// or EEXIT. It sits at the top of each SSA frame; the frame's XSAVE region
// grows from the bottom and the MISC region sits immediately below the
// GPRs. Packed, no padding, field order architectural.
type SsaGpr struct {
	Rax       uint64
	Rcx       uint64
	Rdx       uint64
	Rbx       uint64
	Rsp       uint64
	Rbp       uint64
	Rsi       uint64
	Rdi       uint64
	R8        uint64
	R9        uint64
	R10       uint64
	R11       uint64
	R12       uint64
	R13       uint64
	R14       uint64
	R15       uint64
	Rflags    uint64
	Rip       uint64
	RspU      uint64 // untrusted stack pointer, saved by EENTER
	RbpU      uint64 // untrusted frame pointer, saved by EENTER
	ExitInfo  ExitInfo
	AexNotify uint8
	Fs        uint64
	Gs        uint64
}

// SizeBytes returns the size of the GPR region wire image.
func (*SsaGpr) SizeBytes() int {
	return SizeofSsaGpr
}

// MarshalBytes writes the GPR region image to dst.
//
// Preconditions: len(dst) >= SizeofSsaGpr.
func (s *SsaGpr) MarshalBytes(dst []byte) {
	regs := [...]uint64{
		s.Rax, s.Rcx, s.Rdx, s.Rbx, s.Rsp, s.Rbp, s.Rsi, s.Rdi,
		s.R8, s.R9, s.R10, s.R11, s.R12, s.R13, s.R14, s.R15,
		s.Rflags, s.Rip, s.RspU, s.RbpU,
	}
	for i, r := range regs {
		binary.LittleEndian.PutUint64(dst[8*i:], r)
	}
	binary.LittleEndian.PutUint32(dst[SsaGprExitInfoOffset:], uint32(s.ExitInfo))
	dst[164] = 0
	dst[165] = 0
	dst[166] = 0
	dst[SsaGprAexNotifyOffset] = s.AexNotify
	binary.LittleEndian.PutUint64(dst[168:], s.Fs)
	binary.LittleEndian.PutUint64(dst[176:], s.Gs)
}

// UnmarshalBytes reads the GPR region image from src.
//
// Preconditions: len(src) >= SizeofSsaGpr.
func (s *SsaGpr) UnmarshalBytes(src []byte) {
	regs := []*uint64{
		&s.Rax, &s.Rcx, &s.Rdx, &s.Rbx, &s.Rsp, &s.Rbp, &s.Rsi, &s.Rdi,
		&s.R8, &s.R9, &s.R10, &s.R11, &s.R12, &s.R13, &s.R14, &s.R15,
		&s.Rflags, &s.Rip, &s.RspU, &s.RbpU,
	}
	for i, r := range regs {
		*r = binary.LittleEndian.Uint64(src[8*i:])
	}
	s.ExitInfo = ExitInfo(binary.LittleEndian.Uint32(src[SsaGprExitInfoOffset:]))
	s.AexNotify = src[SsaGprAexNotifyOffset]
	s.Fs = binary.LittleEndian.Uint64(src[168:])
	s.Gs = binary.LittleEndian.Uint64(src[176:])
}

// ExitInfo is the EXITINFO word of the GPR region: the exception vector,
// exit type, and valid bit, packed into one 32-bit field.
type ExitInfo uint32

const (
	exitInfoVectorShift = 0
	exitInfoVectorMask  = 0x000000ff
	exitInfoTypeShift   = 8
	exitInfoTypeMask    = 0x00000700
	exitInfoValidShift  = 31
	exitInfoValidMask   = 0x80000000
)

// Exit types reported in ExitInfo.
const (
	ExitTypeHardware = 0b011
	ExitTypeSoftware = 0b110
)

// Exception vectors reported in ExitInfo.
const (
	VectorDE = 0  // divide error
	VectorDB = 1  // debug
	VectorBP = 3  // breakpoint
	VectorBR = 5  // bound range
	VectorUD = 6  // invalid opcode
	VectorGP = 13 // general protection
	VectorPF = 14 // page fault
	VectorMF = 16 // x87 floating point
	VectorAC = 17 // alignment check
	VectorXM = 19 // SIMD floating point
	VectorCP = 21 // control protection
)

// Vector returns the exception vector field.
func (e ExitInfo) Vector() uint32 {
	return (uint32(e) & exitInfoVectorMask) >> exitInfoVectorShift
}

// ExitType returns the exit type field.
func (e ExitInfo) ExitType() uint32 {
	return (uint32(e) & exitInfoTypeMask) >> exitInfoTypeShift
}

// Valid returns the valid bit.
func (e ExitInfo) Valid() uint32 {
	return (uint32(e) & exitInfoValidMask) >> exitInfoValidShift
}

// SetVector replaces the vector field, preserving the other packed fields.
func (e *ExitInfo) SetVector(vector uint32) {
	v := (vector << exitInfoVectorShift) & exitInfoVectorMask
	*e = ExitInfo((uint32(*e) &^ exitInfoVectorMask) | v)
}

// SetExitType replaces the exit type field, preserving the other packed
// fields.
func (e *ExitInfo) SetExitType(typ uint32) {
	v := (typ << exitInfoTypeShift) & exitInfoTypeMask
	*e = ExitInfo((uint32(*e) &^ exitInfoTypeMask) | v)
}

// SetValid replaces the valid bit, preserving the other packed fields.
func (e *ExitInfo) SetValid(valid uint32) {
	v := (valid << exitInfoValidShift) & exitInfoValidMask
	*e = ExitInfo((uint32(*e) &^ exitInfoValidMask) | v)
}

// IsException returns true if the word records a valid hardware exception
// exit.
func (e ExitInfo) IsException() bool {
	return e.Valid() == 1 && e.ExitType() == ExitTypeHardware
}

// String implements fmt.Stringer.String.
func (e ExitInfo) String() string {
	return fmt.Sprintf("ExitInfo{Vector: %d, ExitType: %#b, Valid: %d}", e.Vector(), e.ExitType(), e.Valid())
}

// MiscExInfo is the MISC EXINFO record written for page-fault and
// GP-fault class exceptions when MISCSELECT.EXINFO is set. It is located
// immediately before the GPR region in the SSA frame, and its contents are
// meaningful only when ExitInfo records a hardware exception.
type MiscExInfo struct {
	Maddr     uint64 // faulting linear address
	ErrorCode uint32
}

// SizeBytes returns the size of the MISC EXINFO wire image.
func (*MiscExInfo) SizeBytes() int {
	return SizeofMiscExInfo
}

// MarshalBytes writes the MISC EXINFO image to dst.
//
// Preconditions: len(dst) >= SizeofMiscExInfo.
func (m *MiscExInfo) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], m.Maddr)
	binary.LittleEndian.PutUint32(dst[8:], m.ErrorCode)
	binary.LittleEndian.PutUint32(dst[12:], 0)
}

// UnmarshalBytes reads the MISC EXINFO image from src.
//
// Preconditions: len(src) >= SizeofMiscExInfo.
func (m *MiscExInfo) UnmarshalBytes(src []byte) {
	m.Maddr = binary.LittleEndian.Uint64(src[0:])
	m.ErrorCode = binary.LittleEndian.Uint32(src[8:])
}
