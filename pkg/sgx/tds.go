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

// SizeofTds is the size of the thread-data wire image.
const SizeofTds = 192

// Tds is the runtime-defined per-thread data block (TD). It lives at a
// fixed offset from its owning TCS, published as SelfAddr in the global
// descriptor's TD template. In the signer-produced template all address
// fields hold TCS-relative deltas (negative deltas in two's complement);
// binding a thread rebases them against the TCS address.
//
// A TD is created implicitly when its TCS is bound to a thread and its
// content is invalidated when the TCS is unbound.
type Tds struct {
	SelfAddr    uint64
	LastSP      uint64
	StackBase   uint64
	StackLimit  uint64
	FirstSSAGpr uint64
	StackGuard  uint64
	Flags       uint64
	XsaveSize   uint64
	LastError   uint64

	// AexMitigationList and AexNotifyFlag support AEX-notify mitigation
	// handlers; opaque to this layer.
	AexMitigationList uint64
	AexNotifyFlag     uint64

	FirstSSAXsave uint64

	// Next links the TD into the runtime's trusted/untrusted thread list.
	Next uint64

	TlsAddr       uint64
	TlsArray      uint64
	ExceptionFlag int64
	CxxThreadInfo [6]uint64
	StackCommit   uint64

	// AEX-notify entropy cache, refilled from RDRAND by the mitigation
	// dispatcher.
	AexNotifyEntropyCache     uint32
	AexNotifyEntropyRemaining int32
}

// SizeBytes returns the size of the TD wire image.
func (*Tds) SizeBytes() int {
	return SizeofTds
}

// MarshalBytes writes the TD image to dst.
//
// Preconditions: len(dst) >= SizeofTds.
func (t *Tds) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], t.SelfAddr)
	binary.LittleEndian.PutUint64(dst[8:], t.LastSP)
	binary.LittleEndian.PutUint64(dst[16:], t.StackBase)
	binary.LittleEndian.PutUint64(dst[24:], t.StackLimit)
	binary.LittleEndian.PutUint64(dst[32:], t.FirstSSAGpr)
	binary.LittleEndian.PutUint64(dst[40:], t.StackGuard)
	binary.LittleEndian.PutUint64(dst[48:], t.Flags)
	binary.LittleEndian.PutUint64(dst[56:], t.XsaveSize)
	binary.LittleEndian.PutUint64(dst[64:], t.LastError)
	binary.LittleEndian.PutUint64(dst[72:], t.AexMitigationList)
	binary.LittleEndian.PutUint64(dst[80:], t.AexNotifyFlag)
	binary.LittleEndian.PutUint64(dst[88:], t.FirstSSAXsave)
	binary.LittleEndian.PutUint64(dst[96:], t.Next)
	binary.LittleEndian.PutUint64(dst[104:], t.TlsAddr)
	binary.LittleEndian.PutUint64(dst[112:], t.TlsArray)
	binary.LittleEndian.PutUint64(dst[120:], uint64(t.ExceptionFlag))
	for i, v := range t.CxxThreadInfo {
		binary.LittleEndian.PutUint64(dst[128+8*i:], v)
	}
	binary.LittleEndian.PutUint64(dst[176:], t.StackCommit)
	binary.LittleEndian.PutUint32(dst[184:], t.AexNotifyEntropyCache)
	binary.LittleEndian.PutUint32(dst[188:], uint32(t.AexNotifyEntropyRemaining))
}

// UnmarshalBytes reads the TD image from src.
//
// Preconditions: len(src) >= SizeofTds.
func (t *Tds) UnmarshalBytes(src []byte) {
	t.SelfAddr = binary.LittleEndian.Uint64(src[0:])
	t.LastSP = binary.LittleEndian.Uint64(src[8:])
	t.StackBase = binary.LittleEndian.Uint64(src[16:])
	t.StackLimit = binary.LittleEndian.Uint64(src[24:])
	t.FirstSSAGpr = binary.LittleEndian.Uint64(src[32:])
	t.StackGuard = binary.LittleEndian.Uint64(src[40:])
	t.Flags = binary.LittleEndian.Uint64(src[48:])
	t.XsaveSize = binary.LittleEndian.Uint64(src[56:])
	t.LastError = binary.LittleEndian.Uint64(src[64:])
	t.AexMitigationList = binary.LittleEndian.Uint64(src[72:])
	t.AexNotifyFlag = binary.LittleEndian.Uint64(src[80:])
	t.FirstSSAXsave = binary.LittleEndian.Uint64(src[88:])
	t.Next = binary.LittleEndian.Uint64(src[96:])
	t.TlsAddr = binary.LittleEndian.Uint64(src[104:])
	t.TlsArray = binary.LittleEndian.Uint64(src[112:])
	t.ExceptionFlag = int64(binary.LittleEndian.Uint64(src[120:]))
	for i := range t.CxxThreadInfo {
		t.CxxThreadInfo[i] = binary.LittleEndian.Uint64(src[128+8*i:])
	}
	t.StackCommit = binary.LittleEndian.Uint64(src[176:])
	t.AexNotifyEntropyCache = binary.LittleEndian.Uint32(src[184:])
	t.AexNotifyEntropyRemaining = int32(binary.LittleEndian.Uint32(src[188:]))
}

// IsStackAddr returns true if [addr, addr+size) lies entirely within the
// thread's stack.
func (t *Tds) IsStackAddr(addr, size uint64) bool {
	return addr <= addr+size && t.StackBase >= addr+size && t.StackLimit <= addr
}

// IsValidSP returns true if sp is a word-aligned address within the
// thread's stack.
func (t *Tds) IsValidSP(sp uint64) bool {
	return sp&7 == 0 && t.IsStackAddr(sp, 0)
}

// StackSize returns the thread's total stack extent, including the static
// portion reserved for the runtime.
func (t *Tds) StackSize() uint64 {
	return t.StackBase - t.StackLimit + StaticStackSize
}

// String implements fmt.Stringer.String.
func (t *Tds) String() string {
	return fmt.Sprintf("Tds{SelfAddr: %#x, StackBase: %#x, StackLimit: %#x, FirstSSAGpr: %#x, Flags: %#x}",
		t.SelfAddr, t.StackBase, t.StackLimit, t.FirstSSAGpr, t.Flags)
}
