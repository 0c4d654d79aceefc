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

// Sizes of the TCS image.
const (
	SizeofTcs = PageSize

	// TcsReservedBytes pads the declared TCS fields out to a full page.
	TcsReservedBytes = 4024

	// TcsTemplateSize is the prefix of the TCS image that the signer
	// records in the global descriptor as the template for dynamically
	// created threads.
	TcsTemplateSize = 72
)

// TcsFlags is the FLAGS field of the TCS.
type TcsFlags uint64

// TCS flag bits.
const (
	TcsFlagDbgOptIn  TcsFlags = 1 << 0
	TcsFlagAexNotify TcsFlags = 1 << 1
)

// Tcs is the Thread Control Structure: the hardware-defined per-thread
// descriptor that EENTER uses to bind a logical processor to enclave code.
// One TCS exists per enclave thread slot. 4 KiB, 4 KiB aligned.
//
// All offsets (Ossa, Oentry, OfsBase, OgsBase) are relative to the enclave
// base.
type Tcs struct {
	Reserved0 uint64
	Flags     TcsFlags
	Ossa      uint64 // offset of the state save area
	Cssa      uint32 // current SSA frame index
	Nssa      uint32 // number of SSA frames
	Oentry    uint64 // entry point taken on EENTER from the inactive state
	Reserved1 uint64
	OfsBase   uint64
	OgsBase   uint64
	OfsLimit  uint32
	OgsLimit  uint32
}

// SizeBytes returns the size of the TCS wire image.
func (*Tcs) SizeBytes() int {
	return SizeofTcs
}

// MarshalBytes writes the TCS image to dst.
//
// Preconditions: len(dst) >= SizeofTcs.
func (t *Tcs) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], t.Reserved0)
	binary.LittleEndian.PutUint64(dst[8:], uint64(t.Flags))
	binary.LittleEndian.PutUint64(dst[16:], t.Ossa)
	binary.LittleEndian.PutUint32(dst[24:], t.Cssa)
	binary.LittleEndian.PutUint32(dst[28:], t.Nssa)
	binary.LittleEndian.PutUint64(dst[32:], t.Oentry)
	binary.LittleEndian.PutUint64(dst[40:], t.Reserved1)
	binary.LittleEndian.PutUint64(dst[48:], t.OfsBase)
	binary.LittleEndian.PutUint64(dst[56:], t.OgsBase)
	binary.LittleEndian.PutUint32(dst[64:], t.OfsLimit)
	binary.LittleEndian.PutUint32(dst[68:], t.OgsLimit)
	clear(dst[TcsTemplateSize:SizeofTcs])
}

// UnmarshalBytes reads the TCS image from src.
//
// Preconditions: len(src) >= SizeofTcs.
func (t *Tcs) UnmarshalBytes(src []byte) {
	t.Reserved0 = binary.LittleEndian.Uint64(src[0:])
	t.Flags = TcsFlags(binary.LittleEndian.Uint64(src[8:]))
	t.Ossa = binary.LittleEndian.Uint64(src[16:])
	t.Cssa = binary.LittleEndian.Uint32(src[24:])
	t.Nssa = binary.LittleEndian.Uint32(src[28:])
	t.Oentry = binary.LittleEndian.Uint64(src[32:])
	t.Reserved1 = binary.LittleEndian.Uint64(src[40:])
	t.OfsBase = binary.LittleEndian.Uint64(src[48:])
	t.OgsBase = binary.LittleEndian.Uint64(src[56:])
	t.OfsLimit = binary.LittleEndian.Uint32(src[64:])
	t.OgsLimit = binary.LittleEndian.Uint32(src[68:])
}

// Template returns the first TcsTemplateSize bytes of the TCS image, the
// portion the signer records in the global descriptor.
func (t *Tcs) Template() [TcsTemplateSize]byte {
	var img [SizeofTcs]byte
	t.MarshalBytes(img[:])
	var tpl [TcsTemplateSize]byte
	copy(tpl[:], img[:TcsTemplateSize])
	return tpl
}

// String implements fmt.Stringer.String.
func (t *Tcs) String() string {
	return fmt.Sprintf("Tcs{Flags: %#x, Ossa: %#x, Cssa: %d, Nssa: %d, Oentry: %#x, OfsBase: %#x, OgsBase: %#x}",
		uint64(t.Flags), t.Ossa, t.Cssa, t.Nssa, t.Oentry, t.OfsBase, t.OgsBase)
}

// TcsPolicy is the enclave-wide thread binding policy.
type TcsPolicy uint64

// TCS policies. Under Bind a software thread is permanently associated with
// one TCS for its lifetime; under Unbind TCS slots are pooled and may be
// reused by different software threads sequentially.
const (
	TcsPolicyBind   TcsPolicy = 0
	TcsPolicyUnbind TcsPolicy = 1
)

// String implements fmt.Stringer.String.
func (p TcsPolicy) String() string {
	switch p {
	case TcsPolicyBind:
		return "bind"
	case TcsPolicyUnbind:
		return "unbind"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(p))
	}
}

// Valid returns true if p is a defined policy value.
func (p TcsPolicy) Valid() bool {
	return p == TcsPolicyBind || p == TcsPolicyUnbind
}
