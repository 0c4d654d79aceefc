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

// Sizes of the SECS image and its reserved regions. The SECS occupies one
// full page; the reserved tail pads the declared fields out to exactly that.
const (
	SizeofSecs = PageSize

	secsReserved1Bytes = 24
	secsReserved2Bytes = 32
	secsReserved3Bytes = 32
	secsReserved4Bytes = 3834
)

// Attributes is the ATTRIBUTES field of the SECS: a flags word and the
// XSAVE feature request mask.
type Attributes struct {
	Flags uint64
	Xfrm  uint64
}

// Attribute flag bits.
const (
	AttributeInit         = 1 << 0
	AttributeDebug        = 1 << 1
	AttributeMode64Bit    = 1 << 2
	AttributeProvisionKey = 1 << 4
	AttributeEInitToken   = 1 << 5
	AttributeKSS          = 1 << 7
)

// MiscSelect is the MISCSELECT field: which extended information the
// processor writes to the MISC region of the SSA on an asynchronous exit.
type MiscSelect uint32

// MiscSelectExInfo requests page-fault and GP-fault detail (MISC EXINFO).
const MiscSelectExInfo MiscSelect = 1 << 0

// Measurement is a 256-bit enclave measurement register (MRENCLAVE or
// MRSIGNER).
type Measurement [32]byte

// ConfigID is the enclave's CONFIGID field.
type ConfigID [64]byte

// Secs is the SGX Enclave Control Structure. It is created by ECREATE,
// lives in the EPC, and is immutable for the life of the enclave. The byte
// layout is architectural: 4 KiB, 4 KiB aligned, fields in the exact order
// below.
type Secs struct {
	Size         uint64 // power of two
	Base         uint64 // naturally aligned to Size
	SsaFrameSize uint32 // in pages, including the XSAVE region
	MiscSelect   MiscSelect
	Attributes   Attributes
	MrEnclave    Measurement
	MrSigner     Measurement
	ConfigID     ConfigID
	IsvProdID    uint16
	IsvSvn       uint16
	ConfigSvn    uint16
}

// SizeBytes returns the size of the SECS wire image.
func (*Secs) SizeBytes() int {
	return SizeofSecs
}

// MarshalBytes writes the SECS image to dst.
//
// Preconditions: len(dst) >= SizeofSecs.
func (s *Secs) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], s.Size)
	binary.LittleEndian.PutUint64(dst[8:], s.Base)
	binary.LittleEndian.PutUint32(dst[16:], s.SsaFrameSize)
	binary.LittleEndian.PutUint32(dst[20:], uint32(s.MiscSelect))
	clear(dst[24 : 24+secsReserved1Bytes])
	binary.LittleEndian.PutUint64(dst[48:], s.Attributes.Flags)
	binary.LittleEndian.PutUint64(dst[56:], s.Attributes.Xfrm)
	copy(dst[64:96], s.MrEnclave[:])
	clear(dst[96 : 96+secsReserved2Bytes])
	copy(dst[128:160], s.MrSigner[:])
	clear(dst[160 : 160+secsReserved3Bytes])
	copy(dst[192:256], s.ConfigID[:])
	binary.LittleEndian.PutUint16(dst[256:], s.IsvProdID)
	binary.LittleEndian.PutUint16(dst[258:], s.IsvSvn)
	binary.LittleEndian.PutUint16(dst[260:], s.ConfigSvn)
	clear(dst[262 : 262+secsReserved4Bytes])
}

// UnmarshalBytes reads the SECS image from src.
//
// Preconditions: len(src) >= SizeofSecs.
func (s *Secs) UnmarshalBytes(src []byte) {
	s.Size = binary.LittleEndian.Uint64(src[0:])
	s.Base = binary.LittleEndian.Uint64(src[8:])
	s.SsaFrameSize = binary.LittleEndian.Uint32(src[16:])
	s.MiscSelect = MiscSelect(binary.LittleEndian.Uint32(src[20:]))
	s.Attributes.Flags = binary.LittleEndian.Uint64(src[48:])
	s.Attributes.Xfrm = binary.LittleEndian.Uint64(src[56:])
	copy(s.MrEnclave[:], src[64:96])
	copy(s.MrSigner[:], src[128:160])
	copy(s.ConfigID[:], src[192:256])
	s.IsvProdID = binary.LittleEndian.Uint16(src[256:])
	s.IsvSvn = binary.LittleEndian.Uint16(src[258:])
	s.ConfigSvn = binary.LittleEndian.Uint16(src[260:])
}

// String implements fmt.Stringer.String.
func (s *Secs) String() string {
	return fmt.Sprintf("Secs{Size: %#x, Base: %#x, SsaFrameSize: %d, MiscSelect: %#x, Attributes: {%#x, %#x}, IsvProdID: %d, IsvSvn: %d}",
		s.Size, s.Base, s.SsaFrameSize, uint32(s.MiscSelect), s.Attributes.Flags, s.Attributes.Xfrm, s.IsvProdID, s.IsvSvn)
}
