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

// Sizes of the SECINFO and PAGEINFO images. SECINFO is 64 bytes, 64-byte
// aligned, with only the leading flags word populated; PAGEINFO is 32
// bytes, 32-byte aligned.
const (
	SizeofSecInfo  = 64
	SizeofPageInfo = 32
)

// SecInfoFlags encodes page permissions and the page type of an EPC page.
// The page type occupies bits [15:8].
type SecInfoFlags uint64

// SecInfoFlags bits.
const (
	SecInfoR        SecInfoFlags = 1 << 0
	SecInfoW        SecInfoFlags = 1 << 1
	SecInfoX        SecInfoFlags = 1 << 2
	SecInfoPending  SecInfoFlags = 1 << 3
	SecInfoModified SecInfoFlags = 1 << 4
	SecInfoPR       SecInfoFlags = 1 << 5

	SecInfoPTShift              = 8
	SecInfoPTMask  SecInfoFlags = 0xff << SecInfoPTShift
)

// PageType is the 8-bit page type subfield of SecInfoFlags.
type PageType uint8

// EPC page types.
const (
	PageTypeSecs PageType = 0
	PageTypeTcs  PageType = 1
	PageTypeReg  PageType = 2
	PageTypeTrim PageType = 4
)

// Composite flag words used by the loader and the layout table.
const (
	SIFlagsReg  = SecInfoR | SecInfoW | SecInfoFlags(PageTypeReg)<<SecInfoPTShift
	SIFlagsRX   = SecInfoR | SecInfoX | SecInfoFlags(PageTypeReg)<<SecInfoPTShift
	SIFlagsRWX  = SecInfoR | SecInfoW | SecInfoX | SecInfoFlags(PageTypeReg)<<SecInfoPTShift
	SIFlagsTcs  = SecInfoFlags(PageTypeTcs) << SecInfoPTShift
	SIFlagsSecs = SecInfoFlags(PageTypeSecs) << SecInfoPTShift
)

// PageType extracts the page type subfield.
func (f SecInfoFlags) PageType() PageType {
	return PageType((f & SecInfoPTMask) >> SecInfoPTShift)
}

// WithPageType returns f with the page type subfield replaced.
func (f SecInfoFlags) WithPageType(pt PageType) SecInfoFlags {
	return (f &^ SecInfoPTMask) | SecInfoFlags(pt)<<SecInfoPTShift
}

// String implements fmt.Stringer.String.
func (f SecInfoFlags) String() string {
	perm := [3]byte{'-', '-', '-'}
	if f&SecInfoR != 0 {
		perm[0] = 'r'
	}
	if f&SecInfoW != 0 {
		perm[1] = 'w'
	}
	if f&SecInfoX != 0 {
		perm[2] = 'x'
	}
	return fmt.Sprintf("%s pt=%d", perm, f.PageType())
}

// SecInfo is the security-information structure passed to EADD/EACCEPT.
// Only the flags word is meaningful; the rest of the 64-byte image is
// reserved and must be zero.
type SecInfo struct {
	Flags SecInfoFlags
}

// SizeBytes returns the size of the SECINFO wire image.
func (*SecInfo) SizeBytes() int {
	return SizeofSecInfo
}

// MarshalBytes writes the SECINFO image to dst.
//
// Preconditions: len(dst) >= SizeofSecInfo.
func (s *SecInfo) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], uint64(s.Flags))
	clear(dst[8:SizeofSecInfo])
}

// UnmarshalBytes reads the SECINFO image from src.
//
// Preconditions: len(src) >= SizeofSecInfo.
func (s *SecInfo) UnmarshalBytes(src []byte) {
	s.Flags = SecInfoFlags(binary.LittleEndian.Uint64(src[0:]))
}

// PageInfo is the parameter block of the page-management instructions.
type PageInfo struct {
	LinAddr uint64
	SrcPage uint64
	SecInfo uint64
	Secs    uint64
}

// SizeBytes returns the size of the PAGEINFO wire image.
func (*PageInfo) SizeBytes() int {
	return SizeofPageInfo
}

// MarshalBytes writes the PAGEINFO image to dst.
//
// Preconditions: len(dst) >= SizeofPageInfo.
func (p *PageInfo) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], p.LinAddr)
	binary.LittleEndian.PutUint64(dst[8:], p.SrcPage)
	binary.LittleEndian.PutUint64(dst[16:], p.SecInfo)
	binary.LittleEndian.PutUint64(dst[24:], p.Secs)
}

// UnmarshalBytes reads the PAGEINFO image from src.
//
// Preconditions: len(src) >= SizeofPageInfo.
func (p *PageInfo) UnmarshalBytes(src []byte) {
	p.LinAddr = binary.LittleEndian.Uint64(src[0:])
	p.SrcPage = binary.LittleEndian.Uint64(src[8:])
	p.SecInfo = binary.LittleEndian.Uint64(src[16:])
	p.Secs = binary.LittleEndian.Uint64(src[24:])
}
