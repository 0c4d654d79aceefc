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

import "encoding/binary"

// SizeofOCallContext is the size of the OCall context frame image.
const SizeofOCallContext = 160

// OCallContext is the frame saved on the trusted stack for one outstanding
// OCall: the callee-saved and shadow registers preserved across the
// trusted->untrusted->trusted round trip, plus the call index and nesting
// depth. The register slots are opaque to this layer; they are filled and
// restored by the call-transition trampoline.
type OCallContext struct {
	Shadow0    uint64
	Shadow1    uint64
	Shadow2    uint64
	Shadow3    uint64
	OCallFlag  uint64
	OCallIndex uint64
	PreLastSP  uint64
	R15        uint64
	R14        uint64
	R13        uint64
	R12        uint64
	Rbp        uint64
	Rdi        uint64
	Rsi        uint64
	Rbx        uint64
	OCallDepth uint64
	OCallRet   uint64
}

// SizeBytes returns the size of the context frame wire image.
func (*OCallContext) SizeBytes() int {
	return SizeofOCallContext
}

// MarshalBytes writes the context frame image to dst.
//
// Preconditions: len(dst) >= SizeofOCallContext.
func (c *OCallContext) MarshalBytes(dst []byte) {
	words := [...]uint64{
		c.Shadow0, c.Shadow1, c.Shadow2, c.Shadow3,
		c.OCallFlag, c.OCallIndex, c.PreLastSP,
		c.R15, c.R14, c.R13, c.R12, c.Rbp, c.Rdi, c.Rsi, c.Rbx,
		0, 0, 0, // reserved
		c.OCallDepth, c.OCallRet,
	}
	for i, w := range words {
		binary.LittleEndian.PutUint64(dst[8*i:], w)
	}
}

// UnmarshalBytes reads the context frame image from src.
//
// Preconditions: len(src) >= SizeofOCallContext.
func (c *OCallContext) UnmarshalBytes(src []byte) {
	words := []*uint64{
		&c.Shadow0, &c.Shadow1, &c.Shadow2, &c.Shadow3,
		&c.OCallFlag, &c.OCallIndex, &c.PreLastSP,
		&c.R15, &c.R14, &c.R13, &c.R12, &c.Rbp, &c.Rdi, &c.Rsi, &c.Rbx,
	}
	for i, w := range words {
		*w = binary.LittleEndian.Uint64(src[8*i:])
	}
	c.OCallDepth = binary.LittleEndian.Uint64(src[144:])
	c.OCallRet = binary.LittleEndian.Uint64(src[152:])
}
