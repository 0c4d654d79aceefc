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
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

// SizeofGlobal is the size of the global descriptor wire image.
const SizeofGlobal = 1760

// SDKVersion tags the descriptor format understood by this runtime.
const SDKVersion = 2

// Global is the enclave's global data descriptor. The loader populates it
// before enclave entry; it is read-only thereafter. It carries the memory
// geometry, the thread binding policy, the templates from which per-thread
// TCS/TD blocks are stamped out, and the layout table.
type Global struct {
	SDKVersion     uint64
	EnclaveSize    uint64
	HeapOffset     uint64
	HeapSize       uint64
	RsrvOffset     uint64
	RsrvSize       uint64
	RsrvExecutable uint64
	TcsPolicy      sgx.TcsPolicy
	TcsMaxNum      uint64
	TcsNum         uint64

	// TdTemplate holds TCS-relative deltas in its address fields; its
	// SelfAddr is the fixed TCS-to-TD offset used to locate any bound
	// thread's TD.
	TdTemplate sgx.Tds

	TcsTemplate [sgx.TcsTemplateSize]byte

	LayoutNum uint32
	Layouts   [sgx.LayoutEntryNum]sgx.Layout

	EnclaveImageBase uint64
	ElrangeStartBase uint64
	ElrangeSize      uint64
	EdmmBkOverhead   uint64
}

// Validate checks the loader-provided invariants. A failure means the
// trusted/untrusted boundary contract was violated; callers must treat it
// as unrecoverable.
func (g *Global) Validate() error {
	if g.LayoutNum > sgx.LayoutEntryNum {
		return fmt.Errorf("layout count %d exceeds table capacity %d", g.LayoutNum, sgx.LayoutEntryNum)
	}
	if !g.TcsPolicy.Valid() {
		return fmt.Errorf("invalid TCS policy %d", uint64(g.TcsPolicy))
	}
	if !sgx.IsPageAligned(g.HeapOffset) || !sgx.IsPageAligned(g.HeapSize) {
		return fmt.Errorf("heap region %#x+%#x is not page aligned", g.HeapOffset, g.HeapSize)
	}
	if !sgx.IsPageAligned(g.RsrvOffset) || !sgx.IsPageAligned(g.RsrvSize) {
		return fmt.Errorf("reserved region %#x+%#x is not page aligned", g.RsrvOffset, g.RsrvSize)
	}
	if g.TcsNum == 0 || g.TcsNum > g.TcsMaxNum {
		return fmt.Errorf("TCS count %d outside [1, %d]", g.TcsNum, g.TcsMaxNum)
	}
	return nil
}

// LayoutTable returns the table of valid layout slots.
func (g *Global) LayoutTable() *LayoutTable {
	return NewLayoutTable(g.Layouts[:g.LayoutNum])
}

// SizeBytes returns the size of the descriptor wire image.
func (*Global) SizeBytes() int {
	return SizeofGlobal
}

// MarshalBytes writes the descriptor image to dst.
//
// Preconditions: len(dst) >= SizeofGlobal.
func (g *Global) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], g.SDKVersion)
	binary.LittleEndian.PutUint64(dst[8:], g.EnclaveSize)
	binary.LittleEndian.PutUint64(dst[16:], g.HeapOffset)
	binary.LittleEndian.PutUint64(dst[24:], g.HeapSize)
	binary.LittleEndian.PutUint64(dst[32:], g.RsrvOffset)
	binary.LittleEndian.PutUint64(dst[40:], g.RsrvSize)
	binary.LittleEndian.PutUint64(dst[48:], g.RsrvExecutable)
	binary.LittleEndian.PutUint64(dst[56:], uint64(g.TcsPolicy))
	binary.LittleEndian.PutUint64(dst[64:], g.TcsMaxNum)
	binary.LittleEndian.PutUint64(dst[72:], g.TcsNum)
	g.TdTemplate.MarshalBytes(dst[80:])
	copy(dst[272:344], g.TcsTemplate[:])
	binary.LittleEndian.PutUint32(dst[344:], g.LayoutNum)
	binary.LittleEndian.PutUint32(dst[348:], 0)
	for i := uint32(0); i < g.LayoutNum; i++ {
		sgx.MarshalLayout(g.Layouts[i], dst[352+sgx.SizeofLayout*int(i):])
	}
	for i := int(g.LayoutNum); i < sgx.LayoutEntryNum; i++ {
		clear(dst[352+sgx.SizeofLayout*i : 352+sgx.SizeofLayout*(i+1)])
	}
	binary.LittleEndian.PutUint64(dst[1728:], g.EnclaveImageBase)
	binary.LittleEndian.PutUint64(dst[1736:], g.ElrangeStartBase)
	binary.LittleEndian.PutUint64(dst[1744:], g.ElrangeSize)
	binary.LittleEndian.PutUint64(dst[1752:], g.EdmmBkOverhead)
}

// UnmarshalBytes reads the descriptor image from src.
//
// Preconditions: len(src) >= SizeofGlobal.
func (g *Global) UnmarshalBytes(src []byte) {
	g.SDKVersion = binary.LittleEndian.Uint64(src[0:])
	g.EnclaveSize = binary.LittleEndian.Uint64(src[8:])
	g.HeapOffset = binary.LittleEndian.Uint64(src[16:])
	g.HeapSize = binary.LittleEndian.Uint64(src[24:])
	g.RsrvOffset = binary.LittleEndian.Uint64(src[32:])
	g.RsrvSize = binary.LittleEndian.Uint64(src[40:])
	g.RsrvExecutable = binary.LittleEndian.Uint64(src[48:])
	g.TcsPolicy = sgx.TcsPolicy(binary.LittleEndian.Uint64(src[56:]))
	g.TcsMaxNum = binary.LittleEndian.Uint64(src[64:])
	g.TcsNum = binary.LittleEndian.Uint64(src[72:])
	g.TdTemplate.UnmarshalBytes(src[80:])
	copy(g.TcsTemplate[:], src[272:344])
	g.LayoutNum = binary.LittleEndian.Uint32(src[344:])
	n := min(int(g.LayoutNum), sgx.LayoutEntryNum)
	for i := 0; i < n; i++ {
		g.Layouts[i] = sgx.UnmarshalLayout(src[352+sgx.SizeofLayout*i:])
	}
	g.EnclaveImageBase = binary.LittleEndian.Uint64(src[1728:])
	g.ElrangeStartBase = binary.LittleEndian.Uint64(src[1736:])
	g.ElrangeSize = binary.LittleEndian.Uint64(src[1744:])
	g.EdmmBkOverhead = binary.LittleEndian.Uint64(src[1752:])
}

var globalData struct {
	mu sync.Mutex
	g  *Global
}

// Install publishes g as the process-wide global descriptor. It is called
// exactly once, by the loader-equivalent bootstrap, before any consumer
// runs. A second call, or an invalid descriptor, aborts: both indicate a
// violated loader contract.
func Install(g *Global) {
	if err := g.Validate(); err != nil {
		panic(fmt.Sprintf("enclave: invalid global descriptor: %v", err))
	}
	globalData.mu.Lock()
	defer globalData.mu.Unlock()
	if globalData.g != nil {
		panic("enclave: global descriptor installed twice")
	}
	globalData.g = g
}

// GlobalData returns the installed global descriptor. It aborts if the
// bootstrap has not run; no trusted code may execute before enclave load.
func GlobalData() *Global {
	globalData.mu.Lock()
	defer globalData.mu.Unlock()
	if globalData.g == nil {
		panic("enclave: global descriptor not installed")
	}
	return globalData.g
}

// Installed returns true if the global descriptor has been published.
func Installed() bool {
	globalData.mu.Lock()
	defer globalData.mu.Unlock()
	return globalData.g != nil
}
