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

package enclave

import (
	"fmt"
	"math/bits"

	"github.com/sirupsen/logrus"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

// Image is a simulated enclave: an arena standing in for the ELRANGE, the
// global descriptor the loader would populate, and the offsets of the
// thread control structures stamped into the arena.
type Image struct {
	Arena      *Arena
	Global     *Global
	Secs       sgx.Secs
	TcsOffsets []uint64
}

// Close releases the image's arena.
func (img *Image) Close() error {
	return img.Arena.Destroy()
}

// Per-image geometry, all RVAs. The per-thread block is
//
//	guard | stack (incl. static stack) | guard | TCS | SSA | guard | TD
//
// with the TD placed so that the fixed TCS-to-TD delta published in the TD
// template holds for every thread, and every guard region on a guard-
// granule boundary.
type geometry struct {
	heapRVA     uint64
	heapPages   uint32
	threadStart uint64
	stackTotal  uint64 // configured stack + static stack, guard aligned
	tcsRel      uint64 // block-relative TCS offset
	ssaBytes    uint64
	guardHiRel  uint64
	tdRel       uint64
	blockSpan   uint64
	enclaveSize uint64
}

func computeGeometry(cfg *Config) geometry {
	var g geometry
	g.heapRVA = sgx.GuardPageSize
	g.heapPages = uint32(cfg.HeapMaxSize / sgx.PageSize)
	g.threadStart = sgx.RoundToGuardPage(g.heapRVA + cfg.HeapMaxSize)
	g.stackTotal = sgx.RoundToGuardPage(cfg.StackMaxSize + sgx.StaticStackSize)
	g.tcsRel = sgx.GuardPageSize + g.stackTotal + sgx.GuardPageSize
	g.ssaBytes = uint64(cfg.SsaNum) * uint64(cfg.SsaFrameSize) * sgx.PageSize
	g.guardHiRel = sgx.RoundToGuardPage(g.tcsRel + sgx.PageSize + g.ssaBytes)
	g.tdRel = g.guardHiRel + sgx.GuardPageSize
	g.blockSpan = sgx.RoundToGuardPage(g.tdRel + sgx.PageSize)
	end := g.threadStart + g.blockSpan*uint64(cfg.TcsNum)
	g.enclaveSize = nextPow2(end)
	return g
}

func nextPow2(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len64(v-1)
}

// tdTemplate builds the TD template: every address field holds the delta
// from the owning TCS, in two's complement for fields below it. Binding a
// thread rebases the template against the TCS address.
func tdTemplate(cfg *Config, g geometry) sgx.Tds {
	frameBytes := uint64(cfg.SsaFrameSize) * sgx.PageSize
	selfDelta := g.tdRel - g.tcsRel
	guard := uint64(sgx.GuardPageSize)
	return sgx.Tds{
		SelfAddr:      selfDelta,
		LastSP:        -guard,
		StackBase:     -guard,
		StackLimit:    -(guard + g.stackTotal),
		FirstSSAGpr:   sgx.PageSize + frameBytes - sgx.SizeofSsaGpr,
		FirstSSAXsave: sgx.PageSize,
		XsaveSize:     frameBytes - sgx.SizeofSsaGpr - sgx.SizeofMiscExInfo,
		TlsAddr:       selfDelta,
		TlsArray:      selfDelta,
	}
}

func layoutSlots(cfg *Config, g geometry) []sgx.Layout {
	entry := func(id uint16, rva uint64, pages uint32, attr uint16, si sgx.SecInfoFlags) sgx.Layout {
		return sgx.Layout{Entry: &sgx.LayoutEntry{
			ID:         id,
			Attributes: attr,
			PageCount:  pages,
			RVA:        rva,
			SIFlags:    si,
		}}
	}
	guardPages := uint32(sgx.GuardPageSize / sgx.PageSize)

	var slots []sgx.Layout
	if g.heapPages > 0 {
		slots = append(slots, entry(sgx.LayoutIDHeapInit, g.heapRVA, g.heapPages, sgx.PageAttrAddExtend, sgx.SIFlagsReg))
	}
	slots = append(slots, sgx.Layout{Group: &sgx.LayoutGroup{
		ID:         sgx.LayoutIDThreadGroup,
		EntryCount: 7,
		LoadTimes:  cfg.TcsNum,
		LoadStep:   g.blockSpan,
	}})
	b := g.threadStart
	slots = append(slots,
		entry(sgx.LayoutIDGuard, b, guardPages, 0, 0),
		entry(sgx.LayoutIDStackMax, b+sgx.GuardPageSize, uint32(g.stackTotal/sgx.PageSize), sgx.PageAttrAddExtend|sgx.PageDirGrowDown, sgx.SIFlagsReg),
		entry(sgx.LayoutIDGuard, b+sgx.GuardPageSize+g.stackTotal, guardPages, 0, 0),
		entry(sgx.LayoutIDTcs, b+g.tcsRel, 1, sgx.PageAttrAddExtend, sgx.SIFlagsTcs),
		entry(sgx.LayoutIDSsa, b+g.tcsRel+sgx.PageSize, uint32(g.ssaBytes/sgx.PageSize), sgx.PageAttrAddExtend, sgx.SIFlagsReg),
		entry(sgx.LayoutIDGuard, b+g.guardHiRel, guardPages, 0, 0),
		entry(sgx.LayoutIDTd, b+g.tdRel, 1, sgx.PageAttrAddExtend, sgx.SIFlagsReg),
	)
	return slots
}

// Load lays a simulated enclave image out in a fresh arena the way the
// signer and the untrusted loader would: global descriptor, layout table,
// and one TCS image per configured thread. Nothing is installed process-
// wide; see Bootstrap in the tc package for that.
func Load(cfg *Config) (*Image, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	g := computeGeometry(cfg)

	arena, err := NewArena(g.enclaveSize)
	if err != nil {
		return nil, err
	}

	slots := layoutSlots(cfg, g)
	global := &Global{
		SDKVersion:       SDKVersion,
		EnclaveSize:      g.enclaveSize,
		HeapOffset:       g.heapRVA,
		HeapSize:         uint64(g.heapPages) * sgx.PageSize,
		TcsPolicy:        policy,
		TcsMaxNum:        uint64(max(cfg.TcsMaxNum, cfg.TcsNum)),
		TcsNum:           uint64(cfg.TcsNum),
		TdTemplate:       tdTemplate(cfg, g),
		LayoutNum:        uint32(len(slots)),
		ElrangeSize:      g.enclaveSize,
		EnclaveImageBase: 0,
	}
	copy(global.Layouts[:], slots)

	var flags sgx.TcsFlags
	if cfg.Debug {
		flags = sgx.TcsFlagDbgOptIn
	}
	tcsOffsets := make([]uint64, 0, cfg.TcsNum)
	for k := uint64(0); k < uint64(cfg.TcsNum); k++ {
		block := g.threadStart + g.blockSpan*k
		tcsOff := block + g.tcsRel
		tcs := sgx.Tcs{
			Flags:    flags,
			Ossa:     tcsOff + sgx.PageSize,
			Nssa:     cfg.SsaNum,
			OfsBase:  block + g.tdRel,
			OgsBase:  block + g.tdRel,
			OfsLimit: 0xffffffff,
			OgsLimit: 0xffffffff,
		}
		dst, err := arena.Bytes(tcsOff, sgx.SizeofTcs)
		if err != nil {
			arena.Destroy()
			return nil, fmt.Errorf("placing TCS %d: %w", k, err)
		}
		tcs.MarshalBytes(dst)
		if k == 0 {
			global.TcsTemplate = tcs.Template()
		}
		tcsOffsets = append(tcsOffsets, tcsOff)
	}

	if err := global.Validate(); err != nil {
		arena.Destroy()
		return nil, err
	}
	// Force the same validation a consumer would apply.
	NewLayoutTable(global.Layouts[:global.LayoutNum])

	secs := sgx.Secs{
		Size:         g.enclaveSize,
		SsaFrameSize: cfg.SsaFrameSize,
		MiscSelect:   sgx.MiscSelectExInfo,
		Attributes:   sgx.Attributes{Flags: attrFlags(cfg), Xfrm: 3},
		IsvProdID:    cfg.ProdID,
		IsvSvn:       cfg.IsvSvn,
	}

	logrus.WithFields(logrus.Fields{
		"size":    fmt.Sprintf("%#x", g.enclaveSize),
		"tcs":     cfg.TcsNum,
		"policy":  policy,
		"layouts": global.LayoutNum,
	}).Debug("enclave image loaded")

	return &Image{
		Arena:      arena,
		Global:     global,
		Secs:       secs,
		TcsOffsets: tcsOffsets,
	}, nil
}

func attrFlags(cfg *Config) uint64 {
	flags := uint64(sgx.AttributeMode64Bit)
	if cfg.Debug {
		flags |= sgx.AttributeDebug
	}
	return flags
}
