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

// Package sgx describes the hardware-defined and loader-defined control
// structures of an Intel SGX enclave: SECS, TCS, the per-thread data block
// (TD), the state save area written on asynchronous exits, page security
// info, and the layout descriptor table emitted by the enclave signer.
//
// All structures in this package have externally fixed byte layouts. They
// are consumed from and produced to their wire images via MarshalBytes and
// UnmarshalBytes; the Sizeof* constants are the authoritative image sizes.
// Multi-byte fields are little-endian.
package sgx

// Page and alignment constants. Everything the loader places in the enclave
// is page aligned, except guard regions, which are aligned to the larger
// guard granule.
const (
	PageShift = 12
	PageSize  = 1 << PageShift // 4 KiB

	GuardPageShift = 16
	GuardPageSize  = 1 << GuardPageShift // 64 KiB

	// StaticStackSize is the portion of each thread's stack reserved for
	// the runtime itself, directly below the guard page that precedes the
	// TCS.
	StaticStackSize = 4096

	// RedZoneSize is the System V AMD64 red zone honored when the runtime
	// switches stacks.
	RedZoneSize = 128
)

// IsPageAligned returns true if addr is aligned to the ordinary page size.
func IsPageAligned(addr uint64) bool {
	return addr&(PageSize-1) == 0
}

// IsGuardPageAligned returns true if addr is aligned to the guard-region
// granule.
func IsGuardPageAligned(addr uint64) bool {
	return addr&(GuardPageSize-1) == 0
}

// RoundToPage rounds addr up to the next page boundary.
func RoundToPage(addr uint64) uint64 {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}

// TrimToPage rounds addr down to the previous page boundary.
func TrimToPage(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// RoundToGuardPage rounds addr up to the next guard-granule boundary.
func RoundToGuardPage(addr uint64) uint64 {
	return (addr + GuardPageSize - 1) &^ (GuardPageSize - 1)
}
