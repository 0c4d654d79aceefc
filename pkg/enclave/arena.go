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
	"fmt"

	"golang.org/x/sys/unix"
)

// Arena models the enclave's linear address range (ELRANGE). Addresses in
// this package and its consumers are offsets into the arena; the typed
// control-structure views hand out by the thread-control layer are all
// bounds-checked against it.
//
// The backing is an anonymous page-aligned mapping, so page-granularity
// offsets translate directly and untouched regions cost no memory.
type Arena struct {
	mem []byte
}

// NewArena maps an arena of the given size. size must be page aligned.
func NewArena(size uint64) (*Arena, error) {
	if size == 0 || size&(uint64(unix.Getpagesize())-1) != 0 {
		return nil, fmt.Errorf("arena size %#x is not page aligned", size)
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mapping %#x byte arena: %w", size, err)
	}
	return &Arena{mem: mem}, nil
}

// Destroy unmaps the arena. No view into the arena may be used afterward.
func (a *Arena) Destroy() error {
	mem := a.mem
	a.mem = nil
	return unix.Munmap(mem)
}

// Size returns the arena's extent.
func (a *Arena) Size() uint64 {
	return uint64(len(a.mem))
}

// Bytes returns the [off, off+n) window of the arena.
func (a *Arena) Bytes(off, n uint64) ([]byte, error) {
	if off > a.Size() || n > a.Size()-off {
		return nil, fmt.Errorf("range [%#x, %#x) outside arena of size %#x", off, off+n, a.Size())
	}
	return a.mem[off : off+n : off+n], nil
}

// MustBytes is Bytes for callers holding an already-validated offset (one
// derived from a bound thread's control block). Out-of-range access means
// the control structures are corrupt, which is not recoverable.
func (a *Arena) MustBytes(off, n uint64) []byte {
	b, err := a.Bytes(off, n)
	if err != nil {
		panic(fmt.Sprintf("enclave: corrupt control-structure reference: %v", err))
	}
	return b
}

// Zero clears the [off, off+n) window.
func (a *Arena) Zero(off, n uint64) error {
	b, err := a.Bytes(off, n)
	if err != nil {
		return err
	}
	clear(b)
	return nil
}
