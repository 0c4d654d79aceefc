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

// Package tc binds software threads to TCS slots and owns the per-thread
// control block pair (TCS + TD) for the duration of the binding.
//
// A ThreadControl is the capability for a bound slot: every typed view it
// hands out was derived from the slot's validated TCS address, so holders
// may navigate between the TCS, the TD, and the state save area without
// re-proving validity. Raw arena offsets are never accepted from callers.
package tc

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/enclave"
	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

// TcsID identifies a TCS slot by its (nonzero) offset in the enclave.
type TcsID uint64

// TdFlags are the per-thread flag bits kept in the TD.
type TdFlags uint64

// TD flag bits.
const (
	TdFlagUtilityThread TdFlags = 1 << 0
	TdFlagInitThread    TdFlags = 1 << 1
	TdFlagPthreadCreate TdFlags = 1 << 2
)

// canaryOffset locates the static stack canary relative to the TCS: the
// bottom word of the static stack, just above the rebased stack base.
const canaryOffset = sgx.GuardPageSize + sgx.StaticStackSize - 8

// ThreadControl pairs one bound TCS with its TD. It is the proof of
// binding required by every accessor that performs fixed-offset address
// computation between the two structures.
type ThreadControl struct {
	arena  *enclave.Arena
	global *enclave.Global
	tcsOff uint64
	slot   int
}

// ID returns the slot identity.
func (t *ThreadControl) ID() TcsID {
	return TcsID(t.tcsOff)
}

// Policy returns the enclave's TCS binding policy.
func (t *ThreadControl) Policy() sgx.TcsPolicy {
	return t.global.TcsPolicy
}

// TcsOffset returns the slot's TCS offset.
func (t *ThreadControl) TcsOffset() uint64 {
	return t.tcsOff
}

// TdsOffset returns the slot's TD offset, computed from the TCS by the
// fixed forward delta published in the global descriptor.
func (t *ThreadControl) TdsOffset() uint64 {
	return t.tcsOff + t.global.TdTemplate.SelfAddr
}

// TcsOffsetFromTds recovers the TCS offset from a bound thread's TD by the
// fixed backward delta.
//
// Preconditions: tds belongs to a currently bound thread (it was read
// through a ThreadControl). For any other TD image the result is
// meaningless.
func TcsOffsetFromTds(tds *sgx.Tds) uint64 {
	return tds.StackBase + sgx.StaticStackSize + sgx.GuardPageSize
}

// Tcs reads the slot's TCS image.
func (t *ThreadControl) Tcs() sgx.Tcs {
	var tcs sgx.Tcs
	tcs.UnmarshalBytes(t.arena.MustBytes(t.tcsOff, sgx.SizeofTcs))
	return tcs
}

// Tds reads the slot's TD image.
func (t *ThreadControl) Tds() sgx.Tds {
	var tds sgx.Tds
	tds.UnmarshalBytes(t.arena.MustBytes(t.TdsOffset(), sgx.SizeofTds))
	return tds
}

// SetTds writes the slot's TD image.
func (t *ThreadControl) SetTds(tds *sgx.Tds) {
	tds.MarshalBytes(t.arena.MustBytes(t.TdsOffset(), sgx.SizeofTds))
}

// Arena returns the enclave arena the slot's structures live in.
func (t *ThreadControl) Arena() *enclave.Arena {
	return t.arena
}

// Flags returns the thread's TD flag bits.
func (t *ThreadControl) Flags() TdFlags {
	return TdFlags(t.Tds().Flags)
}

// SetFlags replaces the thread's TD flag bits.
func (t *ThreadControl) SetFlags(flags TdFlags) {
	tds := t.Tds()
	tds.Flags = uint64(flags)
	t.SetTds(&tds)
}

// IsUtility returns true for the EDMM utility thread.
func (t *ThreadControl) IsUtility() bool {
	return t.Flags()&TdFlagUtilityThread != 0
}

// IsInit returns true for the thread that performed enclave init.
func (t *ThreadControl) IsInit() bool {
	return t.Flags()&TdFlagInitThread != 0
}

// initialized reports whether the TD has been populated since the slot
// was last invalidated.
func (t *ThreadControl) initialized() bool {
	return t.Tds().SelfAddr != 0
}

// init populates the TD from the global template, rebasing every
// TCS-relative delta against this slot's TCS offset, and installs the
// static stack canary.
func (t *ThreadControl) init() {
	tpl := t.global.TdTemplate
	base := t.tcsOff

	tds := tpl
	tds.SelfAddr = base + tpl.SelfAddr
	tds.LastSP = base + tpl.LastSP - sgx.StaticStackSize
	tds.StackBase = base + tpl.StackBase - sgx.StaticStackSize
	tds.StackLimit = base + tpl.StackLimit
	tds.StackCommit = tds.StackLimit
	tds.FirstSSAGpr = base + tpl.FirstSSAGpr
	tds.FirstSSAXsave = base + tpl.FirstSSAXsave
	tds.TlsAddr = base + tpl.TlsAddr
	tds.TlsArray = base + tpl.TlsArray
	tds.StackGuard = randomCanary()
	tds.Flags = 0
	t.SetTds(&tds)

	t.installStackCanary()
}

// invalidate destroys the TD content so a stale image cannot be mistaken
// for a bound thread's. Used when a slot is released under the Unbind
// policy.
func (t *ThreadControl) invalidate() {
	if err := t.arena.Zero(t.TdsOffset(), sgx.SizeofTds); err != nil {
		panic(fmt.Sprintf("tc: invalidating TD of slot %#x: %v", t.tcsOff, err))
	}
}

func (t *ThreadControl) installStackCanary() {
	b := t.arena.MustBytes(t.tcsOff-canaryOffset, 8)
	binary.LittleEndian.PutUint64(b, stackChkGuard())
}

// CheckStackCanary returns true if the slot's static stack canary is
// intact.
func (t *ThreadControl) CheckStackCanary() bool {
	b := t.arena.MustBytes(t.tcsOff-canaryOffset, 8)
	return binary.LittleEndian.Uint64(b) == stackChkGuard()
}

var stackGuardValue = func() uint64 {
	for {
		if v := randomCanary(); v != 0 {
			return v
		}
	}
}()

// stackChkGuard is the process-wide static stack canary value.
func stackChkGuard() uint64 {
	return stackGuardValue
}

func randomCanary() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("tc: reading stack guard entropy: %v", err))
	}
	return binary.LittleEndian.Uint64(b[:])
}
