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

package tc

import (
	"testing"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/enclave"
	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

func testImage(t *testing.T, policy string) *enclave.Image {
	t.Helper()
	cfg := enclave.DefaultConfig()
	cfg.TcsNum = 2
	cfg.TcsPolicy = policy
	img, err := enclave.Load(cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { img.Close() })
	return img
}

func TestBindInitializesTd(t *testing.T) {
	img := testImage(t, "bind")
	pool := NewPool(img)

	ctl, err := pool.Bind()
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	tds := ctl.Tds()

	if got, want := tds.SelfAddr, ctl.TdsOffset(); got != want {
		t.Errorf("SelfAddr = %#x, want %#x", got, want)
	}
	if got, want := TcsOffsetFromTds(&tds), ctl.TcsOffset(); got != want {
		t.Errorf("TcsOffsetFromTds = %#x, want %#x", got, want)
	}
	if got, want := tds.LastSP, tds.StackBase; got != want {
		t.Errorf("LastSP = %#x, want the stack base %#x", got, want)
	}
	if got, want := tds.StackCommit, tds.StackLimit; got != want {
		t.Errorf("StackCommit = %#x, want the stack limit %#x", got, want)
	}
	if tds.StackGuard == 0 {
		t.Error("StackGuard was not randomized")
	}
	if !tds.IsValidSP(tds.LastSP) {
		t.Errorf("LastSP %#x is not a valid stack pointer", tds.LastSP)
	}
	if !ctl.CheckStackCanary() {
		t.Error("static stack canary not installed on bind")
	}

	// The TD sits exactly where the layout table says this thread's TD
	// region is.
	tdRegions := img.Global.LayoutTable().RegionsByID(sgx.LayoutIDTd)
	if got, want := ctl.TdsOffset(), tdRegions[ctl.slot].RVA; got != want {
		t.Errorf("TdsOffset() = %#x, want layout RVA %#x", got, want)
	}
}

func TestStackCanaryDetectsClobber(t *testing.T) {
	img := testImage(t, "bind")
	pool := NewPool(img)
	ctl, err := pool.Bind()
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	b := img.Arena.MustBytes(ctl.TcsOffset()-canaryOffset, 8)
	b[0] ^= 0xff
	if ctl.CheckStackCanary() {
		t.Error("CheckStackCanary missed a clobbered canary")
	}
}

func TestPoolNoDoubleOccupancy(t *testing.T) {
	img := testImage(t, "bind")
	pool := NewPool(img)

	a, err := pool.Bind()
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	b, err := pool.Bind()
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if a.ID() == b.ID() {
		t.Fatalf("two live bindings share slot %#x", uint64(a.ID()))
	}
	if _, err := pool.Bind(); err == nil {
		t.Error("Bind succeeded with every slot occupied")
	}
	if got, want := pool.InUse(), 2; got != want {
		t.Errorf("InUse() = %d, want %d", got, want)
	}
	pool.Release(b)
	if _, err := pool.Bind(); err != nil {
		t.Errorf("Bind after release: %v", err)
	}
}

func TestUnbindSlotReuse(t *testing.T) {
	img := testImage(t, "unbind")
	pool := NewPool(img)

	a, err := pool.Bind()
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	guardA := a.Tds().StackGuard
	slotA := a.ID()
	pool.Release(a)

	// The released slot is reusable, but its old TD content is gone: the
	// new binding starts from the template again.
	b, err := pool.Bind()
	if err != nil {
		t.Fatalf("Bind after release: %v", err)
	}
	if b.ID() != slotA {
		t.Errorf("rebind took slot %#x, want the freed slot %#x", uint64(b.ID()), uint64(slotA))
	}
	if got, want := b.Tds().SelfAddr, b.TdsOffset(); got != want {
		t.Errorf("reused slot's SelfAddr = %#x, want %#x", got, want)
	}
	if b.Tds().StackGuard == guardA {
		t.Error("reused slot kept the previous binding's stack guard")
	}
}

func TestBindPolicyKeepsTd(t *testing.T) {
	img := testImage(t, "bind")
	pool := NewPool(img)

	a, err := pool.Bind()
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	guard := a.Tds().StackGuard
	pool.Release(a)

	b, err := pool.Bind()
	if err != nil {
		t.Fatalf("Bind after release: %v", err)
	}
	if got := b.Tds().StackGuard; got != guard {
		t.Errorf("bound slot's TD was reinitialized: guard %#x, want %#x", got, guard)
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	img := testImage(t, "bind")
	pool := NewPool(img)
	ctl, err := pool.Bind()
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	pool.Release(ctl)
	defer func() {
		if recover() == nil {
			t.Error("double release did not panic")
		}
	}()
	pool.Release(ctl)
}

func TestTdFlags(t *testing.T) {
	img := testImage(t, "bind")
	pool := NewPool(img)
	ctl, err := pool.Bind()
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if ctl.IsUtility() || ctl.IsInit() {
		t.Error("fresh binding carries thread flags")
	}
	ctl.SetFlags(TdFlagInitThread | TdFlagPthreadCreate)
	if !ctl.IsInit() {
		t.Error("IsInit() = false after setting the init flag")
	}
	if got, want := ctl.Flags(), TdFlagInitThread|TdFlagPthreadCreate; got != want {
		t.Errorf("Flags() = %#x, want %#x", got, want)
	}
}
