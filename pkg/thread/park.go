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

package thread

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Parking slot states. A slot holds at most one pending notification:
// unparking a thread that is not parked leaves a token that makes its next
// park return immediately, and further unparks are no-ops until the token
// is consumed.
const (
	parkEmpty uint32 = iota
	parkParked
	parkNotified
)

// parker is one thread's parking slot. The atomic state word carries the
// protocol; the mutex and condition variable only provide the blocking.
type parker struct {
	state atomic.Uint32
	mu    sync.Mutex
	cond  *sync.Cond
}

// ensureCond initializes the condition variable.
//
// Preconditions: p.mu is locked.
func (p *parker) ensureCond() {
	if p.cond == nil {
		p.cond = sync.NewCond(&p.mu)
	}
}

// Park blocks the calling thread until a notification is available,
// consuming it. A token left by an earlier Unpark is consumed without
// blocking. Only the owning thread may call Park.
func (t *Thread) Park() {
	p := &t.parker
	if p.state.CompareAndSwap(parkNotified, parkEmpty) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureCond()
	if !p.state.CompareAndSwap(parkEmpty, parkParked) {
		// An unpark raced in between the fast path and the lock.
		if !p.state.CompareAndSwap(parkNotified, parkEmpty) {
			panic(fmt.Sprintf("thread: parking slot in state %d with owner about to park", p.state.Load()))
		}
		return
	}
	for p.state.Load() == parkParked {
		p.cond.Wait()
	}
	if p.state.Swap(parkEmpty) != parkNotified {
		panic("thread: parked slot woke without a notification")
	}
}

// ParkTimeout is Park with an upper bound on the wait. It may also return
// spuriously; callers recheck their condition either way, so no indication
// of which happened is returned.
func (t *Thread) ParkTimeout(d time.Duration) {
	p := &t.parker
	if p.state.CompareAndSwap(parkNotified, parkEmpty) {
		return
	}
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureCond()
	if !p.state.CompareAndSwap(parkEmpty, parkParked) {
		if !p.state.CompareAndSwap(parkNotified, parkEmpty) {
			panic(fmt.Sprintf("thread: parking slot in state %d with owner about to park", p.state.Load()))
		}
		return
	}
	timer := time.AfterFunc(d, func() {
		// Taking the lock orders the broadcast after the owner's Wait.
		p.mu.Lock()
		defer p.mu.Unlock()
		p.cond.Broadcast()
	})
	p.cond.Wait()
	timer.Stop()
	switch prev := p.state.Swap(parkEmpty); prev {
	case parkParked, parkNotified:
	default:
		panic(fmt.Sprintf("thread: parking slot in state %d after timed park", prev))
	}
}

// Unpark makes a notification available to the thread: an already parked
// thread wakes, and an unparked one gets a token consumed by its next
// park. At most one notification accumulates. Any thread may call Unpark.
func (t *Thread) Unpark() {
	p := &t.parker
	switch prev := p.state.Swap(parkNotified); prev {
	case parkEmpty, parkNotified:
	case parkParked:
		// The owner is committed to waiting. Taking the lock ensures it
		// reached Wait before the signal fires.
		p.mu.Lock()
		defer p.mu.Unlock()
		p.cond.Signal()
	default:
		panic(fmt.Sprintf("thread: parking slot in impossible state %d", prev))
	}
}
