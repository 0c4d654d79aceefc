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
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/enclave"
	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

// Pool hands out the enclave's TCS slots. Each slot is occupied by at most
// one thread at a time; under the Unbind policy a released slot's TD is
// destroyed before the slot can be handed out again.
type Pool struct {
	arena  *enclave.Arena
	global *enclave.Global

	mu       sync.Mutex
	controls []*ThreadControl
	busy     []bool
}

// NewPool builds a pool over the image's TCS slots.
func NewPool(img *enclave.Image) *Pool {
	p := &Pool{
		arena:  img.Arena,
		global: img.Global,
		busy:   make([]bool, len(img.TcsOffsets)),
	}
	for i, off := range img.TcsOffsets {
		p.controls = append(p.controls, &ThreadControl{
			arena:  img.Arena,
			global: img.Global,
			tcsOff: off,
			slot:   i,
		})
	}
	return p
}

// Len returns the number of slots in the pool.
func (p *Pool) Len() int {
	return len(p.controls)
}

// Bind claims the lowest free slot for the calling thread, initializing
// its TD if the slot has never been bound (Bind policy) or was invalidated
// on release (Unbind policy). It returns an error when every slot is
// occupied.
func (p *Pool) Bind() (*ThreadControl, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.controls {
		if p.busy[i] {
			continue
		}
		p.busy[i] = true
		if !t.initialized() {
			t.init()
		}
		logrus.WithFields(logrus.Fields{
			"slot": i,
			"tcs":  fmt.Sprintf("%#x", t.tcsOff),
		}).Debug("tcs slot bound")
		return t, nil
	}
	return nil, fmt.Errorf("all %d TCS slots are occupied", len(p.controls))
}

// Release returns a slot to the pool. Under the Unbind policy the TD is
// destroyed so the next binding starts from the template. Releasing a slot
// that is not bound means the caller's bookkeeping is broken and aborts.
func (p *Pool) Release(t *ThreadControl) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.slot >= len(p.busy) || p.controls[t.slot] != t {
		panic(fmt.Sprintf("tc: releasing slot %d of a different pool", t.slot))
	}
	if !p.busy[t.slot] {
		panic(fmt.Sprintf("tc: double release of TCS slot %d", t.slot))
	}
	if p.global.TcsPolicy == sgx.TcsPolicyUnbind {
		t.invalidate()
	}
	p.busy[t.slot] = false
}

// InUse returns the number of currently bound slots.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.busy {
		if b {
			n++
		}
	}
	return n
}
