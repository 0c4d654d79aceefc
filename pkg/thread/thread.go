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

// Package thread provides the trusted runtime's thread layer: process-wide
// thread identities, park/unpark blocking, and spawn/join with panic
// capture, with each spawned thread bound to a TCS slot for its lifetime.
package thread

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ID identifies a thread for the life of the process. IDs are never zero
// and never reused.
type ID uint64

var lastID atomic.Uint64

// NewID allocates the next thread identity.
func NewID() ID {
	id := lastID.Add(1)
	if id == 0 {
		panic("thread: thread ID space exhausted")
	}
	return ID(id)
}

// Thread is a handle to a thread: its identity, its optional name, and its
// parking slot. The same handle is shared by the thread itself (Park) and
// by other threads (Unpark), and stays valid after the thread finishes.
type Thread struct {
	id     ID
	name   string
	parker parker
}

func newThread(name string) *Thread {
	if i := bytes.IndexByte([]byte(name), 0); i >= 0 {
		panic(fmt.Sprintf("thread: name %q contains a NUL byte at %d", name, i))
	}
	return &Thread{id: NewID(), name: name}
}

// ID returns the thread's identity.
func (t *Thread) ID() ID {
	return t.id
}

// Name returns the thread's name, empty if it was not named.
func (t *Thread) Name() string {
	return t.name
}

// String implements fmt.Stringer.String.
func (t *Thread) String() string {
	if t.name != "" {
		return fmt.Sprintf("thread %d (%s)", t.id, t.name)
	}
	return fmt.Sprintf("thread %d", t.id)
}

// threads maps goroutine IDs to their Thread handles. Goroutines that were
// not spawned through this package get a handle lazily on first use.
var threads struct {
	mu sync.Mutex
	m  map[uint64]*Thread
}

// goid returns the calling goroutine's runtime ID, parsed from the stack
// header ("goroutine N [running]:"). There is no cheaper portable way to
// name the current goroutine, and the handle registry needs a stable key
// for it.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := buf[:n]
	s = bytes.TrimPrefix(s, []byte("goroutine "))
	if i := bytes.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	id, err := strconv.ParseUint(string(s), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("thread: unparseable stack header %q", buf[:n]))
	}
	return id
}

// Current returns the calling thread's handle, creating an anonymous one
// the first time an unmanaged goroutine asks.
//
// Handles of threads created by Spawn are dropped from the registry when
// the thread finishes. An anonymous handle is retained for the life of the
// process: goroutine death is not observable, and the handle must stay
// stable for as long as its goroutine can call back in. Callers that churn
// through short-lived goroutines should route them through Spawn instead.
func Current() *Thread {
	g := goid()
	threads.mu.Lock()
	defer threads.mu.Unlock()
	if threads.m == nil {
		threads.m = make(map[uint64]*Thread)
	}
	t, ok := threads.m[g]
	if !ok {
		t = newThread("")
		threads.m[g] = t
	}
	return t
}

// setCurrent installs t as the calling goroutine's handle for the duration
// of a spawned thread's body. The returned func removes it.
func setCurrent(t *Thread) func() {
	g := goid()
	threads.mu.Lock()
	defer threads.mu.Unlock()
	if threads.m == nil {
		threads.m = make(map[uint64]*Thread)
	}
	threads.m[g] = t
	return func() {
		threads.mu.Lock()
		defer threads.mu.Unlock()
		delete(threads.m, g)
	}
}
