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

	"github.com/sirupsen/logrus"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/enclave"
	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/enclave/tc"
	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

// PanicError is the Join error for a child that panicked. It carries the
// recovered value.
type PanicError struct {
	Value any
}

// Error implements error.Error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("thread panicked: %v", e.Value)
}

// JoinHandle is the owning handle for a spawned thread's result. Join
// consumes it; a handle may be joined once.
type JoinHandle[T any] struct {
	thread *Thread
	done   chan struct{}

	mu     sync.Mutex
	result T
	err    error
	taken  bool
}

// Thread returns the spawned thread's handle.
func (h *JoinHandle[T]) Thread() *Thread {
	return h.thread
}

// IsFinished returns true once the thread's body has returned and its
// result is available. Join will not block after IsFinished returns true.
func (h *JoinHandle[T]) IsFinished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Join waits for the thread to finish and takes its result: the body's
// return value, or a *PanicError if the body panicked. The result can be
// taken once; a second Join means two owners of one handle, which aborts.
func (h *JoinHandle[T]) Join() (T, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.taken {
		panic(fmt.Sprintf("thread: %v joined twice", h.thread))
	}
	h.taken = true
	return h.result, h.err
}

// Builder configures a thread before spawning it.
type Builder struct {
	// Name labels the thread. It must not contain NUL bytes.
	Name string
}

// Spawn starts fn on a new thread bound to a TCS slot and returns the
// handle to its result. The enclave must have been bootstrapped with the
// Bind policy: reusable slots cannot outlive their thread's TLS, so
// spawning under Unbind is a runtime contract violation and aborts.
func Spawn[T any](fn func() T) *JoinHandle[T] {
	return BuilderSpawn[T](Builder{}, fn)
}

// checkSpawnPolicy aborts unless policy permits spawning. A spawned
// thread's TLS lives in its TD, which Unbind destroys on every release, so
// only the Bind policy can back threads created here.
func checkSpawnPolicy(policy sgx.TcsPolicy) {
	if policy != sgx.TcsPolicyBind {
		panic(fmt.Sprintf("thread: spawning under TCS policy %v", policy))
	}
}

// BuilderSpawn is Spawn with the builder's configuration applied.
func BuilderSpawn[T any](b Builder, fn func() T) *JoinHandle[T] {
	pool := tc.DefaultPool()
	checkSpawnPolicy(enclave.GlobalData().TcsPolicy)

	t := newThread(b.Name)
	h := &JoinHandle[T]{
		thread: t,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)

		ctl, err := pool.Bind()
		if err != nil {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.err = fmt.Errorf("spawning %v: %w", t, err)
			return
		}
		defer pool.Release(ctl)
		defer setCurrent(t)()

		flags := ctl.Flags()
		ctl.SetFlags(flags | tc.TdFlagPthreadCreate)
		defer ctl.SetFlags(flags)

		defer func() {
			if v := recover(); v != nil {
				logrus.WithField("thread", t.String()).WithField("panic", v).Debug("thread panicked")
				h.mu.Lock()
				defer h.mu.Unlock()
				h.err = &PanicError{Value: v}
			}
		}()
		r := fn()
		h.mu.Lock()
		defer h.mu.Unlock()
		h.result = r
	}()
	return h
}
